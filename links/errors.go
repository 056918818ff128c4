package links

import (
	"context"

	"github.com/zoobzio/linkz"
	"github.com/zoobzio/linkz/internal/csvio"
)

// StripErrorsKind is the registry key of StripErrors.
var StripErrorsKind = linkz.Kind{Category: "error", Class: "StripErrors"}

// StripErrors removes rows carrying an error marker and drops the error
// column. When filename is set, the removed rows are written there as CSV.
func StripErrors(filename string) *linkz.Unit {
	return linkz.NewUnit(StripErrorsKind, linkz.Params{"filename": filename},
		func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
			if !t.HasColumn(linkz.ErrorColumn) {
				logger(StripErrorsKind).Debug("no errors found")
				return t, nil
			}
			clean, errored := linkz.SplitErrors(t)
			logger(StripErrorsKind).Info("stripped rows with errors", "stripped", errored.Len(), "remaining", clean.Len())
			if filename != "" && errored.Len() > 0 {
				logger(StripErrorsKind).Info("saving rows with errors", "file", filename)
				if err := csvio.WriteFile(filename, errored, csvio.Options{}); err != nil {
					return nil, err
				}
			}
			return clean, nil
		})
}
