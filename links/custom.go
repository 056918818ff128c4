package links

import (
	"context"

	"github.com/zoobzio/linkz"
)

// LinearModelRowKind is the registry key of LinearModelRow.
var LinearModelRowKind = linkz.Kind{Category: "custom", Class: "LinearModelRow"}

// LinearModelRow computes out = slope*in + bias for every row. Values in the
// input column are converted to float; a row whose value cannot be converted
// is marked with an error and left otherwise untouched.
func LinearModelRow(slope, bias float64, inColumn, outColumn string) *linkz.RowLink {
	params := linkz.Params{
		"slope":      slope,
		"bias":       bias,
		"in_column":  inColumn,
		"out_column": outColumn,
	}
	return linkz.NewRowLink(LinearModelRowKind, params,
		func(_ context.Context, r linkz.Row) (linkz.Row, error) {
			x, err := r.Float(inColumn)
			if err != nil {
				return r, err
			}
			r.Set(outColumn, slope*x+bias)
			return r, nil
		}, inColumn)
}
