package links

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/zoobzio/linkz"
	"github.com/zoobzio/linkz/internal/csvio"
)

// File link kinds.
var (
	FromFileKind = linkz.Kind{Category: "io", Class: "FromFile"}
	ToFileKind   = linkz.Kind{Category: "io", Class: "ToFile"}
)

func separator(sep string) (rune, error) {
	if sep == "" {
		return ',', nil
	}
	r, size := utf8.DecodeRuneInString(sep)
	if size != len(sep) || r == utf8.RuneError {
		return 0, fmt.Errorf("separator must be a single character, got %q", sep)
	}
	return r, nil
}

// FromFile replaces its input with the table read from a CSV file. It is
// meant to start a chain; a non-empty input is logged and discarded.
func FromFile(filename, sep string) (*linkz.Unit, error) {
	delim, err := separator(sep)
	if err != nil {
		return nil, &linkz.ConfigurationError{Class: FromFileKind.String(), Param: "sep", Err: err}
	}
	params := linkz.Params{"filename": filename, "sep": sep}
	return linkz.NewUnit(FromFileKind, params,
		func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
			if t.Len() > 0 {
				logger(FromFileKind).Warn("input table is not empty and will be replaced", "rows", t.Len())
			}
			out, err := csvio.ReadFile(filename, csvio.Options{Delimiter: delim})
			if err != nil {
				return nil, err
			}
			logger(FromFileKind).Info("loaded table from CSV file", "file", filename, "rows", out.Len())
			return out, nil
		}), nil
}

// ToFile writes its input to a CSV file and passes it on unchanged.
func ToFile(filename, sep string) (*linkz.Unit, error) {
	delim, err := separator(sep)
	if err != nil {
		return nil, &linkz.ConfigurationError{Class: ToFileKind.String(), Param: "sep", Err: err}
	}
	params := linkz.Params{"filename": filename, "sep": sep}
	return linkz.NewUnit(ToFileKind, params,
		func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
			if err := csvio.WriteFile(filename, t, csvio.Options{Delimiter: delim}); err != nil {
				return nil, err
			}
			logger(ToFileKind).Info("saved table", "file", filename, "rows", t.Len())
			return t, nil
		}), nil
}
