// Package links provides the stock table links: column housekeeping,
// expression filters and columns, error stripping, CSV files and a small
// example row model.
//
// Register adds every class to a registry so configuration trees can name
// them:
//
//	if err := linkz.Init(links.Register); err != nil {
//	    log.Fatal(err)
//	}
package links

import (
	"log/slog"

	"github.com/zoobzio/linkz"
)

// Register adds the stock link classes to r.
func Register(r *linkz.Registry) error {
	return r.Register(Classes()...)
}

// Classes returns the stock link classes.
func Classes() []linkz.Class {
	return []linkz.Class{
		{
			Kind:    NullLinkKind,
			Tooltip: "Passes the table through unaltered.",
			Signature: linkz.Signature{
				{Name: "name", Type: linkz.String, Default: "NullLink", Doc: "name shown in logs"},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				return NullLink(p.String("name")), nil
			},
		},
		{
			Kind:    DropColumnsKind,
			Tooltip: "Drops the named columns.",
			Signature: linkz.Signature{
				{Name: "columns", Type: linkz.Strings, Default: []string{}},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				return DropColumns(p.Strings("columns")...), nil
			},
		},
		{
			Kind:    KeepColumnsKind,
			Tooltip: "Keeps only the named columns.",
			Signature: linkz.Signature{
				{Name: "columns", Type: linkz.Strings, Default: []string{}},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				return KeepColumns(p.Strings("columns")...), nil
			},
		},
		{
			Kind:    RenameColumnsKind,
			Tooltip: "Renames columns from a mapping of old to new names.",
			Signature: linkz.Signature{
				{Name: "columns", Type: linkz.StringMap, Default: map[string]string{}},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				return RenameColumns(p.StringMap("columns")), nil
			},
		},
		{
			Kind:    DropDuplicatesKind,
			Tooltip: "Drops rows repeating the values of the named columns, keeping the first.",
			Signature: linkz.Signature{
				{Name: "columns", Type: linkz.Strings, Default: []string{}},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				return DropDuplicates(p.Strings("columns")...), nil
			},
		},
		{
			Kind:    DropTableKind,
			Tooltip: "Forwards an empty table.",
			New: func(linkz.Params) (linkz.Link, error) {
				return DropTable(), nil
			},
		},
		{
			Kind:    QueryKind,
			Tooltip: "Keeps rows for which an expression over their columns is true.",
			Signature: linkz.Signature{
				{Name: "query", Type: linkz.String, Default: ""},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				q, err := Query(p.String("query"))
				if err != nil {
					return nil, err
				}
				return q, nil
			},
		},
		{
			Kind:    RowEvalKind,
			Tooltip: "Evaluates an expression per row into out_column, marking rows that fail.",
			Signature: linkz.Signature{
				{Name: "eval_str", Type: linkz.String, Required: true, Doc: "expression over the row's columns"},
				{Name: "out_column", Type: linkz.OutColumn, Required: true},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				l, err := RowEval(p.String("eval_str"), p.String("out_column"))
				if err != nil {
					return nil, err
				}
				return l, nil
			},
		},
		{
			Kind:    DfEvalKind,
			Tooltip: "Evaluates an expression over the table into a column; whole columns are read through table.",
			Signature: linkz.Signature{
				{Name: "eval_str", Type: linkz.String, Required: true, Doc: "expression, or 'column = expression' without out_column"},
				{Name: "out_column", Type: linkz.OutColumn, Default: ""},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				u, err := DfEval(p.String("eval_str"), p.String("out_column"))
				if err != nil {
					return nil, err
				}
				return u, nil
			},
		},
		{
			Kind:    StripErrorsKind,
			Tooltip: "Removes rows with errors and the error column.",
			Signature: linkz.Signature{
				{Name: "filename", Type: linkz.String, Default: "", Doc: "CSV file receiving the removed rows"},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				return StripErrors(p.String("filename")), nil
			},
		},
		{
			Kind:    FromFileKind,
			Tooltip: "Reads the table from a CSV file.",
			Signature: linkz.Signature{
				{Name: "filename", Type: linkz.String, Required: true},
				{Name: "sep", Type: linkz.String, Default: ","},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				u, err := FromFile(p.String("filename"), p.String("sep"))
				if err != nil {
					return nil, err
				}
				return u, nil
			},
		},
		{
			Kind:    ToFileKind,
			Tooltip: "Writes the table to a CSV file and passes it on.",
			Signature: linkz.Signature{
				{Name: "filename", Type: linkz.String, Required: true},
				{Name: "sep", Type: linkz.String, Default: ","},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				u, err := ToFile(p.String("filename"), p.String("sep"))
				if err != nil {
					return nil, err
				}
				return u, nil
			},
		},
		{
			Kind:    LinearModelRowKind,
			Tooltip: "Computes out_column = slope * in_column + bias per row.",
			Signature: linkz.Signature{
				{Name: "slope", Type: linkz.Float, Required: true},
				{Name: "bias", Type: linkz.Float, Required: true},
				{Name: "in_column", Type: linkz.InColumn, Default: "x"},
				{Name: "out_column", Type: linkz.OutColumn, Default: "y"},
			},
			New: func(p linkz.Params) (linkz.Link, error) {
				return LinearModelRow(p.Float("slope"), p.Float("bias"), p.String("in_column"), p.String("out_column")), nil
			},
		},
	}
}

func logger(kind linkz.Kind) *slog.Logger {
	return slog.Default().With("link", kind.String())
}
