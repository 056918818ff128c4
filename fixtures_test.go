package linkz

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
)

var (
	scaleKind  = Kind{Category: "test", Class: "Scale"}
	appendKind = Kind{Category: "test", Class: "AppendColumn"}
	failKind   = Kind{Category: "test", Class: "Fail"}
)

var errFail = errors.New("fail link failed")

// scaleRow multiplies in by factor into out, row by row.
func scaleRow(factor float64, in, out string) *RowLink {
	params := Params{"factor": factor, "in_column": in, "out_column": out}
	return NewRowLink(scaleKind, params, func(_ context.Context, r Row) (Row, error) {
		x, err := r.Float(in)
		if err != nil {
			return r, err
		}
		r.Set(out, factor*x)
		return r, nil
	}, in)
}

// appendColumn adds a constant column to the whole table.
func appendColumn(name string, value any) *Unit {
	params := Params{"name": name, "value": value}
	return NewUnit(appendKind, params, func(_ context.Context, t *Table) (*Table, error) {
		values := make([]any, t.Len())
		for i := range values {
			values[i] = value
		}
		if err := t.SetColumn(name, values); err != nil {
			return nil, err
		}
		return t, nil
	})
}

// nullUnit returns its input unchanged.
func nullUnit() *Unit {
	return NewUnit(Kind{Category: "test", Class: "Null"}, nil, func(_ context.Context, t *Table) (*Table, error) {
		return t, nil
	})
}

func failLink() *Unit {
	return NewUnit(failKind, Params{}, func(context.Context, *Table) (*Table, error) {
		return nil, errFail
	})
}

// testRegistry holds the core classes plus the test classes above.
func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	err := r.Register(
		Class{
			Kind:    scaleKind,
			Tooltip: "Scales a column.",
			Signature: Signature{
				{Name: "factor", Type: Float, Required: true},
				{Name: "in_column", Type: InColumn, Default: "x"},
				{Name: "out_column", Type: OutColumn, Default: "y"},
			},
			New: func(p Params) (Link, error) {
				return scaleRow(p.Float("factor"), p.String("in_column"), p.String("out_column")), nil
			},
		},
		Class{
			Kind:    appendKind,
			Tooltip: "Appends a constant column.",
			Signature: Signature{
				{Name: "name", Type: OutColumn, Required: true},
				{Name: "value", Type: String, Default: ""},
			},
			New: func(p Params) (Link, error) {
				return appendColumn(p.String("name"), p.String("value")), nil
			},
		},
		Class{
			Kind: failKind,
			New: func(Params) (Link, error) {
				return failLink(), nil
			},
		},
	)
	if err != nil {
		t.Fatalf("register test classes: %v", err)
	}
	return r
}

// numbers builds a table with column x holding the given values.
func numbers(values ...any) *Table {
	t := New("x")
	for _, v := range values {
		t.MustAppend(v)
	}
	return t
}

func dump(t *Table) string {
	if t == nil {
		return "<nil>"
	}
	s := fmt.Sprintf("%v", t.Columns())
	for i := 0; i < t.Len(); i++ {
		r := t.Row(i)
		s += fmt.Sprintf(" %d:%v", r.Label, r.values)
	}
	return s
}

// closeCounter counts Close calls on a link.
type closeCounter struct {
	Link
	closes *atomic.Int32
}

func (c closeCounter) Close() error {
	c.closes.Add(1)
	return nil
}
