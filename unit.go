package linkz

import (
	"context"
	"errors"
	"time"
)

// TableFunc transforms a whole table. It receives a private copy of the input
// and may modify it freely.
type TableFunc func(context.Context, *Table) (*Table, error)

// Unit is a leaf link built from a TableFunc. It is the workhorse for
// table-level operations such as dropping or renaming columns, where the
// whole table is the unit of work.
//
// Before calling the function Unit checks that every required input column is
// present; a missing column fails the whole Apply with a StructuralInputError.
// Any other failure is returned wrapped in an Error whose Path is the unit's
// kind. Panics are recovered into errors.
//
// Example:
//
//	upper := linkz.NewUnit(kind, params, func(ctx context.Context, t *linkz.Table) (*linkz.Table, error) {
//	    names, _ := t.Column("name")
//	    ...
//	    return t, nil
//	}, "name")
type Unit struct {
	fn        TableFunc
	params    Params
	kind      Kind
	inColumns []string
}

// NewUnit creates a Unit. params must be the resolved parameters the unit was
// built from; they are what Describe reports. inColumns are required to be
// present in every input table.
func NewUnit(kind Kind, params Params, fn TableFunc, inColumns ...string) *Unit {
	if params == nil {
		params = Params{}
	}
	return &Unit{
		kind:      kind,
		params:    params,
		fn:        fn,
		inColumns: append([]string{}, inColumns...),
	}
}

// Kind implements Link.
func (u *Unit) Kind() Kind { return u.kind }

// Params implements Link.
func (u *Unit) Params() Params {
	out := make(Params, len(u.params))
	for k, v := range u.params {
		out[k] = v
	}
	return out
}

// InColumns returns the columns the unit requires.
func (u *Unit) InColumns() []string {
	return append([]string{}, u.inColumns...)
}

// Apply implements Link.
func (u *Unit) Apply(ctx context.Context, t *Table) (result *Table, err error) {
	name := u.kind.String()
	defer recoverFromPanic(&result, &err, name)
	if t == nil {
		t = New()
	}
	if missing := t.MissingColumns(u.inColumns...); len(missing) > 0 {
		return nil, &StructuralInputError{Link: name, Missing: missing}
	}

	start := time.Now()
	out, fnErr := u.fn(ctx, t.Copy())
	if fnErr != nil {
		var structural *StructuralInputError
		if errors.As(fnErr, &structural) {
			return nil, fnErr
		}
		return nil, &Error{
			Path:      []string{name},
			Err:       fnErr,
			Timestamp: time.Now(),
			Duration:  time.Since(start),
		}
	}
	if out == nil {
		out = New()
	}
	return out, nil
}
