package linkz

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestUnion(t *testing.T) {
	ctx := context.Background()

	t.Run("Merges Disjoint Columns", func(t *testing.T) {
		u := NewUnion(scaleRow(2, "x", "double"), scaleRow(3, "x", "triple"))
		defer u.Close()

		out, err := u.Apply(ctx, numbers(1.0, 2.0))
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(out.Columns(), []string{"x", "double", "triple"}) {
			t.Fatalf("unexpected columns %v", out.Columns())
		}
		if out.Value(1, "double") != 4.0 || out.Value(1, "triple") != 6.0 {
			t.Errorf("unexpected values %s", dump(out))
		}
	})

	t.Run("Branches See The Same Input", func(t *testing.T) {
		// right would see double if left's output leaked into it
		u := NewUnion(scaleRow(2, "x", "double"), NewUnit(appendKind, nil, func(_ context.Context, tbl *Table) (*Table, error) {
			if tbl.HasColumn("double") {
				return nil, errors.New("right branch saw left output")
			}
			return tbl, nil
		}))
		if _, err := u.Apply(ctx, numbers(1.0)); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("Equal Shared Columns Agree", func(t *testing.T) {
		u := NewUnion(appendColumn("tag", "same"), appendColumn("tag", "same"))
		out, err := u.Apply(ctx, numbers(1.0, 2.0))
		if err != nil {
			t.Fatal(err)
		}
		if out.Value(0, "tag") != "same" {
			t.Errorf("unexpected tag %v", out.Value(0, "tag"))
		}
	})

	t.Run("Conflicting Column", func(t *testing.T) {
		u := NewUnion(appendColumn("tag", "left"), appendColumn("tag", "right"))
		defer u.Close()

		out, err := u.Apply(ctx, numbers(1.0))
		if out != nil {
			t.Error("expected nil table on conflict")
		}
		var conflict *MergeConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected MergeConflictError, got %v", err)
		}
		if conflict.Column != "tag" || conflict.Label != 0 {
			t.Errorf("unexpected conflict %+v", conflict)
		}
		if v := u.Metrics().Counter(UnionConflictsTotal).Value(); v != 1 {
			t.Errorf("expected 1 conflict, got %f", v)
		}
	})

	t.Run("Modified Input Column Conflicts", func(t *testing.T) {
		u := NewUnion(scaleRow(2, "x", "x"), nullUnit())
		_, err := u.Apply(ctx, numbers(1.0))
		var conflict *MergeConflictError
		if !errors.As(err, &conflict) || conflict.Column != "x" {
			t.Errorf("expected conflict on x, got %v", err)
		}
	})

	t.Run("Row Count Mismatch", func(t *testing.T) {
		shrink := NewUnit(appendKind, nil, func(_ context.Context, tbl *Table) (*Table, error) {
			return tbl.Slice(0, 1), nil
		})
		_, err := NewUnion(nullUnit(), shrink).Apply(ctx, numbers(1.0, 2.0))
		var conflict *MergeConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected MergeConflictError, got %v", err)
		}
		if conflict.Column != "" {
			t.Errorf("expected table level conflict, got column %q", conflict.Column)
		}
	})

	t.Run("Dropped Branch Contributes Nothing", func(t *testing.T) {
		drop := NewUnit(appendKind, nil, func(context.Context, *Table) (*Table, error) {
			return New(), nil
		})
		in := numbers(1.0, 2.0)
		for name, u := range map[string]*Union{
			"right": NewUnion(scaleRow(2, "x", "y"), NewChain(appendColumn("tag", "a"), drop)),
			"left":  NewUnion(NewChain(appendColumn("tag", "a"), drop), scaleRow(2, "x", "y")),
		} {
			out, err := u.Apply(ctx, in)
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if !slices.Equal(out.Columns(), []string{"x", "y"}) || out.Len() != 2 {
				t.Errorf("%s: unexpected output %s", name, dump(out))
			}
			if out.Value(1, "y") != 4.0 {
				t.Errorf("%s: unexpected y %v", name, out.Value(1, "y"))
			}
		}
	})

	t.Run("Empty Rows With Columns Still Merged", func(t *testing.T) {
		empty := NewUnit(appendKind, nil, func(_ context.Context, tbl *Table) (*Table, error) {
			return tbl.Slice(0, 0), nil
		})
		_, err := NewUnion(nullUnit(), empty).Apply(ctx, numbers(1.0))
		var conflict *MergeConflictError
		if !errors.As(err, &conflict) {
			t.Errorf("expected MergeConflictError, got %v", err)
		}
	})

	t.Run("Label Mismatch", func(t *testing.T) {
		relabel := NewUnit(appendKind, nil, func(context.Context, *Table) (*Table, error) {
			return New("x").MustAppend(9.0).MustAppend(9.0).MustAppend(9.0).Slice(1, 3), nil
		})
		_, err := NewUnion(nullUnit(), relabel).Apply(ctx, numbers(1.0, 2.0))
		var conflict *MergeConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("expected MergeConflictError, got %v", err)
		}
	})

	t.Run("Aligns By Label", func(t *testing.T) {
		reverse := NewUnit(appendKind, nil, func(_ context.Context, tbl *Table) (*Table, error) {
			second := tbl.Slice(1, 2)
			first := tbl.Slice(0, 1)
			out := Concat(second, first)
			if err := out.SetColumn("r", []any{"second", "first"}); err != nil {
				return nil, err
			}
			return out, nil
		})
		out, err := NewUnion(nullUnit(), reverse).Apply(ctx, numbers(1.0, 2.0))
		if err != nil {
			t.Fatal(err)
		}
		if out.Value(0, "r") != "first" || out.Value(1, "r") != "second" {
			t.Errorf("expected right aligned to left order, got %s", dump(out))
		}
	})

	t.Run("Error Messages Joined", func(t *testing.T) {
		failOdd := func(kind Kind) *RowLink {
			return NewRowLink(kind, nil, func(_ context.Context, r Row) (Row, error) {
				if r.Label == 1 {
					return r, errors.New("odd row")
				}
				return r, nil
			})
		}
		u := NewUnion(failOdd(Kind{Category: "test", Class: "Left"}), failOdd(Kind{Category: "test", Class: "Right"}))
		out, err := u.Apply(ctx, numbers(1.0, 2.0))
		if err != nil {
			t.Fatal(err)
		}
		if out.Value(0, ErrorColumn) != nil {
			t.Errorf("unexpected marker on row 0: %v", out.Value(0, ErrorColumn))
		}
		msg, _ := out.Value(1, ErrorColumn).(string)
		lines := strings.Split(msg, "\n")
		if len(lines) != 2 || !strings.HasPrefix(lines[0], "test.Left") || !strings.HasPrefix(lines[1], "test.Right") {
			t.Errorf("expected both messages, got %q", msg)
		}
	})

	t.Run("Existing Marker Kept Once", func(t *testing.T) {
		in := New("x", ErrorColumn).MustAppend(1.0, "earlier")
		out, err := NewUnion(nullUnit(), nullUnit()).Apply(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		if out.Value(0, ErrorColumn) != "earlier" {
			t.Errorf("expected single earlier marker, got %q", out.Value(0, ErrorColumn))
		}
	})

	t.Run("Branch Failure Path", func(t *testing.T) {
		_, err := NewUnion(nullUnit(), failLink()).Apply(ctx, numbers(1.0))
		var linkErr *Error
		if !errors.As(err, &linkErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		want := []string{"base.Union.right", "test.Fail"}
		if !slices.Equal(linkErr.Path, want) {
			t.Errorf("expected path %v, got %v", want, linkErr.Path)
		}
	})

	t.Run("Input Untouched", func(t *testing.T) {
		in := numbers(1.0)
		before := in.Copy()
		if _, err := NewUnion(scaleRow(2, "x", "y"), appendColumn("c", "v")).Apply(ctx, in); err != nil {
			t.Fatal(err)
		}
		if !in.Equal(before) {
			t.Errorf("input modified: %s", dump(in))
		}
	})
}
