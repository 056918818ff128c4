package linkz

import (
	"slices"
	"testing"
)

func TestTable(t *testing.T) {
	t.Run("Append Assigns Sequential Labels", func(t *testing.T) {
		tbl := New("a", "b")
		tbl.MustAppend(1.0, "x").MustAppend(2.0, "y")

		if tbl.Len() != 2 {
			t.Fatalf("expected 2 rows, got %d", tbl.Len())
		}
		if !slices.Equal(tbl.Labels(), []Label{0, 1}) {
			t.Errorf("expected labels [0 1], got %v", tbl.Labels())
		}
		if tbl.Value(1, "b") != "y" {
			t.Errorf("expected y, got %v", tbl.Value(1, "b"))
		}
	})

	t.Run("Append Rejects Width Mismatch", func(t *testing.T) {
		if err := New("a", "b").Append(1.0); err == nil {
			t.Error("expected error for missing value")
		}
	})

	t.Run("Duplicate Columns Ignored", func(t *testing.T) {
		tbl := New("a", "a", "b")
		if !slices.Equal(tbl.Columns(), []string{"a", "b"}) {
			t.Errorf("unexpected columns %v", tbl.Columns())
		}
	})

	t.Run("Nil Table Has No Rows", func(t *testing.T) {
		var tbl *Table
		if tbl.Len() != 0 {
			t.Errorf("expected 0, got %d", tbl.Len())
		}
	})

	t.Run("Copy Is Independent", func(t *testing.T) {
		tbl := numbers(1.0, 2.0)
		cp := tbl.Copy()
		if err := cp.SetColumn("x", []any{9.0, 9.0}); err != nil {
			t.Fatal(err)
		}
		if tbl.Value(0, "x") != 1.0 {
			t.Errorf("original modified: %v", tbl.Value(0, "x"))
		}
	})

	t.Run("Slice Keeps Labels", func(t *testing.T) {
		tbl := numbers(1.0, 2.0, 3.0, 4.0)
		s := tbl.Slice(1, 3)
		if !slices.Equal(s.Labels(), []Label{1, 2}) {
			t.Errorf("expected labels [1 2], got %v", s.Labels())
		}
	})

	t.Run("Filter Keeps Order And Labels", func(t *testing.T) {
		tbl := numbers(1.0, 2.0, 3.0, 4.0)
		odd := tbl.Filter(func(r Row) bool {
			x, _ := r.Float("x")
			return int(x)%2 == 1
		})
		if !slices.Equal(odd.Labels(), []Label{0, 2}) {
			t.Errorf("expected labels [0 2], got %v", odd.Labels())
		}
	})

	t.Run("Select Orders Columns", func(t *testing.T) {
		tbl := New("a", "b", "c").MustAppend(1, 2, 3)
		sel, err := tbl.Select("c", "a")
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(sel.Columns(), []string{"c", "a"}) {
			t.Errorf("unexpected columns %v", sel.Columns())
		}
		if _, err := tbl.Select("z"); err == nil {
			t.Error("expected error for missing column")
		}
	})

	t.Run("Drop Ignores Absent Columns", func(t *testing.T) {
		tbl := New("a", "b").MustAppend(1, 2)
		out := tbl.Drop("b", "zz")
		if !slices.Equal(out.Columns(), []string{"a"}) {
			t.Errorf("unexpected columns %v", out.Columns())
		}
	})

	t.Run("Rename", func(t *testing.T) {
		tbl := New("a", "b").MustAppend(1, 2)
		out, err := tbl.Rename(map[string]string{"a": "z", "missing": "q"})
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(out.Columns(), []string{"z", "b"}) {
			t.Errorf("unexpected columns %v", out.Columns())
		}
		if out.Value(0, "z") != 1 {
			t.Errorf("expected value carried over, got %v", out.Value(0, "z"))
		}
		if _, err := tbl.Rename(map[string]string{"a": "b"}); err == nil {
			t.Error("expected duplicate column error")
		}
	})

	t.Run("SetRow Adds Columns", func(t *testing.T) {
		tbl := numbers(1.0, 2.0)
		r := tbl.Row(1)
		r.Set("y", "new")
		tbl.SetRow(1, r)

		if !slices.Equal(tbl.Columns(), []string{"x", "y"}) {
			t.Fatalf("unexpected columns %v", tbl.Columns())
		}
		if tbl.Value(0, "y") != nil || tbl.Value(1, "y") != "new" {
			t.Errorf("unexpected y column: %v %v", tbl.Value(0, "y"), tbl.Value(1, "y"))
		}
	})

	t.Run("SetColumn Checks Length", func(t *testing.T) {
		if err := numbers(1.0).SetColumn("y", []any{1, 2}); err == nil {
			t.Error("expected length error")
		}
	})

	t.Run("Equal", func(t *testing.T) {
		a := numbers(1.0, 2.0)
		if !a.Equal(numbers(1.0, 2.0)) {
			t.Error("expected equal tables")
		}
		if a.Equal(numbers(1.0, 3.0)) {
			t.Error("expected different values to differ")
		}
		if a.Equal(numbers(1.0, 2.0).Slice(0, 1)) {
			t.Error("expected different lengths to differ")
		}
		b := New("x").MustAppend(2.0).MustAppend(1.0)
		if a.Equal(b.Filter(func(Row) bool { return true })) {
			t.Error("expected different values to differ")
		}
	})

	t.Run("Concat Unions Columns", func(t *testing.T) {
		a := numbers(1.0).Copy()
		b := numbers(1.0, 2.0).Slice(1, 2)
		if err := b.SetColumn("y", []any{"b"}); err != nil {
			t.Fatal(err)
		}
		out := Concat(a, nil, b)
		if !slices.Equal(out.Columns(), []string{"x", "y"}) {
			t.Fatalf("unexpected columns %v", out.Columns())
		}
		if !slices.Equal(out.Labels(), []Label{0, 1}) {
			t.Errorf("unexpected labels %v", out.Labels())
		}
		if out.Value(0, "y") != nil || out.Value(1, "y") != "b" {
			t.Errorf("unexpected y: %s", dump(out))
		}
	})
}

func TestRow(t *testing.T) {
	t.Run("NewRow", func(t *testing.T) {
		r := NewRow(7, "a", 1, "b", "two")
		if r.Label != 7 {
			t.Errorf("expected label 7, got %d", r.Label)
		}
		if !slices.Equal(r.Columns(), []string{"a", "b"}) {
			t.Errorf("unexpected columns %v", r.Columns())
		}
	})

	t.Run("Set And Delete", func(t *testing.T) {
		r := NewRow(0, "a", 1)
		r.Set("b", 2)
		r.Set("a", 3)
		if v, _ := r.Get("a"); v != 3 {
			t.Errorf("expected 3, got %v", v)
		}
		r.Delete("a")
		if r.Has("a") {
			t.Error("expected a to be deleted")
		}
		if !slices.Equal(r.Columns(), []string{"b"}) {
			t.Errorf("unexpected columns %v", r.Columns())
		}
		r.Delete("missing")
	})

	t.Run("Float Conversion", func(t *testing.T) {
		r := NewRow(0, "f", 1.5, "i", 2, "s", "3.25", "bad", "abc", "nil", nil)
		for col, want := range map[string]float64{"f": 1.5, "i": 2, "s": 3.25} {
			got, err := r.Float(col)
			if err != nil || got != want {
				t.Errorf("%s: expected %v, got %v (%v)", col, want, got, err)
			}
		}
		for _, col := range []string{"bad", "nil", "missing"} {
			if _, err := r.Float(col); err == nil {
				t.Errorf("%s: expected error", col)
			}
		}
	})

	t.Run("String Conversion", func(t *testing.T) {
		r := NewRow(0, "s", "x", "n", 2.5, "nil", nil)
		if s, _ := r.String("s"); s != "x" {
			t.Errorf("expected x, got %q", s)
		}
		if s, _ := r.String("n"); s != "2.5" {
			t.Errorf("expected 2.5, got %q", s)
		}
		if s, _ := r.String("nil"); s != "" {
			t.Errorf("expected empty, got %q", s)
		}
		if _, err := r.String("missing"); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("Row Is Detached", func(t *testing.T) {
		tbl := numbers(1.0)
		r := tbl.Row(0)
		r.Set("x", 5.0)
		if tbl.Value(0, "x") != 1.0 {
			t.Error("row change leaked into table")
		}
	})
}
