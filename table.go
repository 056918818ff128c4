package linkz

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
)

// Label identifies a row. Labels survive every row-wise operation so a row
// can be traced through partitioning, unions and filters.
type Label int

// Table is an ordered, column-major, in-memory table.
//
// Links never mutate the table they receive. Every built-in link works on a
// Copy and returns it, so a caller can keep using its original reference
// after Apply returns.
//
// Absent cells are nil. A column added by one row is nil for every other row.
type Table struct {
	data    map[string][]any
	columns []string
	labels  []Label
	next    Label
}

// New creates an empty table with the given columns. Duplicate names are ignored.
func New(columns ...string) *Table {
	t := &Table{data: make(map[string][]any, len(columns))}
	for _, c := range columns {
		t.addColumn(c)
	}
	return t
}

// Append adds a row with the next free label. Values are matched to columns
// positionally and their count must equal the number of columns.
func (t *Table) Append(values ...any) error {
	if len(values) != len(t.columns) {
		return fmt.Errorf("append: got %d values for %d columns", len(values), len(t.columns))
	}
	t.appendLabeled(t.next, values)
	return nil
}

// MustAppend is Append for table literals in tests and examples. It panics on a width mismatch.
func (t *Table) MustAppend(values ...any) *Table {
	if err := t.Append(values...); err != nil {
		panic(err)
	}
	return t
}

func (t *Table) appendLabeled(label Label, values []any) {
	for i, c := range t.columns {
		t.data[c] = append(t.data[c], values[i])
	}
	t.labels = append(t.labels, label)
	if label >= t.next {
		t.next = label + 1
	}
}

func (t *Table) addColumn(name string) bool {
	if _, ok := t.data[name]; ok {
		return false
	}
	t.columns = append(t.columns, name)
	t.data[name] = make([]any, len(t.labels))
	return true
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.labels)
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.data[name]
	return ok
}

// MissingColumns returns the names from want that the table lacks, in the order given.
func (t *Table) MissingColumns(want ...string) []string {
	var missing []string
	for _, c := range want {
		if !t.HasColumn(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// Labels returns the row labels in row order.
func (t *Table) Labels() []Label {
	return slices.Clone(t.labels)
}

// Column returns a copy of the values of the named column.
func (t *Table) Column(name string) ([]any, bool) {
	values, ok := t.data[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(values), true
}

// Value returns the cell at row i in the named column, nil when the column is absent.
func (t *Table) Value(i int, column string) any {
	values, ok := t.data[column]
	if !ok {
		return nil
	}
	return values[i]
}

// Row returns a detached copy of row i.
func (t *Table) Row(i int) Row {
	r := Row{
		Label:   t.labels[i],
		columns: slices.Clone(t.columns),
		values:  make(map[string]any, len(t.columns)),
	}
	for _, c := range t.columns {
		r.values[c] = t.data[c][i]
	}
	return r
}

// SetRow writes r into row i. Columns the row carries but the table lacks are
// appended; table columns the row lacks are set to nil. The row label is kept.
func (t *Table) SetRow(i int, r Row) {
	for _, c := range r.columns {
		t.addColumn(c)
	}
	for _, c := range t.columns {
		t.data[c][i] = r.values[c]
	}
}

// SetColumn replaces or appends a column. The number of values must equal Len.
func (t *Table) SetColumn(name string, values []any) error {
	if len(values) != len(t.labels) {
		return fmt.Errorf("set column %q: got %d values for %d rows", name, len(values), len(t.labels))
	}
	t.addColumn(name)
	t.data[name] = slices.Clone(values)
	return nil
}

// Copy returns an independent copy of the table. Cell values are shared.
func (t *Table) Copy() *Table {
	return t.Slice(0, t.Len())
}

// Slice returns an independent copy of rows [start, end).
func (t *Table) Slice(start, end int) *Table {
	out := &Table{
		data:    make(map[string][]any, len(t.columns)),
		columns: slices.Clone(t.columns),
		labels:  slices.Clone(t.labels[start:end]),
		next:    t.next,
	}
	for _, c := range t.columns {
		out.data[c] = slices.Clone(t.data[c][start:end])
	}
	return out
}

// Filter returns a copy holding the rows for which keep returns true, in order.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := New(t.columns...)
	out.next = t.next
	for i := range t.labels {
		if !keep(t.Row(i)) {
			continue
		}
		values := make([]any, len(t.columns))
		for j, c := range t.columns {
			values[j] = t.data[c][i]
		}
		out.appendLabeled(t.labels[i], values)
	}
	return out
}

// Select returns a copy with only the named columns, in the order given.
func (t *Table) Select(columns ...string) (*Table, error) {
	if missing := t.MissingColumns(columns...); len(missing) > 0 {
		return nil, fmt.Errorf("select: missing columns %v", missing)
	}
	out := &Table{
		data:   make(map[string][]any, len(columns)),
		labels: slices.Clone(t.labels),
		next:   t.next,
	}
	for _, c := range columns {
		if out.addColumn(c) {
			out.data[c] = slices.Clone(t.data[c])
		}
	}
	return out, nil
}

// Drop returns a copy without the named columns. Absent names are ignored.
func (t *Table) Drop(columns ...string) *Table {
	keep := make([]string, 0, len(t.columns))
	for _, c := range t.columns {
		if !slices.Contains(columns, c) {
			keep = append(keep, c)
		}
	}
	out, _ := t.Select(keep...) //nolint:errcheck // keep is a subset of t.columns
	return out
}

// Rename returns a copy with columns renamed per mapping. Names absent from
// the table are ignored. Renaming onto an existing, unrenamed column fails.
func (t *Table) Rename(mapping map[string]string) (*Table, error) {
	names := make([]string, len(t.columns))
	seen := make(map[string]bool, len(t.columns))
	for i, c := range t.columns {
		name := c
		if to, ok := mapping[c]; ok {
			name = to
		}
		if seen[name] {
			return nil, fmt.Errorf("rename: duplicate column %q", name)
		}
		seen[name] = true
		names[i] = name
	}
	out := &Table{
		data:   make(map[string][]any, len(names)),
		labels: slices.Clone(t.labels),
		next:   t.next,
	}
	for i, c := range t.columns {
		out.columns = append(out.columns, names[i])
		out.data[names[i]] = slices.Clone(t.data[c])
	}
	return out, nil
}

// Equal reports whether both tables have the same columns in the same order,
// the same labels in the same order, and deeply equal cells.
func (t *Table) Equal(other *Table) bool {
	if t.Len() != other.Len() {
		return false
	}
	if !slices.Equal(t.columns, other.columns) || !slices.Equal(t.labels, other.labels) {
		return false
	}
	for _, c := range t.columns {
		if !reflect.DeepEqual(t.data[c], other.data[c]) {
			return false
		}
	}
	return true
}

// indexOf maps each label to its row position.
func (t *Table) indexOf() map[Label]int {
	idx := make(map[Label]int, len(t.labels))
	for i, l := range t.labels {
		idx[l] = i
	}
	return idx
}

// Concat stacks tables vertically, keeping every row label. The result has
// the union of all columns in first-seen order; cells a table lacks are nil.
func Concat(tables ...*Table) *Table {
	out := New()
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.columns {
			out.addColumn(c)
		}
	}
	for _, t := range tables {
		if t == nil {
			continue
		}
		for i, l := range t.labels {
			values := make([]any, len(out.columns))
			for j, c := range out.columns {
				if col, ok := t.data[c]; ok {
					values[j] = col[i]
				}
			}
			out.appendLabeled(l, values)
		}
		if t.next > out.next {
			out.next = t.next
		}
	}
	return out
}

// Row is a detached copy of one table row. Changes to a Row only reach a
// table through SetRow.
type Row struct {
	values  map[string]any
	columns []string
	Label   Label
}

// NewRow builds a row from alternating column names and values.
func NewRow(label Label, pairs ...any) Row {
	r := Row{Label: label, values: make(map[string]any, len(pairs)/2)}
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(fmt.Sprint(pairs[i]), pairs[i+1])
	}
	return r
}

// Get returns the value of a column and whether the row has it.
func (r Row) Get(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Has reports whether the row has the column.
func (r Row) Has(column string) bool {
	_, ok := r.values[column]
	return ok
}

// Set writes a value, appending the column if it is new.
func (r *Row) Set(column string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[column]; !ok {
		r.columns = append(r.columns, column)
	}
	r.values[column] = value
}

// Delete removes a column from the row.
func (r *Row) Delete(column string) {
	if _, ok := r.values[column]; !ok {
		return
	}
	delete(r.values, column)
	r.columns = slices.DeleteFunc(r.columns, func(c string) bool { return c == column })
}

// Columns returns the row's column names in order.
func (r Row) Columns() []string {
	return slices.Clone(r.columns)
}

// Float reads a column as float64, converting integers and numeric strings.
func (r Row) Float(column string) (float64, error) {
	v, ok := r.values[column]
	if !ok {
		return 0, fmt.Errorf("column %q not in row", column)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("column %q: %w", column, err)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("column %q is empty", column)
	default:
		return 0, fmt.Errorf("column %q: cannot convert %T to float", column, v)
	}
}

// String reads a column as a string. Non-string values are formatted.
func (r Row) String(column string) (string, error) {
	v, ok := r.values[column]
	if !ok {
		return "", fmt.Errorf("column %q not in row", column)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	if v == nil {
		return "", nil
	}
	return fmt.Sprint(v), nil
}

// clone copies the row. []any and map[string]any cells are copied
// recursively; any other reference value is shared.
func (r Row) clone() Row {
	out := Row{
		Label:   r.Label,
		columns: slices.Clone(r.columns),
		values:  make(map[string]any, len(r.values)),
	}
	for k, v := range r.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch c := v.(type) {
	case []any:
		if c == nil {
			return v
		}
		out := make([]any, len(c))
		for i, e := range c {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		if c == nil {
			return v
		}
		out := make(map[string]any, len(c))
		for k, e := range c {
			out[k] = cloneValue(e)
		}
		return out
	}
	return v
}
