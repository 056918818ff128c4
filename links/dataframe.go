package links

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/zoobzio/linkz"
)

// Dataframe link kinds.
var (
	NullLinkKind       = linkz.Kind{Category: "dataframe", Class: "NullLink"}
	DropColumnsKind    = linkz.Kind{Category: "dataframe", Class: "DropColumns"}
	KeepColumnsKind    = linkz.Kind{Category: "dataframe", Class: "KeepColumns"}
	RenameColumnsKind  = linkz.Kind{Category: "dataframe", Class: "RenameColumns"}
	DropDuplicatesKind = linkz.Kind{Category: "dataframe", Class: "DropDuplicates"}
	DropTableKind      = linkz.Kind{Category: "dataframe", Class: "DropTable"}
	QueryKind          = linkz.Kind{Category: "dataframe", Class: "Query"}
)

// NullLink passes the table through unchanged. The name only shows up in logs.
func NullLink(name string) *linkz.Unit {
	return linkz.NewUnit(NullLinkKind, linkz.Params{"name": name},
		func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
			logger(NullLinkKind).Debug("applying link", "name", name)
			return t, nil
		})
}

// DropColumns removes the named columns. Every name must be present.
func DropColumns(columns ...string) *linkz.Unit {
	columns = append([]string{}, columns...)
	return linkz.NewUnit(DropColumnsKind, linkz.Params{"columns": columns},
		func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
			out := t.Drop(columns...)
			logger(DropColumnsKind).Debug("dropped columns", "dropped", columns, "remaining", out.Columns())
			return out, nil
		}, columns...)
}

// KeepColumns keeps only the named columns, in the order given.
func KeepColumns(columns ...string) *linkz.Unit {
	columns = append([]string{}, columns...)
	return linkz.NewUnit(KeepColumnsKind, linkz.Params{"columns": columns},
		func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
			out, err := t.Select(columns...)
			if err != nil {
				return nil, err
			}
			logger(KeepColumnsKind).Debug("kept columns", "kept", columns)
			return out, nil
		}, columns...)
}

// RenameColumns renames columns per mapping. Names absent from the table are
// ignored. Renaming onto a column that already exists fails.
func RenameColumns(mapping map[string]string) *linkz.Unit {
	cols := make(map[string]string, len(mapping))
	for k, v := range mapping {
		cols[k] = v
	}
	return linkz.NewUnit(RenameColumnsKind, linkz.Params{"columns": cols},
		func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
			if len(cols) == 0 {
				logger(RenameColumnsKind).Warn("no column mapping defined, returning table unchanged")
				return t, nil
			}
			for from, to := range cols {
				if linkz.IsReserved(to) && from != to {
					return nil, fmt.Errorf("cannot rename %q to reserved name %q", from, to)
				}
			}
			out, err := t.Rename(cols)
			if err != nil {
				return nil, err
			}
			renamed := 0
			for from := range cols {
				if t.HasColumn(from) {
					renamed++
				}
			}
			logger(RenameColumnsKind).Debug("renamed columns", "renamed", renamed)
			return out, nil
		})
}

// DropDuplicates keeps the first row of every group of rows that agree on the
// named columns. With no columns the table is returned unchanged.
func DropDuplicates(columns ...string) *linkz.Unit {
	columns = append([]string{}, columns...)
	return linkz.NewUnit(DropDuplicatesKind, linkz.Params{"columns": columns},
		func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
			if len(columns) == 0 {
				logger(DropDuplicatesKind).Warn("no subset columns defined, returning table unchanged")
				return t, nil
			}
			seen := make(map[uint64][][]any)
			out := t.Filter(func(r linkz.Row) bool {
				key := make([]any, len(columns))
				for i, c := range columns {
					key[i], _ = r.Get(c)
				}
				h := hashKey(key)
				for _, other := range seen[h] {
					if reflect.DeepEqual(other, key) {
						return false
					}
				}
				seen[h] = append(seen[h], key)
				return true
			})
			logger(DropDuplicatesKind).Debug("dropped duplicates", "dropped", t.Len()-out.Len(), "remaining", out.Len())
			return out, nil
		}, columns...)
}

func hashKey(key []any) uint64 {
	d := xxhash.New()
	for _, v := range key {
		_, _ = fmt.Fprintf(d, "%T\x1f%v\x1e", v, v) //nolint:errcheck // hash writes never fail
	}
	return d.Sum64()
}

// DropTable forwards an empty table. It is useful as the last link of a
// Union branch whose output should not be merged back: a table with neither
// rows nor columns contributes nothing to the merge.
func DropTable() *linkz.Unit {
	return linkz.NewUnit(DropTableKind, linkz.Params{},
		func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
			logger(DropTableKind).Debug("dropping table, forwarding an empty table", "rows", t.Len())
			return linkz.New(), nil
		})
}

// Query keeps the rows for which query, an expr-lang condition over the
// row's columns, is true:
//
//	mass < 500 and (name != 'water' or solid) and `log p` >= -0.5
//
// Rows whose evaluation fails, as comparing an empty cell with a number
// does, are dropped. A query that yields something other than a bool is an
// error. An empty query keeps every row. A query that does not compile is a
// ConfigurationError.
func Query(query string) (*linkz.Unit, error) {
	params := linkz.Params{"query": query}
	if strings.TrimSpace(query) == "" {
		return linkz.NewUnit(QueryKind, params,
			func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
				logger(QueryKind).Warn("no query defined, returning table unchanged")
				return t, nil
			}), nil
	}
	e, err := compileExpression(query, false)
	if err != nil {
		return nil, &linkz.ConfigurationError{Class: QueryKind.String(), Param: "query", Err: err}
	}
	return linkz.NewUnit(QueryKind, params,
		func(_ context.Context, t *linkz.Table) (*linkz.Table, error) {
			var notBool error
			out := t.Filter(func(r linkz.Row) bool {
				v, err := e.eval(r, nil)
				if err != nil || v == nil {
					return false
				}
				keep, ok := v.(bool)
				if !ok && notBool == nil {
					notBool = fmt.Errorf("query %q yields %T, not bool", query, v)
				}
				return keep
			})
			if notBool != nil {
				return nil, notBool
			}
			logger(QueryKind).Debug("filtered rows", "before", t.Len(), "after", out.Len())
			return out, nil
		}, e.columns...), nil
}
