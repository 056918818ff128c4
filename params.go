package linkz

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ParamType is the declared type of a link parameter. It decides how values
// decoded from JSON or YAML are coerced back into Go values.
type ParamType int

// Parameter types.
const (
	String ParamType = iota
	InColumn
	OutColumn
	Int
	Float
	Bool
	Strings
	StringMap
	LinkParam
	LinksParam
)

var paramTypeNames = map[ParamType]string{
	String:     "string",
	InColumn:   "incolumn",
	OutColumn:  "outcolumn",
	Int:        "int",
	Float:      "float",
	Bool:       "bool",
	Strings:    "[]string",
	StringMap:  "map[string]string",
	LinkParam:  "Link",
	LinksParam: "[]Link",
}

func (t ParamType) String() string {
	if name, ok := paramTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ParamType(%d)", int(t))
}

// ParamSpec declares one constructor parameter of a link class.
type ParamSpec struct {
	Default  any
	Name     string
	Doc      string
	Type     ParamType
	Required bool
	// Nullable parameters accept nil as an explicit "unset".
	Nullable bool
}

// Signature is the ordered parameter table shared by a class's constructor and
// by Describe/Construct.
type Signature []ParamSpec

// Lookup returns the ParamSpec for a parameter name.
func (s Signature) Lookup(name string) (ParamSpec, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// InColumns returns the values of every InColumn parameter in params.
func (s Signature) InColumns(params Params) []string {
	var cols []string
	for _, p := range s {
		if p.Type != InColumn {
			continue
		}
		if c := params.String(p.Name); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}

// String renders the signature as "name type = default, ...".
func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, p := range s {
		part := p.Name + " " + p.Type.String()
		if !p.Required {
			part += " = " + formatDefault(p.Default)
		}
		parts[i] = part
	}
	return strings.Join(parts, ", ")
}

func formatDefault(v any) string {
	switch d := v.(type) {
	case nil:
		return "nil"
	case string:
		return fmt.Sprintf("%q", d)
	default:
		return fmt.Sprintf("%v", d)
	}
}

// Params maps parameter names to values. Values held by a constructed link are
// always in canonical form for their ParamType.
type Params map[string]any

// String returns a string parameter, "" when absent.
func (p Params) String(name string) string {
	s, _ := p[name].(string) //nolint:errcheck // zero value on mismatch
	return s
}

// Int returns an int parameter, 0 when absent or nil.
func (p Params) Int(name string) int {
	n, _ := p[name].(int) //nolint:errcheck // zero value on mismatch
	return n
}

// OptionalInt returns a nullable int parameter and whether it is set.
func (p Params) OptionalInt(name string) (int, bool) {
	n, ok := p[name].(int)
	return n, ok
}

// Float returns a float parameter.
func (p Params) Float(name string) float64 {
	f, _ := p[name].(float64) //nolint:errcheck // zero value on mismatch
	return f
}

// Bool returns a bool parameter.
func (p Params) Bool(name string) bool {
	b, _ := p[name].(bool) //nolint:errcheck // zero value on mismatch
	return b
}

// Strings returns a copy of a string list parameter.
func (p Params) Strings(name string) []string {
	s, _ := p[name].([]string) //nolint:errcheck // zero value on mismatch
	return append([]string{}, s...)
}

// StringMap returns a copy of a string map parameter.
func (p Params) StringMap(name string) map[string]string {
	m, _ := p[name].(map[string]string) //nolint:errcheck // zero value on mismatch
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Link returns a link parameter.
func (p Params) Link(name string) Link {
	l, _ := p[name].(Link) //nolint:errcheck // zero value on mismatch
	return l
}

// Links returns a copy of a link list parameter.
func (p Params) Links(name string) []Link {
	l, _ := p[name].([]Link) //nolint:errcheck // zero value on mismatch
	return append([]Link{}, l...)
}

// coerceScalar converts a decoded value to the canonical Go type of t.
// Link types are handled by the registry, which can construct nested trees.
func coerceScalar(t ParamType, v any) (any, error) {
	switch t {
	case String, InColumn, OutColumn:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("want string, got %T", v)
		}
		if t == OutColumn && IsReserved(s) {
			return nil, fmt.Errorf("%q is a reserved column name", s)
		}
		return s, nil
	case Int:
		return toInt(v)
	case Float:
		return toFloat(v)
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("want bool, got %T", v)
		}
		return b, nil
	case Strings:
		return toStrings(v)
	case StringMap:
		return toStringMap(v)
	default:
		return nil, fmt.Errorf("unsupported parameter type %v", t)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("want integer, got %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("want int, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("want float, got %T", v)
	}
}

func toStrings(v any) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return append([]string{}, s...), nil
	case []any:
		out := make([]string, len(s))
		for i, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("item %d: want string, got %T", i, item)
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("want list of strings, got %T", v)
	}
}

func toStringMap(v any) (map[string]string, error) {
	switch m := v.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		out := make(map[string]string, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, nil
	case Tree:
		return toStringMap(map[string]any(m))
	case map[string]any:
		out := make(map[string]string, len(m))
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			str, ok := m[k].(string)
			if !ok {
				return nil, fmt.Errorf("key %q: want string, got %T", k, m[k])
			}
			out[k] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("want mapping of strings, got %T", v)
	}
}
