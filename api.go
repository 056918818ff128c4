package linkz

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Link defines the interface for any component that transforms a table.
// Leaf units, chains, unions and partition processors all implement it, so a
// composition of links can be used anywhere a single link is expected.
//
// Key design principles:
//   - Apply returns a new table; the input table is never modified
//   - A link holds no state between Apply calls and is safe to reuse
//   - Kind and Params fully describe the link, so it can be rebuilt from a Tree
//   - Failures propagate unmodified, except inside RowLink where they become data
type Link interface {
	Apply(context.Context, *Table) (*Table, error)
	Kind() Kind
	Params() Params
}

// Close closes link if it holds resources. Closing a composite closes its
// members, so callers close the root of a tree they built or loaded.
func Close(link Link) error {
	return closeLinks(link)
}

// closeLinks closes every link that holds resources (tracers, hook workers).
// Composite links call it from their own Close, so closing the root of a
// tree closes the whole tree. Closing a link twice is harmless.
func closeLinks(links ...Link) error {
	var merr *multierror.Error
	for _, l := range links {
		if c, ok := l.(io.Closer); l != nil && ok {
			merr = multierror.Append(merr, c.Close())
		}
	}
	return merr.ErrorOrNil()
}

// Kind is the stable registry key of a link class, e.g. dataframe.DropColumns.
type Kind struct {
	Category string
	Class    string
}

// String returns "<category>.<class>", the value stored under ClassKey.
func (k Kind) String() string {
	return k.Category + "." + k.Class
}

// ParseKind parses "<category>.<class>".
func ParseKind(s string) (Kind, error) {
	i := strings.LastIndex(s, ".")
	if i <= 0 || i == len(s)-1 {
		return Kind{}, fmt.Errorf("class name %q is not of the form <category>.<class>", s)
	}
	return Kind{Category: s[:i], Class: s[i+1:]}, nil
}

// Reserved keys of a configuration Tree.
const (
	ClassKey   = "__class__"
	VersionKey = "__version__"
)

// Version is written under VersionKey by config.SaveLink.
const Version = "0.4.0"

// ErrorColumn is the reserved column holding per-row failure messages.
const ErrorColumn = "__error__"

// IsReserved reports whether a name follows the reserved __name__ pattern.
// User links must not produce columns with such names.
func IsReserved(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

// Tree is the plain configuration tree of a link: ClassKey names the class,
// every other key is a parameter. Nested links are nested Trees, link lists
// are []Tree. A Tree holds no live objects and is safe for JSON and YAML.
type Tree map[string]any

// Kind returns the class named under ClassKey.
func (t Tree) Kind() (Kind, error) {
	raw, ok := t[ClassKey]
	if !ok {
		return Kind{}, fmt.Errorf("tree has no %s key", ClassKey)
	}
	name, ok := raw.(string)
	if !ok {
		return Kind{}, fmt.Errorf("%s must be a string, got %T", ClassKey, raw)
	}
	return ParseKind(name)
}

// Run applies a link to a table. It exists for call sites that hold a Link
// value and read better as a function call.
func Run(ctx context.Context, link Link, t *Table) (*Table, error) {
	return link.Apply(ctx, t)
}

// Describe returns the configuration tree of a link. Parameter values that are
// links, or lists of links, are described recursively.
func Describe(link Link) Tree {
	tree := Tree{ClassKey: link.Kind().String()}
	for name, value := range link.Params() {
		tree[name] = describeValue(value)
	}
	return tree
}

func describeValue(value any) any {
	switch v := value.(type) {
	case Link:
		return Describe(v)
	case []Link:
		trees := make([]Tree, len(v))
		for i, l := range v {
			trees[i] = Describe(l)
		}
		return trees
	case []string:
		return append([]string{}, v...)
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = s
		}
		return out
	default:
		return v
	}
}

// Equal reports whether two links have the same class and the same parameter
// values, recursively.
func Equal(a, b Link) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(Describe(a), Describe(b))
}
