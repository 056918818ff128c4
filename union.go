package linkz

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// UnionKind is the registry key of Union.
var UnionKind = Kind{Category: "base", Class: "Union"}

// Observability constants for Union.
const (
	UnionProcessedTotal = metricz.Key("union.processed.total")
	UnionConflictsTotal = metricz.Key("union.conflicts.total")

	UnionApplySpan = tracez.Key("union.apply")

	UnionTagSuccess = tracez.Tag("union.success")
	UnionTagError   = tracez.Tag("union.error")
)

// Union applies two links to the same input and merges their outputs
// column-wise. Neither branch sees the other's output.
//
// The branches must return the same set of row labels. The merged table has
// left's rows and columns, plus the columns only right produced. A column both
// branches hold must be identical in both, otherwise the merge fails with a
// MergeConflictError rather than picking a side. ErrorColumn is the
// exception: messages from both branches are kept, joined by a newline.
//
// A branch that returns a table with neither rows nor columns, as one ending
// in DropTable does, contributes nothing and the other branch's output is
// returned as is. A branch that returns zero rows but keeps its columns is
// still merged and so must match the other branch.
//
// Branches run one after the other on the calling goroutine.
type Union struct {
	left    Link
	right   Link
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	closed  sync.Once
	err     error
}

// NewUnion creates a Union of two links.
func NewUnion(left, right Link) *Union {
	metrics := metricz.New()
	metrics.Counter(UnionProcessedTotal)
	metrics.Counter(UnionConflictsTotal)
	return &Union{
		left:    left,
		right:   right,
		metrics: metrics,
		tracer:  tracez.New(),
	}
}

// Kind implements Link.
func (*Union) Kind() Kind { return UnionKind }

// Params implements Link.
func (u *Union) Params() Params {
	return Params{"left": u.left, "right": u.right}
}

// Left returns the left branch.
func (u *Union) Left() Link { return u.left }

// Right returns the right branch.
func (u *Union) Right() Link { return u.right }

// Apply implements Link.
func (u *Union) Apply(ctx context.Context, t *Table) (result *Table, err error) {
	name := UnionKind.String()
	defer recoverFromPanic(&result, &err, name)
	if t == nil {
		t = New()
	}
	u.metrics.Counter(UnionProcessedTotal).Inc()
	start := time.Now()

	ctx, span := u.tracer.StartSpan(ctx, UnionApplySpan)
	defer func() {
		if err == nil {
			span.SetTag(UnionTagSuccess, "true")
		} else {
			span.SetTag(UnionTagSuccess, "false")
			span.SetTag(UnionTagError, err.Error())
		}
		span.Finish()
	}()

	left, err := u.left.Apply(ctx, t.Copy())
	if err != nil {
		return nil, wrapPath(err, name+".left", time.Now(), time.Since(start))
	}
	right, err := u.right.Apply(ctx, t.Copy())
	if err != nil {
		return nil, wrapPath(err, name+".right", time.Now(), time.Since(start))
	}

	merged, err := mergeColumns(left, right)
	if err != nil {
		u.metrics.Counter(UnionConflictsTotal).Inc()
		return nil, wrapPath(err, name, time.Now(), time.Since(start))
	}
	return merged, nil
}

// Metrics returns the metrics registry for this union.
func (u *Union) Metrics() *metricz.Registry {
	return u.metrics
}

// Tracer returns the tracer for this union.
func (u *Union) Tracer() *tracez.Tracer {
	return u.tracer
}

// Close shuts down observability components and closes both branches.
func (u *Union) Close() error {
	u.closed.Do(func() {
		if u.tracer != nil {
			u.tracer.Close()
		}
		u.err = closeLinks(u.left, u.right)
	})
	return u.err
}

// mergeColumns joins right onto left by row label.
func mergeColumns(left, right *Table) (*Table, error) {
	if left == nil {
		left = New()
	}
	if right == nil {
		right = New()
	}
	if dropped(right) {
		return left.Copy(), nil
	}
	if dropped(left) {
		return right.Copy(), nil
	}
	if left.Len() != right.Len() {
		return nil, &MergeConflictError{
			Reason: fmt.Sprintf("branches returned %d and %d rows", left.Len(), right.Len()),
		}
	}
	rightIdx := right.indexOf()
	order := make([]int, left.Len())
	for i, l := range left.labels {
		j, ok := rightIdx[l]
		if !ok {
			return nil, &MergeConflictError{
				Reason: fmt.Sprintf("row %d is missing from the right branch", l),
				Label:  l,
			}
		}
		order[i] = j
	}

	out := left.Copy()
	for _, c := range right.columns {
		aligned := make([]any, len(order))
		for i, j := range order {
			aligned[i] = right.data[c][j]
		}

		if !out.HasColumn(c) {
			out.addColumn(c)
			out.data[c] = aligned
			continue
		}
		if c == ErrorColumn {
			out.data[c] = joinErrors(out.data[c], aligned)
			continue
		}
		for i, v := range aligned {
			if !reflect.DeepEqual(out.data[c][i], v) {
				return nil, &MergeConflictError{
					Column: c,
					Label:  out.labels[i],
					Reason: fmt.Sprintf("left has %v, right has %v", out.data[c][i], v),
				}
			}
		}
	}
	return out, nil
}

// dropped reports whether t is the empty table a discarding branch returns.
func dropped(t *Table) bool {
	return t.Len() == 0 && len(t.columns) == 0
}

func joinErrors(left, right []any) []any {
	out := make([]any, len(left))
	for i := range left {
		var msgs []string
		for _, v := range []any{left[i], right[i]} {
			if s, ok := v.(string); ok && s != "" && !slices.Contains(msgs, s) {
				msgs = append(msgs, s)
			}
		}
		if len(msgs) > 0 {
			out[i] = strings.Join(msgs, "\n")
		}
	}
	return out
}
