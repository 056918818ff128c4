package linkz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// RowFunc computes one output row from one input row. The row passed in is a
// private copy, including any []any or map[string]any cells; setting a column
// adds or overwrites it in the output. Other reference values, such as
// pointers or typed slices, are shared with the input table and must not be
// modified.
type RowFunc func(context.Context, Row) (Row, error)

// Observability constants for RowLink.
const (
	// Metrics.
	RowProcessedTotal = metricz.Key("row.processed.total")
	RowRowsTotal      = metricz.Key("row.rows.total")
	RowErrorsTotal    = metricz.Key("row.errors.total")

	// Spans.
	RowApplySpan = tracez.Key("row.apply")

	// Tags.
	RowTagLink   = tracez.Tag("row.link")
	RowTagRows   = tracez.Tag("row.rows")
	RowTagErrors = tracez.Tag("row.errors")

	// Hook event keys.
	RowEventError = hookz.Key("row.error")
)

// RowEvent is emitted via hookz for every row whose computation failed.
type RowEvent struct {
	Timestamp time.Time
	Error     error
	LinkKind  string
	Label     Label
}

// RowLink is a leaf link that applies a RowFunc to every row independently.
//
// Failures are contained per row: when the function returns an error or
// panics for a row, that row keeps its input values, gets the failure message
// in ErrorColumn, and processing moves on. Apply itself only fails when a
// required input column is absent from the table, which is a
// StructuralInputError and is never contained.
//
// Every row is computed, including rows already marked by an earlier link.
// A row that succeeds has its ErrorColumn cell cleared, so the earlier
// failure is lost: neither SplitErrors nor StripErrors further down will see
// it. A row that fails again has its marker replaced by the new message.
// Row functions that depend on upstream values should fail on them (as
// Row.Float does for an empty cell) to keep such rows marked.
//
// Example:
//
//	double := linkz.NewRowLink(kind, params, func(_ context.Context, r linkz.Row) (linkz.Row, error) {
//	    x, err := r.Float("x")
//	    if err != nil {
//	        return r, err
//	    }
//	    r.Set("y", 2*x)
//	    return r, nil
//	}, "x")
//
// # Observability
//
// Metrics:
//   - row.processed.total: Counter of Apply calls
//   - row.rows.total: Counter of rows computed
//   - row.errors.total: Counter of rows that failed
//
// Traces:
//   - row.apply: Span per Apply call
//
// Events (via hooks):
//   - row.error: Fired for each failed row
type RowLink struct {
	fn        RowFunc
	params    Params
	metrics   *metricz.Registry
	tracer    *tracez.Tracer
	hooks     *hookz.Hooks[RowEvent]
	kind      Kind
	inColumns []string
	closed    sync.Once
}

// NewRowLink creates a RowLink. params are the resolved constructor
// parameters; inColumns must be present in every input table.
func NewRowLink(kind Kind, params Params, fn RowFunc, inColumns ...string) *RowLink {
	if params == nil {
		params = Params{}
	}
	metrics := metricz.New()
	metrics.Counter(RowProcessedTotal)
	metrics.Counter(RowRowsTotal)
	metrics.Counter(RowErrorsTotal)

	return &RowLink{
		kind:      kind,
		params:    params,
		fn:        fn,
		inColumns: append([]string{}, inColumns...),
		metrics:   metrics,
		tracer:    tracez.New(),
		hooks:     hookz.New[RowEvent](),
	}
}

// Kind implements Link.
func (l *RowLink) Kind() Kind { return l.kind }

// Params implements Link.
func (l *RowLink) Params() Params {
	out := make(Params, len(l.params))
	for k, v := range l.params {
		out[k] = v
	}
	return out
}

// InColumns returns the columns the link requires.
func (l *RowLink) InColumns() []string {
	return append([]string{}, l.inColumns...)
}

// Apply implements Link.
func (l *RowLink) Apply(ctx context.Context, t *Table) (*Table, error) {
	name := l.kind.String()
	if t == nil {
		t = New()
	}
	if missing := t.MissingColumns(l.inColumns...); len(missing) > 0 {
		return nil, &StructuralInputError{Link: name, Missing: missing}
	}

	l.metrics.Counter(RowProcessedTotal).Inc()
	ctx, span := l.tracer.StartSpan(ctx, RowApplySpan)
	span.SetTag(RowTagLink, name)
	span.SetTag(RowTagRows, fmt.Sprintf("%d", t.Len()))
	defer span.Finish()

	out := t.Copy()
	failed := 0
	for i := 0; i < out.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Path: []string{name}, Err: err, Timestamp: time.Now()}
		}
		in := out.Row(i)
		l.metrics.Counter(RowRowsTotal).Inc()

		row, err := l.compute(ctx, in.clone())
		if err == nil {
			row.Label = in.Label
			row.Delete(ErrorColumn)
			out.SetRow(i, row)
			continue
		}

		failed++
		l.metrics.Counter(RowErrorsTotal).Inc()
		rowErr := &RowComputationError{Link: name, Label: in.Label, Err: err}
		in.Set(ErrorColumn, rowErr.Error())
		out.SetRow(i, in)
		_ = l.hooks.Emit(ctx, RowEventError, RowEvent{ //nolint:errcheck
			LinkKind:  name,
			Label:     in.Label,
			Error:     rowErr,
			Timestamp: time.Now(),
		})
	}

	span.SetTag(RowTagErrors, fmt.Sprintf("%d", failed))
	if failed > 0 {
		logger(l.kind).Debug("rows failed", "failed", failed, "rows", out.Len())
	}
	return out, nil
}

func (l *RowLink) compute(ctx context.Context, in Row) (out Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.fn(ctx, in)
}

// Metrics returns the metrics registry for this link.
func (l *RowLink) Metrics() *metricz.Registry {
	return l.metrics
}

// Tracer returns the tracer for this link.
func (l *RowLink) Tracer() *tracez.Tracer {
	return l.tracer
}

// Close shuts down observability components.
func (l *RowLink) Close() error {
	l.closed.Do(func() {
		if l.tracer != nil {
			l.tracer.Close()
		}
		l.hooks.Close()
	})
	return nil
}

// OnRowError registers a handler called asynchronously for every failed row.
func (l *RowLink) OnRowError(handler func(context.Context, RowEvent) error) error {
	_, err := l.hooks.Hook(RowEventError, handler)
	return err
}

// HasError reports whether a row carries a failure marker.
func HasError(r Row) bool {
	v, ok := r.Get(ErrorColumn)
	if !ok || v == nil {
		return false
	}
	s, isString := v.(string)
	return !isString || s != ""
}

// ErrorCount returns the number of rows carrying a failure marker.
func ErrorCount(t *Table) int {
	n := 0
	for i := 0; i < t.Len(); i++ {
		if HasError(t.Row(i)) {
			n++
		}
	}
	return n
}

// SplitErrors separates rows that carry a failure marker from those that do
// not. Both results keep their labels; clean has no ErrorColumn.
func SplitErrors(t *Table) (clean, errored *Table) {
	if t == nil {
		return New(), New()
	}
	clean = t.Filter(func(r Row) bool { return !HasError(r) }).Drop(ErrorColumn)
	errored = t.Filter(HasError)
	return clean, errored
}
