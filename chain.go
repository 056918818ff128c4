package linkz

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// ChainKind is the registry key of Chain.
var ChainKind = Kind{Category: "base", Class: "Chain"}

// Observability constants for Chain.
const (
	// Metrics.
	ChainProcessedTotal = metricz.Key("chain.processed.total")
	ChainSuccessesTotal = metricz.Key("chain.successes.total")
	ChainFailuresTotal  = metricz.Key("chain.failures.total")
	ChainLinksCompleted = metricz.Key("chain.links.completed")
	ChainLinksTotal     = metricz.Key("chain.links.total")
	ChainDurationMs     = metricz.Key("chain.duration.ms")
	ChainRowsOutput     = metricz.Key("chain.rows.output")

	// Spans.
	ChainApplySpan = tracez.Key("chain.apply")
	ChainLinkSpan  = tracez.Key("chain.link")

	// Tags.
	ChainTagRunID      = tracez.Tag("chain.run_id")
	ChainTagLinkCount  = tracez.Tag("chain.link_count")
	ChainTagLinkNumber = tracez.Tag("chain.link_number")
	ChainTagLinkKind   = tracez.Tag("chain.link_kind")
	ChainTagSuccess    = tracez.Tag("chain.success")
	ChainTagError      = tracez.Tag("chain.error")

	// Hook event keys.
	ChainEventLinkComplete = hookz.Key("chain.link_complete")
	ChainEventAllComplete  = hookz.Key("chain.all_complete")
)

// ChainEvent is emitted via hookz as each member link finishes and when the
// whole chain has finished successfully.
type ChainEvent struct {
	Timestamp      time.Time
	Error          error
	RunID          string
	LinkKind       string
	LinkNumber     int           // 1-based position of the member
	TotalLinks     int           // number of members
	Rows           int           // rows in the member's output
	Duration       time.Duration // member duration
	CompletedLinks int           // for all_complete
	TotalDuration  time.Duration // for all_complete
	Success        bool
}

// Chain runs its member links one after the other: the output of member i is
// the input of member i+1. A Chain is itself a Link.
//
// The member list is fixed at construction. Add returns a new Chain and
// flattens nested Chains, which keeps configuration trees shallow.
//
// A failing member aborts the chain. The error is returned with the chain's
// name prepended to its Path; there is no chain-level recovery. Per-row
// containment is the job of RowLink members.
//
// # Observability
//
// Metrics:
//   - chain.processed.total: Counter of Apply calls
//   - chain.successes.total: Counter of successful Apply calls
//   - chain.failures.total: Counter of failed Apply calls
//   - chain.links.completed: Gauge of members completed in the last call
//   - chain.links.total: Gauge of members
//   - chain.duration.ms: Gauge of the last call's duration
//   - chain.rows.output: Gauge of rows returned by the last call
//
// Traces:
//   - chain.apply: Parent span for the whole call
//   - chain.link: Child span per member
//
// Events (via hooks):
//   - chain.link_complete: Fired as each member completes
//   - chain.all_complete: Fired when every member succeeded
type Chain struct {
	clock   clockz.Clock
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[ChainEvent]
	links   []Link
	closed  sync.Once
	err     error
}

// NewChain creates a Chain of the given links, in order. Nil links are skipped;
// nested Chains are kept as given. Use Add to flatten.
func NewChain(links ...Link) *Chain {
	metrics := metricz.New()
	metrics.Counter(ChainProcessedTotal)
	metrics.Counter(ChainSuccessesTotal)
	metrics.Counter(ChainFailuresTotal)
	metrics.Gauge(ChainLinksCompleted)
	metrics.Gauge(ChainLinksTotal)
	metrics.Gauge(ChainDurationMs)
	metrics.Gauge(ChainRowsOutput)

	members := make([]Link, 0, len(links))
	for _, l := range links {
		if l != nil {
			members = append(members, l)
		}
	}
	return &Chain{
		links:   members,
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[ChainEvent](),
	}
}

// Add composes links into one Chain. Chains among the arguments contribute
// their members instead of being nested, so Add(Add(a, b), c),
// Add(a, Add(b, c)) and Add(a, b, c) all yield the members [a, b, c].
// Nil links are skipped, which makes a nil Link a neutral seed.
func Add(links ...Link) *Chain {
	var members []Link
	for _, l := range links {
		switch v := l.(type) {
		case nil:
			continue
		case *Chain:
			if v == nil {
				continue
			}
			members = append(members, v.links...)
		default:
			members = append(members, v)
		}
	}
	return NewChain(members...)
}

// Then returns a new Chain with links appended, flattening as Add does.
func (c *Chain) Then(links ...Link) *Chain {
	return Add(append([]Link{c}, links...)...)
}

// Links returns the member links in execution order.
func (c *Chain) Links() []Link {
	return slices.Clone(c.links)
}

// Len returns the number of members.
func (c *Chain) Len() int {
	return len(c.links)
}

// Kind implements Link.
func (*Chain) Kind() Kind { return ChainKind }

// Params implements Link.
func (c *Chain) Params() Params {
	return Params{"links": c.Links()}
}

// Apply folds the table through every member in order.
func (c *Chain) Apply(ctx context.Context, t *Table) (result *Table, err error) {
	defer recoverFromPanic(&result, &err, ChainKind.String())
	if t == nil {
		t = New()
	}

	runID := uuid.NewString()
	c.metrics.Counter(ChainProcessedTotal).Inc()
	c.metrics.Gauge(ChainLinksTotal).Set(float64(len(c.links)))
	start := c.clock.Now()

	ctx, span := c.tracer.StartSpan(ctx, ChainApplySpan)
	span.SetTag(ChainTagRunID, runID)
	span.SetTag(ChainTagLinkCount, fmt.Sprintf("%d", len(c.links)))
	defer func() {
		c.metrics.Gauge(ChainDurationMs).Set(float64(c.clock.Since(start).Milliseconds()))
		if err == nil {
			span.SetTag(ChainTagSuccess, "true")
			c.metrics.Counter(ChainSuccessesTotal).Inc()
			c.metrics.Gauge(ChainRowsOutput).Set(float64(result.Len()))
		} else {
			span.SetTag(ChainTagSuccess, "false")
			span.SetTag(ChainTagError, err.Error())
			c.metrics.Counter(ChainFailuresTotal).Inc()
		}
		span.Finish()
	}()

	logger(ChainKind).Debug("starting sequential processing", "run", runID, "links", len(c.links), "rows", t.Len())

	result = t
	completed := 0
	for i, link := range c.links {
		linkCtx, linkSpan := c.tracer.StartSpan(ctx, ChainLinkSpan)
		linkSpan.SetTag(ChainTagLinkNumber, fmt.Sprintf("%d", i+1))
		linkSpan.SetTag(ChainTagLinkKind, link.Kind().String())

		linkStart := c.clock.Now()
		out, linkErr := link.Apply(linkCtx, result)
		linkDuration := c.clock.Since(linkStart)
		linkSpan.Finish()

		event := ChainEvent{
			RunID:      runID,
			LinkKind:   link.Kind().String(),
			LinkNumber: i + 1,
			TotalLinks: len(c.links),
			Success:    linkErr == nil,
			Error:      linkErr,
			Duration:   linkDuration,
			Timestamp:  c.clock.Now(),
		}
		if linkErr == nil {
			event.Rows = out.Len()
		}
		_ = c.hooks.Emit(ctx, ChainEventLinkComplete, event) //nolint:errcheck

		if linkErr != nil {
			return nil, wrapPath(linkErr, fmt.Sprintf("%s[%d]", ChainKind, i), c.clock.Now(), c.clock.Since(start))
		}
		completed++
		c.metrics.Gauge(ChainLinksCompleted).Set(float64(completed))
		result = out
	}

	_ = c.hooks.Emit(ctx, ChainEventAllComplete, ChainEvent{ //nolint:errcheck
		RunID:          runID,
		TotalLinks:     len(c.links),
		CompletedLinks: completed,
		Rows:           result.Len(),
		TotalDuration:  c.clock.Since(start),
		Success:        true,
		Timestamp:      c.clock.Now(),
	})
	logger(ChainKind).Debug("sequential processing done", "run", runID, "rows", result.Len())

	// An empty chain still honors copy-on-write.
	if len(c.links) == 0 {
		result = t.Copy()
	}
	return result, nil
}

// WithClock sets a custom clock for testing.
func (c *Chain) WithClock(clock clockz.Clock) *Chain {
	c.clock = clock
	return c
}

// Metrics returns the metrics registry for this chain.
func (c *Chain) Metrics() *metricz.Registry {
	return c.metrics
}

// Tracer returns the tracer for this chain.
func (c *Chain) Tracer() *tracez.Tracer {
	return c.tracer
}

// Close shuts down observability components and closes every member.
func (c *Chain) Close() error {
	c.closed.Do(func() {
		if c.tracer != nil {
			c.tracer.Close()
		}
		c.hooks.Close()
		c.err = closeLinks(c.links...)
	})
	return c.err
}

// OnLinkComplete registers a handler called asynchronously as each member finishes.
func (c *Chain) OnLinkComplete(handler func(context.Context, ChainEvent) error) error {
	_, err := c.hooks.Hook(ChainEventLinkComplete, handler)
	return err
}

// OnAllComplete registers a handler called asynchronously when every member succeeded.
func (c *Chain) OnAllComplete(handler func(context.Context, ChainEvent) error) error {
	_, err := c.hooks.Hook(ChainEventAllComplete, handler)
	return err
}
