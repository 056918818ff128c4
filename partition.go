package linkz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Registry keys of the partition processors.
var (
	SerialPartitionKind   = Kind{Category: "hpc", Class: "SerialPartitionProcessor"}
	ParallelPartitionKind = Kind{Category: "hpc", Class: "ParallelPartitionProcessor"}
)

// Observability constants shared by both partition processors.
const (
	// Metrics.
	PartitionProcessedTotal  = metricz.Key("partition.processed.total")
	PartitionPartitionsTotal = metricz.Key("partition.partitions.total")
	PartitionFailuresTotal   = metricz.Key("partition.failures.total")
	PartitionWorkersMax      = metricz.Key("partition.workers.max")
	PartitionWorkersActive   = metricz.Key("partition.workers.active")
	PartitionDurationMs      = metricz.Key("partition.duration.ms")

	// Spans.
	PartitionApplySpan = tracez.Key("partition.apply")
	PartitionTaskSpan  = tracez.Key("partition.task")

	// Tags.
	PartitionTagRunID   = tracez.Tag("partition.run_id")
	PartitionTagCount   = tracez.Tag("partition.count")
	PartitionTagIndex   = tracez.Tag("partition.index")
	PartitionTagRows    = tracez.Tag("partition.rows")
	PartitionTagWorkers = tracez.Tag("partition.workers")
	PartitionTagSuccess = tracez.Tag("partition.success")
	PartitionTagError   = tracez.Tag("partition.error")

	// Hook event keys.
	PartitionEventComplete    = hookz.Key("partition.complete")
	PartitionEventAllComplete = hookz.Key("partition.all_complete")
)

// PartitionEvent is emitted via hookz as each partition finishes and once all
// partitions have finished.
type PartitionEvent struct {
	Timestamp        time.Time
	Error            error
	RunID            string
	LinkKind         string
	Index            int           // partition index, for complete
	Rows             int           // input rows of the partition
	Duration         time.Duration // partition duration
	TotalPartitions  int           // for all_complete
	FailedPartitions int           // for all_complete
	TotalDuration    time.Duration // for all_complete
	Success          bool
}

// Partitioning says how a table is split: into chunks of Size rows, or into
// Count chunks of near-equal size. Exactly one of the two must be set.
type Partitioning struct {
	Size  int
	Count int
}

// BySize splits into chunks of n rows; the last chunk may be shorter.
func BySize(n int) Partitioning { return Partitioning{Size: n} }

// ByCount splits into n chunks whose sizes differ by at most one row, larger
// chunks first.
func ByCount(n int) Partitioning { return Partitioning{Count: n} }

// Validate checks that exactly one positive setting is present.
func (p Partitioning) Validate() error {
	switch {
	case p.Size != 0 && p.Count != 0:
		return errors.New("set either partition_size or num_partitions, not both")
	case p.Size == 0 && p.Count == 0:
		return errors.New("set either partition_size or num_partitions")
	case p.Size < 0:
		return fmt.Errorf("partition_size must be positive, got %d", p.Size)
	case p.Count < 0:
		return fmt.Errorf("num_partitions must be positive, got %d", p.Count)
	}
	return nil
}

// Bounds returns the [start, end) row ranges of a table with n rows. Ranges
// are contiguous, in order, non-empty and cover every row.
func (p Partitioning) Bounds(n int) [][2]int {
	if n <= 0 {
		return nil
	}
	var bounds [][2]int
	if p.Size > 0 {
		for start := 0; start < n; start += p.Size {
			bounds = append(bounds, [2]int{start, min(start+p.Size, n)})
		}
		return bounds
	}
	k := min(p.Count, n)
	base, extra := n/k, n%k
	start := 0
	for i := 0; i < k; i++ {
		size := base
		if i < extra {
			size++
		}
		bounds = append(bounds, [2]int{start, start + size})
		start += size
	}
	return bounds
}

func (p Partitioning) params() Params {
	params := Params{"partition_size": nil, "num_partitions": nil}
	if p.Size > 0 {
		params["partition_size"] = p.Size
	}
	if p.Count > 0 {
		params["num_partitions"] = p.Count
	}
	return params
}

func partitioningFrom(params Params) Partitioning {
	var p Partitioning
	if n, ok := params.OptionalInt("partition_size"); ok {
		p.Size = n
	}
	if n, ok := params.OptionalInt("num_partitions"); ok {
		p.Count = n
	}
	return p
}

// partitionInstruments holds the observability shared by both processors.
type partitionInstruments struct {
	clock   clockz.Clock
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[PartitionEvent]
}

func newPartitionInstruments() partitionInstruments {
	metrics := metricz.New()
	metrics.Counter(PartitionProcessedTotal)
	metrics.Counter(PartitionPartitionsTotal)
	metrics.Counter(PartitionFailuresTotal)
	metrics.Gauge(PartitionWorkersMax)
	metrics.Gauge(PartitionWorkersActive)
	metrics.Gauge(PartitionDurationMs)
	return partitionInstruments{
		clock:   clockz.RealClock,
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[PartitionEvent](),
	}
}

// Metrics returns the metrics registry for this processor.
func (p *partitionInstruments) Metrics() *metricz.Registry {
	return p.metrics
}

// Tracer returns the tracer for this processor.
func (p *partitionInstruments) Tracer() *tracez.Tracer {
	return p.tracer
}

// Close shuts down observability components.
func (p *partitionInstruments) Close() error {
	if p.tracer != nil {
		p.tracer.Close()
	}
	p.hooks.Close()
	return nil
}

// OnPartitionComplete registers a handler called asynchronously as each partition finishes.
func (p *partitionInstruments) OnPartitionComplete(handler func(context.Context, PartitionEvent) error) error {
	_, err := p.hooks.Hook(PartitionEventComplete, handler)
	return err
}

// OnAllComplete registers a handler called asynchronously when every partition has finished.
func (p *partitionInstruments) OnAllComplete(handler func(context.Context, PartitionEvent) error) error {
	_, err := p.hooks.Hook(PartitionEventAllComplete, handler)
	return err
}

// start opens the parent span and returns a finisher recording the outcome.
func (p *partitionInstruments) start(ctx context.Context, runID string, partitions int) (context.Context, func(error)) {
	p.metrics.Counter(PartitionProcessedTotal).Inc()
	began := p.clock.Now()
	ctx, span := p.tracer.StartSpan(ctx, PartitionApplySpan)
	span.SetTag(PartitionTagRunID, runID)
	span.SetTag(PartitionTagCount, fmt.Sprintf("%d", partitions))
	return ctx, func(err error) {
		p.metrics.Gauge(PartitionDurationMs).Set(float64(p.clock.Since(began).Milliseconds()))
		if err == nil {
			span.SetTag(PartitionTagSuccess, "true")
		} else {
			span.SetTag(PartitionTagSuccess, "false")
			span.SetTag(PartitionTagError, err.Error())
		}
		span.Finish()
	}
}

// SerialPartition splits a table into row partitions and applies its link to
// each partition in turn, on the calling goroutine, then concatenates the
// results in partition order. Only one partition's intermediates are alive at
// a time.
//
// For a row-local link the result is identical to applying the link to the
// whole table. Links that look across rows, or drop rows, see only their own
// partition. A table with no rows is passed to the link as is.
//
// The first failing partition aborts the apply.
type SerialPartition struct {
	link     Link
	by       Partitioning
	closed   sync.Once
	closeErr error
	partitionInstruments
}

// NewSerialPartition creates a SerialPartition around link.
func NewSerialPartition(link Link, by Partitioning) (*SerialPartition, error) {
	if err := validatePartition(SerialPartitionKind, link, by); err != nil {
		return nil, err
	}
	return &SerialPartition{
		link:                 link,
		by:                   by,
		partitionInstruments: newPartitionInstruments(),
	}, nil
}

func validatePartition(kind Kind, link Link, by Partitioning) error {
	if link == nil {
		return &ConfigurationError{Class: kind.String(), Param: "link", Err: errors.New("link is required")}
	}
	if err := by.Validate(); err != nil {
		return &ConfigurationError{Class: kind.String(), Err: err}
	}
	return nil
}

// Kind implements Link.
func (*SerialPartition) Kind() Kind { return SerialPartitionKind }

// Close shuts down observability components and closes the wrapped link.
func (s *SerialPartition) Close() error {
	s.closed.Do(func() {
		s.closeErr = multierror.Append(s.partitionInstruments.Close(), closeLinks(s.link)).ErrorOrNil()
	})
	return s.closeErr
}

// Params implements Link.
func (s *SerialPartition) Params() Params {
	params := s.by.params()
	params["link"] = s.link
	return params
}

// Link returns the wrapped link.
func (s *SerialPartition) Link() Link { return s.link }

// Partitioning returns how tables are split.
func (s *SerialPartition) Partitioning() Partitioning { return s.by }

// WithClock sets a custom clock for testing.
func (s *SerialPartition) WithClock(clock clockz.Clock) *SerialPartition {
	s.clock = clock
	return s
}

// Apply implements Link.
func (s *SerialPartition) Apply(ctx context.Context, t *Table) (result *Table, err error) {
	name := SerialPartitionKind.String()
	defer recoverFromPanic(&result, &err, name)
	if t == nil {
		t = New()
	}
	bounds := s.by.Bounds(t.Len())
	if len(bounds) == 0 {
		out, err := s.link.Apply(ctx, t.Copy())
		if err != nil {
			return nil, wrapPath(err, name, s.clock.Now(), 0)
		}
		return out, nil
	}

	runID := uuid.NewString()
	ctx, finish := s.start(ctx, runID, len(bounds))
	defer func() { finish(err) }()
	s.metrics.Gauge(PartitionWorkersMax).Set(1)
	start := s.clock.Now()

	logger(SerialPartitionKind).Debug("processing partitions one by one", "run", runID, "partitions", len(bounds), "rows", t.Len())

	parts := make([]*Table, len(bounds))
	for i, b := range bounds {
		s.metrics.Counter(PartitionPartitionsTotal).Inc()
		taskCtx, span := s.tracer.StartSpan(ctx, PartitionTaskSpan)
		span.SetTag(PartitionTagIndex, fmt.Sprintf("%d", i))
		span.SetTag(PartitionTagRows, fmt.Sprintf("%d", b[1]-b[0]))

		partStart := s.clock.Now()
		out, partErr := s.link.Apply(taskCtx, t.Slice(b[0], b[1]))
		if partErr != nil {
			span.SetTag(PartitionTagError, partErr.Error())
		}
		span.Finish()

		_ = s.hooks.Emit(ctx, PartitionEventComplete, PartitionEvent{ //nolint:errcheck
			RunID:     runID,
			LinkKind:  s.link.Kind().String(),
			Index:     i,
			Rows:      b[1] - b[0],
			Success:   partErr == nil,
			Error:     partErr,
			Duration:  s.clock.Since(partStart),
			Timestamp: s.clock.Now(),
		})
		if partErr != nil {
			s.metrics.Counter(PartitionFailuresTotal).Inc()
			return nil, wrapPath(partErr, fmt.Sprintf("%s[%d]", name, i), s.clock.Now(), s.clock.Since(start))
		}
		parts[i] = out
	}

	_ = s.hooks.Emit(ctx, PartitionEventAllComplete, PartitionEvent{ //nolint:errcheck
		RunID:           runID,
		LinkKind:        s.link.Kind().String(),
		TotalPartitions: len(bounds),
		TotalDuration:   s.clock.Since(start),
		Success:         true,
		Timestamp:       s.clock.Now(),
	})
	logger(SerialPartitionKind).Debug("done processing partitions, joining", "run", runID)
	return Concat(parts...), nil
}
