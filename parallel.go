package linkz

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/zoobzio/clockz"
	"golang.org/x/sync/semaphore"
)

// ParallelOptions configures a ParallelPartition.
type ParallelOptions struct {
	// Workers bounds how many partitions run at once. Zero means
	// runtime.NumCPU, read on every Apply.
	Workers int
	// Isolate rebuilds the wrapped link from its configuration tree for every
	// partition, so workers share no link instance. The link's class must be
	// registered in the processor's registry. Rebuilt links are closed once
	// their partition is done.
	Isolate bool
}

// ParallelPartition splits a table into row partitions and applies its link
// to the partitions concurrently on a bounded pool of goroutines. It blocks
// until every partition has finished and then concatenates the results in
// partition order, so row order never depends on which worker finished first.
//
// A failing partition does not stop the others. Once all have finished the
// failures are returned together as a PartitionWorkerError. A RowLink never
// fails for a bad row, so errors marked in rows flow through as data.
//
// The wrapped link is shared by all workers unless Isolate is set; built-in
// links hold no per-call state and are safe to share. Close closes the
// wrapped link as well.
//
// # Observability
//
// Metrics:
//   - partition.processed.total: Counter of Apply calls
//   - partition.partitions.total: Counter of partitions processed
//   - partition.failures.total: Counter of failed partitions
//   - partition.workers.max: Gauge of the worker bound
//   - partition.workers.active: Gauge of partitions currently running
//   - partition.duration.ms: Gauge of the last call's duration
//
// Traces:
//   - partition.apply: Parent span for the whole call
//   - partition.task: Child span per partition
//
// Events (via hooks):
//   - partition.complete: Fired as each partition finishes
//   - partition.all_complete: Fired when every partition has finished
type ParallelPartition struct {
	link     Link
	registry *Registry
	by       Partitioning
	opts     ParallelOptions
	closed   sync.Once
	closeErr error
	partitionInstruments
}

// NewParallelPartition creates a ParallelPartition around link.
func NewParallelPartition(link Link, by Partitioning, opts ParallelOptions) (*ParallelPartition, error) {
	if err := validatePartition(ParallelPartitionKind, link, by); err != nil {
		return nil, err
	}
	if opts.Workers < 0 {
		return nil, &ConfigurationError{
			Class: ParallelPartitionKind.String(),
			Param: "workers",
			Err:   fmt.Errorf("must not be negative, got %d", opts.Workers),
		}
	}
	return &ParallelPartition{
		link:                 link,
		by:                   by,
		opts:                 opts,
		partitionInstruments: newPartitionInstruments(),
	}, nil
}

// Kind implements Link.
func (*ParallelPartition) Kind() Kind { return ParallelPartitionKind }

// Params implements Link.
func (p *ParallelPartition) Params() Params {
	params := p.by.params()
	params["link"] = p.link
	params["workers"] = p.opts.Workers
	params["isolate"] = p.opts.Isolate
	return params
}

// Link returns the wrapped link.
func (p *ParallelPartition) Link() Link { return p.link }

// Workers returns the worker bound an Apply started now would use.
func (p *ParallelPartition) Workers() int {
	if p.opts.Workers == 0 {
		return runtime.NumCPU()
	}
	return p.opts.Workers
}

// Close shuts down observability components and closes the wrapped link.
func (p *ParallelPartition) Close() error {
	p.closed.Do(func() {
		p.closeErr = multierror.Append(p.partitionInstruments.Close(), closeLinks(p.link)).ErrorOrNil()
	})
	return p.closeErr
}

// WithClock sets a custom clock for testing.
func (p *ParallelPartition) WithClock(clock clockz.Clock) *ParallelPartition {
	p.clock = clock
	return p
}

// WithRegistry sets the registry used to rebuild links when Isolate is set.
// The process-wide registry is used otherwise.
func (p *ParallelPartition) WithRegistry(r *Registry) *ParallelPartition {
	p.registry = r
	return p
}

// Apply implements Link.
func (p *ParallelPartition) Apply(ctx context.Context, t *Table) (result *Table, err error) {
	name := ParallelPartitionKind.String()
	defer recoverFromPanic(&result, &err, name)
	if t == nil {
		t = New()
	}
	bounds := p.by.Bounds(t.Len())
	if len(bounds) == 0 {
		out, err := p.link.Apply(ctx, t.Copy())
		if err != nil {
			return nil, wrapPath(err, name, p.clock.Now(), 0)
		}
		return out, nil
	}

	runID := uuid.NewString()
	ctx, finish := p.start(ctx, runID, len(bounds))
	defer func() { finish(err) }()
	start := p.clock.Now()
	workers := p.Workers()
	sem := semaphore.NewWeighted(int64(workers))
	p.metrics.Gauge(PartitionWorkersMax).Set(float64(workers))

	logger(ParallelPartitionKind).Debug("processing partitions in parallel",
		"run", runID, "partitions", len(bounds), "workers", workers, "isolate", p.opts.Isolate)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		active int
	)
	parts := make([]*Table, len(bounds))
	errs := make([]error, len(bounds))

	for i, b := range bounds {
		wg.Add(1)
		p.metrics.Counter(PartitionPartitionsTotal).Inc()
		part := t.Slice(b[0], b[1])

		go func(i int, part *Table) {
			defer wg.Done()

			taskCtx, span := p.tracer.StartSpan(ctx, PartitionTaskSpan)
			span.SetTag(PartitionTagIndex, fmt.Sprintf("%d", i))
			span.SetTag(PartitionTagRows, fmt.Sprintf("%d", part.Len()))
			span.SetTag(PartitionTagWorkers, fmt.Sprintf("%d", workers))
			defer span.Finish()

			taskStart := p.clock.Now()
			out, taskErr := p.runPartition(taskCtx, sem, part, func(delta int) {
				mu.Lock()
				active += delta
				p.metrics.Gauge(PartitionWorkersActive).Set(float64(active))
				mu.Unlock()
			})
			if taskErr != nil {
				span.SetTag(PartitionTagError, taskErr.Error())
				p.metrics.Counter(PartitionFailuresTotal).Inc()
			}
			parts[i], errs[i] = out, taskErr

			_ = p.hooks.Emit(ctx, PartitionEventComplete, PartitionEvent{ //nolint:errcheck
				RunID:     runID,
				LinkKind:  p.link.Kind().String(),
				Index:     i,
				Rows:      part.Len(),
				Success:   taskErr == nil,
				Error:     taskErr,
				Duration:  p.clock.Since(taskStart),
				Timestamp: p.clock.Now(),
			})
		}(i, part)
	}
	wg.Wait()

	var (
		merr   *multierror.Error
		failed []int
	)
	for i, e := range errs {
		if e != nil {
			merr = multierror.Append(merr, fmt.Errorf("partition %d: %w", i, e))
			failed = append(failed, i)
		}
	}

	_ = p.hooks.Emit(ctx, PartitionEventAllComplete, PartitionEvent{ //nolint:errcheck
		RunID:            runID,
		LinkKind:         p.link.Kind().String(),
		TotalPartitions:  len(bounds),
		FailedPartitions: len(failed),
		TotalDuration:    p.clock.Since(start),
		Success:          len(failed) == 0,
		Timestamp:        p.clock.Now(),
	})

	if len(failed) > 0 {
		return nil, wrapPath(&PartitionWorkerError{
			Link:       p.link.Kind().String(),
			Partitions: failed,
			Err:        merr.ErrorOrNil(),
		}, name, p.clock.Now(), p.clock.Since(start))
	}
	logger(ParallelPartitionKind).Debug("joining processed partitions", "run", runID)
	return Concat(parts...), nil
}

// runPartition acquires a worker slot and applies the link to one partition.
func (p *ParallelPartition) runPartition(ctx context.Context, sem *semaphore.Weighted, part *Table, track func(int)) (out *Table, err error) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	track(1)
	defer func() {
		track(-1)
		sem.Release(1)
	}()
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	link := p.link
	if p.opts.Isolate {
		registry := p.registry
		if registry == nil {
			registry = Default()
		}
		if link, err = registry.Construct(Describe(p.link)); err != nil {
			return nil, err
		}
		defer func() {
			if cerr := closeLinks(link); cerr != nil {
				logger(ParallelPartitionKind).Warn("closing rebuilt link", "error", cerr)
			}
		}()
	}
	return link.Apply(ctx, part)
}
