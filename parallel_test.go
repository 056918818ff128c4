package linkz

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// scrambledRow scales x like scaleRow but sleeps longer for earlier rows, so
// partitions finish in roughly reverse order.
func scrambledRow(n int) *RowLink {
	return NewRowLink(scaleKind, Params{"factor": 2.0, "in_column": "x", "out_column": "y"}, func(_ context.Context, r Row) (Row, error) {
		time.Sleep(time.Duration(n-int(r.Label)) * time.Millisecond)
		x, err := r.Float("x")
		if err != nil {
			return r, err
		}
		r.Set("y", 2*x)
		return r, nil
	}, "x")
}

func TestParallelPartition(t *testing.T) {
	ctx := context.Background()

	t.Run("Matches Whole Table", func(t *testing.T) {
		for name, in := range partitionInputs() {
			whole := scrambledRow(in.Len())
			want, err := whole.Apply(ctx, in)
			whole.Close()
			if err != nil {
				t.Fatal(err)
			}
			for _, by := range partitionSchemes(in.Len()) {
				// Close cascades, so every processor gets its own link.
				p, err := NewParallelPartition(scrambledRow(in.Len()), by, ParallelOptions{Workers: 4})
				if err != nil {
					t.Fatal(err)
				}
				got, err := p.Apply(ctx, in)
				if err != nil {
					t.Fatalf("%s %+v: %v", name, by, err)
				}
				if !got.Equal(want) {
					t.Errorf("%s %+v:\nwant %s\ngot  %s", name, by, dump(want), dump(got))
				}
				p.Close()
			}
		}
	})

	t.Run("Matches Serial", func(t *testing.T) {
		in := numbers(1.0, "x", 3.0, 4.0, nil, 6.0, 7.0, 8.0)
		serial, err := NewSerialPartition(scaleRow(3, "x", "y"), ByCount(3))
		if err != nil {
			t.Fatal(err)
		}
		parallel, err := NewParallelPartition(scaleRow(3, "x", "y"), ByCount(3), ParallelOptions{Workers: 3})
		if err != nil {
			t.Fatal(err)
		}
		want, err := serial.Apply(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		got, err := parallel.Apply(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(want) {
			t.Errorf("want %s\ngot  %s", dump(want), dump(got))
		}
	})

	t.Run("Failures Aggregated", func(t *testing.T) {
		failOdd := NewUnit(failKind, nil, func(_ context.Context, tbl *Table) (*Table, error) {
			if tbl.Labels()[0]%2 == 1 {
				return nil, errFail
			}
			return tbl, nil
		})
		p, err := NewParallelPartition(failOdd, ByCount(4), ParallelOptions{Workers: 2})
		if err != nil {
			t.Fatal(err)
		}
		defer p.Close()

		out, err := p.Apply(ctx, numbers(1.0, 2.0, 3.0, 4.0))
		if out != nil {
			t.Error("expected nil table on failure")
		}
		var workerErr *PartitionWorkerError
		if !errors.As(err, &workerErr) {
			t.Fatalf("expected PartitionWorkerError, got %v", err)
		}
		if !slices.Equal(workerErr.Partitions, []int{1, 3}) {
			t.Errorf("expected partitions [1 3], got %v", workerErr.Partitions)
		}
		if !errors.Is(err, errFail) {
			t.Errorf("expected errFail in chain, got %v", err)
		}
		var linkErr *Error
		if !errors.As(err, &linkErr) || linkErr.Path[0] != "hpc.ParallelPartitionProcessor" {
			t.Errorf("unexpected error path %v", err)
		}
		if v := p.Metrics().Counter(PartitionFailuresTotal).Value(); v != 2 {
			t.Errorf("expected 2 failures, got %f", v)
		}
	})

	t.Run("Failure Does Not Cancel Siblings", func(t *testing.T) {
		var calls int64
		failFirst := NewUnit(failKind, nil, func(_ context.Context, tbl *Table) (*Table, error) {
			atomic.AddInt64(&calls, 1)
			if tbl.Labels()[0] == 0 {
				return nil, errFail
			}
			time.Sleep(10 * time.Millisecond)
			return tbl, nil
		})
		p, err := NewParallelPartition(failFirst, BySize(1), ParallelOptions{Workers: 1})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := p.Apply(ctx, numbers(1.0, 2.0, 3.0)); err == nil {
			t.Fatal("expected error")
		}
		if n := atomic.LoadInt64(&calls); n != 3 {
			t.Errorf("expected every partition to run, got %d", n)
		}
	})

	t.Run("Panic Contained To Partition", func(t *testing.T) {
		boom := NewUnit(failKind, nil, func(context.Context, *Table) (*Table, error) {
			panic("worker exploded")
		})
		p, err := NewParallelPartition(boom, BySize(1), ParallelOptions{Workers: 2})
		if err != nil {
			t.Fatal(err)
		}
		_, err = p.Apply(ctx, numbers(1.0, 2.0))
		var linkErr *Error
		if !errors.As(err, &linkErr) {
			t.Errorf("expected *Error, got %v", err)
		}
	})

	t.Run("Worker Bound", func(t *testing.T) {
		var active, peak int64
		track := NewUnit(appendKind, nil, func(_ context.Context, tbl *Table) (*Table, error) {
			n := atomic.AddInt64(&active, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			atomic.AddInt64(&active, -1)
			return tbl, nil
		})
		p, err := NewParallelPartition(track, BySize(1), ParallelOptions{Workers: 2})
		if err != nil {
			t.Fatal(err)
		}
		defer p.Close()

		if _, err := p.Apply(ctx, numbers(1.0, 2.0, 3.0, 4.0, 5.0, 6.0)); err != nil {
			t.Fatal(err)
		}
		if peak > 2 {
			t.Errorf("expected at most 2 concurrent partitions, got %d", peak)
		}
		if v := p.Metrics().Gauge(PartitionWorkersMax).Value(); v != 2 {
			t.Errorf("expected workers.max 2, got %f", v)
		}
		if v := p.Metrics().Gauge(PartitionWorkersActive).Value(); v != 0 {
			t.Errorf("expected no active workers after apply, got %f", v)
		}
	})

	t.Run("Default Workers", func(t *testing.T) {
		p, err := NewParallelPartition(nullUnit(), BySize(1), ParallelOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if p.Workers() < 1 {
			t.Errorf("expected at least one worker, got %d", p.Workers())
		}
		if p.Params()["workers"] != 0 {
			t.Errorf("expected configured workers in params, got %v", p.Params()["workers"])
		}
		if p.Workers() != runtime.NumCPU() {
			t.Errorf("expected %d workers, got %d", runtime.NumCPU(), p.Workers())
		}
		if _, err := p.Apply(ctx, numbers(1.0, 2.0)); err != nil {
			t.Fatal(err)
		}
		if v := p.Metrics().Gauge(PartitionWorkersMax).Value(); v != float64(runtime.NumCPU()) {
			t.Errorf("expected workers.max %d after apply, got %f", runtime.NumCPU(), v)
		}
	})

	t.Run("Negative Workers", func(t *testing.T) {
		_, err := NewParallelPartition(nullUnit(), BySize(1), ParallelOptions{Workers: -1})
		var cfg *ConfigurationError
		if !errors.As(err, &cfg) || cfg.Param != "workers" {
			t.Errorf("expected ConfigurationError on workers, got %v", err)
		}
	})

	t.Run("Canceled Context", func(t *testing.T) {
		p, err := NewParallelPartition(nullUnit(), BySize(1), ParallelOptions{Workers: 1})
		if err != nil {
			t.Fatal(err)
		}
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = p.Apply(cctx, numbers(1.0, 2.0))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestParallelPartitionIsolate(t *testing.T) {
	ctx := context.Background()
	countKind := Kind{Category: "test", Class: "Counted"}

	t.Run("Rebuilds Link Per Partition", func(t *testing.T) {
		var built int64
		r := testRegistry(t)
		err := r.Register(Class{
			Kind: countKind,
			New: func(Params) (Link, error) {
				atomic.AddInt64(&built, 1)
				return NewUnit(countKind, nil, func(_ context.Context, tbl *Table) (*Table, error) {
					return tbl, nil
				}), nil
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		link, err := r.Construct(Tree{ClassKey: "test.Counted"})
		if err != nil {
			t.Fatal(err)
		}

		p, err := NewParallelPartition(link, BySize(1), ParallelOptions{Workers: 2, Isolate: true})
		if err != nil {
			t.Fatal(err)
		}
		p.WithRegistry(r)

		out, err := p.Apply(ctx, numbers(1.0, 2.0, 3.0, 4.0))
		if err != nil {
			t.Fatal(err)
		}
		if out.Len() != 4 {
			t.Errorf("expected 4 rows, got %d", out.Len())
		}
		// one build for the original link plus one per partition
		if n := atomic.LoadInt64(&built); n != 5 {
			t.Errorf("expected 5 builds, got %d", n)
		}
	})

	t.Run("Unregistered Class Fails", func(t *testing.T) {
		p, err := NewParallelPartition(nullUnit(), BySize(1), ParallelOptions{Workers: 1, Isolate: true})
		if err != nil {
			t.Fatal(err)
		}
		p.WithRegistry(testRegistry(t))

		_, err = p.Apply(ctx, numbers(1.0))
		var unknown *UnknownUnitError
		if !errors.As(err, &unknown) {
			t.Errorf("expected UnknownUnitError, got %v", err)
		}
	})

	t.Run("Matches Shared", func(t *testing.T) {
		r := testRegistry(t)
		in := numbers(1.0, "bad", 3.0, 4.0, 5.0)
		shared, err := NewParallelPartition(scaleRow(2, "x", "y"), ByCount(2), ParallelOptions{Workers: 2})
		if err != nil {
			t.Fatal(err)
		}
		isolated, err := NewParallelPartition(scaleRow(2, "x", "y"), ByCount(2), ParallelOptions{Workers: 2, Isolate: true})
		if err != nil {
			t.Fatal(err)
		}
		isolated.WithRegistry(r)

		want, err := shared.Apply(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		got, err := isolated.Apply(ctx, in)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(want) {
			t.Errorf("want %s\ngot  %s", dump(want), dump(got))
		}
	})
}

func TestParallelPartitionEvents(t *testing.T) {
	p, err := NewParallelPartition(nullUnit(), BySize(2), ParallelOptions{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	var mu sync.Mutex
	var indexes []int
	var all PartitionEvent
	if err := p.OnPartitionComplete(func(_ context.Context, e PartitionEvent) error {
		mu.Lock()
		indexes = append(indexes, e.Index)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if err := p.OnAllComplete(func(_ context.Context, e PartitionEvent) error {
		mu.Lock()
		all = e
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Apply(context.Background(), numbers(1.0, 2.0, 3.0, 4.0, 5.0)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	slices.Sort(indexes)
	if !slices.Equal(indexes, []int{0, 1, 2}) {
		t.Errorf("unexpected partition events %v", indexes)
	}
	if !all.Success || all.TotalPartitions != 3 || all.FailedPartitions != 0 {
		t.Errorf("unexpected all complete event %+v", all)
	}
}

func TestParallelPartitionNoLeaks(t *testing.T) {
	ignore := goleak.IgnoreCurrent()

	p, err := NewParallelPartition(scrambledRow(16), BySize(3), ParallelOptions{Workers: 3})
	if err != nil {
		t.Fatal(err)
	}
	in := numbers(1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0, 9.0, 10.0, 11.0, 12.0, 13.0, 14.0, 15.0, 16.0)
	if _, err := p.Apply(context.Background(), in); err != nil {
		t.Fatal(err)
	}

	failing, err := NewParallelPartition(failLink(), BySize(4), ParallelOptions{Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := failing.Apply(context.Background(), in); err == nil {
		t.Fatal("expected error")
	}

	p.Close()
	failing.Close()
	goleak.VerifyNone(t, ignore)
}

func TestParallelPartitionClose(t *testing.T) {
	ctx := context.Background()

	t.Run("Cascades To Link", func(t *testing.T) {
		var closes atomic.Int32
		p, err := NewParallelPartition(closeCounter{Link: nullUnit(), closes: &closes}, BySize(1), ParallelOptions{Workers: 1})
		if err != nil {
			t.Fatal(err)
		}
		if err := p.Close(); err != nil {
			t.Fatal(err)
		}
		if err := p.Close(); err != nil {
			t.Errorf("second close: %v", err)
		}
		if n := closes.Load(); n != 1 {
			t.Errorf("expected link closed once, got %d", n)
		}
	})

	t.Run("Rebuilt Links Closed", func(t *testing.T) {
		var closes atomic.Int32
		countKind := Kind{Category: "test", Class: "Closed"}
		r := testRegistry(t)
		err := r.Register(Class{
			Kind: countKind,
			New: func(Params) (Link, error) {
				return closeCounter{Link: NewUnit(countKind, nil, func(_ context.Context, tbl *Table) (*Table, error) {
					return tbl, nil
				}), closes: &closes}, nil
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		link, err := r.Construct(Tree{ClassKey: "test.Closed"})
		if err != nil {
			t.Fatal(err)
		}
		p, err := NewParallelPartition(link, BySize(1), ParallelOptions{Workers: 2, Isolate: true})
		if err != nil {
			t.Fatal(err)
		}
		p.WithRegistry(r)

		if _, err := p.Apply(ctx, numbers(1.0, 2.0, 3.0)); err != nil {
			t.Fatal(err)
		}
		if n := closes.Load(); n != 3 {
			t.Errorf("expected 3 rebuilt links closed, got %d", n)
		}
		p.Close()
		if n := closes.Load(); n != 4 {
			t.Errorf("expected original link closed with the processor, got %d closes", n)
		}
	})
}

func TestParallelPartitionIsolatedChainNoLeaks(t *testing.T) {
	ignore := goleak.IgnoreCurrent()
	ctx := context.Background()

	chain := NewChain(scaleRow(2, "x", "y"), scaleRow(3, "y", "z"), failLink())
	p, err := NewParallelPartition(chain, BySize(2), ParallelOptions{Workers: 2, Isolate: true})
	if err != nil {
		t.Fatal(err)
	}
	p.WithRegistry(testRegistry(t))

	in := numbers(1.0, 2.0, 3.0, 4.0, 5.0, 6.0)
	for i := 0; i < 3; i++ {
		_, err := p.Apply(ctx, in)
		var workerErr *PartitionWorkerError
		if !errors.As(err, &workerErr) {
			t.Fatalf("expected PartitionWorkerError, got %v", err)
		}
		if !slices.Equal(workerErr.Partitions, []int{0, 1, 2}) {
			t.Errorf("unexpected failed partitions %v", workerErr.Partitions)
		}
		var linkErr *Error
		if !errors.As(err, &linkErr) || !slices.Equal(linkErr.Path, []string{"hpc.ParallelPartitionProcessor"}) {
			t.Errorf("expected processor path, got %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	goleak.VerifyNone(t, ignore)
}
