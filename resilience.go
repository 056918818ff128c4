package linkz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/metricz"
)

// Kinds of the resilience wrappers.
var (
	TimeoutKind  = Kind{Category: "base", Class: "Timeout"}
	RetryKind    = Kind{Category: "base", Class: "Retry"}
	FallbackKind = Kind{Category: "base", Class: "Fallback"}
)

// Observability constants for Retry.
const (
	RetryAttemptsTotal  = metricz.Key("retry.attempts.total")
	RetrySuccessesTotal = metricz.Key("retry.successes.total")
	RetryExhaustedTotal = metricz.Key("retry.exhausted.total")
)

// ErrTimeout is matched by errors.Is when a Timeout's deadline passed.
var ErrTimeout = errors.New("deadline exceeded")

// Timeout bounds the wall time of a wrapped link. The wrapped link sees a
// context with the deadline and should return once it is done; a link that
// ignores its context keeps running in the background and its result is
// discarded.
//
// Timeout is often combined with Retry around links that touch files:
//
//	linkz.NewRetry(linkz.NewTimeout(from, 5*time.Second), 3, time.Second)
type Timeout struct {
	link     Link
	duration time.Duration
}

// NewTimeout wraps link with a deadline of d.
func NewTimeout(link Link, d time.Duration) *Timeout {
	return &Timeout{link: link, duration: d}
}

// Kind implements Link.
func (*Timeout) Kind() Kind { return TimeoutKind }

// Params implements Link.
func (t *Timeout) Params() Params {
	return Params{"link": t.link, "seconds": t.duration.Seconds()}
}

// Close closes the wrapped link.
func (t *Timeout) Close() error { return closeLinks(t.link) }

// Duration returns the deadline.
func (t *Timeout) Duration() time.Duration { return t.duration }

// Apply implements Link.
func (t *Timeout) Apply(ctx context.Context, in *Table) (*Table, error) {
	ctx, cancel := context.WithTimeout(ctx, t.duration)
	defer cancel()

	type outcome struct {
		table *Table
		err   error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		var o outcome
		defer func() { done <- o }()
		defer recoverFromPanic(&o.table, &o.err, t.link.Kind().String())
		o.table, o.err = t.link.Apply(ctx, in)
	}()

	select {
	case o := <-done:
		if o.err == nil {
			return o.table, nil
		}
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, wrapPath(o.err, TimeoutKind.String(), time.Now(), time.Since(start))
		}
	case <-ctx.Done():
	}

	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %v", ErrTimeout, t.duration)
	}
	return nil, &Error{
		Path:      []string{TimeoutKind.String(), t.link.Kind().String()},
		Err:       err,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}
}

// Retry reapplies a failing link up to a fixed number of attempts. Links
// never modify their input, so every attempt sees the same table. With a
// non-zero backoff the wait doubles after every failed attempt.
//
// Row failures are contained by RowLinks and do not count as failures here;
// Retry is for whole-link failures such as unreadable files.
type Retry struct {
	clock    clockz.Clock
	metrics  *metricz.Registry
	link     Link
	attempts int
	backoff  time.Duration
}

// NewRetry wraps link. Attempts below one are raised to one.
func NewRetry(link Link, attempts int, backoff time.Duration) *Retry {
	if attempts < 1 {
		attempts = 1
	}
	metrics := metricz.New()
	metrics.Counter(RetryAttemptsTotal)
	metrics.Counter(RetrySuccessesTotal)
	metrics.Counter(RetryExhaustedTotal)
	return &Retry{
		link:     link,
		attempts: attempts,
		backoff:  backoff,
		clock:    clockz.RealClock,
		metrics:  metrics,
	}
}

// Kind implements Link.
func (*Retry) Kind() Kind { return RetryKind }

// Params implements Link.
func (r *Retry) Params() Params {
	return Params{"link": r.link, "attempts": r.attempts, "backoff": r.backoff.Seconds()}
}

// Close closes the wrapped link.
func (r *Retry) Close() error { return closeLinks(r.link) }

// Attempts returns the attempt bound.
func (r *Retry) Attempts() int { return r.attempts }

// Apply implements Link.
func (r *Retry) Apply(ctx context.Context, in *Table) (result *Table, err error) {
	defer recoverFromPanic(&result, &err, RetryKind.String())
	start := r.clock.Now()
	delay := r.backoff

	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		r.metrics.Counter(RetryAttemptsTotal).Inc()
		out, err := r.link.Apply(ctx, in)
		if err == nil {
			r.metrics.Counter(RetrySuccessesTotal).Inc()
			return out, nil
		}
		lastErr = err
		logger(RetryKind).Warn("attempt failed", "attempt", attempt, "of", r.attempts, "error", err)

		if ctx.Err() != nil || attempt == r.attempts {
			break
		}
		if delay > 0 {
			select {
			case <-r.clock.After(delay):
				delay *= 2
			case <-ctx.Done():
				return nil, wrapPath(ctx.Err(), RetryKind.String(), r.clock.Now(), r.clock.Since(start))
			}
		}
	}

	r.metrics.Counter(RetryExhaustedTotal).Inc()
	return nil, wrapPath(lastErr, RetryKind.String(), r.clock.Now(), r.clock.Since(start))
}

// WithClock sets a custom clock for testing.
func (r *Retry) WithClock(clock clockz.Clock) *Retry {
	r.clock = clock
	return r
}

// Metrics returns the metrics registry for this retry.
func (r *Retry) Metrics() *metricz.Registry {
	return r.metrics
}

// Fallback tries its links in order on the same input and returns the
// first success. When every link fails the last error is returned.
type Fallback struct {
	links []Link
}

// NewFallback creates a Fallback of primary followed by backups. Nil links
// are skipped.
func NewFallback(primary Link, backups ...Link) *Fallback {
	f := &Fallback{}
	for _, l := range append([]Link{primary}, backups...) {
		if l != nil {
			f.links = append(f.links, l)
		}
	}
	return f
}

// Kind implements Link.
func (*Fallback) Kind() Kind { return FallbackKind }

// Params implements Link.
func (f *Fallback) Params() Params {
	return Params{"links": append([]Link{}, f.links...)}
}

// Close closes every alternative.
func (f *Fallback) Close() error { return closeLinks(f.links...) }

// Apply implements Link.
func (f *Fallback) Apply(ctx context.Context, in *Table) (result *Table, err error) {
	defer recoverFromPanic(&result, &err, FallbackKind.String())
	if in == nil {
		in = New()
	}
	if len(f.links) == 0 {
		return in.Copy(), nil
	}
	start := time.Now()
	var lastErr error
	for i, l := range f.links {
		out, err := l.Apply(ctx, in)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if i < len(f.links)-1 {
			logger(FallbackKind).Warn("link failed, trying next", "failed", l.Kind().String(), "next", f.links[i+1].Kind().String(), "error", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, wrapPath(lastErr, FallbackKind.String(), time.Now(), time.Since(start))
}

func durationFrom(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
