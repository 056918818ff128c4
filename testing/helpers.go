// Package testing provides test utilities and helpers for linkz-based applications.
//
// This package includes mock links, table builders, assertion helpers and
// chaos testing tools to make testing link pipelines easier.
//
// Example usage:
//
//	func TestMyChain(t *testing.T) {
//		mock := linkztesting.NewMockLink(t, "mock")
//		chain := linkz.Add(mock, links.DropColumns("tmp"))
//
//		in := linkztesting.TableOf([]string{"x", "tmp"}, []any{1.0, "a"})
//		out, err := chain.Apply(context.Background(), in)
//
//		require.NoError(t, err)
//		linkztesting.AssertColumns(t, out, "x")
//		linkztesting.AssertApplied(t, mock, 1)
//	}
package testing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	mathrand "math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zoobzio/linkz"
)

// MockLink provides a configurable mock implementation of linkz.Link.
// It tracks calls, allows configuring return values and delays, and provides
// assertion methods for testing pipeline behavior.
//
// By default a MockLink passes its input through unchanged.
type MockLink struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	t           *testing.T
	name        string
	callCount   int64
	lastInput   *linkz.Table
	returnVal   *linkz.Table
	returnErr   error
	fn          linkz.TableFunc
	delay       time.Duration
	panicMsg    string
	mu          sync.RWMutex
	callHistory []MockCall
	maxHistory  int
}

// MockCall represents a single call to the mock link.
type MockCall struct {
	Input     *linkz.Table
	Timestamp time.Time
	Context   context.Context
}

// NewMockLink creates a new mock link for testing. Its kind is mock.<name>.
func NewMockLink(t *testing.T, name string) *MockLink {
	return &MockLink{
		t:          t,
		name:       name,
		maxHistory: 100, // Keep last 100 calls by default
	}
}

// WithReturn configures the mock to return specific values.
func (m *MockLink) WithReturn(val *linkz.Table, err error) *MockLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.returnVal = val
	m.returnErr = err
	return m
}

// WithFunc configures the mock to compute its result with fn.
func (m *MockLink) WithFunc(fn linkz.TableFunc) *MockLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fn = fn
	return m
}

// WithDelay configures the mock to delay execution.
// This is useful for testing concurrent processing.
func (m *MockLink) WithDelay(d time.Duration) *MockLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithPanic configures the mock to panic with a specific message.
func (m *MockLink) WithPanic(msg string) *MockLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
	return m
}

// WithHistorySize configures how many calls to keep in history.
// Set to 0 to disable history tracking.
func (m *MockLink) WithHistorySize(size int) *MockLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxHistory = size
	if size == 0 {
		m.callHistory = nil
	} else if len(m.callHistory) > size {
		m.callHistory = m.callHistory[len(m.callHistory)-size:]
	}
	return m
}

// Kind implements linkz.Link.
func (m *MockLink) Kind() linkz.Kind {
	return linkz.Kind{Category: "mock", Class: m.name}
}

// Params implements linkz.Link.
func (*MockLink) Params() linkz.Params {
	return linkz.Params{}
}

// Apply implements linkz.Link. It records the call and returns the configured
// values, potentially after a delay or panic.
func (m *MockLink) Apply(ctx context.Context, t *linkz.Table) (*linkz.Table, error) {
	atomic.AddInt64(&m.callCount, 1)

	m.mu.Lock()
	m.lastInput = t
	if m.maxHistory > 0 {
		m.callHistory = append(m.callHistory, MockCall{
			Input:     t,
			Timestamp: time.Now(),
			Context:   ctx,
		})
		if len(m.callHistory) > m.maxHistory {
			m.callHistory = m.callHistory[1:] // Remove oldest
		}
	}
	delay := m.delay
	returnVal := m.returnVal
	returnErr := m.returnErr
	fn := m.fn
	panicMsg := m.panicMsg
	m.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	switch {
	case fn != nil:
		return fn(ctx, t.Copy())
	case returnErr != nil:
		return nil, returnErr
	case returnVal != nil:
		return returnVal.Copy(), nil
	default:
		return t.Copy(), nil
	}
}

// CallCount returns the number of times Apply has been called.
func (m *MockLink) CallCount() int {
	return int(atomic.LoadInt64(&m.callCount))
}

// LastInput returns the input from the most recent call.
func (m *MockLink) LastInput() *linkz.Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastInput
}

// CallHistory returns a copy of all recorded calls.
func (m *MockLink) CallHistory() []MockCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.maxHistory == 0 {
		return nil
	}
	return slices.Clone(m.callHistory)
}

// Reset clears all call tracking.
func (m *MockLink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	atomic.StoreInt64(&m.callCount, 0)
	m.lastInput = nil
	m.callHistory = nil
}

// Table Builders

// TableOf builds a table from column names and rows of values. It panics when
// a row's width differs from the number of columns.
func TableOf(columns []string, rows ...[]any) *linkz.Table {
	t := linkz.New(columns...)
	for _, r := range rows {
		t.MustAppend(r...)
	}
	return t
}

// Sequence builds a one-column table holding 0..n-1 as float64.
func Sequence(column string, n int) *linkz.Table {
	t := linkz.New(column)
	for i := 0; i < n; i++ {
		t.MustAppend(float64(i))
	}
	return t
}

// Assertion Helpers

// AssertApplied verifies that a mock link was called exactly n times.
func AssertApplied(t *testing.T, mock *MockLink, expectedCalls int) {
	t.Helper()
	actualCalls := mock.CallCount()
	if actualCalls != expectedCalls {
		t.Errorf("expected mock link %s to be called %d times, but was called %d times",
			mock.name, expectedCalls, actualCalls)
	}
}

// AssertNotApplied verifies that a mock link was never called.
func AssertNotApplied(t *testing.T, mock *MockLink) {
	t.Helper()
	AssertApplied(t, mock, 0)
}

// AssertTableEqual verifies that two tables have the same columns, labels and cells.
func AssertTableEqual(t *testing.T, expected, actual *linkz.Table) {
	t.Helper()
	if expected.Equal(actual) {
		return
	}
	t.Errorf("tables differ:\nexpected %s\nactual   %s", Dump(expected), Dump(actual))
}

// AssertColumns verifies the column names of a table, in order.
func AssertColumns(t *testing.T, tbl *linkz.Table, columns ...string) {
	t.Helper()
	if got := tbl.Columns(); !slices.Equal(got, columns) {
		t.Errorf("expected columns %v, got %v", columns, got)
	}
}

// AssertRowErrors verifies how many rows carry an error marker.
func AssertRowErrors(t *testing.T, tbl *linkz.Table, expected int) {
	t.Helper()
	if got := linkz.ErrorCount(tbl); got != expected {
		t.Errorf("expected %d rows with errors, got %d", expected, got)
	}
}

// Dump renders a table for failure messages.
func Dump(tbl *linkz.Table) string {
	if tbl == nil {
		return "<nil>"
	}
	s := fmt.Sprintf("%v", tbl.Columns())
	for i := 0; i < tbl.Len(); i++ {
		r := tbl.Row(i)
		values := make([]any, 0, len(r.Columns()))
		for _, c := range r.Columns() {
			v, _ := r.Get(c)
			values = append(values, v)
		}
		s += fmt.Sprintf(" %d:%v", r.Label, values)
	}
	return s
}

// ChaosLink introduces controlled failures and delays for chaos testing.
// It wraps another link and randomly introduces failures based on configured rates.
type ChaosLink struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	name        string
	wrapped     linkz.Link
	failureRate float64
	latencyMin  time.Duration
	latencyMax  time.Duration
	panicRate   float64
	rng         *mathrand.Rand
	mu          sync.Mutex
	totalCalls  int64
	failedCalls int64
	panicCalls  int64
}

// ChaosConfig holds configuration for chaos testing.
type ChaosConfig struct {
	FailureRate float64       // Probability of returning an error (0.0 to 1.0)
	LatencyMin  time.Duration // Minimum additional latency to inject
	LatencyMax  time.Duration // Maximum additional latency to inject
	PanicRate   float64       // Probability of panicking (0.0 to 1.0)
	Seed        int64         // Random seed for reproducible chaos (0 for random seed)
}

// ErrChaos is returned by a ChaosLink when it injects a failure.
var ErrChaos = errors.New("chaos link induced failure")

// NewChaosLink creates a chaos link that wraps another link.
func NewChaosLink(name string, wrapped linkz.Link, config ChaosConfig) *ChaosLink {
	seed := config.Seed
	if seed == 0 {
		var seedBytes [8]byte
		if _, err := rand.Read(seedBytes[:]); err != nil {
			seed = time.Now().UnixNano()
		} else {
			seed = int64(seedBytes[0])<<56 | int64(seedBytes[1])<<48 | int64(seedBytes[2])<<40 | int64(seedBytes[3])<<32 |
				int64(seedBytes[4])<<24 | int64(seedBytes[5])<<16 | int64(seedBytes[6])<<8 | int64(seedBytes[7])
		}
	}

	return &ChaosLink{
		name:        name,
		wrapped:     wrapped,
		failureRate: config.FailureRate,
		latencyMin:  config.LatencyMin,
		latencyMax:  config.LatencyMax,
		panicRate:   config.PanicRate,
		rng:         mathrand.New(mathrand.NewSource(seed)), //nolint:gosec // G404: Test utility uses weak RNG for deterministic chaos scenarios
	}
}

// Kind implements linkz.Link.
func (c *ChaosLink) Kind() linkz.Kind {
	return linkz.Kind{Category: "chaos", Class: c.name}
}

// Params implements linkz.Link.
func (c *ChaosLink) Params() linkz.Params {
	return linkz.Params{"link": c.wrapped}
}

// Apply implements linkz.Link with chaos injection.
func (c *ChaosLink) Apply(ctx context.Context, t *linkz.Table) (*linkz.Table, error) {
	atomic.AddInt64(&c.totalCalls, 1)

	c.mu.Lock()
	if c.rng.Float64() < c.panicRate {
		c.mu.Unlock()
		atomic.AddInt64(&c.panicCalls, 1)
		panic("chaos link induced panic")
	}

	var latency time.Duration
	if c.latencyMax > c.latencyMin {
		latency = c.latencyMin + time.Duration(c.rng.Int63n(int64(c.latencyMax-c.latencyMin)))
	} else if c.latencyMin > 0 {
		latency = c.latencyMin
	}
	injectFailure := c.rng.Float64() < c.failureRate
	c.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result, err := c.wrapped.Apply(ctx, t)
	if injectFailure && err == nil {
		atomic.AddInt64(&c.failedCalls, 1)
		return nil, ErrChaos
	}
	return result, err
}

// Stats returns statistics about chaos injection.
func (c *ChaosLink) Stats() ChaosStats {
	return ChaosStats{
		TotalCalls:  atomic.LoadInt64(&c.totalCalls),
		FailedCalls: atomic.LoadInt64(&c.failedCalls),
		PanicCalls:  atomic.LoadInt64(&c.panicCalls),
	}
}

// ChaosStats holds statistics about chaos injection.
type ChaosStats struct {
	TotalCalls  int64
	FailedCalls int64
	PanicCalls  int64
}

// FailureRate returns the actual failure rate observed.
func (s ChaosStats) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.FailedCalls) / float64(s.TotalCalls)
}

// String returns a human-readable representation of the stats.
func (s ChaosStats) String() string {
	return fmt.Sprintf("ChaosStats{Total: %d, Failed: %d (%.1f%%), Panics: %d}",
		s.TotalCalls, s.FailedCalls, s.FailureRate()*100, s.PanicCalls)
}

// Helper Functions

// WaitForCalls waits for a mock link to be called at least n times,
// with a timeout. Returns true if the expected calls were reached.
func WaitForCalls(mock *MockLink, expectedCalls int, timeout time.Duration) bool {
	start := time.Now()
	for time.Since(start) < timeout {
		if mock.CallCount() >= expectedCalls {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// ParallelTest runs a test function in parallel with multiple goroutines.
// Useful for checking that a link is safe to share.
func ParallelTest(t *testing.T, goroutines int, testFunc func(int)) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			testFunc(id)
		}(i)
	}
	wg.Wait()
}
