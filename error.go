package linkz

import (
	"fmt"
	"strings"
	"time"
)

// Error records where in a link tree a failure happened. Composite links
// prepend their own name to Path as the error travels up, so the final Path
// reads from the root link down to the failing one.
//
// Error wraps the underlying failure unmodified: errors.As still finds a
// StructuralInputError or MergeConflictError beneath it.
type Error struct {
	Timestamp time.Time
	Err       error
	Path      []string
	Duration  time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after %v: %v", strings.Join(e.Path, " -> "), e.Duration, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// wrapPath returns err with name prepended to its path. Only an *Error at the
// top of err is extended, and it is copied rather than modified; anything
// else, including errors that merely wrap an *Error, becomes the Err of a new
// Error.
func wrapPath(err error, name string, now time.Time, elapsed time.Duration) error {
	if linkErr, ok := err.(*Error); ok { //nolint:errorlint // only the outermost error carries the path
		return &Error{
			Path:      append([]string{name}, linkErr.Path...),
			Err:       linkErr.Err,
			Timestamp: linkErr.Timestamp,
			Duration:  linkErr.Duration,
		}
	}
	return &Error{
		Path:      []string{name},
		Err:       err,
		Timestamp: now,
		Duration:  elapsed,
	}
}

// ConfigurationError reports a malformed, missing or unrecognized parameter
// while building a link from a configuration tree.
type ConfigurationError struct {
	Err   error
	Class string
	Param string
}

func (e *ConfigurationError) Error() string {
	switch {
	case e.Class != "" && e.Param != "":
		return fmt.Sprintf("configure %s: parameter %q: %v", e.Class, e.Param, e.Err)
	case e.Class != "":
		return fmt.Sprintf("configure %s: %v", e.Class, e.Err)
	default:
		return fmt.Sprintf("configure: %v", e.Err)
	}
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// UnknownUnitError reports a configuration tree naming a class that is not registered.
type UnknownUnitError struct {
	Class string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown link class %q", e.Class)
}

// StructuralInputError reports required input columns absent from a table.
// It is never contained per row: the whole Apply fails.
type StructuralInputError struct {
	Link    string
	Missing []string
}

func (e *StructuralInputError) Error() string {
	return fmt.Sprintf("%s: table is missing required input columns %v", e.Link, e.Missing)
}

// RowComputationError is a failure computed for a single row inside a RowLink.
// Its message is what ends up in the row's ErrorColumn.
type RowComputationError struct {
	Err   error
	Link  string
	Label Label
}

func (e *RowComputationError) Error() string {
	return fmt.Sprintf("%s: row %d: %v", e.Link, e.Label, e.Err)
}

func (e *RowComputationError) Unwrap() error { return e.Err }

// MergeConflictError reports two Union branches that cannot be merged.
type MergeConflictError struct {
	Column string
	Reason string
	Label  Label
}

func (e *MergeConflictError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("merge conflict: %s", e.Reason)
	}
	return fmt.Sprintf("merge conflict on column %q at row %d: %s", e.Column, e.Label, e.Reason)
}

// PartitionWorkerError reports partitions that failed inside a ParallelPartition.
// Err aggregates every partition failure in partition order.
type PartitionWorkerError struct {
	Err        error
	Link       string
	Partitions []int
}

func (e *PartitionWorkerError) Error() string {
	return fmt.Sprintf("%s: %d partition(s) failed %v: %v", e.Link, len(e.Partitions), e.Partitions, e.Err)
}

func (e *PartitionWorkerError) Unwrap() error { return e.Err }

// recoverFromPanic turns a panic inside a link into an Error so one misbehaving
// link cannot take down the caller.
func recoverFromPanic(result **Table, err *error, name string) {
	if r := recover(); r != nil {
		*result = nil
		*err = &Error{
			Path:      []string{name},
			Err:       fmt.Errorf("panic: %v", r),
			Timestamp: time.Now(),
		}
	}
}
