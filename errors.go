package steplog

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-steplog/reporting"
	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// RuntimeError is a failure of op-steplog itself, such as a bad config or an
// unreadable report. It leads to exit code 2.
type RuntimeError struct {
	// Op names the command step that failed, e.g. "merge"
	Op  string
	Err error
}

func (e *RuntimeError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("runtime error: %v", e.Err)
	}
	return fmt.Sprintf("runtime error during %s: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func NewRuntimeError(op string, err error) *RuntimeError {
	return &RuntimeError{Op: op, Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports a run whose combined report holds failed or
// broken tests. It leads to exit code 1.
type TestFailureError struct {
	Status  types.TestStatus
	Results types.Counters
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure: run %s with %d failed and %d broken of %d tests",
		e.Status, e.Results.Failed, e.Results.Broken, e.Results.Total())
}

// CheckResults returns a TestFailureError when results hold failed or broken
// tests
func CheckResults(results types.Counters) error {
	status := reporting.OverallStatus(results)
	if status != types.TestStatusFailed && status != types.TestStatusBroken {
		return nil
	}
	return &TestFailureError{Status: status, Results: results}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}
