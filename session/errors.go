package session

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// AssertionError marks a failed check in test logic. Tests failing with it
// are FAILED, any other error makes them BROKEN.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string {
	return e.Msg
}

func (e *AssertionError) Assertion() bool {
	return true
}

// Assertf builds an AssertionError
func Assertf(format string, args ...any) error {
	return &AssertionError{Msg: fmt.Sprintf(format, args...)}
}

// IsAssertion reports whether err is, or wraps, an error that reports itself
// as an assertion
func IsAssertion(err error) bool {
	var a interface{ Assertion() bool }
	return errors.As(err, &a) && a.Assertion()
}

// ErrStepAborted ends a step whose body stopped without returning, as
// t.FailNow does
var ErrStepAborted = &AssertionError{Msg: "step aborted"}

// PanicError carries a recovered panic value and the stack it was raised on
type PanicError struct {
	Value any
	Stack string
}

func NewPanicError(v any, stack []byte) *PanicError {
	return &PanicError{Value: v, Stack: string(stack)}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Trace() string {
	return e.Stack
}

func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TracedError attaches the stack of the caller to err
type TracedError struct {
	Err   error
	Stack string
}

// WithTrace wraps err with the current goroutine stack
func WithTrace(err error) error {
	if err == nil {
		return nil
	}
	return &TracedError{Err: err, Stack: string(debug.Stack())}
}

func (e *TracedError) Error() string { return e.Err.Error() }
func (e *TracedError) Unwrap() error { return e.Err }
func (e *TracedError) Trace() string { return e.Stack }

// WarningError finalizes a step as warning instead of failed
type WarningError struct {
	Err error
}

// Warn wraps err so the step it ends is reported as a warning
func Warn(err error) error {
	if err == nil {
		return nil
	}
	return &WarningError{Err: err}
}

func (e *WarningError) Error() string { return e.Err.Error() }
func (e *WarningError) Unwrap() error { return e.Err }
func (e *WarningError) Warning() bool { return true }

// SkipError finalizes a step as skipped
type SkipError struct {
	Reason string
}

func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }
func (e *SkipError) Skipped() bool { return true }
