package session

import (
	"strings"
	"time"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

const (
	xfailDefaultReason = "test failed as expected"
	xpassDefaultReason = "test passed, but was marked xfail"
)

// PhaseReport is what the runner reports after one stage of a test
type PhaseReport struct {
	Stage    types.Stage
	Outcome  types.Outcome
	Duration time.Duration
	// Err is the error the stage ended with, nil on success
	Err error
	// Stacktrace is the runner's long failure representation
	Stacktrace string
	// XFail is set when the test is marked as expected to fail
	XFail       bool
	XFailReason string

	// Captured output, applied after teardown
	Stdout string
	Stderr string
	Log    string
}

func (r PhaseReport) wasXFail() bool {
	return r.XFail || strings.Contains(r.Stacktrace, "XPASS")
}

func (r PhaseReport) xpassed() bool {
	return strings.Contains(r.Stacktrace, "XPASS") || (r.XFail && r.Outcome == types.OutcomePassed)
}

// DeriveStatus reduces a phase report to a final test status:
//  1. an expected failure that passed is FAILED
//  2. an expected failure that failed is xfailStatus
//  3. a failure is FAILED for assertions and BROKEN for anything else
//  4. otherwise the outcome maps directly
func DeriveStatus(r PhaseReport, xfailStatus types.TestStatus) types.TestStatus {
	if r.wasXFail() {
		if r.xpassed() {
			return types.TestStatusFailed
		}
		if r.Outcome == types.OutcomeFailed || r.Outcome == types.OutcomeSkipped {
			if xfailStatus == "" {
				return types.TestStatusPassed
			}
			return xfailStatus
		}
		return types.OutcomeToStatus(r.Outcome)
	}
	if r.Outcome == types.OutcomeFailed && r.Err != nil {
		if IsAssertion(r.Err) {
			return types.TestStatusFailed
		}
		return types.TestStatusBroken
	}
	return types.OutcomeToStatus(r.Outcome)
}

// xfailMessage returns the error text recorded for an expected-failure test
func xfailMessage(r PhaseReport) string {
	if r.xpassed() {
		return "XPASS: " + orDefault(r.XFailReason, xpassDefaultReason)
	}
	msg := "XFAIL: " + orDefault(r.XFailReason, xfailDefaultReason)
	if r.Err != nil {
		msg += "\n\n" + r.Err.Error()
	}
	return msg
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
