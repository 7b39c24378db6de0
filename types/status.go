package types

// StepStatus represents the final state of a recorded step
type StepStatus string

const (
	StepStatusPassed  StepStatus = "passed"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
	StepStatusWarning StepStatus = "warning"
	StepStatusNone    StepStatus = "none"
)

// TestStatus represents the possible states of a finished test
type TestStatus string

const (
	TestStatusPassed  TestStatus = "PASSED"
	TestStatusFailed  TestStatus = "FAILED"
	TestStatusSkipped TestStatus = "SKIPPED"
	// TestStatusBroken marks a test that failed with a non-assertion error,
	// separating infrastructure problems from failed checks.
	TestStatusBroken TestStatus = "BROKEN"
	TestStatusNone   TestStatus = "NONE"
)

// IsValid reports whether s is one of the known test statuses
func (s TestStatus) IsValid() bool {
	switch s {
	case TestStatusPassed, TestStatusFailed, TestStatusSkipped, TestStatusBroken, TestStatusNone:
		return true
	}
	return false
}

// Outcome is the raw result a test runner reports for a single phase
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// OutcomeToStatus maps a runner outcome directly onto a test status
func OutcomeToStatus(o Outcome) TestStatus {
	switch o {
	case OutcomePassed:
		return TestStatusPassed
	case OutcomeFailed:
		return TestStatusFailed
	case OutcomeSkipped:
		return TestStatusSkipped
	}
	return TestStatusNone
}

// Stage is one of the three phases of a single test's execution
type Stage string

const (
	StageSetup    Stage = "setup"
	StageCall     Stage = "call"
	StageTeardown Stage = "teardown"
)

// IsValid reports whether s names a known stage
func (s Stage) IsValid() bool {
	return s == StageSetup || s == StageCall || s == StageTeardown
}
