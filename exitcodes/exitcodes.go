// Package exitcodes defines the standard exit codes used by op-steplog.
package exitcodes

// Exit code constants used by op-steplog
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when the command succeeded and no test failed
// * TestFailure (1): Used when the report holds failed or broken tests
// * RuntimeErr (2): Used for runtime errors such as unreadable reports or bad config
const (
	Success     = 0 // Command succeeded
	TestFailure = 1 // Test failures
	RuntimeErr  = 2 // Runtime errors
)
