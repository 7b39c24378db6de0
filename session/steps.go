package session

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/ethereum-optimism/infra/op-steplog/metrics"
	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// Scope is an open step. End must be called exactly once on every path;
// Do takes care of that for a function body.
type Scope struct {
	s       *Session
	step    *types.Step
	release func(error)
	done    bool
}

// Step opens a step below the current one
func (s *Session) Step(title, expected string) *Scope {
	s.mu.Lock()
	step := s.tracker.Enter(title, expected)
	s.mu.Unlock()
	return &Scope{
		s:       s,
		step:    step,
		release: s.listeners.OnStep(title, expected),
	}
}

// Run opens a step, runs fn in it and closes it
func (s *Session) Run(title string, fn func() error) error {
	return s.Step(title, "").Do(fn)
}

// Entry returns the recorded step
func (sc *Scope) Entry() *types.Step {
	return sc.step
}

// End closes the step with err. Calls after the first one are ignored.
func (sc *Scope) End(err error) {
	if sc.done {
		return
	}
	sc.done = true
	s := sc.s
	s.mu.Lock()
	s.tracker.Exit(sc.step, err, s.captureStepError)
	status := sc.step.Status
	s.mu.Unlock()
	metrics.RecordStep(status)
	sc.release(err)
}

// Do runs fn inside the step and ends it with fn's result. A panic ends the
// step as failed and is re-raised. A body that exits the goroutine, as
// t.FailNow does, ends it with ErrStepAborted.
func (sc *Scope) Do(fn func() error) (err error) {
	completed := false
	defer func() {
		if r := recover(); r != nil {
			sc.End(NewPanicError(r, debug.Stack()))
			panic(r)
		}
		if !completed {
			sc.End(ErrStepAborted)
			return
		}
		sc.End(err)
	}()
	err = fn()
	completed = true
	return err
}

// captureStepError attaches error screenshots to step. It runs with s.mu
// held, from inside the tracker.
func (s *Session) captureStepError(step *types.Step) {
	if s.browser == nil {
		return
	}
	images, err := s.capture()
	if err != nil {
		s.log.Warn("Unable to make step error screenshot", "step", step.Title, "err", err)
		return
	}
	name := fmt.Sprintf("err_scr_%s.png", strings.ToLower(step.Title))
	for _, img := range images {
		a, err := s.store.WriteAttachment(img, name)
		if err != nil {
			s.log.Warn("Unable to save step error screenshot", "step", step.Title, "err", err)
			continue
		}
		metrics.RecordScreenshot()
		step.AddAttachment(a)
	}
}
