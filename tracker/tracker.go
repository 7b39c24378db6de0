// Package tracker keeps the current-step pointer of the running test and
// records entered steps into a stage-partitioned step tree.
package tracker

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// CaptureFunc records diagnostics on the first failing step of a chain
type CaptureFunc func(step *types.Step)

type skipper interface{ Skipped() bool }

type warner interface{ Warning() bool }

type tracer interface{ Trace() string }

// Tracker is the step state machine of a single test. It is not safe for
// concurrent use; test execution within a worker is sequential.
type Tracker struct {
	log     log.Logger
	tree    *types.StepTree
	stage   types.Stage
	current *types.Step
	open    map[string]*types.Step
	failed  bool
}

func New(logger log.Logger) *Tracker {
	if logger == nil {
		logger = log.Root()
	}
	return &Tracker{
		log:   logger,
		tree:  types.NewStepTree(),
		stage: types.StageSetup,
		open:  make(map[string]*types.Step),
	}
}

// Enter opens a step below the current one, or as a root of the active stage
// when no step is open. The new step becomes current.
func (t *Tracker) Enter(title, expected string) *types.Step {
	step := types.NewStep(title, expected)
	if t.current != nil {
		t.current.AddChild(step)
	} else {
		// stage is validated by SetStage
		_ = t.tree.Append(t.stage, types.Child{Step: step})
	}
	t.open[step.ID] = step
	t.current = step
	return step
}

// Exit closes step. A nil err marks it passed, errors reporting Skipped or
// Warning finalize it as skipped or warning. The first failure of a chain
// calls capture and records the error, outer steps of the same chain are only
// marked failed. The chain resets once a root step exits. The current pointer
// always returns to the step's parent.
func (t *Tracker) Exit(step *types.Step, err error, capture CaptureFunc) {
	if step == nil {
		return
	}
	if _, ok := t.open[step.ID]; !ok {
		t.log.Warn("Exit of a step that is not open", "step", step.Title, "id", step.ID)
		return
	}
	if t.current != nil && t.current.ID != step.ID {
		t.log.Warn("Step exited out of order", "step", step.Title, "current", t.current.Title)
	}
	defer t.pop(step)

	var (
		sk skipper
		wn warner
	)
	switch {
	case err == nil:
		step.Finalize(types.StepStatusPassed)
	case errors.As(err, &sk) && sk.Skipped():
		step.Finalize(types.StepStatusSkipped)
	case errors.As(err, &wn) && wn.Warning():
		step.Error = types.NewStepError(err, traceOf(err))
		step.Finalize(types.StepStatusWarning)
	default:
		if !t.failed {
			if capture != nil {
				t.safeCapture(step, capture)
			}
			step.Error = types.NewStepError(err, traceOf(err))
			t.failed = true
		}
		step.Finalize(types.StepStatusFailed)
	}
	if step.IsRoot() {
		t.failed = false
	}
}

func (t *Tracker) safeCapture(step *types.Step, capture CaptureFunc) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Warn("Diagnostic capture panicked", "step", step.Title, "panic", r)
		}
	}()
	capture(step)
}

func (t *Tracker) pop(step *types.Step) {
	delete(t.open, step.ID)
	if step.IsRoot() {
		t.current = nil
		return
	}
	// nearest ancestor still open, idle when every ancestor has exited
	for id := step.ParentID; id != ""; {
		if parent, ok := t.open[id]; ok {
			t.current = parent
			return
		}
		closed := t.tree.Find(id)
		if closed == nil {
			break
		}
		id = closed.ParentID
	}
	t.current = nil
}

func traceOf(err error) string {
	var tr tracer
	if errors.As(err, &tr) {
		return tr.Trace()
	}
	return ""
}

// Print records p under the current step, or as a root of the active stage
func (t *Tracker) Print(p *types.Print) {
	if t.current != nil {
		t.current.AddPrint(p)
		return
	}
	_ = t.tree.Append(t.stage, types.Child{Print: p})
}

// Current returns the innermost open step, nil when idle
func (t *Tracker) Current() *types.Step {
	return t.current
}

// Failed reports whether the current failure chain already captured
// diagnostics
func (t *Tracker) Failed() bool {
	return t.failed
}

// SetStage switches the stage new root steps are recorded under
func (t *Tracker) SetStage(stage types.Stage) error {
	if !stage.IsValid() {
		return fmt.Errorf("unknown stage %q", stage)
	}
	t.stage = stage
	return nil
}

func (t *Tracker) Stage() types.Stage {
	return t.stage
}

// Tree returns the step tree being recorded
func (t *Tracker) Tree() *types.StepTree {
	return t.tree
}

// Reset starts a fresh tree in the setup stage and returns the previous one.
// Steps still open are dropped from tracking.
func (t *Tracker) Reset() *types.StepTree {
	prev := t.tree
	if len(t.open) > 0 {
		t.log.Warn("Resetting tracker with open steps", "open", len(t.open))
	}
	t.tree = types.NewStepTree()
	t.stage = types.StageSetup
	t.current = nil
	t.open = make(map[string]*types.Step)
	t.failed = false
	return prev
}
