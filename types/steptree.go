package types

import (
	"fmt"

	"github.com/google/uuid"
)

const StepTreeIDPrefix = "steps_"

// StepTree is the full step structure of one test attempt, partitioned by
// stage. It is persisted on its own and referenced from TestRecord.StepsIDs.
type StepTree struct {
	ID       string  `json:"id"`
	Setup    []Child `json:"setup"`
	Call     []Child `json:"call"`
	Teardown []Child `json:"teardown"`
}

// NewStepTree creates an empty tree with a fresh id
func NewStepTree() *StepTree {
	return &StepTree{
		ID:       StepTreeIDPrefix + uuid.NewString(),
		Setup:    []Child{},
		Call:     []Child{},
		Teardown: []Child{},
	}
}

func (t *StepTree) stage(stage Stage) (*[]Child, error) {
	switch stage {
	case StageSetup:
		return &t.Setup, nil
	case StageCall:
		return &t.Call, nil
	case StageTeardown:
		return &t.Teardown, nil
	}
	return nil, fmt.Errorf("unknown stage %q", stage)
}

// Append adds a root entry to the given stage
func (t *StepTree) Append(stage Stage, c Child) error {
	roots, err := t.stage(stage)
	if err != nil {
		return err
	}
	*roots = append(*roots, c)
	return nil
}

// Roots returns the root entries of a stage
func (t *StepTree) Roots(stage Stage) []Child {
	roots, err := t.stage(stage)
	if err != nil {
		return nil
	}
	return *roots
}

// Find looks a step up by id across all stages. Prints are skipped.
func (t *StepTree) Find(id string) *Step {
	for _, stage := range []Stage{StageSetup, StageCall, StageTeardown} {
		if s := findStep(t.Roots(stage), id); s != nil {
			return s
		}
	}
	return nil
}

func findStep(children []Child, id string) *Step {
	for _, c := range children {
		if c.Step == nil {
			continue
		}
		if c.Step.ID == id {
			return c.Step
		}
		if s := findStep(c.Step.Children, id); s != nil {
			return s
		}
	}
	return nil
}

// Walk visits every step depth-first in recorded order
func (t *StepTree) Walk(fn func(stage Stage, depth int, s *Step)) {
	for _, stage := range []Stage{StageSetup, StageCall, StageTeardown} {
		walk(t.Roots(stage), 0, func(depth int, s *Step) { fn(stage, depth, s) })
	}
}

func walk(children []Child, depth int, fn func(int, *Step)) {
	for _, c := range children {
		if c.Step == nil {
			continue
		}
		fn(depth, c.Step)
		walk(c.Step.Children, depth+1, fn)
	}
}

// Empty reports whether no entry was recorded in any stage
func (t *StepTree) Empty() bool {
	return len(t.Setup) == 0 && len(t.Call) == 0 && len(t.Teardown) == 0
}
