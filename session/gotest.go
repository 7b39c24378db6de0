package session

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"testing"
	"time"

	"golang.org/x/mod/modfile"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// errTestFailed is recorded for a Go test marked failed through t.Error or
// t.Fatal
var errTestFailed = &AssertionError{Msg: "test failed"}

// RunGoTest runs fn as a subtest of t and records it through d as one test
// with setup, call and teardown stages. A failed subtest is an assertion
// failure, a panic is a broken test.
func RunGoTest(t *testing.T, d *Driver, item TestItem, fn func(t *testing.T, s *Session)) bool {
	t.Helper()
	if item.Name == "" {
		item.Name = t.Name()
	}
	if item.Module == "" {
		if wd, err := os.Getwd(); err == nil {
			if mod, err := PackagePath(wd); err == nil {
				item.Module = mod
			}
		}
	}

	d.TestStart(item)
	d.LogStart()
	d.Setup(item)
	d.MakeReport(PassedPhase(types.StageSetup, 0))
	d.Call(item)

	var (
		failed, skipped bool
		panicErr        *PanicError
	)
	start := time.Now()
	ok := t.Run(item.Name, func(st *testing.T) {
		defer func() {
			failed, skipped = st.Failed(), st.Skipped()
		}()
		defer func() {
			if r := recover(); r != nil {
				panicErr = NewPanicError(r, debug.Stack())
				st.Errorf("%v\n%s", panicErr, panicErr.Stack)
			}
		}()
		fn(st, d.Session())
	})
	outcome, err := goTestOutcome(failed, skipped, panicErr)
	report := PhaseReport{Stage: types.StageCall, Outcome: outcome, Duration: time.Since(start), Err: err}
	if panicErr != nil {
		report.Stacktrace = panicErr.Stack
	}
	d.MakeReport(report)

	d.Teardown()
	d.MakeReport(PassedPhase(types.StageTeardown, 0))
	if err := d.TestFinish(); err != nil {
		t.Logf("failed to record %s: %v", item.Name, err)
	}
	return ok
}

func goTestOutcome(failed, skipped bool, panicErr *PanicError) (types.Outcome, error) {
	switch {
	case panicErr != nil:
		return types.OutcomeFailed, panicErr
	case failed:
		return types.OutcomeFailed, errTestFailed
	case skipped:
		return types.OutcomeSkipped, nil
	}
	return types.OutcomePassed, nil
}

// ModuleRoot finds the directory holding the go.mod that governs dir and
// returns it with the declared module path
func ModuleRoot(dir string) (root, modPath string, err error) {
	dir, err = filepath.Abs(dir)
	if err != nil {
		return "", "", err
	}
	for {
		data, err := os.ReadFile(filepath.Join(dir, "go.mod"))
		if err == nil {
			modPath = modfile.ModulePath(data)
			if modPath == "" {
				return "", "", fmt.Errorf("no module directive in %s", filepath.Join(dir, "go.mod"))
			}
			return dir, modPath, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", "", errors.New("go.mod not found")
		}
		dir = parent
	}
}

// PackagePath returns the import path of the package in dir
func PackagePath(dir string) (string, error) {
	root, modPath, err := ModuleRoot(dir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	return path.Join(modPath, filepath.ToSlash(rel)), nil
}
