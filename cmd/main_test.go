package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	steplog "github.com/ethereum-optimism/infra/op-steplog"
	"github.com/ethereum-optimism/infra/op-steplog/store"
	"github.com/ethereum-optimism/infra/op-steplog/types"
)

func testApp(out *bytes.Buffer) *cli.App {
	app := newApp()
	app.Writer = out
	app.ErrWriter = out
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app
}

func seedWorkers(t *testing.T, root string, statuses ...types.TestStatus) (tmp, out string) {
	t.Helper()
	tmp, out = filepath.Join(root, "tmp"), filepath.Join(root, "out")
	s := store.New(store.Dirs{TmpDir: tmp, OutputDir: out, AttachmentsDir: filepath.Join(out, "attachments")},
		log.NewLogger(log.DiscardHandler()))
	require.NoError(t, s.Init())
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, status := range statuses {
		r := types.NewRunReport("gw"+string(rune('0'+i)), start)
		rec := types.NewTestRecord("tests.m1", "test_"+string(rune('a'+i)), "")
		rec.Status = status
		r.AddResult(rec)
		r.Finish(start.Add(time.Minute))
		_, err := s.SaveReport(r)
		require.NoError(t, err)
	}
	return tmp, out
}

func TestMergeAndSummary(t *testing.T) {
	root := t.TempDir()
	tmp, out := seedWorkers(t, root, types.TestStatusPassed, types.TestStatusFailed)
	dirs := []string{
		"op-steplog",
		"--config", filepath.Join(root, "missing.yaml"),
		"--tmp-dir", tmp,
		"--output-dir", out,
		"--log.level", "error",
	}

	var buf bytes.Buffer
	require.NoError(t, testApp(&buf).RunContext(context.Background(), append(dirs, "merge")))
	_, err := os.Stat(filepath.Join(out, store.CombinedFileName))
	require.NoError(t, err)
	_, err = os.Stat(tmp)
	assert.True(t, os.IsNotExist(err))

	summaryFile := filepath.Join(root, "summary.txt")
	err = testApp(&buf).RunContext(context.Background(), append(dirs, "summary", "--summary-file", summaryFile))
	require.NoError(t, err)
	data, err := os.ReadFile(summaryFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tests.m1")

	err = testApp(&buf).RunContext(context.Background(), append(dirs, "summary", "--fail-on-failures"))
	require.Error(t, err)
	assert.True(t, steplog.IsTestFailureError(err))
}

func TestMerge_RuntimeErrors(t *testing.T) {
	root := t.TempDir()
	tmp, out := seedWorkers(t, root, types.TestStatusPassed)
	require.NoError(t, os.WriteFile(filepath.Join(tmp, store.ReportsDir, "report_broken.json"), []byte("{"), 0o644))
	args := []string{
		"op-steplog",
		"--config", filepath.Join(root, "missing.yaml"),
		"--tmp-dir", tmp,
		"--output-dir", out,
		"--log.level", "error",
	}

	var buf bytes.Buffer
	err := testApp(&buf).RunContext(context.Background(), append(args, "merge"))
	require.Error(t, err)
	assert.True(t, steplog.IsRuntimeError(err))

	err = testApp(&buf).RunContext(context.Background(), append(args, "--lenient-merge", "merge"))
	require.NoError(t, err)

	err = testApp(&buf).RunContext(context.Background(), append(args, "--xfail-status", "broken", "merge"))
	require.Error(t, err)
	assert.True(t, steplog.IsRuntimeError(err))
}

func TestShow(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")
	s := store.New(store.Dirs{TmpDir: filepath.Join(root, "tmp"), OutputDir: out, AttachmentsDir: filepath.Join(out, "a")},
		log.NewLogger(log.DiscardHandler()))
	require.NoError(t, s.Init())
	tree := types.NewStepTree()
	step := types.NewStep("Open the cart", "")
	step.Finalize(types.StepStatusPassed)
	require.NoError(t, tree.Append(types.StageCall, types.Child{Step: step}))
	_, err := s.SaveSteps(tree)
	require.NoError(t, err)

	var buf bytes.Buffer
	args := []string{"op-steplog", "--config", filepath.Join(root, "missing.yaml"), "--output-dir", out,
		"--log.level", "error", "show", "--steps-id", tree.ID}
	require.NoError(t, testApp(&buf).RunContext(context.Background(), args))

	err = testApp(&buf).RunContext(context.Background(), []string{"op-steplog", "--output-dir", out,
		"--config", filepath.Join(root, "missing.yaml"), "show", "--steps-id", "steps_missing"})
	require.Error(t, err)
	assert.True(t, steplog.IsRuntimeError(err))
}
