package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/ethereum-optimism/optimism/op-service/testlog"
	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-steplog/browser"
	"github.com/ethereum-optimism/infra/op-steplog/store"
	"github.com/ethereum-optimism/infra/op-steplog/types"
)

var png = []byte("\x89PNG\r\n\x1a\n fake image")

type fakeBrowser struct {
	shots int
	err   error
}

func (f *fakeBrowser) Screenshot(context.Context) ([][]byte, error) {
	f.shots++
	if f.err != nil {
		return nil, f.err
	}
	return [][]byte{png}, nil
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	root := t.TempDir()
	s := store.New(store.Dirs{
		TmpDir:         filepath.Join(root, "tmp"),
		OutputDir:      filepath.Join(root, "out"),
		AttachmentsDir: filepath.Join(root, "out", "attachments"),
	}, log.NewLogger(log.DiscardHandler()))
	require.NoError(t, s.Init())
	return s
}

func newSession(t *testing.T, cfg Config, logger log.Logger) *Session {
	t.Helper()
	if logger == nil {
		logger = log.NewLogger(log.DiscardHandler())
	}
	s, err := New(Options{Config: cfg, Store: newStore(t), Log: logger, Worker: "gw0"})
	require.NoError(t, err)
	return s
}

func attachmentFiles(t *testing.T, s *Session) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(s.Store().Dirs().AttachmentsDir)
	require.NoError(t, err)
	return entries
}

func TestNew(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Store: newStore(t), Config: Config{XFailStatus: types.TestStatusBroken}})
	require.Error(t, err)

	s := newSession(t, Config{ProjectName: "shop", Env: "stage"}, nil)
	assert.Equal(t, types.TestStatusPassed, s.cfg.XFailStatus)
	assert.Equal(t, defaultScreenshotTimeout, s.cfg.ScreenshotTimeout)
	assert.Equal(t, "shop", s.RunReport().ProjectName)
	assert.Equal(t, "stage", s.RunReport().Env)
	assert.Equal(t, "gw0", s.RunReport().Worker)
}

func TestSession_NestedAssertionFailure(t *testing.T) {
	tests := []struct {
		name  string
		fb    *fakeBrowser
		shots int
	}{
		{name: "no browser", fb: nil, shots: 0},
		{name: "with browser", fb: &fakeBrowser{}, shots: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSession(t, Config{}, nil)
			s.StartTest("tests.m1", "test_login", "")
			require.NoError(t, s.LogStart())
			require.NoError(t, s.SetStage(types.StageCall))
			if tt.fb != nil {
				s.SetBrowser(tt.fb)
			}

			failure := Assertf("expected 200, got 500")
			a := s.Step("A", "")
			err := a.Do(func() error {
				return s.Step("B", "").Do(func() error { return failure })
			})
			require.ErrorIs(t, err, failure)

			tree := s.Tree()
			roots := tree.Roots(types.StageCall)
			require.Len(t, roots, 1)
			stepA := roots[0].Step
			require.Len(t, stepA.SubSteps(), 1)
			stepB := stepA.SubSteps()[0]

			assert.Equal(t, types.StepStatusFailed, stepA.Status)
			assert.Equal(t, types.StepStatusFailed, stepB.Status)
			require.NotNil(t, stepB.Error)
			assert.NotEmpty(t, stepB.Error.Message)
			assert.Len(t, stepB.Attachments, tt.shots)
			assert.Empty(t, stepA.Attachments)

			s.ProcessReport(PhaseReport{Stage: types.StageCall, Outcome: types.OutcomeFailed, Err: err})
			assert.Equal(t, types.TestStatusFailed, s.Record().Status)
			assert.Equal(t, "expected 200, got 500", s.Record().Error)

			require.NoError(t, s.FinishTest())
			rec := s.RunReport().Results
			assert.Equal(t, 1, rec.Failed)
		})
	}
}

func TestSession_BrokenOnNonAssertion(t *testing.T) {
	s := newSession(t, Config{}, nil)
	s.StartTest("tests.m1", "test_db", "")
	s.ProcessReport(PhaseReport{
		Stage:   types.StageCall,
		Outcome: types.OutcomeFailed,
		Err:     errors.New("\x1b[31mconnection refused\x1b[0m"),
	})
	assert.Equal(t, types.TestStatusBroken, s.Record().Status)
	assert.Equal(t, "connection refused", s.Record().Error)
}

func TestSession_RetryKeepsBothTrees(t *testing.T) {
	s := newSession(t, Config{}, nil)
	s.StartTest("tests.m1", "test_flaky", "")

	// attempt 1
	require.NoError(t, s.LogStart())
	require.NoError(t, s.SetStage(types.StageCall))
	s.Info(map[string]any{"attempt": 1})
	_ = s.Run("open page", func() error { return Assertf("timeout") })
	s.ProcessReport(PhaseReport{Stage: types.StageCall, Outcome: types.OutcomeFailed, Err: Assertf("timeout")})
	first := s.Tree().ID
	require.Equal(t, types.TestStatusFailed, s.Record().Status)

	// attempt 2
	require.NoError(t, s.LogStart())
	second := s.Tree().ID
	require.NotEqual(t, first, second)
	assert.True(t, s.Record().Retry)
	assert.Empty(t, s.Record().Error)
	assert.Empty(t, s.Record().Info)
	require.NoError(t, s.SetStage(types.StageCall))
	require.NoError(t, s.Run("open page", func() error { return nil }))
	s.ProcessReport(PassedPhase(types.StageCall, 0))

	require.NoError(t, s.FinishTest())
	recs := s.RunReport().Module("tests.m1").Records("test_flaky")
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, []string{first, second}, rec.StepsIDs)
	assert.Equal(t, types.TestStatusPassed, rec.Status)
	assert.Equal(t, 2, rec.ExecutionCount)

	for _, id := range rec.StepsIDs {
		tree, err := s.Store().LoadSteps(id)
		require.NoError(t, err)
		require.Len(t, tree.Roots(types.StageCall), 1)
	}
	t1, err := s.Store().LoadSteps(first)
	require.NoError(t, err)
	assert.Equal(t, types.StepStatusFailed, t1.Roots(types.StageCall)[0].Step.Status)
}

func TestSession_RetryKeepsTreeWhenSaveFails(t *testing.T) {
	s := newSession(t, Config{}, nil)
	stepsDir := s.Store().StepsDir()
	s.StartTest("tests.m1", "test_flaky", "")

	require.NoError(t, s.LogStart())
	require.NoError(t, s.SetStage(types.StageCall))
	s.Description("attempt one")
	s.Info(map[string]any{"attempt": 1})
	s.KnownBug("https://bugs/1", "")
	_ = s.Run("open page", func() error { return Assertf("timeout") })
	first := s.Tree().ID

	// a file in place of the steps directory makes every save fail
	require.NoError(t, os.RemoveAll(stepsDir))
	require.NoError(t, os.WriteFile(stepsDir, []byte("x"), 0o644))

	require.Error(t, s.LogStart())
	rec := s.Record()
	assert.Empty(t, rec.Description)
	assert.Empty(t, rec.Info)
	assert.Empty(t, rec.KnownBugs)
	assert.Empty(t, rec.StepsIDs)
	second := s.Tree().ID
	require.NotEqual(t, first, second)
	assert.Empty(t, s.Tree().Roots(types.StageCall))

	require.NoError(t, s.SetStage(types.StageCall))
	require.NoError(t, s.Run("open page", func() error { return nil }))
	s.ProcessReport(PassedPhase(types.StageCall, 0))

	require.NoError(t, os.Remove(stepsDir))
	require.NoError(t, os.MkdirAll(stepsDir, 0o755))
	require.NoError(t, s.FinishTest())

	recs := s.RunReport().Module("tests.m1").Records("test_flaky")
	require.Len(t, recs, 1)
	assert.Equal(t, []string{first, second}, recs[0].StepsIDs)
	t1, err := s.Store().LoadSteps(first)
	require.NoError(t, err)
	require.Len(t, t1.Roots(types.StageCall), 1)
	assert.Equal(t, types.StepStatusFailed, t1.Roots(types.StageCall)[0].Step.Status)
}

func TestSession_AttachEmptyStringWarns(t *testing.T) {
	logger, logs := testlog.CaptureLogger(t, log.LevelWarn)
	s := newSession(t, Config{}, logger)
	s.StartTest("tests.m1", "test_attach", "")

	s.Attach("", "empty.txt")

	assert.NotNil(t, logs.FindLog(testlog.NewMessageContainsFilter("Skipping attachment")))
	assert.Empty(t, attachmentFiles(t, s))
	assert.Empty(t, s.Record().Attachments)
}

func TestSession_AttachMapAsJSON(t *testing.T) {
	s := newSession(t, Config{}, nil)
	s.StartTest("tests.m1", "test_attach", "")

	payload := map[string]any{"user": "alice", "roles": []any{"admin", "dev"}, "age": float64(31)}
	s.Attach(payload, "payload")

	require.Len(t, s.Record().Attachments, 1)
	a := s.Record().Attachments[0]
	assert.Equal(t, "payload.json", a.Name)
	assert.Equal(t, "application/json", a.MimeType)

	data, err := store.ReadFile(store.FilePath(filepath.Join(s.Store().Dirs().AttachmentsDir, a.File)))
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, payload, got)
}

func TestAttachmentData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	type point struct{ X, Y int }

	tests := []struct {
		name     string
		content  any
		in       string
		wantName string
		want     string
		wantErr  bool
	}{
		{name: "nil", content: nil, wantErr: true},
		{name: "empty bytes", content: []byte{}, wantErr: true},
		{name: "bytes", content: []byte("raw"), in: "a.bin", wantName: "a.bin", want: "raw"},
		{name: "file", content: store.FilePath(path), wantName: "notes.txt", want: "hello"},
		{name: "reader", content: strings.NewReader("streamed"), in: "s.txt", wantName: "s.txt", want: "streamed"},
		{name: "int", content: 42, in: "n", wantName: "n", want: "42"},
		{name: "bool", content: true, in: "b", wantName: "b", want: "true"},
		{name: "list", content: []int{1, 2}, in: "l", wantName: "l.json", want: "[\n  1,\n  2\n]"},
		{name: "struct", content: point{1, 2}, in: "p.json", wantName: "p.json", want: "{\n  \"X\": 1,\n  \"Y\": 2\n}"},
		{name: "func", content: func() {}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, name, err := attachmentData(tt.content, tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestSession_NarrativeGoesToStepAndRecord(t *testing.T) {
	s := newSession(t, Config{}, nil)
	s.StartTest("tests.m1", "test_narrative", "")
	require.NoError(t, s.SetStage(types.StageCall))

	sc := s.Step("checkout", "order is placed")
	s.Info(map[string]any{"order_id": 17, "bad": make(chan int)})
	s.Link(map[string]string{"ticket": "https://jira/T-1"})
	s.KnownBug("https://jira/BUG-2", "")
	s.Print(map[string]int{"items": 3})
	sc.End(nil)
	s.Description("first")
	s.Description("second")

	step := sc.Entry()
	assert.Equal(t, types.Int(17), step.Info["ORDER ID"])
	assert.NotContains(t, step.Info, "BAD")
	assert.Equal(t, "https://jira/T-1", step.Links["TICKET"])
	require.Len(t, step.KnownBugs, 1)
	require.Len(t, step.Children, 1)
	require.NotNil(t, step.Children[0].Print)
	assert.Equal(t, "application/json", step.Children[0].Print.MimeType)

	rec := s.Record()
	assert.Equal(t, types.Int(17), rec.Info["ORDER ID"])
	assert.Equal(t, "https://jira/T-1", rec.Links["TICKET"])
	assert.Len(t, rec.KnownBugs, 1)
	assert.Equal(t, "first\nsecond", rec.Description)
}

func TestSession_NarrativeWarnings(t *testing.T) {
	logger, logs := testlog.CaptureLogger(t, log.LevelWarn)
	s := newSession(t, Config{}, logger)
	s.StartTest("tests.m1", "test_warn", "")

	s.Info(nil)
	s.Link(nil)
	s.KnownBug("", "")

	assert.NotNil(t, logs.FindLog(testlog.NewMessageContainsFilter("Info requires")))
	assert.NotNil(t, logs.FindLog(testlog.NewMessageContainsFilter("Link requires")))
	assert.NotNil(t, logs.FindLog(testlog.NewMessageContainsFilter("Known bug requires")))
	assert.Empty(t, s.Record().Info)
	assert.Empty(t, s.Record().KnownBugs)
}

func TestSession_ScreenshotFailureIsWarning(t *testing.T) {
	logger, logs := testlog.CaptureLogger(t, log.LevelWarn)
	s := newSession(t, Config{}, logger)
	s.StartTest("tests.m1", "test_shot", "")

	s.SetBrowser(&fakeBrowser{err: errors.New("tab crashed")})
	s.Screenshot("home", false)
	assert.NotNil(t, logs.FindLog(testlog.NewMessageContainsFilter("Unable to make screenshot")))
	assert.Empty(t, s.Record().Attachments)

	s.SetBrowser(struct{}{})
	s.Screenshot("home", false)
	assert.Empty(t, s.Record().Attachments)

	s.SetBrowser(&fakeBrowser{})
	s.Screenshot("home", false)
	s.Screenshot("", true)
	require.Len(t, s.Record().Attachments, 2)
	assert.Equal(t, "scr_home.png", s.Record().Attachments[0].Name)
	assert.Equal(t, "err_scr_test_shot.png", s.Record().Attachments[1].Name)
	assert.Equal(t, "image/png", s.Record().Attachments[0].MimeType)
}

func TestSession_ScreenshotUsesRegistry(t *testing.T) {
	reg := browser.NewRegistry()
	type page struct{}
	reg.Register("page", func(h any) bool { _, ok := h.(page); return ok },
		func(any) (browser.Screenshotter, error) {
			return browser.Func(func(context.Context) ([][]byte, error) { return [][]byte{png, png}, nil }), nil
		})
	s, err := New(Options{Store: newStore(t), Browsers: reg, Log: log.NewLogger(log.DiscardHandler())})
	require.NoError(t, err)
	s.StartTest("tests.m1", "test_pages", "")
	s.SetBrowser(page{})
	s.Screenshot("two", false)
	assert.Len(t, s.Record().Attachments, 2)
}

func TestSession_ProcessReportSequencing(t *testing.T) {
	t.Run("setup success ignored", func(t *testing.T) {
		s := newSession(t, Config{}, nil)
		s.StartTest("m", "t", "")
		s.ProcessReport(PassedPhase(types.StageSetup, 0))
		assert.Equal(t, types.TestStatusNone, s.Record().Status)
	})
	t.Run("setup failure recorded", func(t *testing.T) {
		s := newSession(t, Config{}, nil)
		s.StartTest("m", "t", "")
		s.ProcessReport(PhaseReport{Stage: types.StageSetup, Outcome: types.OutcomeFailed, Err: errors.New("fixture")})
		assert.Equal(t, types.TestStatusBroken, s.Record().Status)
	})
	t.Run("teardown failure after call failure keeps call error", func(t *testing.T) {
		s := newSession(t, Config{}, nil)
		s.StartTest("m", "t", "")
		s.ProcessReport(PhaseReport{Stage: types.StageCall, Outcome: types.OutcomeFailed, Err: Assertf("call")})
		s.ProcessReport(PhaseReport{Stage: types.StageTeardown, Outcome: types.OutcomeFailed, Err: errors.New("teardown")})
		assert.Equal(t, "call", s.Record().Error)
		assert.Equal(t, types.TestStatusFailed, s.Record().Status)
	})
	t.Run("teardown failure after passing call", func(t *testing.T) {
		s := newSession(t, Config{}, nil)
		s.StartTest("m", "t", "")
		s.ProcessReport(PassedPhase(types.StageCall, 0))
		s.ProcessReport(PhaseReport{Stage: types.StageTeardown, Outcome: types.OutcomeFailed, Err: errors.New("cleanup")})
		assert.Equal(t, types.TestStatusBroken, s.Record().Status)
		assert.Equal(t, "cleanup", s.Record().Error)
	})
	t.Run("teardown attaches captured output", func(t *testing.T) {
		s := newSession(t, Config{}, nil)
		s.StartTest("m", "t", "")
		s.ProcessReport(PassedPhase(types.StageCall, 0))
		s.ProcessReport(PhaseReport{Stage: types.StageTeardown, Outcome: types.OutcomePassed, Stdout: "hello", Log: "INFO x"})
		require.Len(t, s.Record().Attachments, 2)
		assert.Equal(t, "stdout", s.Record().Attachments[0].Name)
		assert.Equal(t, "log", s.Record().Attachments[1].Name)
		assert.Equal(t, types.TestStatusPassed, s.Record().Status)
	})
	t.Run("xfail screenshot and message", func(t *testing.T) {
		s := newSession(t, Config{}, nil)
		s.StartTest("m", "t", "")
		fb := &fakeBrowser{}
		s.SetBrowser(fb)
		s.ProcessReport(PhaseReport{Stage: types.StageCall, Outcome: types.OutcomeSkipped, XFail: true, Err: errors.New("boom")})
		assert.Equal(t, types.TestStatusPassed, s.Record().Status)
		assert.Equal(t, "XFAIL: test failed as expected\n\nboom", s.Record().Error)
		require.Len(t, s.Record().Attachments, 1)
		assert.Equal(t, "scr_xfail_t.png", s.Record().Attachments[0].Name)
	})
	t.Run("no record", func(t *testing.T) {
		s := newSession(t, Config{}, nil)
		s.ProcessReport(PassedPhase(types.StageCall, 0))
		assert.Nil(t, s.Record())
	})
}

func TestScope_EndIsIdempotent(t *testing.T) {
	s := newSession(t, Config{}, nil)
	s.StartTest("m", "t", "")
	sc := s.Step("once", "")
	sc.End(nil)
	sc.End(errors.New("late"))
	assert.Equal(t, types.StepStatusPassed, sc.Entry().Status)
	assert.Nil(t, s.tracker.Current())
}

func TestScope_DoRecordsPanic(t *testing.T) {
	s := newSession(t, Config{}, nil)
	s.StartTest("m", "t", "")
	sc := s.Step("explodes", "")
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = sc.Do(func() error { panic("kaboom") })
	})
	assert.Equal(t, types.StepStatusFailed, sc.Entry().Status)
	require.NotNil(t, sc.Entry().Error)
	assert.Equal(t, "panic: kaboom", sc.Entry().Error.Message)
	assert.NotEmpty(t, sc.Entry().Error.Trace)
	assert.Nil(t, s.tracker.Current())
}

func TestScope_DoRecordsGoexit(t *testing.T) {
	s := newSession(t, Config{}, nil)
	s.StartTest("m", "t", "")
	sc := s.Step("aborts", "")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sc.Do(func() error {
			runtime.Goexit()
			return nil
		})
	}()
	<-done
	assert.Equal(t, types.StepStatusFailed, sc.Entry().Status)
	require.NotNil(t, sc.Entry().Error)
	assert.Equal(t, ErrStepAborted.Error(), sc.Entry().Error.Message)
}
