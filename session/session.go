// Package session records the steps, narrative and outcome of the tests run
// by one worker process and rolls them up into the worker's run report.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-steplog/browser"
	"github.com/ethereum-optimism/infra/op-steplog/integrations"
	"github.com/ethereum-optimism/infra/op-steplog/metrics"
	"github.com/ethereum-optimism/infra/op-steplog/store"
	"github.com/ethereum-optimism/infra/op-steplog/tracker"
	"github.com/ethereum-optimism/infra/op-steplog/types"
)

const defaultScreenshotTimeout = 10 * time.Second

// Config holds the run metadata and recording switches of a session
type Config struct {
	ProjectName string
	Env         string
	BaseURL     string
	Links       map[string]string
	// XFailStatus is the status of an expected failure that failed:
	// PASSED, FAILED or SKIPPED
	XFailStatus types.TestStatus
	// HidePasswords masks password-like test parameters
	HidePasswords     bool
	ScreenshotTimeout time.Duration
}

// Check validates the configuration
func (c *Config) Check() error {
	switch c.XFailStatus {
	case "", types.TestStatusPassed, types.TestStatusFailed, types.TestStatusSkipped:
	default:
		return fmt.Errorf("invalid xfail status %q", c.XFailStatus)
	}
	if c.ScreenshotTimeout < 0 {
		return errors.New("screenshot timeout must not be negative")
	}
	return nil
}

type Options struct {
	Config    Config
	Store     *store.Store
	Log       log.Logger
	Listeners []integrations.Listener
	// Browsers resolves browser handles, the default registry when nil
	Browsers *browser.Registry
	Worker   string
	// Context bounds screenshot captures
	Context context.Context
}

// Session is the recording context of one worker. Tests run sequentially
// within a worker; the mutex only guards against stray goroutines calling the
// narrative API.
type Session struct {
	mu sync.Mutex

	cfg       Config
	log       log.Logger
	ctx       context.Context
	store     *store.Store
	listeners *integrations.Fanout
	browsers  *browser.Registry

	report  *types.RunReport
	record  *types.TestRecord
	tracker *tracker.Tracker
	browser any
	// unsaved holds trees of earlier attempts whose save failed, retried
	// when the test finishes
	unsaved []*types.StepTree
}

func New(opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, errors.New("session needs a store")
	}
	if err := opts.Config.Check(); err != nil {
		return nil, err
	}
	cfg := opts.Config
	if cfg.XFailStatus == "" {
		cfg.XFailStatus = types.TestStatusPassed
	}
	if cfg.ScreenshotTimeout == 0 {
		cfg.ScreenshotTimeout = defaultScreenshotTimeout
	}
	logger := opts.Log
	if logger == nil {
		logger = log.Root()
	}
	browsers := opts.Browsers
	if browsers == nil {
		browsers = browser.NewRegistry()
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	report := types.NewRunReport(opts.Worker, time.Now())
	report.ProjectName = cfg.ProjectName
	report.Env = cfg.Env
	report.BaseURL = cfg.BaseURL
	for name, url := range cfg.Links {
		if report.Links == nil {
			report.Links = make(map[string]string, len(cfg.Links))
		}
		report.Links[name] = url
	}

	return &Session{
		cfg:       cfg,
		log:       logger,
		ctx:       ctx,
		store:     opts.Store,
		listeners: integrations.NewFanout(logger, opts.Listeners...),
		browsers:  browsers,
		report:    report,
		tracker:   tracker.New(logger),
	}, nil
}

func (s *Session) SetEnv(env string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Env = env
}

func (s *Session) SetBaseURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.BaseURL = url
}

func (s *Session) SetWorker(worker string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Worker = worker
}

// SetBrowser registers the browser handle used for screenshots until the
// current test finishes
func (s *Session) SetBrowser(handle any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browser = handle
}

func (s *Session) Browser() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser
}

// Listeners exposes the integration fan-out
func (s *Session) Listeners() *integrations.Fanout {
	return s.listeners
}

func (s *Session) Store() *store.Store {
	return s.store
}

// StartTest begins a fresh record and step tree
func (s *Session) StartTest(module, name, originalName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record != nil {
		s.log.Warn("Starting a test while another one is open", "open", s.record.Name, "next", name)
	}
	if originalName == "" {
		originalName = name
	}
	s.record = types.NewTestRecord(module, name, originalName)
	s.unsaved = nil
	s.tracker.Reset()
}

// LogStart counts an execution of the current test and starts a retry from
// the second one on
func (s *Session) LogStart() error {
	s.mu.Lock()
	if s.record == nil {
		s.mu.Unlock()
		return errors.New("no test started")
	}
	s.record.ExecutionCount++
	retry := s.record.ExecutionCount > 1
	s.mu.Unlock()
	if retry {
		return s.StartRetry()
	}
	return nil
}

// StartRetry persists the step tree of the previous attempt, links it to the
// record and clears the fields describing a single attempt
func (s *Session) StartRetry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return errors.New("no test started")
	}
	prev := s.tracker.Tree()
	_, saveErr := s.store.SaveSteps(prev)
	if saveErr != nil {
		metrics.RecordErrorDetails("save_steps", saveErr)
		s.log.Warn("Failed to save steps of previous attempt, retrying when the test finishes",
			"test", s.record.Name, "err", saveErr)
		s.unsaved = append(s.unsaved, prev)
	}
	// Reset only after the tree is on disk or queued
	s.tracker.Reset()
	if saveErr == nil {
		s.record.AddStepsID(prev.ID)
	}
	s.record.ResetNarrative()
	s.record.Error = ""
	s.record.Stacktrace = ""
	s.record.Status = types.TestStatusNone
	s.record.Retry = true
	s.log.Info("Retrying test", "test", s.record.Name, "attempt", s.record.ExecutionCount)
	if saveErr != nil {
		return fmt.Errorf("failed to save steps of previous attempt: %w", saveErr)
	}
	return nil
}

// SetStage switches the stage new root steps are recorded under
func (s *Session) SetStage(stage types.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.SetStage(stage)
}

// Record returns the record of the running test, nil between tests
func (s *Session) Record() *types.TestRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// Tree returns the step tree being recorded
func (s *Session) Tree() *types.StepTree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Tree()
}

// FinishTest persists the step tree, files the record into the run report
// and clears the live test state
func (s *Session) FinishTest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return errors.New("no test started")
	}
	rec := s.record
	trees := append(s.unsaved, s.tracker.Reset())
	s.unsaved = nil
	s.record = nil
	s.browser = nil

	var errs []error
	for _, tree := range trees {
		if _, err := s.store.SaveSteps(tree); err != nil {
			metrics.RecordErrorDetails("save_steps", err)
			s.log.Error("Failed to save steps", "test", rec.Name, "steps", tree.ID, "err", err)
			errs = append(errs, err)
			continue
		}
		rec.AddStepsID(tree.ID)
	}
	err := errors.Join(errs...)
	s.report.AddResult(rec)
	metrics.RecordTest(rec.Status)
	s.log.Debug("Test finished", "module", rec.Module, "test", rec.Name, "status", rec.Status,
		"duration", rec.Duration)
	if err != nil {
		return fmt.Errorf("failed to save steps of %s: %w", rec.Name, err)
	}
	return nil
}

// RunReport returns the worker's run report
func (s *Session) RunReport() *types.RunReport {
	return s.report
}

// SaveReport writes the worker's run report to the temp directory
func (s *Session) SaveReport() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.SaveReport(s.report)
}

// Finish stamps the end of the worker run and saves the report
func (s *Session) Finish() (string, error) {
	s.mu.Lock()
	s.report.Finish(time.Now())
	s.mu.Unlock()
	return s.SaveReport()
}

// ProcessReport applies a phase report to the current record. Successful
// setup is ignored. Teardown only sets the result when it failed and nothing
// failed before, then mirrors the record to the integrations and attaches
// captured output.
func (s *Session) ProcessReport(r PhaseReport) {
	if s.Record() == nil {
		s.log.Warn("Phase report without a running test", "stage", r.Stage)
		return
	}
	if r.Stage == types.StageSetup && r.Outcome == types.OutcomePassed {
		return
	}
	if r.Stage == types.StageTeardown {
		if r.Outcome == types.OutcomeFailed && s.Record().Error == "" {
			s.processResult(r)
		}
		s.applyIntegrations()
		s.applyOutput(r)
		return
	}
	s.processResult(r)
}

func (s *Session) processResult(r PhaseReport) {
	rec := s.Record()
	s.mu.Lock()
	rec.Duration = r.Duration
	if r.Stacktrace != "" {
		rec.Stacktrace = r.Stacktrace
	}
	s.mu.Unlock()

	switch {
	case r.wasXFail():
		if !r.xpassed() {
			s.Screenshot("xfail_"+rec.Name, false)
		}
		s.setError(xfailMessage(r))
	case r.Outcome == types.OutcomeFailed:
		s.Screenshot("", true)
		if r.Err != nil {
			s.setError(r.Err.Error())
		}
	case r.Outcome == types.OutcomeSkipped:
		if r.Err != nil {
			s.setError(r.Err.Error())
		}
	}

	status := DeriveStatus(r, s.cfg.XFailStatus)
	s.mu.Lock()
	rec.Status = status
	s.mu.Unlock()
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record != nil {
		s.record.Error = cleanError(msg)
	}
}

func (s *Session) applyIntegrations() {
	rec := s.Record()
	if rec == nil || s.listeners.Len() == 0 {
		return
	}
	if rec.Description != "" {
		s.listeners.OnDescription(rec.Description)
	}
	if len(rec.Info) > 0 {
		if data, err := jsonIndent(rec.Info); err == nil {
			s.listeners.OnAttach(data, "steplog_info", "application/json")
		}
	}
	if len(rec.KnownBugs) > 0 {
		if data, err := jsonIndent(rec.KnownBugs); err == nil {
			s.listeners.OnAttach(data, "steplog_known_bugs", "application/json")
		}
	}
}

func (s *Session) applyOutput(r PhaseReport) {
	for _, out := range []struct{ name, text string }{
		{"stdout", r.Stdout},
		{"stderr", r.Stderr},
		{"log", r.Log},
	} {
		if out.text != "" {
			s.Attach(out.text, out.name)
		}
	}
}
