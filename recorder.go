package steplog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/ethereum-optimism/infra/op-steplog/browser"
	"github.com/ethereum-optimism/infra/op-steplog/exitcodes"
	"github.com/ethereum-optimism/infra/op-steplog/integrations"
	"github.com/ethereum-optimism/infra/op-steplog/session"
	"github.com/ethereum-optimism/infra/op-steplog/store"
)

// WorkerEnvVar names the worker a test process records as
const WorkerEnvVar = "OP_STEPLOG_WORKER"

// WorkerID returns the worker name from the environment, or one derived from
// the process id. Every test binary of a `go test ./...` run is its own
// worker.
func WorkerID() string {
	if w := os.Getenv(WorkerEnvVar); w != "" {
		return w
	}
	return fmt.Sprintf("pid%d", os.Getpid())
}

// Recorder wires a session and its driver from a Config
type Recorder struct {
	Driver  *session.Driver
	Session *session.Session

	cfg *Config
}

// NewRecorder builds the store, listeners and session for one worker
func NewRecorder(ctx context.Context, cfg *Config, worker string, browsers *browser.Registry) (*Recorder, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Resolve(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var (
		listeners []integrations.Listener
		observers []session.TestObserver
	)
	if cfg.Integrations.OTel {
		otelListener := integrations.NewOTelListener(nil)
		listeners = append(listeners, otelListener)
		observers = append(observers, otelListener)
	}
	if cfg.Integrations.Log {
		listeners = append(listeners, integrations.NewLogListener(cfg.Log))
	}

	st := store.New(cfg.StoreDirs(), cfg.Log)
	s, err := session.New(session.Options{
		Config:    cfg.SessionConfig(),
		Store:     st,
		Log:       cfg.Log,
		Listeners: listeners,
		Browsers:  browsers,
		Worker:    worker,
		Context:   ctx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	d := session.NewDriver(s, session.DriverConfig{
		LenientMerge: cfg.LenientMerge,
		KeepTmp:      cfg.KeepTmp,
		Log:          cfg.Log,
		Observers:    observers,
	})
	return &Recorder{Driver: d, Session: s, cfg: cfg}, nil
}

// Runner is implemented by *testing.M
type Runner interface {
	Run() int
}

// RunMain runs the tests of m as this worker and saves the worker report.
// With main set the worker also merges every worker report once its tests
// are done. Use it from TestMain:
//
//	var rec *steplog.Recorder
//
//	func TestMain(m *testing.M) {
//		rec, _ = steplog.NewRecorder(ctx, cfg, steplog.WorkerID(), nil)
//		os.Exit(rec.RunMain(ctx, m, false))
//	}
func (r *Recorder) RunMain(ctx context.Context, m Runner, main bool) int {
	log := r.cfg.Log
	if err := r.Driver.SessionStart(r.Session.RunReport().Worker, main); err != nil {
		log.Error("Failed to start step logging", "err", err)
		return m.Run()
	}
	if !main {
		if err := r.Session.Store().Init(); err != nil {
			log.Error("Failed to prepare directories", "err", err)
		}
	}
	code := m.Run()
	if err := r.Driver.SessionFinish(ctx, false); err != nil {
		log.Error("Failed to finish step logging", "err", err)
		if code == exitcodes.Success {
			code = exitcodes.RuntimeErr
		}
	}
	return code
}

// Test records fn as one test of this worker, named after t when name is
// empty
func (r *Recorder) Test(t *testing.T, name string, fn func(t *testing.T, s *session.Session)) bool {
	t.Helper()
	return session.RunGoTest(t, r.Driver, session.TestItem{Name: name}, fn)
}
