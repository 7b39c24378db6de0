package session

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-steplog/reporting"
	"github.com/ethereum-optimism/infra/op-steplog/types"
)

const maskedValue = "*****"

var (
	// passwordParams are parameter names masked when passwords are hidden
	passwordParams = []string{"password", "pass", "pwd", "passw"}

	// browserFixtures are fixture names checked for a browser handle, in order
	browserFixtures = []string{"driver", "page", "selenium_driver", "driver_init", "playwright_page"}

	// markerPrefixes are marker names not reported as info
	markerPrefixes = []string{"steplog_", "parametrize"}
)

// Marker is a label attached to a test by the runner
type Marker struct {
	Name   string
	Args   []any
	Kwargs map[string]any
}

func (m Marker) value() string {
	parts := make([]string, 0, len(m.Args)+len(m.Kwargs))
	for _, a := range m.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	for _, k := range sortedKeys(m.Kwargs) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, m.Kwargs[k]))
	}
	return strings.Join(parts, ", ")
}

// TestItem describes a collected test the way the runner sees it
type TestItem struct {
	Module       string
	Name         string
	OriginalName string

	Params        map[string]any
	Fixtures      []string
	FixtureValues map[string]any
	// Markers in declaration order
	Markers []Marker

	// Declarative narrative applied during setup
	Description string
	Info        map[string]any
	Links       map[string]string
	KnownBugs   []types.KnownBug
}

// TestObserver is told about test boundaries, the OTel listener is one
type TestObserver interface {
	StartTest(ctx context.Context, module, name string) func(status types.TestStatus)
}

type DriverConfig struct {
	LenientMerge bool
	KeepTmp      bool
	Log          log.Logger
	Observers    []TestObserver
}

// Driver maps runner lifecycle hooks onto a session
type Driver struct {
	s      *Session
	cfg    DriverConfig
	log    log.Logger
	isMain bool

	endObservers []func(types.TestStatus)
}

func NewDriver(s *Session, cfg DriverConfig) *Driver {
	logger := cfg.Log
	if logger == nil {
		logger = s.log
	}
	return &Driver{s: s, cfg: cfg, log: logger}
}

func (d *Driver) Session() *Session {
	return d.s
}

// SessionStart prepares the output directories on the main worker and names
// the worker in its report
func (d *Driver) SessionStart(worker string, isMain bool) error {
	d.isMain = isMain
	if isMain {
		if err := d.s.Store().Init(); err != nil {
			return fmt.Errorf("failed to prepare directories: %w", err)
		}
	}
	d.s.SetWorker(worker)
	d.log.Debug("Session started", "worker", worker, "main", isMain)
	return nil
}

func (d *Driver) TestStart(item TestItem) {
	d.s.StartTest(item.Module, item.Name, item.OriginalName)
	d.endObservers = d.endObservers[:0]
	for _, o := range d.cfg.Observers {
		d.endObservers = append(d.endObservers, o.StartTest(d.s.ctx, item.Module, item.Name))
	}
}

func (d *Driver) LogStart() {
	if err := d.s.LogStart(); err != nil {
		d.log.Warn("Unable to start test attempt", "err", err)
	}
}

// Setup switches to the setup stage and records what the runner knows about
// the test before it runs
func (d *Driver) Setup(item TestItem) {
	d.setStage(types.StageSetup)
	d.applyParams(item)
	if len(item.Fixtures) > 0 {
		d.s.Info(map[string]any{"fixtures": strings.Join(item.Fixtures, ", ")})
	}
	d.applyMarkers(item)

	if item.Description != "" {
		d.s.Description(item.Description)
	}
	if len(item.Info) > 0 {
		d.s.Info(item.Info)
	}
	if len(item.Links) > 0 {
		d.s.Link(item.Links)
	}
	for _, bug := range item.KnownBugs {
		d.s.KnownBug(bug.URL, bug.Description)
	}
}

// Call switches to the call stage and picks up a browser fixture
func (d *Driver) Call(item TestItem) {
	d.setStage(types.StageCall)
	for _, name := range browserFixtures {
		if !slices.Contains(item.Fixtures, name) {
			continue
		}
		handle, ok := item.FixtureValues[name]
		if !ok || handle == nil || sameHandle(handle, d.s.Browser()) {
			continue
		}
		d.s.SetBrowser(handle)
	}
}

func (d *Driver) Teardown() {
	d.setStage(types.StageTeardown)
}

func (d *Driver) MakeReport(r PhaseReport) {
	d.s.ProcessReport(r)
}

// TestFinish files the test into the worker report and saves the report
func (d *Driver) TestFinish() error {
	status := types.TestStatusNone
	if rec := d.s.Record(); rec != nil {
		status = rec.Status
	}
	for _, end := range d.endObservers {
		end(status)
	}
	d.endObservers = d.endObservers[:0]

	finishErr := d.s.FinishTest()
	if _, err := d.s.SaveReport(); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return finishErr
}

// SessionFinish saves the final report of a worker. The main worker then
// merges all worker reports into the combined report.
func (d *Driver) SessionFinish(ctx context.Context, isController bool) error {
	if !isController {
		if _, err := d.s.Finish(); err != nil {
			return fmt.Errorf("failed to save final report: %w", err)
		}
	}
	if !d.isMain && !isController {
		return nil
	}
	agg, err := reporting.NewAggregator(reporting.AggregatorConfig{
		Store:   d.s.Store(),
		Lenient: d.cfg.LenientMerge,
		KeepTmp: d.cfg.KeepTmp,
		Log:     d.log,
	})
	if err != nil {
		return err
	}
	_, err = agg.Run(ctx)
	return err
}

func (d *Driver) setStage(stage types.Stage) {
	if err := d.s.SetStage(stage); err != nil {
		d.log.Warn("Unable to switch stage", "stage", stage, "err", err)
	}
}

func (d *Driver) applyParams(item TestItem) {
	if len(item.Params) == 0 {
		return
	}
	params := make(map[string]any, len(item.Params))
	for k, v := range item.Params {
		if d.s.cfg.HidePasswords && slices.Contains(passwordParams, k) {
			v = maskedValue
		}
		params[k] = v
	}

	values := make(map[string]types.Value, len(params))
	for _, k := range sortedKeys(params) {
		v, err := types.ValueOf(params[k])
		if err != nil {
			v = types.String(fmt.Sprint(params[k]))
		}
		values[k] = v
	}
	d.s.mu.Lock()
	if d.s.record != nil {
		d.s.record.Parameters = values
	}
	d.s.mu.Unlock()

	d.s.Info(map[string]any{"parameters": types.Map(values)})
}

func (d *Driver) applyMarkers(item TestItem) {
	var markers []map[string]string
	for _, m := range item.Markers {
		if hasAnyPrefix(m.Name, markerPrefixes) {
			continue
		}
		markers = append(markers, map[string]string{m.Name: m.value()})
	}
	if len(markers) > 0 {
		d.s.Info(map[string]any{"markers": markers})
	}
}

func sameHandle(a, b any) bool {
	if b == nil || !reflect.TypeOf(a).Comparable() || reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	return a == b
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// PassedPhase is a report for a stage that ended without error
func PassedPhase(stage types.Stage, d time.Duration) PhaseReport {
	return PhaseReport{Stage: stage, Outcome: types.OutcomePassed, Duration: d}
}
