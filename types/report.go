package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const ReportIDPrefix = "report_"

// Counters tallies test records by final status
type Counters struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Broken  int `json:"broken"`
	Skipped int `json:"skipped"`
	None    int `json:"none"`
}

// Inc counts one record of the given status
func (c *Counters) Inc(status TestStatus) {
	switch status {
	case TestStatusPassed:
		c.Passed++
	case TestStatusFailed:
		c.Failed++
	case TestStatusBroken:
		c.Broken++
	case TestStatusSkipped:
		c.Skipped++
	default:
		c.None++
	}
}

// Add sums other into c
func (c *Counters) Add(other Counters) {
	c.Passed += other.Passed
	c.Failed += other.Failed
	c.Broken += other.Broken
	c.Skipped += other.Skipped
	c.None += other.None
}

func (c Counters) Total() int {
	return c.Passed + c.Failed + c.Broken + c.Skipped + c.None
}

// TestGroup holds every record sharing one parametrized test name
type TestGroup struct {
	Name    string        `json:"name"`
	Records []*TestRecord `json:"records"`
}

// ModuleReport is the per-module part of a run report. Test groups keep the
// order in which their names were first seen.
type ModuleReport struct {
	Results Counters     `json:"results"`
	Tests   []*TestGroup `json:"tests"`

	index map[string]*TestGroup
}

func NewModuleReport() *ModuleReport {
	return &ModuleReport{Tests: []*TestGroup{}, index: make(map[string]*TestGroup)}
}

// Group returns the group for name, creating it when missing
func (m *ModuleReport) Group(name string) *TestGroup {
	if m.index == nil {
		m.reindex()
	}
	if g, ok := m.index[name]; ok {
		return g
	}
	g := &TestGroup{Name: name}
	m.Tests = append(m.Tests, g)
	m.index[name] = g
	return g
}

// Records returns the records stored under name
func (m *ModuleReport) Records(name string) []*TestRecord {
	if m.index == nil {
		m.reindex()
	}
	if g, ok := m.index[name]; ok {
		return g.Records
	}
	return nil
}

func (m *ModuleReport) reindex() {
	m.index = make(map[string]*TestGroup, len(m.Tests))
	for _, g := range m.Tests {
		m.index[g.Name] = g
	}
}

func (m *ModuleReport) UnmarshalJSON(data []byte) error {
	type plain ModuleReport
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*m = ModuleReport(p)
	if m.Tests == nil {
		m.Tests = []*TestGroup{}
	}
	m.reindex()
	return nil
}

// RunReport is the rollup of every test record of one worker, or of a whole
// run once merged
type RunReport struct {
	ReportID    string                   `json:"report_id"`
	ProjectName string                   `json:"project_name,omitempty"`
	Env         string                   `json:"env,omitempty"`
	BaseURL     string                   `json:"base_url,omitempty"`
	// Links are project-wide named URLs shown with the report
	Links       map[string]string        `json:"links,omitempty"`
	Worker      string                   `json:"worker,omitempty"`
	StartTime   time.Time                `json:"start_time"`
	EndTime     time.Time                `json:"end_time"`
	Duration    time.Duration            `json:"duration"`
	ReportIDs   map[string]string        `json:"report_ids"`
	Results     Counters                 `json:"results"`
	Modules     map[string]*ModuleReport `json:"modules"`
	// ModuleOrder lists module names in first-seen order
	ModuleOrder []string `json:"module_order"`
}

// NewRunReport creates an empty report started at now
func NewRunReport(worker string, now time.Time) *RunReport {
	return &RunReport{
		ReportID:    ReportIDPrefix + uuid.NewString(),
		Worker:      worker,
		StartTime:   now,
		ReportIDs:   map[string]string{},
		Modules:     map[string]*ModuleReport{},
		ModuleOrder: []string{},
	}
}

// Module returns the module report for name, creating it when missing
func (r *RunReport) Module(name string) *ModuleReport {
	if r.Modules == nil {
		r.Modules = map[string]*ModuleReport{}
	}
	m, ok := r.Modules[name]
	if !ok {
		m = NewModuleReport()
		r.Modules[name] = m
		r.ModuleOrder = append(r.ModuleOrder, name)
	}
	return m
}

// AddResult counts a finished record and files it under its module and
// parametrized name
func (r *RunReport) AddResult(rec *TestRecord) {
	r.Results.Inc(rec.Status)
	m := r.Module(rec.Module)
	m.Results.Inc(rec.Status)
	g := m.Group(rec.Name)
	g.Records = append(g.Records, rec)
}

// Finish stamps the end time and duration
func (r *RunReport) Finish(now time.Time) {
	r.EndTime = now
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// Tally recounts every contained record. It equals Results for any report
// built through AddResult or a merge.
func (r *RunReport) Tally() Counters {
	var c Counters
	for _, m := range r.Modules {
		for _, g := range m.Tests {
			for _, rec := range g.Records {
				c.Inc(rec.Status)
			}
		}
	}
	return c
}
