package reporting

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func newMerger() *Merger {
	return NewMerger(log.NewLogger(log.DiscardHandler()))
}

func workerReport(worker string, start, end time.Time, records ...*types.TestRecord) *types.RunReport {
	r := types.NewRunReport(worker, start)
	for _, rec := range records {
		r.AddResult(rec)
	}
	r.Finish(end)
	return r
}

func rec(module, name string, status types.TestStatus) *types.TestRecord {
	r := types.NewTestRecord(module, name, name)
	r.Status = status
	return r
}

func TestMerge_TwoWorkers(t *testing.T) {
	w1 := workerReport("gw0", t0, t0.Add(time.Minute),
		rec("tests.m1", "test_a", types.TestStatusPassed),
		rec("tests.m1", "test_b", types.TestStatusPassed),
	)
	w2 := workerReport("gw1", t0.Add(5*time.Second), t0.Add(2*time.Minute),
		rec("tests.m1", "test_c", types.TestStatusFailed),
		rec("tests.m2", "test_d", types.TestStatusPassed),
	)

	combined := newMerger().Merge(w1, w2)

	assert.Equal(t, types.Counters{Passed: 3, Failed: 1}, combined.Results)
	assert.Equal(t, types.Counters{Passed: 2, Failed: 1}, combined.Modules["tests.m1"].Results)
	assert.Equal(t, types.Counters{Passed: 1}, combined.Modules["tests.m2"].Results)
	assert.Equal(t, combined.Results, combined.Tally())

	assert.Equal(t, t0, combined.StartTime)
	assert.Equal(t, t0.Add(2*time.Minute), combined.EndTime)
	assert.Equal(t, 2*time.Minute, combined.Duration)
	assert.Equal(t, map[string]string{"gw0": w1.ReportID, "gw1": w2.ReportID}, combined.ReportIDs)
	assert.NotEqual(t, w1.ReportID, combined.ReportID)
	assert.NotEqual(t, w2.ReportID, combined.ReportID)
}

func summarize(r *types.RunReport) map[string]map[string]int {
	out := map[string]map[string]int{}
	for name, m := range r.Modules {
		out[name] = map[string]int{}
		for _, g := range m.Tests {
			out[name][g.Name] = len(g.Records)
		}
	}
	return out
}

func TestMerge_Commutative(t *testing.T) {
	a := workerReport("gw0", t0.Add(time.Second), t0.Add(time.Minute),
		rec("tests.m2", "test_x", types.TestStatusBroken),
		rec("tests.m1", "test_a", types.TestStatusPassed),
	)
	a.ProjectName = "shop"
	b := workerReport("gw1", t0, t0.Add(30*time.Second),
		rec("tests.m1", "test_a", types.TestStatusFailed),
		rec("tests.m3", "test_y", types.TestStatusSkipped),
	)
	b.ProjectName = "shop"
	b.Env = "stage"

	m := newMerger()
	ab := m.Merge(a, b)
	ba := m.Merge(b, a)

	assert.Equal(t, ab.Results, ba.Results)
	assert.Equal(t, ab.ModuleOrder, ba.ModuleOrder)
	assert.Equal(t, summarize(ab), summarize(ba))
	for name := range ab.Modules {
		assert.Equal(t, ab.Modules[name].Results, ba.Modules[name].Results)
		require.Equal(t, len(ab.Modules[name].Tests), len(ba.Modules[name].Tests))
		for i, g := range ab.Modules[name].Tests {
			other := ba.Modules[name].Tests[i]
			assert.Equal(t, g.Name, other.Name)
			for j := range g.Records {
				assert.Same(t, g.Records[j], other.Records[j])
			}
		}
	}
	assert.Equal(t, ab.StartTime, ba.StartTime)
	assert.Equal(t, ab.EndTime, ba.EndTime)
	assert.Equal(t, ab.ReportIDs, ba.ReportIDs)
	assert.Equal(t, "stage", ab.Env)
	assert.Equal(t, "stage", ba.Env)
}

func TestMerge_Associative(t *testing.T) {
	a := workerReport("gw0", t0, t0.Add(time.Minute), rec("m", "t1", types.TestStatusPassed))
	b := workerReport("gw1", t0.Add(time.Second), t0.Add(time.Minute), rec("m", "t1", types.TestStatusFailed))
	c := workerReport("gw2", t0.Add(2*time.Second), t0.Add(3*time.Minute), rec("n", "t2", types.TestStatusSkipped))

	m := newMerger()
	flat := m.Merge(a, b, c)
	nested := m.Merge(m.Merge(a, b), c)

	assert.Equal(t, flat.Results, nested.Results)
	assert.Equal(t, summarize(flat), summarize(nested))
	assert.Equal(t, flat.ReportIDs, nested.ReportIDs)
	assert.Equal(t, flat.Duration, nested.Duration)
}

func TestMerge_Additivity(t *testing.T) {
	tests := []struct {
		name      string
		a, b      []*types.TestRecord
		wantTests map[string]int
	}{
		{
			name:      "disjoint names",
			a:         []*types.TestRecord{rec("tests.m1", "test_a", types.TestStatusPassed)},
			b:         []*types.TestRecord{rec("tests.m1", "test_b", types.TestStatusPassed), rec("tests.m1", "test_c", types.TestStatusPassed)},
			wantTests: map[string]int{"test_a": 1, "test_b": 1, "test_c": 1},
		},
		{
			name:      "same name keeps both records",
			a:         []*types.TestRecord{rec("tests.m1", "test_a[1]", types.TestStatusFailed)},
			b:         []*types.TestRecord{rec("tests.m1", "test_a[1]", types.TestStatusPassed)},
			wantTests: map[string]int{"test_a[1]": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			combined := newMerger().Merge(
				workerReport("gw0", t0, t0.Add(time.Second), tt.a...),
				workerReport("gw1", t0, t0.Add(time.Second), tt.b...),
			)
			assert.Equal(t, tt.wantTests, summarize(combined)["tests.m1"])
			assert.Equal(t, len(tt.a)+len(tt.b), combined.Modules["tests.m1"].Results.Total())
		})
	}
}

func TestMerge_FirstValueWins(t *testing.T) {
	a := workerReport("gw0", t0, t0.Add(time.Second))
	a.BaseURL = "https://a.example.com"
	b := workerReport("gw1", t0.Add(time.Second), t0.Add(2*time.Second))
	b.BaseURL = "https://b.example.com"
	b.ProjectName = "only-b"
	a.Links = map[string]string{"board": "https://jira/a"}
	b.Links = map[string]string{"board": "https://jira/b", "ci": "https://ci/run"}

	combined := newMerger().Merge(b, a)
	assert.Equal(t, "https://a.example.com", combined.BaseURL)
	assert.Equal(t, "only-b", combined.ProjectName)
	assert.Equal(t, map[string]string{"board": "https://jira/a", "ci": "https://ci/run"}, combined.Links)
}

func TestMerge_Empty(t *testing.T) {
	combined := newMerger().Merge()
	assert.Equal(t, types.Counters{}, combined.Results)
	assert.Empty(t, combined.Modules)
	assert.True(t, combined.StartTime.IsZero())
	assert.Zero(t, combined.Duration)

	combined = newMerger().Merge(nil)
	assert.Empty(t, combined.ReportIDs)
}

func TestMerge_ModulesWithoutOrder(t *testing.T) {
	r := workerReport("gw0", t0, t0.Add(time.Second), rec("b", "t", types.TestStatusPassed))
	r.Module("a").Group("t").Records = append(r.Module("a").Group("t").Records, rec("a", "t", types.TestStatusPassed))
	r.ModuleOrder = nil

	assert.Equal(t, []string{"a", "b"}, moduleNames(r))
}
