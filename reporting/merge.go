// Package reporting merges worker run reports into a combined report and
// renders text summaries of it.
package reporting

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// Merger combines worker reports. The result does not depend on the order
// reports are passed in.
type Merger struct {
	log log.Logger
}

func NewMerger(logger log.Logger) *Merger {
	if logger == nil {
		logger = log.Root()
	}
	return &Merger{log: logger}
}

// Merge builds a fresh combined report from reports. Inputs are not modified
// but the combined report shares their test records.
func (m *Merger) Merge(reports ...*types.RunReport) *types.RunReport {
	ordered := make([]*types.RunReport, 0, len(reports))
	for _, r := range reports {
		if r != nil {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.Before(b.StartTime)
		}
		return a.ReportID < b.ReportID
	})

	combined := types.NewRunReport("", time.Time{})
	for _, r := range ordered {
		m.mergeOne(combined, r)
	}
	if !combined.StartTime.IsZero() && !combined.EndTime.IsZero() {
		combined.Duration = combined.EndTime.Sub(combined.StartTime)
	}
	return combined
}

func (m *Merger) mergeOne(combined, r *types.RunReport) {
	combined.ProjectName = m.firstWins("project name", combined.ProjectName, r.ProjectName, r.ReportID)
	combined.Env = m.firstWins("environment", combined.Env, r.Env, r.ReportID)
	combined.BaseURL = m.firstWins("base URL", combined.BaseURL, r.BaseURL, r.ReportID)
	for _, name := range sortedKeys(r.Links) {
		if combined.Links == nil {
			combined.Links = make(map[string]string, len(r.Links))
		}
		combined.Links[name] = m.firstWins("link "+name, combined.Links[name], r.Links[name], r.ReportID)
	}

	if !r.StartTime.IsZero() && (combined.StartTime.IsZero() || r.StartTime.Before(combined.StartTime)) {
		combined.StartTime = r.StartTime
	}
	if r.EndTime.After(combined.EndTime) {
		combined.EndTime = r.EndTime
	}

	if r.Worker != "" {
		m.addReportID(combined, r.Worker, r.ReportID)
	}
	workers := make([]string, 0, len(r.ReportIDs))
	for w := range r.ReportIDs {
		workers = append(workers, w)
	}
	sort.Strings(workers)
	for _, w := range workers {
		m.addReportID(combined, w, r.ReportIDs[w])
	}

	combined.Results.Add(r.Results)

	for _, name := range moduleNames(r) {
		src := r.Modules[name]
		if src == nil {
			continue
		}
		dst := combined.Module(name)
		dst.Results.Add(src.Results)
		for _, g := range src.Tests {
			group := dst.Group(g.Name)
			group.Records = append(group.Records, g.Records...)
		}
	}
}

func (m *Merger) firstWins(field, current, next, reportID string) string {
	if current == "" {
		return next
	}
	if next != "" && next != current {
		m.log.Warn("Conflicting value while merging reports, keeping the first one",
			"field", field, "kept", current, "dropped", next, "report", reportID)
	}
	return current
}

func (m *Merger) addReportID(combined *types.RunReport, worker, reportID string) {
	if existing, ok := combined.ReportIDs[worker]; ok && existing != reportID {
		m.log.Warn("Worker appears in more than one report", "worker", worker,
			"kept", existing, "dropped", reportID)
		return
	}
	combined.ReportIDs[worker] = reportID
}

// moduleNames returns the modules of r in recorded order, followed by any
// module missing from the order list sorted by name
func moduleNames(r *types.RunReport) []string {
	names := make([]string, 0, len(r.Modules))
	seen := make(map[string]bool, len(r.Modules))
	for _, name := range r.ModuleOrder {
		if _, ok := r.Modules[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range r.Modules {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	slices.SortFunc(rest, strings.Compare)
	return append(names, rest...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
