package reporting

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

// OverallStatus reduces a set of counters to a single status
func OverallStatus(c types.Counters) types.TestStatus {
	switch {
	case c.Broken > 0:
		return types.TestStatusBroken
	case c.Failed > 0:
		return types.TestStatusFailed
	case c.Passed > 0:
		return types.TestStatusPassed
	case c.Skipped > 0:
		return types.TestStatusSkipped
	}
	return types.TestStatusNone
}

// SummaryTitle names a run by project and environment
func SummaryTitle(r *types.RunReport) string {
	title := r.ProjectName
	if title == "" {
		title = "Test run"
	}
	if r.Env != "" {
		title += " (" + r.Env + ")"
	}
	return title
}

// SummaryFormatter renders the per-module counters of a run report as a table
type SummaryFormatter struct {
	title      string
	showTests  bool
	showErrors bool
}

func NewSummaryFormatter(title string, showTests, showErrors bool) *SummaryFormatter {
	return &SummaryFormatter{title: title, showTests: showTests, showErrors: showErrors}
}

func (f *SummaryFormatter) Format(r *types.RunReport) (string, error) {
	var buf bytes.Buffer

	t := table.NewWriter()
	t.SetOutputMirror(&buf)
	t.SetTitle(f.title)
	t.AppendHeader(table.Row{"MODULE", "TEST", "PASSED", "FAILED", "BROKEN", "SKIPPED", "STATUS"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "MODULE", AutoMerge: true, WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "TEST", WidthMax: 120, WidthMaxEnforcer: text.WrapSoft},
		{Name: "PASSED", Align: text.AlignRight},
		{Name: "FAILED", Align: text.AlignRight},
		{Name: "BROKEN", Align: text.AlignRight},
		{Name: "SKIPPED", Align: text.AlignRight},
	})

	for _, name := range moduleNames(r) {
		m := r.Modules[name]
		if m == nil {
			continue
		}
		t.AppendRow(counterRow(name, "", m.Results))
		if !f.showTests {
			continue
		}
		for _, g := range m.Tests {
			var c types.Counters
			for _, rec := range g.Records {
				c.Inc(rec.Status)
			}
			t.AppendRow(counterRow(name, "├── "+g.Name, c))
		}
	}

	switch OverallStatus(r.Results) {
	case types.TestStatusFailed, types.TestStatusBroken:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	case types.TestStatusSkipped:
		t.SetStyle(table.StyleColoredBlackOnYellowWhite)
	case types.TestStatusPassed:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	default:
		t.SetStyle(table.StyleDefault)
	}

	footer := counterRow("TOTAL", formatDuration(r.Duration), r.Results)
	t.AppendFooter(footer)
	t.Render()

	if f.showErrors {
		f.writeErrors(&buf, r)
	}
	return buf.String(), nil
}

func counterRow(module, test string, c types.Counters) table.Row {
	return table.Row{module, test, c.Passed, c.Failed, c.Broken, c.Skipped, string(OverallStatus(c))}
}

func (f *SummaryFormatter) writeErrors(buf *bytes.Buffer, r *types.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(buf)
	t.SetTitle("Failures")
	t.AppendHeader(table.Row{"TEST", "STATUS", "ERROR"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "TEST", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
		{Name: "ERROR", WidthMax: 100, WidthMaxEnforcer: text.WrapSoft},
	})
	rows := 0
	for _, name := range moduleNames(r) {
		for _, g := range r.Modules[name].Tests {
			for _, rec := range g.Records {
				if rec.Status != types.TestStatusFailed && rec.Status != types.TestStatusBroken {
					continue
				}
				msg, _, _ := strings.Cut(rec.Error, "\n")
				t.AppendRow(table.Row{name + "::" + rec.Name, string(rec.Status), msg})
				rows++
			}
		}
	}
	if rows > 0 {
		t.Render()
	}
}

// ReportWriter defines the interface for writing reports to various destinations
type ReportWriter interface {
	Write(content string) error
}

// FileWriter writes reports to a file
type FileWriter struct {
	path string
}

func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

func (fw *FileWriter) Write(content string) error {
	return os.WriteFile(fw.path, []byte(content), 0644)
}

// StdoutWriter writes reports to stdout
type StdoutWriter struct{}

func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{}
}

func (sw *StdoutWriter) Write(content string) error {
	_, err := fmt.Print(content)
	return err
}
