package reporting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/list"

	"github.com/ethereum-optimism/infra/op-steplog/types"
)

// StepListFormatter renders one step tree as an indented list
type StepListFormatter struct {
	showInfo bool
}

func NewStepListFormatter(showInfo bool) *StepListFormatter {
	return &StepListFormatter{showInfo: showInfo}
}

func (f *StepListFormatter) Format(tree *types.StepTree) (string, error) {
	if tree == nil {
		return "", fmt.Errorf("nil step tree")
	}
	l := list.NewWriter()
	l.SetStyle(list.StyleConnectedLight)

	for _, stage := range []types.Stage{types.StageSetup, types.StageCall, types.StageTeardown} {
		roots := tree.Roots(stage)
		if len(roots) == 0 {
			continue
		}
		l.AppendItem(strings.ToUpper(string(stage)))
		l.Indent()
		f.appendChildren(l, roots)
		l.UnIndent()
	}
	return l.Render(), nil
}

func (f *StepListFormatter) appendChildren(l list.Writer, children []types.Child) {
	for _, c := range children {
		switch {
		case c.Print != nil:
			l.AppendItem("> " + c.Print.Text)
		case c.Step != nil:
			f.appendStep(l, c.Step)
		}
	}
}

func (f *StepListFormatter) appendStep(l list.Writer, s *types.Step) {
	l.AppendItem(stepLine(s))
	l.Indent()
	if s.Expected != "" {
		l.AppendItem("expected: " + s.Expected)
	}
	if s.Error != nil {
		l.AppendItem("error: " + s.Error.Message)
	}
	if f.showInfo {
		keys := make([]string, 0, len(s.Info))
		for k := range s.Info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			l.AppendItem(fmt.Sprintf("%s: %s", k, s.Info[k]))
		}
		for _, a := range s.Attachments {
			l.AppendItem(fmt.Sprintf("attachment: %s (%s)", a.File, a.MimeType))
		}
		for _, b := range s.KnownBugs {
			l.AppendItem("known bug: " + strings.TrimSpace(b.URL+" "+b.Description))
		}
	}
	f.appendChildren(l, s.Children)
	l.UnIndent()
}

func stepLine(s *types.Step) string {
	status := s.Status
	if status == "" {
		status = types.StepStatusNone
	}
	return fmt.Sprintf("[%s] %s (%s)", strings.ToUpper(string(status)), s.Title, formatDuration(s.Duration))
}
