package types

import (
	"strings"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/google/uuid"
)

const (
	StepIDPrefix  = "step_"
	PrintIDPrefix = "print_"

	// MaxTraceLines bounds the stack text kept on a StepError
	MaxTraceLines = 40
)

// Attachment references a file written to the attachments directory
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"type"`
	File     string `json:"file"`
}

// KnownBug links a test or step to an external defect record
type KnownBug struct {
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// StepError is the structured error recorded on the first failing step of a
// failure chain
type StepError struct {
	Message string `json:"message"`
	Trace   string `json:"trace,omitempty"`
}

// NewStepError builds a StepError from err and a captured trace. ANSI escapes
// are stripped, webdriver-style "Stacktrace:" tails are cut from the message
// and the trace keeps at most MaxTraceLines lines.
func NewStepError(err error, trace string) *StepError {
	if err == nil {
		return nil
	}
	msg, _, _ := strings.Cut(err.Error(), "Stacktrace")
	return &StepError{
		Message: strings.TrimSpace(stripansi.Strip(msg)),
		Trace:   TruncateTrace(stripansi.Strip(trace), MaxTraceLines),
	}
}

// TruncateTrace keeps the first n lines of trace. Go traces list the
// innermost frame first.
func TruncateTrace(trace string, n int) string {
	trace = strings.TrimSpace(trace)
	if trace == "" {
		return ""
	}
	lines := strings.Split(trace, "\n")
	if len(lines) > n {
		lines = append(lines[:n:n], "...")
	}
	return strings.Join(lines, "\n")
}

// Print is a message emitted by a test, recorded in place among steps
type Print struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	MimeType string `json:"type"`
	ParentID string `json:"parent_id,omitempty"`
}

// NewPrint creates a print entry with a fresh id
func NewPrint(text, mimeType string) *Print {
	return &Print{
		ID:       PrintIDPrefix + uuid.NewString(),
		Text:     text,
		MimeType: mimeType,
	}
}

// Child is one ordered entry below a step or at the root of a stage:
// exactly one of Step or Print is set.
type Child struct {
	Step  *Step  `json:"step,omitempty"`
	Print *Print `json:"print,omitempty"`
}

// ID returns the id of whichever entry the child holds
func (c Child) ID() string {
	switch {
	case c.Step != nil:
		return c.Step.ID
	case c.Print != nil:
		return c.Print.ID
	}
	return ""
}

// Step is one recorded unit of test work
type Step struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Expected    string            `json:"expected,omitempty"`
	Status      StepStatus        `json:"status,omitempty"`
	ParentID    string            `json:"parent_id,omitempty"`
	Error       *StepError        `json:"error,omitempty"`
	Info        Info              `json:"info,omitempty"`
	Links       map[string]string `json:"links,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	KnownBugs   []KnownBug        `json:"known_bugs,omitempty"`
	Children    []Child           `json:"steps,omitempty"`
	StartTime   time.Time         `json:"start_time"`
	Duration    time.Duration     `json:"duration"`
}

// NewStep allocates a step with a fresh id and no status
func NewStep(title, expected string) *Step {
	return &Step{
		ID:        StepIDPrefix + uuid.NewString(),
		Title:     title,
		Expected:  expected,
		StartTime: time.Now(),
	}
}

func (s *Step) AddAttachment(a Attachment) {
	s.Attachments = append(s.Attachments, a)
}

// AddInfo merges info by key, see Info.Add
func (s *Step) AddInfo(info Info) {
	if s.Info == nil {
		s.Info = make(Info, len(info))
	}
	s.Info.Merge(info)
}

func (s *Step) AddLink(name, url string) {
	if s.Links == nil {
		s.Links = make(map[string]string)
	}
	s.Links[name] = url
}

func (s *Step) AddKnownBug(bug KnownBug) {
	s.KnownBugs = append(s.KnownBugs, bug)
}

// AddChild nests child below s
func (s *Step) AddChild(child *Step) {
	child.ParentID = s.ID
	s.Children = append(s.Children, Child{Step: child})
}

// AddPrint records p in order among the children of s
func (s *Step) AddPrint(p *Print) {
	p.ParentID = s.ID
	s.Children = append(s.Children, Child{Print: p})
}

// SubSteps returns the nested steps of s, skipping prints
func (s *Step) SubSteps() []*Step {
	var out []*Step
	for _, c := range s.Children {
		if c.Step != nil {
			out = append(out, c.Step)
		}
	}
	return out
}

// Finalize sets the final status and duration of the step
func (s *Step) Finalize(status StepStatus) {
	s.Status = status
	s.Duration = time.Since(s.StartTime)
}

// IsRoot reports whether the step has no parent
func (s *Step) IsRoot() bool {
	return s.ParentID == ""
}
