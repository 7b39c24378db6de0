package types

import (
	"strings"
	"time"
)

// TestRecord is the accumulated report of one test. Step data is referenced
// by id only, one tree per attempt.
type TestRecord struct {
	Module         string            `json:"module"`
	Name           string            `json:"name"`
	OriginalName   string            `json:"original_name"`
	Status         TestStatus        `json:"status"`
	StartTime      time.Time         `json:"start_time"`
	Duration       time.Duration     `json:"duration"`
	Description    string            `json:"description,omitempty"`
	Info           Info              `json:"info,omitempty"`
	Links          map[string]string `json:"links,omitempty"`
	Parameters     map[string]Value  `json:"parameters,omitempty"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
	KnownBugs      []KnownBug        `json:"known_bugs,omitempty"`
	StepsIDs       []string          `json:"steps_ids"`
	Error          string            `json:"error,omitempty"`
	Stacktrace     string            `json:"stacktrace,omitempty"`
	ExecutionCount int               `json:"execution_count"`
	Retry          bool              `json:"retry,omitempty"`
}

// NewTestRecord starts a record with status NONE
func NewTestRecord(module, name, originalName string) *TestRecord {
	return &TestRecord{
		Module:       module,
		Name:         name,
		OriginalName: originalName,
		Status:       TestStatusNone,
		StartTime:    time.Now(),
		StepsIDs:     []string{},
	}
}

// AddDescription appends text on a new line
func (r *TestRecord) AddDescription(text string) {
	if r.Description == "" {
		r.Description = text
		return
	}
	r.Description = strings.Join([]string{r.Description, text}, "\n")
}

func (r *TestRecord) AddInfo(info Info) {
	if r.Info == nil {
		r.Info = make(Info, len(info))
	}
	r.Info.Merge(info)
}

func (r *TestRecord) AddLink(name, url string) {
	if r.Links == nil {
		r.Links = make(map[string]string)
	}
	r.Links[name] = url
}

func (r *TestRecord) AddAttachment(a Attachment) {
	r.Attachments = append(r.Attachments, a)
}

func (r *TestRecord) AddKnownBug(bug KnownBug) {
	r.KnownBugs = append(r.KnownBugs, bug)
}

// AddStepsID links a persisted step tree to the record
func (r *TestRecord) AddStepsID(id string) {
	r.StepsIDs = append(r.StepsIDs, id)
}

// ResetNarrative clears the fields that only describe a single attempt
func (r *TestRecord) ResetNarrative() {
	r.Description = ""
	r.Info = nil
	r.KnownBugs = nil
}
