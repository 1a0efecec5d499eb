package model

import "time"

// StepStatus is the outcome of one pipeline step.
type StepStatus string

const (
	StepStatusComplete StepStatus = "complete"
	StepStatusFailed   StepStatus = "failed"
	StepStatusSkipped  StepStatus = "skipped"
)

// Pipeline step names.
const (
	StepFetch   = "fetch"
	StepExtract = "extract"
	StepReport  = "report"
	StepDedup   = "dedup"
	StepNotify  = "notify"
)

// StepResult holds the outcome of a pipeline step.
type StepResult struct {
	Name     string     `json:"name"`
	Status   StepStatus `json:"status"`
	Duration int64      `json:"duration_ms"`
	Detail   string     `json:"detail,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// RunResult summarizes one pipeline invocation.
type RunResult struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Steps      []StepResult `json:"steps"`

	// FetchedPath is the cached page the fetch step returned, if any.
	FetchedPath string `json:"fetched_path,omitempty"`
	Pages       int    `json:"pages"`
	Extracted   int    `json:"extracted"`
	Unique      int    `json:"unique"`
	Fresh       int    `json:"fresh"`
	Seen        int    `json:"seen"`
	Delivered   int    `json:"delivered"`
	Failed      int    `json:"failed"`
	ReportPath  string `json:"report_path,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Step returns the named step result, or nil when the step did not run.
func (r *RunResult) Step(name string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}
