// File: api/schemas/schemas.go

// Package schemas defines the shared result envelope written by the suite
// runner and serialized by the reporting layer.
package schemas

import "time"

// CaseStatus is the terminal state of one executed scenario.
type CaseStatus string

const (
	StatusPassed  CaseStatus = "passed"
	StatusFailed  CaseStatus = "failed"
	StatusSkipped CaseStatus = "skipped"
)

// CheckResult is one named assertion inside a case.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ReadinessSummary captures how page preparation went for a case.
type ReadinessSummary struct {
	Ready               bool     `json:"ready"`
	Attempts            int      `json:"attempts"`
	DisclaimerDismissed bool     `json:"disclaimer_dismissed"`
	CaptchaDetected     bool     `json:"captcha_detected"`
	CaptchaCleared      bool     `json:"captcha_cleared"`
	CaptchaTypes        []string `json:"captcha_types,omitempty"`
}

// ElementSummary records which fallback selectors resolved the chat surface.
type ElementSummary struct {
	InputSelector  string `json:"input_selector,omitempty"`
	SendSelector   string `json:"send_selector,omitempty"`
	WidgetSelector string `json:"widget_selector,omitempty"`
}

// CaseResult is the outcome of one scenario execution. A failure is data,
// not an error: the run always continues past it.
type CaseResult struct {
	ScenarioID  string     `json:"scenario_id"`
	Category    string     `json:"category"`
	Kind        string     `json:"kind"`
	Language    string     `json:"language"`
	Description string     `json:"description"`
	Status      CaseStatus `json:"status"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`

	Readiness *ReadinessSummary `json:"readiness,omitempty"`
	Elements  *ElementSummary   `json:"elements,omitempty"`

	Checks []CheckResult `json:"checks,omitempty"`
	Notes  []string      `json:"notes,omitempty"`

	LastResponse   string   `json:"last_response,omitempty"`
	ConsoleErrors  []string `json:"console_errors,omitempty"`
	ScreenshotPath string   `json:"screenshot_path,omitempty"`
}

// Failed reports whether any check in the case failed.
func (c *CaseResult) Failed() bool {
	for _, check := range c.Checks {
		if !check.Passed {
			return true
		}
	}
	return c.Status == StatusFailed
}

// Summary tallies case outcomes for a run.
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// RunReport is the top level report envelope for one suite run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Tool       string    `json:"tool"`
	Version    string    `json:"version"`
	Target     string    `json:"target"`
	Language   string    `json:"language,omitempty"`
	Categories []string  `json:"categories,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary Summary      `json:"summary"`
	Cases   []CaseResult `json:"cases"`
}

// Tally recomputes the summary from the collected cases.
func (r *RunReport) Tally() {
	r.Summary = Summary{Total: len(r.Cases)}
	for i := range r.Cases {
		switch r.Cases[i].Status {
		case StatusPassed:
			r.Summary.Passed++
		case StatusFailed:
			r.Summary.Failed++
		case StatusSkipped:
			r.Summary.Skipped++
		}
	}
}
