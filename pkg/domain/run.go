package domain

import (
	"errors"
	"strings"
	"time"
)

var ErrEmptyTask = errors.New("task is required")

// RunRequest is the inbound run-case payload.
type RunRequest struct {
	Task            string             `json:"task" yaml:"task"`
	SuccessCriteria []SuccessCriterion `json:"success_criteria,omitempty" yaml:"success_criteria,omitempty" binding:"omitempty,dive"`
	// Headless is a pointer so an omitted field defaults to true.
	Headless *bool          `json:"headless,omitempty" yaml:"headless,omitempty"`
	Model    string         `json:"model,omitempty" yaml:"model,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

func (r RunRequest) IsHeadless() bool {
	if r.Headless == nil {
		return true
	}
	return *r.Headless
}

func (r RunRequest) Validate() error {
	if strings.TrimSpace(r.Task) == "" {
		return ErrEmptyTask
	}
	for _, c := range r.SuccessCriteria {
		if !c.Type.Valid() {
			return errors.New("unknown success criterion type: " + string(c.Type))
		}
		if c.Value == "" {
			return errors.New("success criterion value is required")
		}
	}
	return nil
}

const (
	MessageCompleted = "run completed"
	MessageFailed    = "run failed"
)

type Verdict struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func NewVerdict(ok bool) Verdict {
	if ok {
		return Verdict{OK: true, Message: MessageCompleted}
	}
	return Verdict{OK: false, Message: MessageFailed}
}

type RunResponse struct {
	RunID      string         `json:"run_id"`
	OK         bool           `json:"ok"`
	Message    string         `json:"message"`
	ReportPath string         `json:"report_path"`
	Raw        map[string]any `json:"raw"`
}

// RunRecord is the stored summary of one run; the report file holds the full payload.
type RunRecord struct {
	ID          string             `json:"id"`
	Task        string             `json:"task"`
	Criteria    []SuccessCriterion `json:"criteria,omitempty"`
	OK          bool               `json:"ok"`
	Message     string             `json:"message"`
	ReportPath  string             `json:"reportPath"`
	Transport   string             `json:"transport"`
	Screenshots []string           `json:"screenshots,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  time.Time          `json:"finishedAt"`
}
