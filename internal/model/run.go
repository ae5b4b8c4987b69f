package model

import (
	"fmt"
	"time"
)

// Test run statuses.
const (
	StatusPending = "pending"
	StatusRunning = "running"
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusError   = "error"
)

// Metadata keys stored on a TestRun.
const (
	MetaCustomVariables = "custom_variables"
	MetaExecutionMode   = "execution_mode"
	MetaConversationEnd = "conversation_ended"
	MetaTurns           = "turns"
)

// TestRun is one execution of a Test against a dataset row or custom variables.
type TestRun struct {
	ID            string `json:"id"`
	TestName      string `json:"test_name"`
	PromptSlug    string `json:"prompt_slug"`
	VersionNumber int    `json:"version_number"`
	// DatasetRowID is empty for runs driven by custom variables.
	DatasetRowID string `json:"dataset_row_id,omitempty"`

	Status string `json:"status"`
	// Passed and Score are nil until the run completes.
	Passed       *bool    `json:"passed,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	// Messages is the full conversation (single-turn runs hold one exchange).
	Messages             []Message `json:"messages,omitempty"`
	RenderedSystemPrompt string    `json:"rendered_system_prompt,omitempty"`
	RenderedUserPrompt   string    `json:"rendered_user_prompt,omitempty"`

	Usage           TokenUsage `json:"usage"`
	Model           string     `json:"model,omitempty"`
	Provider        string     `json:"provider,omitempty"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`

	Evaluations []Evaluation `json:"evaluations,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Evaluation is the outcome of one evaluator applied to a run.
type Evaluation struct {
	ID           string `json:"id"`
	TestRunID    string `json:"test_run_id"`
	EvaluatorKey string `json:"evaluator_key"`
	// Score is on a 0..100 scale.
	Score     float64        `json:"score"`
	Passed    bool           `json:"passed"`
	Feedback  string         `json:"feedback,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewTestRun returns a pending run.
func NewTestRun(testName, promptSlug string, version int, rowID string) *TestRun {
	return &TestRun{
		TestName:      testName,
		PromptSlug:    promptSlug,
		VersionNumber: version,
		DatasetRowID:  rowID,
		Status:        StatusPending,
		Metadata:      map[string]any{},
		CreatedAt:     time.Now().UTC(),
	}
}

// IsTerminal reports whether the run has finished.
func (r *TestRun) IsTerminal() bool {
	switch r.Status {
	case StatusPassed, StatusFailed, StatusError:
		return true
	}
	return false
}

// MarkRunning moves a pending run to running.
func (r *TestRun) MarkRunning() error {
	if r.Status != StatusPending {
		return fmt.Errorf("test run %s: cannot start from status %q", r.ID, r.Status)
	}
	r.Status = StatusRunning
	return nil
}

// Complete records the aggregated outcome and moves the run to passed or failed.
func (r *TestRun) Complete(passed bool, score *float64) error {
	if r.Status != StatusRunning {
		return fmt.Errorf("test run %s: cannot complete from status %q", r.ID, r.Status)
	}
	r.Passed = &passed
	r.Score = score
	if passed {
		r.Status = StatusPassed
	} else {
		r.Status = StatusFailed
	}
	r.finish()
	return nil
}

// Fail moves a pending or running run to error.
func (r *TestRun) Fail(cause error) error {
	if r.IsTerminal() {
		return fmt.Errorf("test run %s: cannot fail from status %q", r.ID, r.Status)
	}
	passed := false
	r.Passed = &passed
	r.Status = StatusError
	if cause != nil {
		r.ErrorMessage = cause.Error()
	}
	r.finish()
	return nil
}

func (r *TestRun) finish() {
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.ExecutionTimeMs = now.Sub(r.CreatedAt).Milliseconds()
}

// CustomVariables returns the custom variables stored in run metadata.
func (r *TestRun) CustomVariables() map[string]any {
	if r.Metadata == nil {
		return nil
	}
	vars, _ := r.Metadata[MetaCustomVariables].(map[string]any)
	return vars
}

// LastAssistantMessage returns the final assistant message content.
func (r *TestRun) LastAssistantMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleAssistant {
			return r.Messages[i].Content
		}
	}
	return ""
}
