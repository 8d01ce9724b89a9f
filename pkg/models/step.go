package models

import "time"

// StepStatus is the execution status of one step result record.
type StepStatus string

const (
	// StepPending means the step has been presented to the host but no
	// result has come back yet.
	StepPending StepStatus = "pending"
	// StepRunning means at least one iteration completed but more remain.
	StepRunning StepStatus = "running"
	// StepCompleted means the host's result was recorded and accepted.
	StepCompleted StepStatus = "completed"
	// StepFailed means the step hit a fatal error (e.g. for_each resolution).
	StepFailed StepStatus = "failed"
	// StepSkipped means a conditional evaluated false or a fan-out was empty.
	StepSkipped StepStatus = "skipped"
)

// IsValid checks if the step status is valid.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepRunning, StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// StepResult records one execution of a flow step (one iteration for
// for_each steps).
type StepResult struct {
	StepName       string     `json:"step_name"`
	IterationIndex int        `json:"iteration_index"`
	Status         StepStatus `json:"status"`

	// RawText is the host LLM's reply as passed to next_step.step_result.
	// It is retained even when structured parsing fails.
	RawText string `json:"raw_text"`

	// StructuredOutput is the JSON value extracted from RawText for steps
	// declaring expected_output: json; nil when extraction failed or the
	// step is plain-text.
	StructuredOutput any `json:"structured_output,omitempty"`

	QualityScore *float64  `json:"quality_score,omitempty"`
	RetryCount   int       `json:"retry_count"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Cursor identifies the next work unit for a session: the step to execute,
// the for_each iteration within it, and how many quality-gate retries the
// step has consumed.
type Cursor struct {
	Step      string `json:"step"`
	Iteration int    `json:"iteration"`
	Retry     int    `json:"retry"`
}

// Done reports whether the cursor has reached the completion sentinel.
func (c Cursor) Done() bool {
	return c.Step == StepComplete
}
