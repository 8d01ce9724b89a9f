// Package models defines the core domain types shared across the session
// manager, flow engine, and MCP tool surface.
package models

import (
	"time"
)

// StepComplete is the sentinel cursor value meaning the flow has no further
// steps to execute.
const StepComplete = "__complete__"

// SessionStatus is the lifecycle status of a thinking session.
type SessionStatus string

const (
	// SessionActive means the session accepts further tool calls.
	SessionActive SessionStatus = "active"
	// SessionCompleted means the flow finished or complete_thinking was called.
	SessionCompleted SessionStatus = "completed"
	// SessionFailed means a storage failure left the session unusable.
	SessionFailed SessionStatus = "failed"
	// SessionExpired means the session idled past the configured timeout.
	SessionExpired SessionStatus = "expired"
)

// IsValid checks if the session status is valid.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionActive, SessionCompleted, SessionFailed, SessionExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status forbids further mutation.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionExpired
}

// Complexity is the user-declared difficulty of the topic. It selects
// template variants and feeds conditional expressions.
type Complexity string

const (
	// ComplexitySimple is for questions answerable in a short linear pass.
	ComplexitySimple Complexity = "simple"
	// ComplexityModerate is the default level.
	ComplexityModerate Complexity = "moderate"
	// ComplexityComplex enables the deepest template variants.
	ComplexityComplex Complexity = "complex"
)

// IsValid checks if the complexity level is valid.
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	default:
		return false
	}
}

// Session is the authoritative record of one thinking workflow. The session
// manager exclusively owns mutable instances; other components receive
// clones or read through the manager's API.
type Session struct {
	ID          string        `json:"session_id"`
	Topic       string        `json:"topic"`
	FlowType    string        `json:"flow_type"`
	CurrentStep string        `json:"current_step"`
	StepNumber  int           `json:"step_number"`
	Status      SessionStatus `json:"status"`

	// Context holds the topic, complexity, focus, and any user knobs. Values
	// are JSON-shaped (string, float64, bool, []any, map[string]any).
	Context map[string]any `json:"context"`

	// StepResults maps step name to its result records, one per iteration.
	// Plain steps have a single record at iteration index 0.
	StepResults map[string][]*StepResult `json:"step_results"`

	// StepOutputs maps step name to the structured output parsed from the
	// host's reply. For for_each steps the value is a []any of per-iteration
	// outputs.
	StepOutputs map[string]any `json:"step_outputs"`

	// QualityScores maps step name to the last reported score in [0,1].
	QualityScores map[string]float64 `json:"quality_scores"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CompletedSteps counts step result records with status completed, across
// all iterations. The invariant StepNumber == CompletedSteps() holds after
// every successful tool call.
func (s *Session) CompletedSteps() int {
	n := 0
	for _, results := range s.StepResults {
		for _, r := range results {
			if r.Status == StepCompleted {
				n++
			}
		}
	}
	return n
}

// Result returns the step result record for the given step and iteration,
// or nil if absent.
func (s *Session) Result(stepName string, iteration int) *StepResult {
	for _, r := range s.StepResults[stepName] {
		if r.IterationIndex == iteration {
			return r
		}
	}
	return nil
}

// StepStatusOf reduces a step's iteration records to a single status:
// failed/skipped win, completed only if every recorded iteration completed.
// Returns StepPending when no record exists.
func (s *Session) StepStatusOf(stepName string) StepStatus {
	results := s.StepResults[stepName]
	if len(results) == 0 {
		return StepPending
	}
	allCompleted := true
	for _, r := range results {
		switch r.Status {
		case StepFailed:
			return StepFailed
		case StepSkipped:
			return StepSkipped
		case StepCompleted:
		default:
			allCompleted = false
		}
	}
	if allCompleted {
		return StepCompleted
	}
	return StepRunning
}

// Clone returns a deep copy of the session. The cache hands out clones so
// callers never alias manager-owned state.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Context = cloneJSONMap(s.Context)
	clone.StepOutputs = cloneJSONMap(s.StepOutputs)
	clone.QualityScores = make(map[string]float64, len(s.QualityScores))
	for k, v := range s.QualityScores {
		clone.QualityScores[k] = v
	}
	clone.StepResults = make(map[string][]*StepResult, len(s.StepResults))
	for k, results := range s.StepResults {
		copied := make([]*StepResult, len(results))
		for i, r := range results {
			rc := *r
			if r.StructuredOutput != nil {
				rc.StructuredOutput = cloneJSONValue(r.StructuredOutput)
			}
			copied[i] = &rc
		}
		clone.StepResults[k] = copied
	}
	return &clone
}

func cloneJSONMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneJSONValue(v)
	}
	return out
}

func cloneJSONValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneJSONMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneJSONValue(e)
		}
		return out
	default:
		return val
	}
}
