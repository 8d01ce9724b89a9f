package flow

import (
	"encoding/json"
	"fmt"

	"github.com/mcps/deep-thinking/pkg/config"
)

// ForEachResolutionError reports a fan-out reference that could not be
// resolved against the session's step outputs. The owning step is marked
// failed and the cursor does not advance.
type ForEachResolutionError struct {
	// Step is the fan-out step whose reference failed to resolve. It is
	// filled in by the engine walk; ResolveForEach itself only knows the
	// reference.
	Step   string
	Ref    *config.Reference
	Reason string
}

// Error returns formatted error message
func (e *ForEachResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve for_each reference '%s': %s", e.Ref, e.Reason)
}

// NewForEachResolutionError creates a new resolution error
func NewForEachResolutionError(ref *config.Reference, reason string) *ForEachResolutionError {
	return &ForEachResolutionError{Ref: ref, Reason: reason}
}

// ResolveForEach resolves ref against outputs and returns the referenced
// array. An empty array resolves successfully to a zero-length slice; the
// caller records the step as skipped. A missing producer, missing
// property, or non-array value is a ForEachResolutionError.
func ResolveForEach(ref *config.Reference, outputs map[string]any) ([]any, error) {
	producer, ok := outputs[ref.Step]
	if !ok {
		return nil, NewForEachResolutionError(ref,
			fmt.Sprintf("step '%s' produced no structured output", ref.Step))
	}

	obj, ok := producer.(map[string]any)
	if !ok {
		return nil, NewForEachResolutionError(ref,
			fmt.Sprintf("output of step '%s' is not a JSON object", ref.Step))
	}

	value, ok := obj[ref.Property]
	if !ok {
		return nil, NewForEachResolutionError(ref,
			fmt.Sprintf("output of step '%s' has no property '%s'", ref.Step, ref.Property))
	}

	items, ok := value.([]any)
	if !ok {
		return nil, NewForEachResolutionError(ref,
			fmt.Sprintf("property '%s' of step '%s' is not an array", ref.Property, ref.Step))
	}

	return items, nil
}

// ItemString renders a fan-out element as the template parameter value:
// strings pass through, everything else is compact JSON.
func ItemString(item any) string {
	if s, ok := item.(string); ok {
		return s
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Sprintf("%v", item)
	}
	return string(data)
}
