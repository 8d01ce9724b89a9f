package config

import (
	"fmt"
	"strings"
)

// Reference is a parsed "step_name.property" output reference. References
// appear in for_each fields and are resolved against a session's step
// outputs at execution time. Parsing happens once at load so malformed
// references are rejected before any session runs.
type Reference struct {
	Step     string
	Property string
}

// ParseReference parses a "step_name.property" string. Exactly one dot is
// required and both sides must be non-empty identifiers.
func ParseReference(s string) (*Reference, error) {
	step, property, ok := strings.Cut(s, ".")
	if !ok {
		return nil, fmt.Errorf("%w: %q is not of the form \"step_name.property\"", ErrInvalidReference, s)
	}
	if step == "" || property == "" {
		return nil, fmt.Errorf("%w: %q has an empty component", ErrInvalidReference, s)
	}
	if strings.Contains(property, ".") {
		return nil, fmt.Errorf("%w: %q has nested properties", ErrInvalidReference, s)
	}
	if !isIdentifier(step) || !isIdentifier(property) {
		return nil, fmt.Errorf("%w: %q contains invalid characters", ErrInvalidReference, s)
	}
	return &Reference{Step: step, Property: property}, nil
}

// String returns the canonical "step.property" form.
func (r *Reference) String() string {
	return r.Step + "." + r.Property
}

func isIdentifier(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		case c == '_':
		default:
			return false
		}
	}
	return len(s) > 0
}
