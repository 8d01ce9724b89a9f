package flow

import (
	"encoding/json"
	"strings"
)

// ExtractJSON pulls a JSON object out of a free-text reply. Hosts rarely
// return bare JSON, so extraction recovers in three stages: parse the
// whole reply, then the contents of a ```json fenced block, then the
// first balanced {...} substring. Returns false when nothing parses.
func ExtractJSON(raw string) (any, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}

	if v, ok := tryParse(trimmed); ok {
		return v, true
	}

	if block, ok := fencedJSONBlock(trimmed); ok {
		if v, ok := tryParse(block); ok {
			return v, true
		}
	}

	if candidate, ok := firstBalancedObject(trimmed); ok {
		if v, ok := tryParse(candidate); ok {
			return v, true
		}
	}

	return nil, false
}

func tryParse(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	// Only object and array shapes are useful as structured output;
	// a bare string or number that happens to parse is not.
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	default:
		return nil, false
	}
}

// fencedJSONBlock returns the contents of the first ```json fenced code
// block.
func fencedJSONBlock(s string) (string, bool) {
	const fence = "```json"
	start := strings.Index(s, fence)
	if start < 0 {
		return "", false
	}
	rest := s[start+len(fence):]
	end := strings.Index(rest, "```")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// firstBalancedObject returns the first {...} substring with balanced
// braces, honoring strings and escapes.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
