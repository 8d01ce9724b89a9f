package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mcps/deep-thinking/pkg/flow/cond"
)

// ServerOptions holds the runtime settings from the top-level "server" key.
type ServerOptions struct {
	// Maximum number of concurrently active sessions (default: 100)
	MaxSessions int `yaml:"max_sessions"`

	// Idle minutes after which an active session expires (default: 60)
	SessionTimeoutMinutes int `yaml:"session_timeout_minutes"`

	// Rendered-template cache capacity (default: 50)
	TemplateCacheSize int `yaml:"template_cache_size"`

	// Hot session cache capacity (default: 20)
	SessionCacheSize int `yaml:"session_cache_size"`

	// Flow used when start_thinking omits flow_type
	DefaultFlow string `yaml:"default_flow"`

	// Threshold applied to steps that do not declare their own (default: 0.7)
	QualityGateDefaultThreshold float64 `yaml:"quality_gate_default_threshold"`

	// SQLite file path, or ":memory:" for an in-memory database
	DatabasePath string `yaml:"database_path"`
}

// DefaultServerOptions returns the built-in runtime settings.
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		MaxSessions:                 100,
		SessionTimeoutMinutes:       60,
		TemplateCacheSize:           50,
		SessionCacheSize:            20,
		DefaultFlow:                 "comprehensive_analysis",
		QualityGateDefaultThreshold: 0.7,
		DatabasePath:                ":memory:",
	}
}

// SessionTimeout returns the configured idle timeout as a duration.
func (o *ServerOptions) SessionTimeout() time.Duration {
	return time.Duration(o.SessionTimeoutMinutes) * time.Minute
}

// FlowConfig defines one thinking flow: an ordered list of steps
type FlowConfig struct {
	// Human-readable flow name
	Name string `yaml:"name"`

	// Human-readable description
	Description string `yaml:"description,omitempty"`

	// Steps in execution order (required, min 1)
	Steps []*StepConfig `yaml:"steps"`
}

// Step returns the step with the given name and its index, or nil, -1.
func (f *FlowConfig) Step(name string) (*StepConfig, int) {
	for i, s := range f.Steps {
		if s.Name == name {
			return s, i
		}
	}
	return nil, -1
}

// StepConfig defines a single step in a flow
type StepConfig struct {
	// Step name, unique within the flow (required)
	Name string `yaml:"name"`

	// Template rendered when this step is presented (required)
	TemplateName string `yaml:"template_name"`

	// Whether the step may be skipped by downstream tooling
	Required bool `yaml:"required,omitempty"`

	// Quality-gate threshold in [0,1]; nil means the server default applies
	QualityThreshold *float64 `yaml:"quality_threshold,omitempty"`

	// Conditional expression; the step is skipped when it evaluates false
	Conditional string `yaml:"conditional,omitempty"`

	// Steps that must be completed before this one runs
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Fan-out reference of the form "step_name.property"
	ForEach string `yaml:"for_each,omitempty"`

	// Hint that for_each iterations are independent; no runtime effect
	Parallel bool `yaml:"parallel,omitempty"`

	// Whether a below-threshold quality score re-runs the step
	RetryOnFailure bool `yaml:"retry_on_failure,omitempty"`

	// Whether completing this step ends the flow
	Final bool `yaml:"final,omitempty"`

	// Free-text guidance returned alongside the rendered template
	Instructions string `yaml:"instructions,omitempty"`

	// Arbitrary step metadata (e.g. expected_output: json)
	Metadata map[string]any `yaml:"metadata,omitempty"`

	// Populated by the loader after parsing
	threshold   float64
	forEachRef  *Reference
	conditional *cond.Expr
}

// Threshold returns the effective quality threshold, with the server
// default already applied by the loader.
func (s *StepConfig) Threshold() float64 {
	return s.threshold
}

// ForEachRef returns the parsed fan-out reference, or nil for plain steps.
func (s *StepConfig) ForEachRef() *Reference {
	return s.forEachRef
}

// Cond returns the compiled conditional expression, or nil when the step
// is unconditional.
func (s *StepConfig) Cond() *cond.Expr {
	return s.conditional
}

// ExpectsJSON reports whether the step's metadata declares a JSON output
// contract for the host's reply.
func (s *StepConfig) ExpectsJSON() bool {
	v, ok := s.Metadata["expected_output"]
	if !ok {
		return false
	}
	str, ok := v.(string)
	return ok && str == OutputJSON
}

// Template output contracts.
const (
	OutputText = "text"
	OutputJSON = "json"
)

// TemplateSourceBuiltin marks templates compiled into the binary.
const TemplateSourceBuiltin = "builtin"

// TemplateConfig defines a prompt template: an opaque body with {param}
// placeholders plus the metadata declaring its parameter contract.
type TemplateConfig struct {
	// Human-readable description
	Description string `yaml:"description,omitempty"`

	// Parameters that must be supplied on every render
	RequiredParams []string `yaml:"required_params,omitempty"`

	// Parameters replaced by the empty string when absent
	OptionalParams []string `yaml:"optional_params,omitempty"`

	// "text" (default) or "json"
	ExpectedOutput string `yaml:"expected_output,omitempty"`

	// Template body; {name} markers, {{ and }} escape literal braces
	Body string `yaml:"body"`

	// Where the template came from: "builtin" or the config file path
	Source string `yaml:"-"`
}

// Placeholders returns the parameter names referenced by the body, in
// first-appearance order. {{ and }} escapes are not placeholders.
func (t *TemplateConfig) Placeholders() []string {
	var names []string
	seen := map[string]bool{}
	body := t.Body
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '{':
			if i+1 < len(body) && body[i+1] == '{' {
				i++
				continue
			}
			end := strings.IndexByte(body[i+1:], '}')
			if end < 0 {
				return names
			}
			name := body[i+1 : i+1+end]
			if name != "" && !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
			i += end + 1
		case '}':
			if i+1 < len(body) && body[i+1] == '}' {
				i++
			}
		}
	}
	return names
}

// Config is an immutable snapshot of the loaded configuration. Reload
// builds a fresh snapshot; owners swap the pointer atomically.
type Config struct {
	Server    *ServerOptions
	Flows     *FlowRegistry
	Templates *TemplateIndex

	path string
}

// Path returns the config file this snapshot was loaded from, or "" when
// only built-ins are in effect.
func (c *Config) Path() string {
	return c.path
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Flows     int
	Templates int
}

// Stats returns counts of loaded components.
func (c *Config) Stats() Stats {
	return Stats{
		Flows:     c.Flows.Len(),
		Templates: c.Templates.Len(),
	}
}

// String implements fmt.Stringer for log output.
func (s Stats) String() string {
	return fmt.Sprintf("flows=%d templates=%d", s.Flows, s.Templates)
}
