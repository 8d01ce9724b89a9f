package config

import (
	"fmt"
	"strings"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: templates → flows → server.
	// Flows reference templates; server options reference flows.

	if err := v.validateTemplates(); err != nil {
		return fmt.Errorf("template validation failed: %w", err)
	}

	if err := v.validateFlows(); err != nil {
		return fmt.Errorf("flow validation failed: %w", err)
	}

	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server option validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateServer() error {
	opts := v.cfg.Server

	if opts.MaxSessions < 1 {
		return NewValidationError("server", "options", "max_sessions", fmt.Errorf("must be at least 1"))
	}
	if opts.SessionTimeoutMinutes < 1 {
		return NewValidationError("server", "options", "session_timeout_minutes", fmt.Errorf("must be at least 1"))
	}
	if opts.TemplateCacheSize < 1 {
		return NewValidationError("server", "options", "template_cache_size", fmt.Errorf("must be at least 1"))
	}
	if opts.SessionCacheSize < 1 {
		return NewValidationError("server", "options", "session_cache_size", fmt.Errorf("must be at least 1"))
	}
	if opts.QualityGateDefaultThreshold < 0 || opts.QualityGateDefaultThreshold > 1 {
		return NewValidationError("server", "options", "quality_gate_default_threshold", fmt.Errorf("must be in [0,1]"))
	}
	if opts.DatabasePath == "" {
		return NewValidationError("server", "options", "database_path", ErrMissingRequiredField)
	}
	if !v.cfg.Flows.Has(opts.DefaultFlow) {
		return NewValidationError("server", "options", "default_flow",
			fmt.Errorf("flow '%s' not found (available: %s)",
				opts.DefaultFlow, strings.Join(v.cfg.Flows.Names(), ", ")))
	}

	return nil
}

func (v *ConfigValidator) validateTemplates() error {
	for name, tmpl := range v.cfg.Templates.GetAll() {
		if tmpl.Body == "" {
			return NewValidationError("template", name, "body", ErrMissingRequiredField)
		}
		if tmpl.ExpectedOutput != "" && tmpl.ExpectedOutput != OutputText && tmpl.ExpectedOutput != OutputJSON {
			return NewValidationError("template", name, "expected_output",
				fmt.Errorf("%w: '%s' (must be '%s' or '%s')", ErrInvalidValue, tmpl.ExpectedOutput, OutputText, OutputJSON))
		}

		declared := map[string]bool{}
		for _, p := range tmpl.RequiredParams {
			if declared[p] {
				return NewValidationError("template", name, "required_params",
					fmt.Errorf("duplicate parameter '%s'", p))
			}
			declared[p] = true
		}
		for _, p := range tmpl.OptionalParams {
			if declared[p] {
				return NewValidationError("template", name, "optional_params",
					fmt.Errorf("duplicate parameter '%s'", p))
			}
			declared[p] = true
		}

		// Every placeholder must be declared, and every required param
		// must actually appear in the body.
		used := map[string]bool{}
		for _, p := range tmpl.Placeholders() {
			used[p] = true
			if !declared[p] {
				return NewValidationError("template", name, "body",
					fmt.Errorf("placeholder {%s} is not a declared parameter", p))
			}
		}
		for _, p := range tmpl.RequiredParams {
			if !used[p] {
				return NewValidationError("template", name, "required_params",
					fmt.Errorf("parameter '%s' never appears in the body", p))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateFlows() error {
	for flowType, flow := range v.cfg.Flows.GetAll() {
		if len(flow.Steps) == 0 {
			return NewValidationError("flow", flowType, "steps", fmt.Errorf("at least one step required"))
		}

		declared := map[string]int{}
		for i, step := range flow.Steps {
			if step.Name == "" {
				return NewValidationError("flow", flowType, fmt.Sprintf("steps[%d].name", i), ErrMissingRequiredField)
			}
			if _, dup := declared[step.Name]; dup {
				return NewValidationError("flow", flowType, "steps",
					fmt.Errorf("duplicate step name '%s'", step.Name))
			}
			declared[step.Name] = i

			if err := v.validateStep(flowType, flow, step, i, declared); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateStep checks one step. declared holds the indices of the steps
// declared so far, including this one, so "declared earlier" checks are
// strict index comparisons. Ordering plus declared-earlier dependencies
// make cycles impossible.
func (v *ConfigValidator) validateStep(flowType string, flow *FlowConfig, step *StepConfig, index int, declared map[string]int) error {
	field := func(name string) string {
		return fmt.Sprintf("steps.%s.%s", step.Name, name)
	}

	if step.TemplateName == "" {
		return NewValidationError("flow", flowType, field("template_name"), ErrMissingRequiredField)
	}
	if !v.cfg.Templates.Has(step.TemplateName) {
		return NewValidationError("flow", flowType, field("template_name"),
			fmt.Errorf("%w: '%s'", ErrTemplateNotFound, step.TemplateName))
	}

	if step.QualityThreshold != nil && (*step.QualityThreshold < 0 || *step.QualityThreshold > 1) {
		return NewValidationError("flow", flowType, field("quality_threshold"), fmt.Errorf("must be in [0,1]"))
	}

	for _, dep := range step.DependsOn {
		depIdx, ok := declared[dep]
		if !ok {
			return NewValidationError("flow", flowType, field("depends_on"),
				fmt.Errorf("%w: '%s' is not declared earlier in the flow", ErrStepNotFound, dep))
		}
		if depIdx >= index {
			return NewValidationError("flow", flowType, field("depends_on"),
				fmt.Errorf("step cannot depend on itself"))
		}
	}

	if ref := step.ForEachRef(); ref != nil {
		producerIdx, ok := declared[ref.Step]
		if !ok || producerIdx >= index {
			return NewValidationError("flow", flowType, field("for_each"),
				fmt.Errorf("%w: producer '%s' is not declared earlier in the flow", ErrStepNotFound, ref.Step))
		}
	}

	if expr := step.Cond(); expr != nil {
		for _, refStep := range expr.StepRefs() {
			if s, _ := flow.Step(refStep); s == nil {
				return NewValidationError("flow", flowType, field("conditional"),
					fmt.Errorf("%w: '%s' referenced by conditional", ErrStepNotFound, refStep))
			}
		}
	}

	if step.Final && index != len(flow.Steps)-1 {
		return NewValidationError("flow", flowType, field("final"),
			fmt.Errorf("a final step must be the last step of the flow"))
	}

	return nil
}
