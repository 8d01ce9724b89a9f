package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/mcps/deep-thinking/pkg/flow/cond"
)

// fileConfig represents the complete config file structure. Unknown keys
// are tolerated for forward compatibility.
type fileConfig struct {
	Server        *ServerOptions             `yaml:"server"`
	ThinkingFlows map[string]*FlowConfig     `yaml:"thinking_flows"`
	Templates     map[string]*TemplateConfig `yaml:"templates"`
}

// Load parses the YAML config at path, merges it over the built-in flows
// and templates, compiles step references and conditionals, and validates
// the result. An empty path loads built-ins with default server options.
//
// The returned Config is an immutable snapshot; callers that support
// reload call Load again and swap the pointer.
func Load(path string) (*Config, error) {
	log := slog.With("config_file", path)

	fileCfg := &fileConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, NewLoadError(path, ErrConfigNotFound)
			}
			return nil, NewLoadError(path, err)
		}
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
	}

	// Resolve server options: defaults first, user YAML overrides.
	opts := DefaultServerOptions()
	if fileCfg.Server != nil {
		if err := mergo.Merge(opts, fileCfg.Server, mergo.WithOverride); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("failed to merge server options: %w", err))
		}
	}

	// Merge built-in + user-defined components (user overrides built-in).
	builtin := GetBuiltinConfig()
	flows := mergeFlows(builtin.Flows, fileCfg.ThinkingFlows)
	templates := mergeTemplates(builtin.Templates, fileCfg.Templates, path)

	// Compile per-step derived state before validation so malformed
	// references and conditionals are rejected at load time.
	for flowType, flow := range flows {
		if err := compileFlow(flowType, flow, opts.QualityGateDefaultThreshold); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server:    opts,
		Flows:     NewFlowRegistry(flows),
		Templates: NewTemplateIndex(templates),
		path:      path,
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration loaded",
		"flows", stats.Flows,
		"templates", stats.Templates,
		"default_flow", opts.DefaultFlow)

	return cfg, nil
}

func mergeFlows(builtin, user map[string]*FlowConfig) map[string]*FlowConfig {
	merged := make(map[string]*FlowConfig, len(builtin)+len(user))
	for k, v := range builtin {
		merged[k] = v
	}
	for k, v := range user {
		merged[k] = v
	}
	return merged
}

func mergeTemplates(builtin, user map[string]*TemplateConfig, source string) map[string]*TemplateConfig {
	merged := make(map[string]*TemplateConfig, len(builtin)+len(user))
	for k, v := range builtin {
		merged[k] = v
	}
	for k, v := range user {
		v.Source = source
		if v.ExpectedOutput == "" {
			v.ExpectedOutput = OutputText
		}
		merged[k] = v
	}
	return merged
}

// compileFlow fills in each step's derived fields: the effective quality
// threshold, the parsed for_each reference, and the compiled conditional.
func compileFlow(flowType string, flow *FlowConfig, defaultThreshold float64) error {
	for _, step := range flow.Steps {
		if step.QualityThreshold != nil {
			step.threshold = *step.QualityThreshold
		} else {
			step.threshold = defaultThreshold
		}

		if step.ForEach != "" {
			ref, err := ParseReference(step.ForEach)
			if err != nil {
				return NewValidationError("flow", flowType,
					fmt.Sprintf("steps.%s.for_each", step.Name), err)
			}
			step.forEachRef = ref
		}

		if step.Conditional != "" {
			expr, err := cond.Parse(step.Conditional)
			if err != nil {
				return NewValidationError("flow", flowType,
					fmt.Sprintf("steps.%s.conditional", step.Name), err)
			}
			step.conditional = expr
		}
	}
	return nil
}
