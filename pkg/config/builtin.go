package config

import (
	"sync"
)

// BuiltinConfig holds all built-in configuration data.
// This provides the default thinking flows and prompt templates so the
// server is fully usable with no config file at all.
type BuiltinConfig struct {
	Flows     map[string]*FlowConfig
	Templates map[string]*TemplateConfig
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Flows:     initBuiltinFlows(),
		Templates: initBuiltinTemplates(),
	}
}

func initBuiltinFlows() map[string]*FlowConfig {
	return map[string]*FlowConfig{
		"comprehensive_analysis": {
			Name:        "Comprehensive Analysis",
			Description: "Complete deep thinking analysis: decomposition, per-question evidence, debate, critique, bias check, optional innovation, reflection",
			Steps: []*StepConfig{
				{
					Name:         "decompose_problem",
					TemplateName: "decomposition",
					Required:     true,
					Instructions: "Break the topic into independent sub-questions and return the JSON structure described in the prompt.",
					Metadata:     map[string]any{"expected_output": OutputJSON},
				},
				{
					Name:         "collect_evidence",
					TemplateName: "evidence_collection",
					Required:     true,
					DependsOn:    []string{"decompose_problem"},
					ForEach:      "decompose_problem.sub_questions",
					Parallel:     true,
					Instructions: "Gather diverse, reliable evidence for the sub-question shown in the prompt.",
				},
				{
					Name:         "multi_perspective_debate",
					TemplateName: "multi_perspective",
					Required:     true,
					DependsOn:    []string{"collect_evidence"},
					Instructions: "Argue the strongest pro, con, and neutral positions using the evidence collected so far.",
				},
				{
					Name:             "critical_evaluation",
					TemplateName:     "critical_evaluation",
					Required:         true,
					DependsOn:        []string{"multi_perspective_debate"},
					QualityThreshold: floatPtr(0.8),
					RetryOnFailure:   true,
					Instructions:     "Evaluate the analysis so far against the Paul-Elder standards and report an overall quality score.",
				},
				{
					Name:         "bias_detection",
					TemplateName: "bias_detection",
					DependsOn:    []string{"critical_evaluation"},
					Instructions: "Check the reasoning for cognitive biases and note any corrections needed.",
				},
				{
					Name:         "innovation_thinking",
					TemplateName: "innovation",
					Conditional:  "complexity == 'complex' || critical_evaluation.quality_score >= 0.8",
					Instructions: "Generate novel angles and alternative framings using SCAMPER-style prompts.",
				},
				{
					Name:         "reflection",
					TemplateName: "reflection",
					Required:     true,
					Final:        true,
					Instructions: "Reflect on the whole thinking process and state the final, integrated answer.",
				},
			},
		},
		"quick_analysis": {
			Name:        "Quick Analysis",
			Description: "Fast analysis for simple problems",
			Steps: []*StepConfig{
				{
					Name:         "simple_decompose",
					TemplateName: "decomposition",
					Required:     true,
					Instructions: "Break the topic into a handful of key sub-questions and return the JSON structure described in the prompt.",
					Metadata:     map[string]any{"expected_output": OutputJSON},
				},
				{
					Name:         "basic_evidence",
					TemplateName: "evidence_collection",
					Required:     true,
					DependsOn:    []string{"simple_decompose"},
					ForEach:      "simple_decompose.sub_questions",
					Instructions: "Collect the most relevant evidence for the sub-question shown in the prompt.",
				},
				{
					Name:         "quick_evaluation",
					TemplateName: "critical_evaluation",
					DependsOn:    []string{"basic_evidence"},
					Instructions: "Briefly evaluate the analysis and report a quality score.",
				},
				{
					Name:         "brief_reflection",
					TemplateName: "reflection",
					Required:     true,
					Final:        true,
					Instructions: "Summarize the thinking process and state the final answer.",
				},
			},
		},
	}
}

func initBuiltinTemplates() map[string]*TemplateConfig {
	templates := map[string]*TemplateConfig{
		"decomposition": {
			Description:    "Systematic problem decomposition into sub-questions",
			RequiredParams: []string{"topic"},
			OptionalParams: []string{"complexity", "focus", "domain_context"},
			ExpectedOutput: OutputJSON,
			Body:           decompositionBody,
		},
		"decomposition_high": {
			Description:    "Multi-dimensional decomposition for high-complexity problems",
			RequiredParams: []string{"topic"},
			OptionalParams: []string{"complexity", "focus", "domain_context"},
			ExpectedOutput: OutputJSON,
			Body:           decompositionHighBody,
		},
		"evidence_collection": {
			Description:    "Evidence gathering for one sub-question",
			RequiredParams: []string{"item"},
			OptionalParams: []string{"topic", "complexity", "item_index", "item_total"},
			Body:           evidenceCollectionBody,
		},
		"multi_perspective": {
			Description:    "Structured pro/con/neutral debate",
			RequiredParams: []string{"topic"},
			OptionalParams: []string{"complexity", "focus"},
			Body:           multiPerspectiveBody,
		},
		"critical_evaluation": {
			Description:    "Paul-Elder critical evaluation with a quality score",
			RequiredParams: []string{"topic"},
			OptionalParams: []string{"content"},
			Body:           criticalEvaluationBody,
		},
		"bias_detection": {
			Description:    "Cognitive bias screening of the analysis",
			RequiredParams: []string{"topic"},
			OptionalParams: []string{"content"},
			Body:           biasDetectionBody,
		},
		"innovation": {
			Description:    "Innovative-thinking prompts (SCAMPER)",
			RequiredParams: []string{"topic"},
			OptionalParams: []string{"focus"},
			Body:           innovationBody,
		},
		"reflection": {
			Description:    "Metacognitive reflection and final synthesis",
			RequiredParams: []string{"topic"},
			OptionalParams: []string{"focus"},
			Body:           reflectionBody,
		},
		"completion_summary": {
			Description:    "Final report rendered by complete_thinking",
			RequiredParams: []string{"topic"},
			OptionalParams: []string{"final_insights", "step_history"},
			Body:           completionSummaryBody,
		},
	}

	// One analysis template per analyze_step analysis type.
	for name, body := range map[string]string{
		"analysis_quality":      analysisQualityBody,
		"analysis_format":       analysisFormatBody,
		"analysis_completeness": analysisCompletenessBody,
		"analysis_bias":         analysisBiasBody,
		"analysis_logic":        analysisLogicBody,
	} {
		templates[name] = &TemplateConfig{
			Description:    "Step analysis prompt for analyze_step",
			RequiredParams: []string{"step_name", "step_result"},
			ExpectedOutput: OutputJSON,
			Body:           body,
		}
	}

	for _, t := range templates {
		t.Source = TemplateSourceBuiltin
	}
	return templates
}

func floatPtr(f float64) *float64 {
	return &f
}
