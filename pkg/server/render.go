package server

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mcps/deep-thinking/pkg/config"
	"github.com/mcps/deep-thinking/pkg/flow"
	"github.com/mcps/deep-thinking/pkg/models"
)

// baseParams assembles the template parameters every step render starts
// from. Only string-valued context entries become parameters.
func baseParams(sess *models.Session) map[string]string {
	params := map[string]string{
		"topic": sess.Topic,
	}
	for _, key := range []string{"complexity", "focus", "domain_context"} {
		if v, ok := sess.Context[key].(string); ok {
			params[key] = v
		}
	}
	return params
}

// stepTemplateName selects the template variant for a step. Complex
// topics get the deeper decomposition prompt.
func stepTemplateName(step *config.StepConfig, sess *models.Session) string {
	if step.TemplateName == "decomposition" {
		if c, ok := sess.Context["complexity"].(string); ok && c == string(models.ComplexityComplex) {
			return "decomposition_high"
		}
	}
	return step.TemplateName
}

// fanOutParams injects the current fan-out element into the parameter
// set. Indices are 1-based for readability in the rendered prompt.
func fanOutParams(params map[string]string, d *flow.Decision) {
	if d == nil || d.ForEachTotal == 0 {
		return
	}
	params["item"] = flow.ItemString(d.ForEachItem)
	params["item_index"] = strconv.Itoa(d.Next.Iteration + 1)
	params["item_total"] = strconv.Itoa(d.ForEachTotal)
}

// fallbackPrompt is the generic prompt returned when a step's template is
// missing from the index.
func fallbackPrompt(templateName string, sess *models.Session) string {
	return fmt.Sprintf(
		"The prompt template '%s' is not available. Continue the analysis of the topic below using your own judgment for this step.\n\nTopic: %s",
		templateName, sess.Topic)
}

// stepHistory renders the session's step records as a numbered list for
// the completion summary, in flow order with fan-out iterations inline.
func stepHistory(flowCfg *config.FlowConfig, sess *models.Session) string {
	var b strings.Builder
	n := 0
	for _, step := range flowCfg.Steps {
		results := sess.StepResults[step.Name]
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].IterationIndex < results[j].IterationIndex
		})
		for _, r := range results {
			n++
			fmt.Fprintf(&b, "%d. %s", n, r.StepName)
			if len(results) > 1 {
				fmt.Fprintf(&b, " (iteration %d/%d)", r.IterationIndex+1, len(results))
			}
			fmt.Fprintf(&b, " [%s]", r.Status)
			if r.QualityScore != nil {
				fmt.Fprintf(&b, " score=%.2f", *r.QualityScore)
			}
			b.WriteString("\n")
		}
	}
	if n == 0 {
		return "(no steps recorded)"
	}
	return strings.TrimRight(b.String(), "\n")
}

// completionParams builds the parameter set of the completion summary
// template.
func completionParams(flowCfg *config.FlowConfig, sess *models.Session) map[string]string {
	params := map[string]string{
		"topic":        sess.Topic,
		"step_history": stepHistory(flowCfg, sess),
	}
	if v, ok := sess.Context["final_insights"].(string); ok {
		params["final_insights"] = v
	}
	return params
}
