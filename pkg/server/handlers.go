package server

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mcps/deep-thinking/pkg/config"
	"github.com/mcps/deep-thinking/pkg/flow"
	"github.com/mcps/deep-thinking/pkg/models"
	"github.com/mcps/deep-thinking/pkg/session"
)

const maxTopicLength = 1000

var analysisTypes = map[string]bool{
	"quality":      true,
	"format":       true,
	"completeness": true,
	"bias":         true,
	"logic":        true,
}

type startThinkingArgs struct {
	Topic      string `json:"topic"`
	Complexity string `json:"complexity,omitempty"`
	Focus      string `json:"focus,omitempty"`
	FlowType   string `json:"flow_type,omitempty"`
}

type qualityFeedback struct {
	QualityScore     *float64 `json:"quality_score,omitempty"`
	Feedback         string   `json:"feedback,omitempty"`
	ImprovementAreas []string `json:"improvement_areas,omitempty"`
}

type nextStepArgs struct {
	SessionID       string           `json:"session_id"`
	StepResult      string           `json:"step_result"`
	QualityFeedback *qualityFeedback `json:"quality_feedback,omitempty"`
}

type analyzeStepArgs struct {
	SessionID    string `json:"session_id"`
	StepName     string `json:"step_name"`
	StepResult   string `json:"step_result"`
	AnalysisType string `json:"analysis_type,omitempty"`
}

type completeThinkingArgs struct {
	SessionID     string `json:"session_id"`
	FinalInsights string `json:"final_insights,omitempty"`
}

// StartThinking creates a session and returns the first step's prompt.
func (s *Server) StartThinking(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := startThinkingArgs{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult("start_thinking", invalidInput("%v", err), nil), nil
	}

	if args.Topic == "" {
		return errorResult("start_thinking", invalidInput("topic must not be empty"), nil), nil
	}
	if n := utf8.RuneCountInString(args.Topic); n > maxTopicLength {
		return errorResult("start_thinking",
			invalidInput("topic length %d exceeds maximum %d", n, maxTopicLength), nil), nil
	}
	if args.Complexity == "" {
		args.Complexity = string(models.ComplexityModerate)
	}
	if !models.Complexity(args.Complexity).IsValid() {
		return errorResult("start_thinking",
			invalidInput("complexity must be one of simple, moderate, complex"), nil), nil
	}
	if args.FlowType == "" {
		args.FlowType = s.cfg.Server.DefaultFlow
	}

	flowCfg, err := s.cfg.Flows.Get(args.FlowType)
	if err != nil {
		return errorResult("start_thinking", err, nil), nil
	}

	now := time.Now().UTC()
	sessionContext := map[string]any{
		"topic":      args.Topic,
		"complexity": args.Complexity,
		"created_at": now.Format(time.RFC3339),
	}
	if args.Focus != "" {
		sessionContext["focus"] = args.Focus
	}

	sess, err := s.sessions.Create(ctx, args.Topic, args.FlowType, sessionContext)
	if err != nil {
		return errorResult("start_thinking", err, nil), nil
	}

	d, err := flow.Start(flowCfg, sess, now)
	if err != nil {
		return errorResult("start_thinking", err, nil), nil
	}
	if err := s.applyDecision(ctx, sess, d, now); err != nil {
		return errorResult("start_thinking", err, nil), nil
	}
	if d.Completed {
		return s.completionResult(ctx, "start_thinking", flowCfg, sess.ID)
	}

	return s.stepResult(ctx, "start_thinking", flowCfg, sess, d, nil)
}

// NextStep records the host's result for the current step and returns the
// next prompt, a retry of the same prompt, or the completion summary.
func (s *Server) NextStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := nextStepArgs{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult("next_step", invalidInput("%v", err), nil), nil
	}

	if args.SessionID == "" {
		return errorResult("next_step", invalidInput("session_id must not be empty"), nil), nil
	}
	if args.StepResult == "" {
		return errorResult("next_step", invalidInput("step_result must not be empty"), nil), nil
	}
	if fb := args.QualityFeedback; fb != nil && fb.QualityScore != nil {
		if *fb.QualityScore < 0 || *fb.QualityScore > 1 {
			return errorResult("next_step",
				invalidInput("quality_score %.3f outside [0,1]", *fb.QualityScore), nil), nil
		}
	}

	sess, err := s.sessions.Get(ctx, args.SessionID)
	if err != nil {
		return errorResult("next_step", err, nil), nil
	}
	if sess.Status.IsTerminal() {
		return errorResult("next_step",
			fmt.Errorf("%w: '%s' is %s", session.ErrSessionTerminal, sess.ID, sess.Status), nil), nil
	}

	flowCfg, err := s.cfg.Flows.Get(sess.FlowType)
	if err != nil {
		return errorResult("next_step", err, nil), nil
	}

	if sess.CurrentStep == models.StepComplete {
		return s.completionResult(ctx, "next_step", flowCfg, sess.ID)
	}

	stepCfg, _ := flowCfg.Step(sess.CurrentStep)
	if stepCfg == nil {
		return errorResult("next_step",
			fmt.Errorf("%w: current step %q not in flow %q",
				config.ErrStepNotFound, sess.CurrentStep, sess.FlowType), nil), nil
	}

	now := time.Now().UTC()
	iteration, retry, startedAt := cursorState(sess, now)

	completed := &models.StepResult{
		StepName:       sess.CurrentStep,
		IterationIndex: iteration,
		Status:         models.StepCompleted,
		RawText:        args.StepResult,
		RetryCount:     retry,
		StartedAt:      startedAt,
		FinishedAt:     now,
	}
	if fb := args.QualityFeedback; fb != nil {
		completed.QualityScore = fb.QualityScore
	}

	var output any
	if stepCfg.ExpectsJSON() {
		if v, ok := flow.ExtractJSON(args.StepResult); ok {
			completed.StructuredOutput = v
			output = v
		}
	}
	if stepCfg.ForEachRef() != nil {
		output = appendIterationOutput(sess, completed)
	}

	if err := s.sessions.RecordStepResult(ctx, sess.ID, completed, output); err != nil {
		return errorResult("next_step", err, nil), nil
	}

	fresh, err := s.sessions.Peek(ctx, sess.ID)
	if err != nil {
		return errorResult("next_step", err, nil), nil
	}

	ev := flow.Event{
		Step:       completed.StepName,
		Iteration:  iteration,
		RetryCount: retry,
	}
	if fb := args.QualityFeedback; fb != nil {
		ev.QualityScore = fb.QualityScore
	}

	d, err := flow.Advance(flowCfg, fresh, ev, now)
	if err != nil {
		var fe *flow.ForEachResolutionError
		if errors.As(err, &fe) {
			s.recordFanOutFailure(ctx, sess.ID, fe, now)
		}
		return errorResult("next_step", err, nil), nil
	}

	// A quality-gate retry re-opens the same iteration slot.
	if d.Next.Step == completed.StepName && d.Next.Retry > retry {
		return s.retryResult(ctx, stepCfg, fresh, args.QualityFeedback, completed, d)
	}

	if err := s.applyDecision(ctx, fresh, d, now); err != nil {
		return errorResult("next_step", err, nil), nil
	}
	if d.Completed {
		return s.completionResult(ctx, "next_step", flowCfg, sess.ID)
	}

	return s.stepResult(ctx, "next_step", flowCfg, fresh, d, completed)
}

// AnalyzeStep renders an analysis prompt for a recorded or proposed step
// result. It never moves the flow cursor.
func (s *Server) AnalyzeStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := analyzeStepArgs{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult("analyze_step", invalidInput("%v", err), nil), nil
	}

	if args.SessionID == "" {
		return errorResult("analyze_step", invalidInput("session_id must not be empty"), nil), nil
	}
	if args.StepName == "" {
		return errorResult("analyze_step", invalidInput("step_name must not be empty"), nil), nil
	}
	if args.StepResult == "" {
		return errorResult("analyze_step", invalidInput("step_result must not be empty"), nil), nil
	}
	if args.AnalysisType == "" {
		args.AnalysisType = "quality"
	}
	if !analysisTypes[args.AnalysisType] {
		return errorResult("analyze_step",
			invalidInput("analysis_type must be one of quality, format, completeness, bias, logic"), nil), nil
	}

	// Analysis is read-only; the session's idle clock is not refreshed.
	sess, err := s.sessions.Peek(ctx, args.SessionID)
	if err != nil {
		return errorResult("analyze_step", err, nil), nil
	}
	if sess.Status.IsTerminal() {
		return errorResult("analyze_step",
			fmt.Errorf("%w: '%s' is %s", session.ErrSessionTerminal, sess.ID, sess.Status), nil), nil
	}

	flowCfg, err := s.cfg.Flows.Get(sess.FlowType)
	if err != nil {
		return errorResult("analyze_step", err, nil), nil
	}
	if step, _ := flowCfg.Step(args.StepName); step == nil {
		return errorResult("analyze_step",
			fmt.Errorf("%w: step %q not in flow %q",
				config.ErrStepNotFound, args.StepName, sess.FlowType), nil), nil
	}

	rendered, err := s.templates.Get("analysis_"+args.AnalysisType, map[string]string{
		"step_name":   args.StepName,
		"step_result": args.StepResult,
	})
	if err != nil {
		return errorResult("analyze_step", err, nil), nil
	}

	return toolResult(&ToolResult{
		ToolName:       "analyze_step",
		SessionID:      sess.ID,
		Step:           sess.CurrentStep,
		PromptTemplate: rendered,
		Instructions:   "Evaluate the step result against the criteria in the prompt and return the requested JSON.",
		Context: map[string]any{
			"analyzed_step": args.StepName,
			"analysis_type": args.AnalysisType,
		},
		NextAction: "Perform the analysis, then feed the score back through next_step.quality_feedback.",
		Metadata: map[string]any{
			"flow_type":   sess.FlowType,
			"step_number": sess.StepNumber,
		},
	}), nil
}

// CompleteThinking marks the session completed and returns the summary
// prompt built from the full step history.
func (s *Server) CompleteThinking(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := completeThinkingArgs{}
	if err := request.BindArguments(&args); err != nil {
		return errorResult("complete_thinking", invalidInput("%v", err), nil), nil
	}
	if args.SessionID == "" {
		return errorResult("complete_thinking", invalidInput("session_id must not be empty"), nil), nil
	}

	sess, err := s.sessions.Get(ctx, args.SessionID)
	if err != nil {
		return errorResult("complete_thinking", err, nil), nil
	}

	flowCfg, err := s.cfg.Flows.Get(sess.FlowType)
	if err != nil {
		return errorResult("complete_thinking", err, nil), nil
	}

	if err := s.sessions.MarkCompleted(ctx, sess.ID, args.FinalInsights); err != nil {
		return errorResult("complete_thinking", err, nil), nil
	}

	return s.completionResult(ctx, "complete_thinking", flowCfg, sess.ID)
}

// cursorState locates the open iteration slot of the current step: the
// pending record written when the step was presented. After a fan-out
// failure no pending record exists and the last record is re-opened.
func cursorState(sess *models.Session, now time.Time) (iteration, retry int, startedAt time.Time) {
	records := sess.StepResults[sess.CurrentStep]
	for _, r := range records {
		if r.Status == models.StepPending {
			return r.IterationIndex, r.RetryCount, r.StartedAt
		}
	}
	if len(records) > 0 {
		last := records[len(records)-1]
		return last.IterationIndex, last.RetryCount, last.StartedAt
	}
	return 0, 0, now
}

// appendIterationOutput folds a fan-out iteration's output into the
// per-step output slice, which is what later for_each references resolve
// against.
func appendIterationOutput(sess *models.Session, r *models.StepResult) []any {
	items, _ := sess.StepOutputs[r.StepName].([]any)
	for len(items) <= r.IterationIndex {
		items = append(items, nil)
	}
	var v any = r.RawText
	if r.StructuredOutput != nil {
		v = r.StructuredOutput
	}
	items[r.IterationIndex] = v
	return items
}

// applyDecision persists the engine's verdict: skipped records, the new
// pending record, and the cursor move.
func (s *Server) applyDecision(ctx context.Context, sess *models.Session, d *flow.Decision, now time.Time) error {
	for _, skipped := range d.Skipped {
		if err := s.sessions.RecordStepResult(ctx, sess.ID, skipped, nil); err != nil {
			return err
		}
	}

	stepNumber := sess.CompletedSteps()
	if d.Completed {
		return s.sessions.SetCurrentStep(ctx, sess.ID, models.StepComplete, stepNumber)
	}

	pending := &models.StepResult{
		StepName:       d.Next.Step,
		IterationIndex: d.Next.Iteration,
		Status:         models.StepPending,
		RetryCount:     d.Next.Retry,
		StartedAt:      now,
	}
	if err := s.sessions.RecordStepResult(ctx, sess.ID, pending, nil); err != nil {
		return err
	}
	return s.sessions.SetCurrentStep(ctx, sess.ID, d.Next.Step, stepNumber)
}

// recordFanOutFailure marks the fan-out step failed while leaving the
// cursor in place, so the host can re-submit the producer's output.
func (s *Server) recordFanOutFailure(ctx context.Context, sessionID string, fe *flow.ForEachResolutionError, now time.Time) {
	failed := &models.StepResult{
		StepName:   fe.Step,
		Status:     models.StepFailed,
		StartedAt:  now,
		FinishedAt: now,
	}
	if err := s.sessions.RecordStepResult(ctx, sessionID, failed, nil); err != nil {
		// The resolution error is already on its way to the caller.
		return
	}
}

// retryResult re-opens the current iteration slot and re-renders the same
// prompt, carrying the reviewer's feedback so the host can improve.
func (s *Server) retryResult(ctx context.Context, stepCfg *config.StepConfig,
	sess *models.Session, fb *qualityFeedback, completed *models.StepResult, d *flow.Decision,
) (*mcp.CallToolResult, error) {
	reopened := *completed
	reopened.Status = models.StepPending
	reopened.RetryCount = d.Next.Retry
	if err := s.sessions.RecordStepResult(ctx, sess.ID, &reopened, nil); err != nil {
		return errorResult("next_step", err, nil), nil
	}

	tmplName := stepTemplateName(stepCfg, sess)
	params := baseParams(sess)
	fanOutParams(params, d)
	rendered, err := s.templates.Get(tmplName, params)
	if err != nil {
		return errorResult("next_step", err, nil), nil
	}

	resultContext := map[string]any{
		"retry_reason": "quality score below threshold",
	}
	if fb != nil {
		if fb.QualityScore != nil {
			resultContext["quality_score"] = *fb.QualityScore
		}
		if fb.Feedback != "" {
			resultContext["feedback"] = fb.Feedback
		}
		if len(fb.ImprovementAreas) > 0 {
			resultContext["improvement_areas"] = fb.ImprovementAreas
		}
	}

	metadata := map[string]any{
		"flow_type":          sess.FlowType,
		"step_number":        sess.StepNumber,
		"template":           tmplName,
		"retry_count":        d.Next.Retry,
		"attempts_remaining": flow.RetryMax - d.Next.Retry + 1,
		"quality_threshold":  stepCfg.Threshold(),
	}
	if d.ForEachTotal > 0 {
		metadata["iteration"] = d.Next.Iteration + 1
		metadata["iteration_total"] = d.ForEachTotal
	}

	return toolResult(&ToolResult{
		ToolName:       "next_step",
		SessionID:      sess.ID,
		Step:           stepCfg.Name,
		PromptTemplate: rendered,
		Instructions:   stepCfg.Instructions,
		Context:        resultContext,
		NextAction:     "Redo this step addressing the feedback, then call next_step with the improved result.",
		Metadata:       metadata,
	}), nil
}

// stepResult renders the prompt for the step the decision points at.
func (s *Server) stepResult(ctx context.Context, toolName string, flowCfg *config.FlowConfig,
	sess *models.Session, d *flow.Decision, previous *models.StepResult,
) (*mcp.CallToolResult, error) {
	stepCfg, idx := flowCfg.Step(d.Next.Step)
	if stepCfg == nil {
		return errorResult(toolName,
			fmt.Errorf("%w: step %q not in flow %q",
				config.ErrStepNotFound, d.Next.Step, sess.FlowType), nil), nil
	}

	tmplName := stepTemplateName(stepCfg, sess)
	params := baseParams(sess)
	fanOutParams(params, d)

	rendered, err := s.templates.Get(tmplName, params)
	if err != nil {
		if errors.Is(err, config.ErrTemplateNotFound) {
			s.recordTemplateFailure(ctx, sess.ID, stepCfg.Name, d.Next.Iteration)
			return errorResult(toolName, err, map[string]any{
				"template":          tmplName,
				"fallback_template": fallbackPrompt(tmplName, sess),
			}), nil
		}
		return errorResult(toolName, err, nil), nil
	}

	expected := config.OutputText
	if stepCfg.ExpectsJSON() {
		expected = config.OutputJSON
	}
	metadata := map[string]any{
		"flow_type":         sess.FlowType,
		"step_index":        idx,
		"total_steps":       len(flowCfg.Steps),
		"template":          tmplName,
		"expected_output":   expected,
		"quality_threshold": stepCfg.Threshold(),
		"required":          stepCfg.Required,
	}
	if d.ForEachTotal > 0 {
		metadata["iteration"] = d.Next.Iteration + 1
		metadata["iteration_total"] = d.ForEachTotal
		metadata["parallel"] = stepCfg.Parallel
	}

	resultContext := map[string]any{
		"topic":      sess.Topic,
		"complexity": sess.Context["complexity"],
	}
	if focus, ok := sess.Context["focus"]; ok {
		resultContext["focus"] = focus
	}
	if previous != nil {
		resultContext["previous_step"] = previous.StepName
	}

	return toolResult(&ToolResult{
		ToolName:       toolName,
		SessionID:      sess.ID,
		Step:           stepCfg.Name,
		PromptTemplate: rendered,
		Instructions:   stepCfg.Instructions,
		Context:        resultContext,
		NextAction:     "Perform the step described in prompt_template, then call next_step with your result.",
		Metadata:       metadata,
	}), nil
}

// recordTemplateFailure marks a step failed after its template could not
// be resolved. The cursor is intentionally not moved.
func (s *Server) recordTemplateFailure(ctx context.Context, sessionID, stepName string, iteration int) {
	now := time.Now().UTC()
	failed := &models.StepResult{
		StepName:       stepName,
		IterationIndex: iteration,
		Status:         models.StepFailed,
		StartedAt:      now,
		FinishedAt:     now,
	}
	_ = s.sessions.RecordStepResult(ctx, sessionID, failed, nil)
}

// completionResult renders the completion summary for the session.
func (s *Server) completionResult(ctx context.Context, toolName string, flowCfg *config.FlowConfig, sessionID string) (*mcp.CallToolResult, error) {
	sess, err := s.sessions.Peek(ctx, sessionID)
	if err != nil {
		return errorResult(toolName, err, nil), nil
	}

	rendered, err := s.templates.Get("completion_summary", completionParams(flowCfg, sess))
	if err != nil {
		return errorResult(toolName, err, nil), nil
	}

	nextAction := "Call complete_thinking to close the session."
	if sess.Status == models.SessionCompleted {
		nextAction = "The thinking session is complete. Present the final answer to the user."
	}

	return toolResult(&ToolResult{
		ToolName:       toolName,
		SessionID:      sess.ID,
		Step:           models.StepComplete,
		PromptTemplate: rendered,
		Instructions:   "Produce the final report described in prompt_template.",
		Context: map[string]any{
			"topic":  sess.Topic,
			"status": string(sess.Status),
		},
		NextAction: nextAction,
		Metadata: map[string]any{
			"flow_type":       sess.FlowType,
			"steps_completed": sess.CompletedSteps(),
		},
	}), nil
}
