package server

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcps/deep-thinking/pkg/config"
	"github.com/mcps/deep-thinking/pkg/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return New(cfg, st)
}

// newTestServerWithConfig builds a server from a user config file layered
// over the built-ins.
func newTestServerWithConfig(t *testing.T, yaml string) *Server {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return New(cfg, st)
}

func callReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func okResult(t *testing.T, res *mcp.CallToolResult, err error) *ToolResult {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, res)
	require.False(t, res.IsError, "unexpected tool error: %+v", res.StructuredContent)
	tr, ok := res.StructuredContent.(*ToolResult)
	require.True(t, ok, "unexpected payload type %T", res.StructuredContent)
	return tr
}

func errEnvelope(t *testing.T, res *mcp.CallToolResult, err error) ErrorEnvelope {
	t.Helper()
	require.NoError(t, err)
	require.NotNil(t, res)
	require.True(t, res.IsError)
	env, ok := res.StructuredContent.(ErrorEnvelope)
	require.True(t, ok, "unexpected payload type %T", res.StructuredContent)
	return env
}

func start(t *testing.T, s *Server, args map[string]any) *ToolResult {
	t.Helper()
	res, err := s.StartThinking(context.Background(), callReq(args))
	return okResult(t, res, err)
}

func next(t *testing.T, s *Server, sessionID, stepResult string, score *float64) *ToolResult {
	t.Helper()
	args := map[string]any{
		"session_id":  sessionID,
		"step_result": stepResult,
	}
	if score != nil {
		args["quality_feedback"] = map[string]any{"quality_score": *score}
	}
	res, err := s.NextStep(context.Background(), callReq(args))
	return okResult(t, res, err)
}

func score(v float64) *float64 { return &v }

func TestHappyPathFullFlow(t *testing.T) {
	s := newTestServer(t)

	first := start(t, s, map[string]any{"topic": "should we adopt event sourcing"})
	assert.Equal(t, "start_thinking", first.ToolName)
	assert.NotEmpty(t, first.SessionID)
	assert.Equal(t, "decompose_problem", first.Step)
	assert.Contains(t, first.PromptTemplate, "should we adopt event sourcing")
	id := first.SessionID

	// Two sub-questions drive two evidence iterations.
	r := next(t, s, id, `{"sub_questions": ["q1", "q2"]}`, nil)
	assert.Equal(t, "collect_evidence", r.Step)
	assert.Contains(t, r.PromptTemplate, "q1")
	assert.Equal(t, 1, r.Metadata["iteration"])
	assert.Equal(t, 2, r.Metadata["iteration_total"])

	r = next(t, s, id, "evidence for q1", nil)
	assert.Equal(t, "collect_evidence", r.Step)
	assert.Contains(t, r.PromptTemplate, "q2")
	assert.Equal(t, 2, r.Metadata["iteration"])

	r = next(t, s, id, "evidence for q2", nil)
	assert.Equal(t, "multi_perspective_debate", r.Step)

	r = next(t, s, id, "pro, con, and neutral positions", nil)
	assert.Equal(t, "critical_evaluation", r.Step)

	// 0.9 passes the 0.8 gate and enables the innovation conditional.
	r = next(t, s, id, "thorough critique", score(0.9))
	assert.Equal(t, "bias_detection", r.Step)

	r = next(t, s, id, "no major biases found", nil)
	assert.Equal(t, "innovation_thinking", r.Step)

	r = next(t, s, id, "three novel framings", nil)
	assert.Equal(t, "reflection", r.Step)

	r = next(t, s, id, "final reflection", nil)
	assert.Equal(t, "__complete__", r.Step)
	assert.Contains(t, r.NextAction, "complete_thinking")

	res, err := s.CompleteThinking(context.Background(), callReq(map[string]any{
		"session_id":     id,
		"final_insights": "adopt it incrementally",
	}))
	done := okResult(t, res, err)
	assert.Equal(t, "__complete__", done.Step)
	assert.Contains(t, done.PromptTemplate, "adopt it incrementally")
	assert.Equal(t, "completed", done.Context["status"])

	// Terminal sessions reject further mutation.
	res, err = s.NextStep(context.Background(), callReq(map[string]any{
		"session_id":  id,
		"step_result": "more thoughts",
	}))
	env := errEnvelope(t, res, err)
	assert.Equal(t, CodeSessionTerminal, env.ErrorCode)
}

func TestQualityGateRetriesThenAdvances(t *testing.T) {
	s := newTestServer(t)
	id := start(t, s, map[string]any{"topic": "retry topic"}).SessionID

	next(t, s, id, `{"sub_questions": ["only"]}`, nil)
	next(t, s, id, "evidence", nil)
	r := next(t, s, id, "debate", nil)
	require.Equal(t, "critical_evaluation", r.Step)

	r = next(t, s, id, "weak critique", score(0.5))
	assert.Equal(t, "critical_evaluation", r.Step)
	assert.Equal(t, 1, r.Metadata["retry_count"])
	assert.Contains(t, r.NextAction, "Redo")

	r = next(t, s, id, "still weak", score(0.5))
	assert.Equal(t, "critical_evaluation", r.Step)
	assert.Equal(t, 2, r.Metadata["retry_count"])

	// Third low score exhausts the retry budget; the flow moves on.
	r = next(t, s, id, "best effort", score(0.5))
	assert.Equal(t, "bias_detection", r.Step)

	// The 0.5 score also falsifies the innovation conditional.
	r = next(t, s, id, "bias check", nil)
	assert.Equal(t, "reflection", r.Step)
}

func TestConditionalStepSkipped(t *testing.T) {
	s := newTestServer(t)
	id := start(t, s, map[string]any{"topic": "simple topic", "complexity": "simple"}).SessionID

	next(t, s, id, `{"sub_questions": ["a"]}`, nil)
	next(t, s, id, "evidence", nil)
	next(t, s, id, "debate", nil)

	// No self-evaluation: the gate does not engage without a score.
	r := next(t, s, id, "critique without a score", nil)
	require.Equal(t, "bias_detection", r.Step)

	// complexity != complex and no recorded score, so innovation is skipped.
	r = next(t, s, id, "bias check", nil)
	assert.Equal(t, "reflection", r.Step)
}

func TestEmptyFanOutSkipsAhead(t *testing.T) {
	s := newTestServer(t)
	id := start(t, s, map[string]any{"topic": "trivial"}).SessionID

	r := next(t, s, id, `{"sub_questions": []}`, nil)
	assert.Equal(t, "reflection", r.Step)
}

func TestMalformedFanOutIsRecoverable(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := start(t, s, map[string]any{"topic": "recoverable"}).SessionID

	res, err := s.NextStep(ctx, callReq(map[string]any{
		"session_id":  id,
		"step_result": "free text without any JSON in it",
	}))
	env := errEnvelope(t, res, err)
	assert.Equal(t, CodeForEachResolution, env.ErrorCode)
	assert.Equal(t, "collect_evidence", env.Details["step"])
	assert.NotEmpty(t, env.RecoverySuggestions)

	// analyze_step still works while the session is stuck.
	res, err = s.AnalyzeStep(ctx, callReq(map[string]any{
		"session_id":    id,
		"step_name":     "decompose_problem",
		"step_result":   "free text without any JSON in it",
		"analysis_type": "format",
	}))
	analysis := okResult(t, res, err)
	assert.Equal(t, "analyze_step", analysis.ToolName)
	assert.Contains(t, analysis.PromptTemplate, "decompose_problem")

	// Re-submitting a parseable result unsticks the cursor.
	r := next(t, s, id, `{"sub_questions": ["fixed"]}`, nil)
	assert.Equal(t, "collect_evidence", r.Step)
	assert.Contains(t, r.PromptTemplate, "fixed")
}

func TestStartThenCompleteImmediately(t *testing.T) {
	s := newTestServer(t)
	id := start(t, s, map[string]any{"topic": "quick exit"}).SessionID

	res, err := s.CompleteThinking(context.Background(), callReq(map[string]any{"session_id": id}))
	done := okResult(t, res, err)
	assert.Equal(t, "__complete__", done.Step)
	assert.Equal(t, 0, done.Metadata["steps_completed"])
	assert.Contains(t, done.PromptTemplate, "quick exit")
}

func TestAnalyzeStepIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := start(t, s, map[string]any{"topic": "idempotence"}).SessionID

	args := callReq(map[string]any{
		"session_id":  id,
		"step_name":   "decompose_problem",
		"step_result": "some decomposition",
	})
	res1, err := s.AnalyzeStep(ctx, args)
	first := okResult(t, res1, err)
	res2, err := s.AnalyzeStep(ctx, args)
	second := okResult(t, res2, err)

	assert.Equal(t, first.PromptTemplate, second.PromptTemplate)
	assert.Equal(t, "quality", first.Context["analysis_type"])
}

func TestComplexTopicUsesDeepDecomposition(t *testing.T) {
	s := newTestServer(t)

	r := start(t, s, map[string]any{"topic": "hard problem", "complexity": "complex"})
	assert.Equal(t, "decomposition_high", r.Metadata["template"])
}

func TestInputValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
		code string
	}{
		{"empty topic", map[string]any{"topic": ""}, CodeValidationError},
		{"oversized topic", map[string]any{"topic": strings.Repeat("x", 1001)}, CodeValidationError},
		{"bad complexity", map[string]any{"topic": "t", "complexity": "extreme"}, CodeValidationError},
		{"unknown flow", map[string]any{"topic": "t", "flow_type": "no_such_flow"}, CodeFlowNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.StartThinking(ctx, callReq(tt.args))
			env := errEnvelope(t, res, err)
			assert.Equal(t, tt.code, env.ErrorCode)
		})
	}

	// Boundary: exactly 1000 runes is accepted.
	r := start(t, s, map[string]any{"topic": strings.Repeat("y", 1000)})
	assert.Equal(t, "decompose_problem", r.Step)
}

func TestNextStepValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := start(t, s, map[string]any{"topic": "valid"}).SessionID

	res, err := s.NextStep(ctx, callReq(map[string]any{"session_id": id, "step_result": ""}))
	assert.Equal(t, CodeValidationError, errEnvelope(t, res, err).ErrorCode)

	res, err = s.NextStep(ctx, callReq(map[string]any{
		"session_id":       id,
		"step_result":      "r",
		"quality_feedback": map[string]any{"quality_score": 1.5},
	}))
	assert.Equal(t, CodeValidationError, errEnvelope(t, res, err).ErrorCode)

	res, err = s.NextStep(ctx, callReq(map[string]any{"session_id": "ghost", "step_result": "r"}))
	assert.Equal(t, CodeSessionNotFound, errEnvelope(t, res, err).ErrorCode)
}

func TestAnalyzeStepValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := start(t, s, map[string]any{"topic": "analysis"}).SessionID

	res, err := s.AnalyzeStep(ctx, callReq(map[string]any{
		"session_id":    id,
		"step_name":     "decompose_problem",
		"step_result":   "r",
		"analysis_type": "vibes",
	}))
	assert.Equal(t, CodeValidationError, errEnvelope(t, res, err).ErrorCode)

	res, err = s.AnalyzeStep(ctx, callReq(map[string]any{
		"session_id":  id,
		"step_name":   "no_such_step",
		"step_result": "r",
	}))
	assert.Equal(t, CodeStepNotFound, errEnvelope(t, res, err).ErrorCode)
}

func TestCompleteThinkingTwice(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	id := start(t, s, map[string]any{"topic": "double complete"}).SessionID

	res, err := s.CompleteThinking(ctx, callReq(map[string]any{"session_id": id}))
	okResult(t, res, err)

	res, err = s.CompleteThinking(ctx, callReq(map[string]any{"session_id": id}))
	assert.Equal(t, CodeSessionTerminal, errEnvelope(t, res, err).ErrorCode)
}

func TestQualityGateRetryOnFanOutIteration(t *testing.T) {
	const yaml = `
thinking_flows:
  gated_fanout:
    name: Gated fan-out
    steps:
      - name: produce
        template_name: decomposition
        metadata:
          expected_output: json
      - name: examine
        template_name: evidence_collection
        for_each: "produce.sub_questions"
        quality_threshold: 0.8
        retry_on_failure: true
      - name: wrap_up
        template_name: reflection
        final: true
`
	s := newTestServerWithConfig(t, yaml)
	id := start(t, s, map[string]any{"topic": "gated fan-out", "flow_type": "gated_fanout"}).SessionID

	r := next(t, s, id, `{"sub_questions": ["q1", "q2"]}`, nil)
	assert.Equal(t, "examine", r.Step)
	assert.Contains(t, r.PromptTemplate, "q1")

	// A below-threshold score re-presents the same iteration with its item.
	r = next(t, s, id, "thin evidence", score(0.3))
	assert.Equal(t, "examine", r.Step)
	assert.Contains(t, r.PromptTemplate, "q1")
	assert.Equal(t, 1, r.Metadata["retry_count"])
	assert.Equal(t, 1, r.Metadata["iteration"])
	assert.Equal(t, 2, r.Metadata["iteration_total"])

	r = next(t, s, id, "solid evidence for q1", score(0.9))
	assert.Equal(t, "examine", r.Step)
	assert.Contains(t, r.PromptTemplate, "q2")
	assert.Equal(t, 2, r.Metadata["iteration"])

	// Retries work past the first iteration too.
	r = next(t, s, id, "thin evidence again", score(0.3))
	assert.Equal(t, "examine", r.Step)
	assert.Contains(t, r.PromptTemplate, "q2")
	assert.Equal(t, 1, r.Metadata["retry_count"])
	assert.Equal(t, 2, r.Metadata["iteration"])

	r = next(t, s, id, "solid evidence for q2", score(0.9))
	assert.Equal(t, "wrap_up", r.Step)
}
