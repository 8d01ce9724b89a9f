package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcps/deep-thinking/pkg/config"
	"github.com/mcps/deep-thinking/pkg/models"
	"github.com/mcps/deep-thinking/pkg/store"
)

func newTestManager(t *testing.T, mutate func(*config.ServerOptions)) *Manager {
	t.Helper()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	opts := config.DefaultServerOptions()
	if mutate != nil {
		mutate(opts)
	}
	return NewManager(st, opts)
}

func TestCreateAndGet(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Create(ctx, "topic", "comprehensive_analysis", map[string]any{"complexity": "moderate"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, models.SessionActive, sess.Status)
	assert.Equal(t, 0, sess.StepNumber)

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "moderate", got.Context["complexity"])
}

func TestGetReturnsClones(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Create(ctx, "topic", "flow", map[string]any{})
	require.NoError(t, err)

	first, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	first.Context["mutation"] = "should not stick"

	second, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotContains(t, second.Context, "mutation")
}

func TestGetNotFound(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMaxSessionsEnforced(t *testing.T) {
	m := newTestManager(t, func(o *config.ServerOptions) { o.MaxSessions = 2 })
	ctx := context.Background()

	_, err := m.Create(ctx, "one", "flow", map[string]any{})
	require.NoError(t, err)
	_, err = m.Create(ctx, "two", "flow", map[string]any{})
	require.NoError(t, err)

	_, err = m.Create(ctx, "three", "flow", map[string]any{})
	assert.ErrorIs(t, err, ErrTooManySessions)
}

func TestMaxSessionsCountsOnlyActive(t *testing.T) {
	m := newTestManager(t, func(o *config.ServerOptions) { o.MaxSessions = 1 })
	ctx := context.Background()

	sess, err := m.Create(ctx, "one", "flow", map[string]any{})
	require.NoError(t, err)
	require.NoError(t, m.MarkCompleted(ctx, sess.ID, ""))

	_, err = m.Create(ctx, "two", "flow", map[string]any{})
	assert.NoError(t, err)
}

func TestRecordStepResult(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Create(ctx, "topic", "flow", map[string]any{})
	require.NoError(t, err)

	score := 0.9
	now := time.Now().UTC()
	output := map[string]any{"sub_questions": []any{map[string]any{"id": "SQ1"}}}
	require.NoError(t, m.RecordStepResult(ctx, sess.ID, &models.StepResult{
		StepName:         "decompose_problem",
		Status:           models.StepCompleted,
		RawText:          "raw",
		StructuredOutput: output,
		QualityScore:     &score,
		StartedAt:        now,
		FinishedAt:       now,
	}, output))

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.StepResults["decompose_problem"], 1)
	assert.Equal(t, 0.9, got.QualityScores["decompose_problem"])
	assert.Contains(t, got.StepOutputs, "decompose_problem")
	assert.Equal(t, 1, got.CompletedSteps())
}

func TestRecordStepResultRetryOverwritesIteration(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Create(ctx, "topic", "flow", map[string]any{})
	require.NoError(t, err)

	now := time.Now().UTC()
	low := 0.4
	require.NoError(t, m.RecordStepResult(ctx, sess.ID, &models.StepResult{
		StepName: "step_a", Status: models.StepCompleted, RawText: "first try",
		QualityScore: &low, StartedAt: now, FinishedAt: now,
	}, nil))

	high := 0.95
	require.NoError(t, m.RecordStepResult(ctx, sess.ID, &models.StepResult{
		StepName: "step_a", Status: models.StepCompleted, RawText: "second try",
		QualityScore: &high, RetryCount: 1, StartedAt: now, FinishedAt: now,
	}, nil))

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.StepResults["step_a"], 1, "retry replaces the same iteration record")
	assert.Equal(t, "second try", got.StepResults["step_a"][0].RawText)
	assert.Equal(t, 1, got.StepResults["step_a"][0].RetryCount)
	assert.Equal(t, 0.95, got.QualityScores["step_a"])
}

func TestTerminalSessionRejectsMutation(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Create(ctx, "topic", "flow", map[string]any{})
	require.NoError(t, err)
	require.NoError(t, m.MarkCompleted(ctx, sess.ID, "done"))

	err = m.SetCurrentStep(ctx, sess.ID, "anywhere", 1)
	assert.ErrorIs(t, err, ErrSessionTerminal)

	err = m.RecordStepResult(ctx, sess.ID, &models.StepResult{StepName: "x"}, nil)
	assert.ErrorIs(t, err, ErrSessionTerminal)

	err = m.MarkCompleted(ctx, sess.ID, "again")
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestExpiryOnTouch(t *testing.T) {
	m := newTestManager(t, func(o *config.ServerOptions) { o.SessionTimeoutMinutes = 60 })
	ctx := context.Background()

	base := time.Now().UTC()
	m.now = func() time.Time { return base }

	sess, err := m.Create(ctx, "topic", "flow", map[string]any{})
	require.NoError(t, err)

	// Just inside the timeout: still served.
	m.now = func() time.Time { return base.Add(60*time.Minute - time.Second) }
	_, err = m.Get(ctx, sess.ID)
	require.NoError(t, err)

	// The in-bounds Get refreshed updated_at, so jump past the timeout
	// from that touch.
	m.now = func() time.Time { return base.Add(121 * time.Minute) }
	_, err = m.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	// Expired is sticky.
	m.now = func() time.Time { return base.Add(122 * time.Minute) }
	_, err = m.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestExpiryExactBoundaryServed(t *testing.T) {
	m := newTestManager(t, func(o *config.ServerOptions) { o.SessionTimeoutMinutes = 60 })
	ctx := context.Background()

	base := time.Now().UTC()
	m.now = func() time.Time { return base }

	sess, err := m.Create(ctx, "topic", "flow", map[string]any{})
	require.NoError(t, err)

	// now - updated_at == timeout exactly: not expired (strict >).
	m.now = func() time.Time { return base.Add(60 * time.Minute) }
	_, err = m.Get(ctx, sess.ID)
	assert.NoError(t, err)
}

func TestExpireStale(t *testing.T) {
	m := newTestManager(t, func(o *config.ServerOptions) { o.SessionTimeoutMinutes = 60 })
	ctx := context.Background()

	base := time.Now().UTC()
	m.now = func() time.Time { return base }
	stale, err := m.Create(ctx, "stale", "flow", map[string]any{})
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(30 * time.Minute) }
	fresh, err := m.Create(ctx, "fresh", "flow", map[string]any{})
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(90 * time.Minute) }
	n, err := m.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = m.Get(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = m.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestCacheEvictionFallsBackToStore(t *testing.T) {
	m := newTestManager(t, func(o *config.ServerOptions) { o.SessionCacheSize = 1 })
	ctx := context.Background()

	a, err := m.Create(ctx, "a", "flow", map[string]any{})
	require.NoError(t, err)
	_, err = m.Create(ctx, "b", "flow", map[string]any{})
	require.NoError(t, err)

	// "a" was evicted by "b"; the store remains authoritative.
	got, err := m.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Topic)
}

func TestListAndDelete(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := m.Create(ctx, "topic", "flow", map[string]any{})
	require.NoError(t, err)

	summaries, err := m.List(ctx, models.SessionActive, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, sess.ID, summaries[0].ID)

	require.NoError(t, m.Delete(ctx, sess.ID))
	_, err = m.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, m.Delete(ctx, sess.ID), ErrSessionNotFound)
}

func TestPeekDoesNotTouch(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	base := time.Now().UTC()
	m.now = func() time.Time { return base }
	sess, err := m.Create(ctx, "topic", "flow", map[string]any{})
	require.NoError(t, err)

	m.now = func() time.Time { return base.Add(10 * time.Minute) }
	peeked, err := m.Peek(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, peeked.UpdatedAt.Equal(base), "Peek must not refresh updated_at")

	touched, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, touched.UpdatedAt.After(base), "Get must refresh updated_at")
}
