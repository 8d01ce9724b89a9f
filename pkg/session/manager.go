// Package session owns all mutable session state. Other components read
// sessions through clones handed out by the Manager and mutate them only
// through its methods; every mutation is written through to the store
// before the in-memory copy changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mcps/deep-thinking/pkg/config"
	"github.com/mcps/deep-thinking/pkg/models"
	"github.com/mcps/deep-thinking/pkg/store"
)

// Manager manages session lifecycle over a write-through cache.
type Manager struct {
	store *store.Store
	opts  *config.ServerOptions
	cache *cache
	locks locks

	// now is a clock hook for expiry tests.
	now func() time.Time
}

// NewManager creates a session manager backed by st.
func NewManager(st *store.Store, opts *config.ServerOptions) *Manager {
	return &Manager{
		store: st,
		opts:  opts,
		cache: newCache(opts.SessionCacheSize),
		now:   time.Now,
	}
}

// Create starts a new active session and persists it. The active-session
// limit is enforced here; hitting it returns ErrTooManySessions.
func (m *Manager) Create(ctx context.Context, topic, flowType string, sessionContext map[string]any) (*models.Session, error) {
	active, err := m.store.CountActive(ctx)
	if err != nil {
		return nil, NewStorageError("create", err)
	}
	if active >= m.opts.MaxSessions {
		return nil, fmt.Errorf("%w: limit %d reached", ErrTooManySessions, m.opts.MaxSessions)
	}

	now := m.now().UTC()
	sess := &models.Session{
		ID:            uuid.New().String(),
		Topic:         topic,
		FlowType:      flowType,
		Status:        models.SessionActive,
		Context:       sessionContext,
		StepResults:   make(map[string][]*models.StepResult),
		StepOutputs:   make(map[string]any),
		QualityScores: make(map[string]float64),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := m.withRetry(func() error { return m.store.SaveSession(ctx, sess) }); err != nil {
		return nil, NewStorageError("create", err)
	}
	m.cache.put(sess.ID, sess)

	slog.Info("Session created",
		"session_id", sess.ID,
		"flow_type", flowType,
		"active_sessions", active+1)
	return sess.Clone(), nil
}

// Get loads a session for an MCP tool call: expiry is checked and, when
// the session is still active, updated_at is refreshed. Internal readers
// that must not touch the session use Peek.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	mu := m.locks.lock(id)
	defer mu.Unlock()

	sess, err := m.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.checkExpiry(ctx, sess); err != nil {
		return nil, err
	}
	if sess.Status == models.SessionActive {
		now := m.now().UTC()
		if err := m.withRetry(func() error { return m.store.Touch(ctx, id, now) }); err != nil {
			return nil, NewStorageError("touch", err)
		}
		sess.UpdatedAt = now
	}
	return sess.Clone(), nil
}

// Peek loads a session without refreshing updated_at. Expiry is still
// applied so stale reads never observe an active session past timeout.
func (m *Manager) Peek(ctx context.Context, id string) (*models.Session, error) {
	mu := m.locks.lock(id)
	defer mu.Unlock()

	sess, err := m.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.checkExpiry(ctx, sess); err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// RecordStepResult appends (or, for a quality-gate retry of the same
// iteration, overwrites) a step result, updates the step's structured
// output and quality score, and persists everything. On a storage failure
// that survives the retry the session is marked failed.
func (m *Manager) RecordStepResult(ctx context.Context, id string, result *models.StepResult, output any) error {
	mu := m.locks.lock(id)
	defer mu.Unlock()

	sess, err := m.usable(ctx, id)
	if err != nil {
		return err
	}

	existing := sess.Result(result.StepName, result.IterationIndex)
	op := func() error {
		if existing != nil {
			return m.store.UpdateStepResult(ctx, id, result)
		}
		return m.store.AppendStepResult(ctx, id, result)
	}
	if err := m.withRetry(op); err != nil {
		m.markFailed(ctx, id, sess)
		return NewStorageError("record_step", err)
	}

	// Mutate the cached copy only after the write-through succeeded.
	if existing != nil {
		*existing = *result
	} else {
		sess.StepResults[result.StepName] = append(sess.StepResults[result.StepName], result)
	}
	if output != nil {
		sess.StepOutputs[result.StepName] = output
	}
	if result.QualityScore != nil {
		sess.QualityScores[result.StepName] = *result.QualityScore
	}
	sess.UpdatedAt = m.now().UTC()

	if err := m.withRetry(func() error { return m.store.SaveSession(ctx, sess) }); err != nil {
		m.markFailed(ctx, id, sess)
		return NewStorageError("record_step", err)
	}
	return nil
}

// SetCurrentStep moves the session cursor.
func (m *Manager) SetCurrentStep(ctx context.Context, id, stepName string, stepNumber int) error {
	mu := m.locks.lock(id)
	defer mu.Unlock()

	sess, err := m.usable(ctx, id)
	if err != nil {
		return err
	}

	now := m.now().UTC()
	err = m.withRetry(func() error {
		return m.store.UpdateCurrentStep(ctx, id, stepName, stepNumber, now)
	})
	if err != nil {
		return NewStorageError("set_current_step", err)
	}

	sess.CurrentStep = stepName
	sess.StepNumber = stepNumber
	sess.UpdatedAt = now
	return nil
}

// MarkCompleted moves the session to completed and records the caller's
// final insights in its context.
func (m *Manager) MarkCompleted(ctx context.Context, id, finalInsights string) error {
	mu := m.locks.lock(id)
	defer mu.Unlock()

	sess, err := m.usable(ctx, id)
	if err != nil {
		return err
	}

	if finalInsights != "" {
		sess.Context["final_insights"] = finalInsights
	}
	sess.Status = models.SessionCompleted
	sess.CurrentStep = models.StepComplete
	sess.UpdatedAt = m.now().UTC()

	if err := m.withRetry(func() error { return m.store.SaveSession(ctx, sess) }); err != nil {
		return NewStorageError("complete", err)
	}

	slog.Info("Session completed",
		"session_id", id,
		"steps_completed", sess.CompletedSteps())
	return nil
}

// ExpireStale marks every active session idle past the timeout as expired
// and evicts it from the cache. Returns the number of sessions expired.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	cutoff := m.now().UTC().Add(-m.opts.SessionTimeout())
	ids, err := m.store.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, NewStorageError("expire_stale", err)
	}

	expired := 0
	for _, id := range ids {
		mu := m.locks.lock(id)
		if err := m.store.MarkStatus(ctx, id, models.SessionExpired, m.now().UTC()); err != nil {
			mu.Unlock()
			slog.Warn("Failed to expire session", "session_id", id, "error", err)
			continue
		}
		m.cache.remove(id)
		expired++
		mu.Unlock()
	}

	if expired > 0 {
		slog.Info("Expired stale sessions", "count", expired)
	}
	return expired, nil
}

// List returns session summaries from the store.
func (m *Manager) List(ctx context.Context, status models.SessionStatus, limit int) ([]*store.SessionSummary, error) {
	summaries, err := m.store.ListSessions(ctx, status, limit)
	if err != nil {
		return nil, NewStorageError("list", err)
	}
	return summaries, nil
}

// Delete removes a session permanently.
func (m *Manager) Delete(ctx context.Context, id string) error {
	mu := m.locks.lock(id)
	defer mu.Unlock()

	if err := m.store.DeleteSession(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: '%s'", ErrSessionNotFound, id)
		}
		return NewStorageError("delete", err)
	}
	m.cache.remove(id)
	return nil
}

// fetch returns the manager-owned session instance, loading it into the
// cache on a miss. Callers must hold the session's lock.
func (m *Manager) fetch(ctx context.Context, id string) (*models.Session, error) {
	if sess, ok := m.cache.get(id); ok {
		return sess, nil
	}

	sess, err := m.store.LoadSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: '%s'", ErrSessionNotFound, id)
		}
		return nil, NewStorageError("load", err)
	}
	m.cache.put(id, sess)
	return sess, nil
}

// usable fetches a session that may still be mutated: present, not
// expired, not terminal.
func (m *Manager) usable(ctx context.Context, id string) (*models.Session, error) {
	sess, err := m.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.checkExpiry(ctx, sess); err != nil {
		return nil, err
	}
	if sess.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: '%s' is %s", ErrSessionTerminal, id, sess.Status)
	}
	return sess, nil
}

// checkExpiry applies the expiry-on-touch rule: an active session idle
// strictly longer than the timeout becomes expired.
func (m *Manager) checkExpiry(ctx context.Context, sess *models.Session) error {
	if sess.Status != models.SessionActive {
		if sess.Status == models.SessionExpired {
			return fmt.Errorf("%w: '%s'", ErrSessionExpired, sess.ID)
		}
		return nil
	}
	if m.now().UTC().Sub(sess.UpdatedAt) <= m.opts.SessionTimeout() {
		return nil
	}

	sess.Status = models.SessionExpired
	if err := m.store.MarkStatus(ctx, sess.ID, models.SessionExpired, m.now().UTC()); err != nil {
		slog.Warn("Failed to persist session expiry", "session_id", sess.ID, "error", err)
	}
	m.cache.remove(sess.ID)
	slog.Info("Session expired on touch", "session_id", sess.ID)
	return fmt.Errorf("%w: '%s'", ErrSessionExpired, sess.ID)
}

// markFailed is the best-effort terminal transition after a storage
// failure during a step_results write.
func (m *Manager) markFailed(ctx context.Context, id string, sess *models.Session) {
	sess.Status = models.SessionFailed
	if err := m.store.MarkStatus(ctx, id, models.SessionFailed, m.now().UTC()); err != nil {
		slog.Warn("Failed to mark session failed", "session_id", id, "error", err)
	}
	m.cache.remove(id)
}

// withRetry runs op and retries exactly once on failure. Store operations
// are transactional, so a retry never observes a partial write.
func (m *Manager) withRetry(op func() error) error {
	err := op()
	if err == nil {
		return nil
	}
	// Duplicates and missing rows are deterministic; retrying cannot help.
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrDuplicate) {
		return err
	}
	slog.Warn("Store operation failed, retrying once", "error", err)
	return op()
}
