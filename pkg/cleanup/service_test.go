package cleanup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcps/deep-thinking/pkg/config"
	"github.com/mcps/deep-thinking/pkg/models"
	"github.com/mcps/deep-thinking/pkg/session"
	"github.com/mcps/deep-thinking/pkg/store"
)

func setupManager(t *testing.T) (*store.Store, *session.Manager) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "cleanup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	opts := config.DefaultServerOptions()
	opts.SessionTimeoutMinutes = 30
	return st, session.NewManager(st, opts)
}

func TestService_ExpiresStaleSessions(t *testing.T) {
	st, mgr := setupManager(t)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, "stale topic", "comprehensive_analysis", map[string]any{})
	require.NoError(t, err)

	// Push the session past the timeout.
	err = st.Touch(ctx, sess.ID, time.Now().UTC().Add(-2*time.Hour))
	require.NoError(t, err)

	svc := NewService(mgr, time.Hour)
	svc.sweep(ctx)

	loaded, err := st.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, loaded.Status)
}

func TestService_PreservesFreshSessions(t *testing.T) {
	st, mgr := setupManager(t)
	ctx := context.Background()

	sess, err := mgr.Create(ctx, "fresh topic", "comprehensive_analysis", map[string]any{})
	require.NoError(t, err)

	svc := NewService(mgr, time.Hour)
	svc.sweep(ctx)

	loaded, err := st.LoadSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, loaded.Status)
}

func TestService_StartStop(t *testing.T) {
	_, mgr := setupManager(t)

	svc := NewService(mgr, 10*time.Millisecond)
	svc.Start(context.Background())

	// Second Start is a no-op.
	svc.Start(context.Background())

	time.Sleep(30 * time.Millisecond)
	svc.Stop()
}
