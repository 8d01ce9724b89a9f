// Package cleanup runs the background session expiry sweep.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcps/deep-thinking/pkg/session"
)

// DefaultInterval is how often the sweep runs.
const DefaultInterval = time.Minute

// Service periodically expires sessions that idled past the configured
// timeout. Expiry is also applied on every session touch, so the sweep
// only catches sessions nobody reads anymore.
type Service struct {
	sessions *session.Manager
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the expiry sweep over the given session manager.
// A non-positive interval falls back to DefaultInterval.
func NewService(sessions *session.Manager, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		sessions: sessions,
		interval: interval,
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Expiry sweep started", "interval", s.interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Expiry sweep stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	if _, err := s.sessions.ExpireStale(ctx); err != nil {
		slog.Error("Expiry sweep failed", "error", err)
	}
}
