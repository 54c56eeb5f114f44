package session

import (
	"context"
	"sync"
	"time"

	"github.com/realleaders/portal/pkg/clock"
	"github.com/realleaders/portal/pkg/identity"
	"github.com/realleaders/portal/pkg/observability"
)

// DefaultRefreshInterval refreshes well inside a 24 hour token lifetime
const DefaultRefreshInterval = 1380 * time.Minute

// refreshTimeout bounds a single refresh call
const refreshTimeout = 30 * time.Second

// RefreshTokens is the part of the token store the scheduler needs
type RefreshTokens interface {
	Get(ctx context.Context) (string, bool, error)
	Rotate(ctx context.Context, token string) error
}

// Refresher calls the remote refresh endpoint
type Refresher interface {
	RefreshToken(ctx context.Context, token string) (*identity.RefreshResult, error)
}

// Handle identifies one started refresh timer
type Handle struct {
	id       uint64
	interval time.Duration
	timer    clock.Timer
}

// Interval returns the firing interval
func (h *Handle) Interval() time.Duration {
	return h.interval
}

// Scheduler keeps at most one refresh timer active
type Scheduler struct {
	tokens    RefreshTokens
	refresher Refresher
	clock     clock.Clock
	logger    *observability.Logger
	metrics   *observability.Metrics

	mu     sync.Mutex
	nextID uint64
	active *Handle
}

// NewScheduler creates a scheduler
func NewScheduler(tokens RefreshTokens, refresher Refresher, clk clock.Clock, logger *observability.Logger, metrics *observability.Metrics) *Scheduler {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Scheduler{
		tokens:    tokens,
		refresher: refresher,
		clock:     clk,
		logger:    logger.WithField("component", "refresh_scheduler"),
		metrics:   metrics,
	}
}

// Start registers a recurring refresh every interval and returns its handle.
// Without a stored token nothing is scheduled and the handle is nil. Any
// previously active timer is stopped first. A non-positive interval uses
// DefaultRefreshInterval.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) *Handle {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	_, ok, err := s.tokens.Get(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read token, not scheduling refresh")
		return nil
	}
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	s.nextID++
	h := &Handle{id: s.nextID, interval: interval}
	h.timer = s.clock.Every(interval, func() { s.fire(h) })
	s.active = h
	s.metrics.ActiveRefreshTimers.Inc()

	s.logger.WithField("interval", interval.String()).Debug("Token refresh scheduled")
	return h
}

// Stop cancels h if it is still the active timer. Stale and nil handles are
// ignored. It reports whether a timer was cancelled.
func (s *Scheduler) Stop(h *Handle) bool {
	if h == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != h {
		return false
	}
	s.stopLocked()
	return true
}

// StopAll cancels whatever timer is active
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Active returns the active handle or nil
func (s *Scheduler) Active() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Scheduler) stopLocked() {
	if s.active == nil {
		return
	}
	s.active.timer.Stop()
	s.active = nil
	s.metrics.ActiveRefreshTimers.Dec()
}

func (s *Scheduler) isActive(h *Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active == h
}

// fire runs one refresh. The token is re-read every time since it may have
// changed since Start. Failures leave both the token and the timer alone.
func (s *Scheduler) fire(h *Handle) {
	if !s.isActive(h) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	token, ok, err := s.tokens.Get(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read token for refresh")
		s.metrics.TokenRefreshTotal.WithLabelValues("skipped").Inc()
		return
	}
	if !ok {
		s.metrics.TokenRefreshTotal.WithLabelValues("skipped").Inc()
		return
	}

	result, err := s.refresher.RefreshToken(ctx, token)
	if err != nil {
		s.logger.WithError(err).Warn("Token refresh failed, will retry on next tick")
		s.metrics.TokenRefreshTotal.WithLabelValues("failed").Inc()
		return
	}

	// Holding the lock orders this write against Stop: once StopAll returns
	// no refreshed token can be written back. Logout relies on this by
	// stopping timers before it clears the token.
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != h {
		s.metrics.TokenRefreshTotal.WithLabelValues("discarded").Inc()
		return
	}
	current, ok, err := s.tokens.Get(ctx)
	if err != nil || !ok || current != token {
		// Logged out or replaced by another tab while the call was in flight.
		s.metrics.TokenRefreshTotal.WithLabelValues("discarded").Inc()
		return
	}

	if err := s.tokens.Rotate(ctx, result.Token); err != nil {
		s.logger.WithError(err).Error("Failed to store refreshed token")
		s.metrics.TokenRefreshTotal.WithLabelValues("store_failed").Inc()
		return
	}

	s.metrics.TokenRefreshTotal.WithLabelValues("success").Inc()
	s.logger.WithField("expires_in", result.ExpiresIn).Debug("Token refreshed")
}
