package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realleaders/portal/pkg/identity"
	"github.com/realleaders/portal/pkg/observability"
	"github.com/realleaders/portal/pkg/sso"
	"github.com/realleaders/portal/pkg/tokenstore"
)

// flakyTokens fails reads or writes on demand
type flakyTokens struct {
	*tokenstore.Store
	getErr    error
	rotateErr error
}

func (f *flakyTokens) Get(ctx context.Context) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	return f.Store.Get(ctx)
}

func (f *flakyTokens) Rotate(ctx context.Context, token string) error {
	if f.rotateErr != nil {
		return f.rotateErr
	}
	return f.Store.Rotate(ctx, token)
}

// rotateHook runs beforeRotate ahead of every Rotate
type rotateHook struct {
	*tokenstore.Store
	beforeRotate func()
}

func (r *rotateHook) Rotate(ctx context.Context, token string) error {
	if r.beforeRotate != nil {
		r.beforeRotate()
	}
	return r.Store.Rotate(ctx, token)
}

// clearSignal closes cleared once Clear has run
type clearSignal struct {
	*tokenstore.Store
	cleared chan struct{}
}

func (c *clearSignal) Clear(ctx context.Context) error {
	err := c.Store.Clear(ctx)
	close(c.cleared)
	return err
}

func newTestScheduler(e *env, tokens RefreshTokens) *Scheduler {
	return NewScheduler(tokens, e.identity, e.clock, observability.NewNopLogger(), e.metrics)
}

func TestScheduler_StartWithoutToken(t *testing.T) {
	e := newEnv(t)
	s := newTestScheduler(e, e.tokens("tab-a"))

	assert.Nil(t, s.Start(context.Background(), time.Hour))
	assert.Nil(t, s.Active())
	assert.Equal(t, 0, e.clock.Active())
}

func TestScheduler_StartReadErrorSchedulesNothing(t *testing.T) {
	e := newEnv(t)
	s := newTestScheduler(e, &flakyTokens{Store: e.tokens("tab-a"), getErr: errors.New("storage disabled")})

	assert.Nil(t, s.Start(context.Background(), time.Hour))
	assert.Equal(t, 0, e.clock.Active())
}

func TestScheduler_RefreshesOnEachTick(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tokens := e.tokens("tab-a")
	require.NoError(t, tokens.Set(ctx, "t0"))
	e.identity.refreshToken = "t1"

	s := newTestScheduler(e, tokens)
	h := s.Start(ctx, 0)
	require.NotNil(t, h)
	assert.Equal(t, DefaultRefreshInterval, h.Interval())

	e.clock.Advance(DefaultRefreshInterval - time.Minute)
	assert.Empty(t, e.identity.refreshes())

	e.clock.Advance(time.Minute)
	assert.Equal(t, []string{"t0"}, e.identity.refreshes())
	assert.Equal(t, "t1", e.storedToken())

	// The next tick uses the rotated token, not the one seen at Start.
	e.identity.refreshToken = "t2"
	e.clock.Advance(DefaultRefreshInterval)
	assert.Equal(t, []string{"t0", "t1"}, e.identity.refreshes())
	assert.Equal(t, "t2", e.storedToken())
	assert.Equal(t, float64(2), testutil.ToFloat64(e.metrics.TokenRefreshTotal.WithLabelValues("success")))
}

func TestScheduler_RotateKeepsCachedUser(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tokens := e.tokens("tab-a")
	require.NoError(t, tokens.Set(ctx, "t0"))
	require.NoError(t, tokens.CacheUser(ctx, identity.User{ID: 7, Username: "ada"}))
	e.identity.refreshToken = "t1"

	newTestScheduler(e, tokens).Start(ctx, time.Hour)
	e.clock.Advance(time.Hour)

	user, ok, err := tokens.CachedUser(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ada", user.Username)
}

func TestScheduler_SecondStartReplacesFirst(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tokens := e.tokens("tab-a")
	require.NoError(t, tokens.Set(ctx, "t0"))
	e.identity.refreshToken = "t0"

	s := newTestScheduler(e, tokens)
	first := s.Start(ctx, time.Hour)
	second := s.Start(ctx, time.Hour)

	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotSame(t, first, second)
	assert.Same(t, second, s.Active())
	assert.Equal(t, 1, e.clock.Active(), "only one timer may be pending")
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.ActiveRefreshTimers))

	e.clock.Advance(time.Hour)
	assert.Len(t, e.identity.refreshes(), 1, "no duplicate refresh calls")

	assert.False(t, s.Stop(first), "stale handle is ignored")
	assert.Same(t, second, s.Active())
	assert.True(t, s.Stop(second))
	assert.False(t, s.Stop(second))
	assert.False(t, s.Stop(nil))
	assert.Equal(t, 0, e.clock.Active())
	assert.Equal(t, float64(0), testutil.ToFloat64(e.metrics.ActiveRefreshTimers))
}

func TestScheduler_FailedRefreshKeepsTokenAndSchedule(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"network error", errBackendDown},
		{"rejected", identity.ErrRefreshRejected},
		{"unauthorized", identity.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t)
			tokens := e.tokens("tab-a")
			require.NoError(t, tokens.Set(ctx, "t0"))
			e.identity.refreshErr = tt.err

			s := newTestScheduler(e, tokens)
			h := s.Start(ctx, time.Hour)
			e.clock.Advance(time.Hour)

			assert.Equal(t, "t0", e.storedToken())
			assert.Same(t, h, s.Active())
			assert.Equal(t, 1, e.clock.Active())

			// Recovery on the next tick.
			e.identity.refreshErr = nil
			e.identity.refreshToken = "t1"
			e.clock.Advance(time.Hour)
			assert.Equal(t, "t1", e.storedToken())
			assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.TokenRefreshTotal.WithLabelValues("failed")))
		})
	}
}

func TestScheduler_SkipsWhenTokenGone(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tokens := e.tokens("tab-a")
	require.NoError(t, tokens.Set(ctx, "t0"))

	s := newTestScheduler(e, tokens)
	s.Start(ctx, time.Hour)
	require.NoError(t, tokens.Clear(ctx))

	e.clock.Advance(time.Hour)
	assert.Empty(t, e.identity.refreshes())
	assert.NotNil(t, s.Active())
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.TokenRefreshTotal.WithLabelValues("skipped")))
}

func TestScheduler_StoreFailureKeepsSchedule(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	base := e.tokens("tab-a")
	require.NoError(t, base.Set(ctx, "t0"))
	e.identity.refreshToken = "t1"

	s := newTestScheduler(e, &flakyTokens{Store: base, rotateErr: errors.New("quota exceeded")})
	s.Start(ctx, time.Hour)
	e.clock.Advance(time.Hour)

	assert.Equal(t, "t0", e.storedToken())
	assert.NotNil(t, s.Active())
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.TokenRefreshTotal.WithLabelValues("store_failed")))
}

func TestScheduler_LogoutDuringRefreshDiscardsResult(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tokens := e.tokens("tab-a")
	require.NoError(t, tokens.Set(ctx, "t0"))
	e.identity.refreshToken = "t1"

	s := newTestScheduler(e, tokens)
	s.Start(ctx, time.Hour)

	// Logout lands while the refresh call is in flight.
	e.identity.onRefresh = func() {
		require.NoError(t, tokens.Clear(ctx))
		s.StopAll()
	}
	e.clock.Advance(time.Hour)

	assert.Empty(t, e.storedToken(), "a refreshed token must not resurrect the session")
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.TokenRefreshTotal.WithLabelValues("discarded")))
}

func TestScheduler_ExternalReplacementDiscardsResult(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tokens := e.tokens("tab-a")
	require.NoError(t, tokens.Set(ctx, "t0"))
	e.identity.refreshToken = "t1"

	s := newTestScheduler(e, tokens)
	s.Start(ctx, time.Hour)

	e.identity.onRefresh = func() {
		require.NoError(t, e.tokens("tab-b").Set(ctx, "other-user"))
	}
	e.clock.Advance(time.Hour)

	assert.Equal(t, "other-user", e.storedToken())
}

func TestScheduler_BridgeLogoutRacingRotateLeavesNoToken(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.tokens("tab-a").Set(ctx, "t0"))
	e.identity.refreshToken = "t1"

	tokens := &rotateHook{Store: e.tokens("tab-a")}
	s := newTestScheduler(e, tokens)
	bridgeTokens := &clearSignal{Store: e.tokens("tab-a"), cleared: make(chan struct{})}
	bridge := sso.NewBridge(bridgeTokens, e.identity, e.routes, nil, e.clock, sso.Config{LogoutTimeout: time.Second}, nil, e.metrics)
	s.Start(ctx, time.Hour)

	// Logout starts after the refresh passed its token check but before the
	// refreshed token is written.
	done := make(chan sso.Outcome, 1)
	tokens.beforeRotate = func() {
		go func() { done <- bridge.Logout(ctx, s) }()
		select {
		case <-bridgeTokens.cleared:
		case <-time.After(50 * time.Millisecond):
		}
	}
	e.clock.Advance(time.Hour)

	select {
	case out := <-done:
		assert.Equal(t, sso.Redirect("/login"), out)
	case <-time.After(5 * time.Second):
		t.Fatal("logout did not finish")
	}
	assert.Empty(t, e.storedToken(), "logout must not leave a refreshed token behind")
	assert.Nil(t, s.Active())
	assert.Equal(t, 0, e.clock.Active())
}
