package session

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/realleaders/portal/pkg/async"
	"github.com/realleaders/portal/pkg/clock"
	"github.com/realleaders/portal/pkg/identity"
	"github.com/realleaders/portal/pkg/kvstore"
	"github.com/realleaders/portal/pkg/observability"
	"github.com/realleaders/portal/pkg/sso"
	"github.com/realleaders/portal/pkg/tokenstore"
)

// ErrClosed is returned by operations on a closed Manager
var ErrClosed = errors.New("session: manager closed")

// ErrNotAuthenticated is returned when an operation needs a token and none is stored
var ErrNotAuthenticated = errors.New("session: not authenticated")

// IdentityClient is everything a Manager needs from the identity host and API
type IdentityClient interface {
	sso.IdentityClient
	Refresher
	UserSource
	Login(ctx context.Context, username, password string) (*identity.LoginResult, error)
	UpdateOnboarding(ctx context.Context, token string, update identity.OnboardingUpdate) error
}

// Config configures a Manager
type Config struct {
	AppBaseURL      string
	LoginPath       string
	DefaultRoute    string
	RefreshInterval time.Duration
	ReloadDelay     time.Duration
	LogoutTimeout   time.Duration
}

// Deps are the collaborators of one tab
type Deps struct {
	TabID string
	// Client is the browser-wide store shared by every tab
	Client *kvstore.Store
	// Session is the tab-scoped store
	Session  *kvstore.Store
	Identity IdentityClient
	Routes   *sso.Routes
	Clock    clock.Clock
	Runner   *async.Runner
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Result is the outcome of a page load
type Result struct {
	State   sso.State
	Outcome sso.Outcome
	View    View
}

// Manager owns the session state of one tab: the token store view, the
// handshake bridge, the auth gate, the refresh scheduler and the in-memory
// user.
type Manager struct {
	tabID     string
	cfg       Config
	tokens    *tokenstore.Store
	identity  IdentityClient
	bridge    *sso.Bridge
	gate      *Gate
	scheduler *Scheduler
	runner    *async.Runner
	logger    *observability.Logger

	mu          sync.Mutex
	user        *identity.User
	stale       bool
	closed      bool
	cancelWatch func()
}

// NewManager wires a tab session
func NewManager(deps Deps, cfg Config) *Manager {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	logger = logger.WithField("tab_id", deps.TabID)
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	runner := deps.Runner
	if runner == nil {
		runner = async.NewRunner(logger)
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}

	tokens := tokenstore.New(deps.Client, metrics)
	bridge := sso.NewBridge(tokens, deps.Identity, deps.Routes, deps.Session, clk, sso.Config{
		AppBaseURL:    cfg.AppBaseURL,
		LoginPath:     cfg.LoginPath,
		DefaultRoute:  cfg.DefaultRoute,
		ReloadDelay:   cfg.ReloadDelay,
		LogoutTimeout: cfg.LogoutTimeout,
	}, logger, metrics)

	m := &Manager{
		tabID:     deps.TabID,
		cfg:       cfg,
		tokens:    tokens,
		identity:  deps.Identity,
		bridge:    bridge,
		gate:      NewGate(tokens, deps.Identity, bridge, cfg.LoginPath, logger, metrics),
		scheduler: NewScheduler(tokens, deps.Identity, clk, logger, metrics),
		runner:    runner,
		logger:    logger,
	}
	m.cancelWatch = tokens.OnExternalChange(m.onExternalTokenChange)
	return m
}

// TabID returns the tab id
func (m *Manager) TabID() string {
	return m.tabID
}

// Bridge returns the tab's SSO bridge
func (m *Manager) Bridge() *sso.Bridge {
	return m.bridge
}

// Scheduler returns the tab's refresh scheduler
func (m *Manager) Scheduler() *Scheduler {
	return m.scheduler
}

// Load runs one page load of u: the SSO handshake first, then the auth gate.
// An authenticated load starts the refresh scheduler if it is not running.
func (m *Manager) Load(ctx context.Context, u *url.URL) (Result, error) {
	if m.Closed() {
		return Result{}, ErrClosed
	}

	load := m.bridge.NewPageLoad(u)
	outcome := load.Process(ctx)
	if load.State() == sso.StateTokenReceived {
		// Our own write is not reported back as an external change.
		m.setUser(nil, false)
	}
	if !outcome.IsNoOp() {
		return Result{State: load.State(), Outcome: outcome}, nil
	}

	view := m.gate.Check(ctx, u)
	result := Result{State: load.State(), Outcome: view.Outcome, View: view}

	switch view.Verdict {
	case VerdictAuthenticated:
		m.setUser(view.User, view.Stale)
		if m.scheduler.Active() == nil {
			m.scheduler.Start(ctx, m.cfg.RefreshInterval)
		}
	case VerdictRedirect:
		m.setUser(nil, false)
		m.scheduler.StopAll()
	}

	return result, nil
}

// Login authenticates with username and password, stores the new token and
// returns the redirect that mirrors the session on the identity host.
func (m *Manager) Login(ctx context.Context, username, password, next string) (sso.Outcome, error) {
	if m.Closed() {
		return sso.Outcome{}, ErrClosed
	}

	result, err := m.identity.Login(ctx, username, password)
	if err != nil {
		return sso.Outcome{}, err
	}

	m.setUser(nil, false)
	if err := m.tokens.Set(ctx, result.Token); err != nil {
		m.logger.WithError(err).Error("Failed to store login token")
	}
	if result.User.ID != 0 {
		if err := m.tokens.CacheUser(ctx, result.User); err != nil {
			m.logger.WithError(err).Warn("Failed to cache user record")
		}
		user := result.User
		m.setUser(&user, false)
	}
	m.scheduler.Start(ctx, m.cfg.RefreshInterval)

	return m.bridge.LoginToWordPress(result.Token, next), nil
}

// Logout ends the session and returns the navigation to the login page
func (m *Manager) Logout(ctx context.Context) sso.Outcome {
	outcome := m.bridge.Logout(ctx, m.scheduler)
	m.setUser(nil, false)
	return outcome
}

// UpdateOnboarding stores onboarding flags remotely and then refreshes the
// cached user record in the background.
func (m *Manager) UpdateOnboarding(ctx context.Context, update identity.OnboardingUpdate) error {
	token, ok, err := m.tokens.Get(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthenticated
	}

	if err := m.identity.UpdateOnboarding(ctx, token, update); err != nil {
		return err
	}

	m.runner.Go(ctx, 30*time.Second, "refresh-cached-user", m.refreshCachedUser)
	return nil
}

func (m *Manager) refreshCachedUser(ctx context.Context) error {
	token, ok, err := m.tokens.Get(ctx)
	if err != nil || !ok {
		return err
	}
	details, err := m.identity.UserDetails(ctx, token)
	if err != nil {
		return err
	}
	if err := m.tokens.CacheUser(ctx, details.User); err != nil {
		return err
	}
	user := details.User
	m.setUser(&user, false)
	return nil
}

// User returns the in-memory user. stale is set when it came from cache
// because the backend was unreachable.
func (m *Manager) User() (user *identity.User, stale bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user, m.stale
}

// Authenticated reports whether the tab holds a token. It agrees with the
// gate, which serves protected pages for any stored token the backend has not
// rejected, even when no user record is available.
func (m *Manager) Authenticated(ctx context.Context) bool {
	_, ok, err := m.tokens.Get(ctx)
	if err != nil {
		m.logger.WithError(err).Warn("Failed to read token, treating as absent")
	}
	return ok
}

// Close stops the refresh timer and detaches from change notifications.
// The stored token is left untouched.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel := m.cancelWatch
	m.user = nil
	m.mu.Unlock()

	cancel()
	m.scheduler.StopAll()
}

// onExternalTokenChange reacts to another tab changing the token. The
// in-memory user may belong to someone else now, so it is dropped and
// re-fetched on the next load. A removed token stops the refresh timer.
func (m *Manager) onExternalTokenChange(token string) {
	m.setUser(nil, false)
	if token == "" {
		m.scheduler.StopAll()
	}
}

func (m *Manager) setUser(user *identity.User, stale bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = user
	m.stale = stale
}

// Closed reports whether Close has run
func (m *Manager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
