package sso

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/realleaders/portal/pkg/clock"
	"github.com/realleaders/portal/pkg/kvstore"
	"github.com/realleaders/portal/pkg/observability"
)

// Callback query parameters set by the identity host
const (
	ParamAuthToken = "auth_token"
	ParamWpLogin   = "wp_login"
	ParamLoggedIn  = "logged_in"
)

// keySessionCheck records when this tab last went to check-session
const keySessionCheck = "sso_session_check_at"

// sessionCheckWindow is how long a check-session round trip may take before
// a token-less return is treated as "no session at the identity host".
const sessionCheckWindow = 2 * time.Minute

// TokenStore is the part of the token store the bridge needs
type TokenStore interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// IdentityClient builds identity host URLs and ends remote sessions
type IdentityClient interface {
	CheckSessionURL(returnURL string) string
	LoginToWordPressURL(token, returnURL string) string
	SyncLogout(ctx context.Context, token string) error
}

// Stopper cancels refresh timers on logout
type Stopper interface {
	StopAll()
}

// Config configures a Bridge
type Config struct {
	// AppBaseURL is the public origin used to build return URLs
	AppBaseURL    string
	LoginPath     string
	DefaultRoute  string
	ReloadDelay   time.Duration
	LogoutTimeout time.Duration
}

// Bridge runs the SSO handshake for one tab
type Bridge struct {
	tokens   TokenStore
	identity IdentityClient
	routes   *Routes
	session  *kvstore.Store
	clock    clock.Clock
	cfg      Config
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewBridge creates a bridge. session holds tab-scoped handshake markers and
// may be nil.
func NewBridge(tokens TokenStore, identity IdentityClient, routes *Routes, session *kvstore.Store, clk clock.Clock, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Bridge {
	if cfg.ReloadDelay <= 0 {
		cfg.ReloadDelay = 100 * time.Millisecond
	}
	if cfg.LogoutTimeout <= 0 {
		cfg.LogoutTimeout = 3 * time.Second
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.DefaultRoute == "" {
		cfg.DefaultRoute = "/dashboard"
	}
	cfg.AppBaseURL = strings.TrimRight(cfg.AppBaseURL, "/")
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Bridge{
		tokens:   tokens,
		identity: identity,
		routes:   routes,
		session:  session,
		clock:    clk,
		cfg:      cfg,
		logger:   logger.WithField("component", "sso_bridge"),
		metrics:  metrics,
	}
}

// Routes returns the protected route table
func (b *Bridge) Routes() *Routes {
	return b.routes
}

// NewPageLoad starts handshake processing for one page load of u
func (b *Bridge) NewPageLoad(u *url.URL) *PageLoad {
	copied := *u
	return &PageLoad{bridge: b, url: &copied}
}

// SessionCheck returns the redirect for a protected page without a local
// token. If this tab already went to check-session moments ago and came back
// without a token, the identity host has no session either and the user is
// sent to the login page instead.
func (b *Bridge) SessionCheck(ctx context.Context, u *url.URL) Outcome {
	clean := StripCallbackParams(u)

	if b.recentSessionCheck(ctx) {
		b.forgetSessionCheck(ctx)
		return Redirect(b.loginURL(clean))
	}

	if b.session != nil {
		at := strconv.FormatInt(b.clock.Now().Unix(), 10)
		if err := b.session.Set(ctx, keySessionCheck, at); err != nil {
			b.logger.WithError(err).Warn("Failed to record session check")
		}
	}
	return Redirect(b.identity.CheckSessionURL(b.absolute(clean)))
}

// LoginToWordPress returns the redirect that lets the identity host mirror a
// freshly obtained token. returnURL may be relative to the app.
func (b *Bridge) LoginToWordPress(token, returnURL string) Outcome {
	if returnURL == "" {
		returnURL = b.cfg.DefaultRoute
	}
	if strings.HasPrefix(returnURL, "/") {
		returnURL = b.cfg.AppBaseURL + returnURL
	}
	return Redirect(b.identity.LoginToWordPressURL(token, returnURL))
}

// Logout ends the session. The remote sync-logout call is bounded by the
// logout timeout and its failure never blocks clearing local state.
func (b *Bridge) Logout(ctx context.Context, stopper Stopper) Outcome {
	syncResult := "skipped"

	token, ok, err := b.tokens.Get(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("Failed to read token for logout")
	}
	if ok {
		syncCtx, cancel := context.WithTimeout(ctx, b.cfg.LogoutTimeout)
		err := b.identity.SyncLogout(syncCtx, token)
		cancel()
		if err != nil {
			syncResult = "failed"
			b.logger.WithError(err).Warn("Identity host sync-logout failed, continuing local logout")
		} else {
			syncResult = "ok"
		}
	}

	// Timers stop before the keys are cleared: StopAll waits out an in-flight
	// refresh, which could otherwise write its token back after Clear.
	if stopper != nil {
		stopper.StopAll()
	}
	if err := b.tokens.Clear(ctx); err != nil {
		b.logger.WithError(err).Error("Failed to clear session keys")
	}
	b.forgetSessionCheck(ctx)

	b.metrics.LogoutsTotal.WithLabelValues(syncResult).Inc()
	return Redirect(b.cfg.LoginPath)
}

// ResetLink carries the parameters of a password reset deep link
type ResetLink struct {
	Key   string
	Login string
}

// ResetPasswordLink validates a reset-password deep link. Missing parameters
// produce an Error outcome pointing at the default route.
func (b *Bridge) ResetPasswordLink(query url.Values) (*ResetLink, Outcome) {
	key := strings.TrimSpace(query.Get("key"))
	login := strings.TrimSpace(query.Get("login"))
	if key == "" || login == "" {
		return nil, Error("invalid or expired password reset link", b.cfg.DefaultRoute)
	}
	return &ResetLink{Key: key, Login: login}, NoOp()
}

func (b *Bridge) absolute(u *url.URL) string {
	return b.cfg.AppBaseURL + u.RequestURI()
}

func (b *Bridge) loginURL(next *url.URL) string {
	q := url.Values{"next": {next.RequestURI()}}
	return b.cfg.LoginPath + "?" + q.Encode()
}

func (b *Bridge) recentSessionCheck(ctx context.Context) bool {
	if b.session == nil {
		return false
	}
	raw, err := b.session.Get(ctx, keySessionCheck)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			b.logger.WithError(err).Warn("Failed to read session check marker")
		}
		return false
	}
	at, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	return b.clock.Now().Sub(time.Unix(at, 0)) < sessionCheckWindow
}

func (b *Bridge) forgetSessionCheck(ctx context.Context) {
	if b.session == nil {
		return
	}
	if err := b.session.Delete(ctx, keySessionCheck); err != nil {
		b.logger.WithError(err).Warn("Failed to clear session check marker")
	}
}

// StripCallbackParams returns a copy of u without the SSO callback parameters
func StripCallbackParams(u *url.URL) *url.URL {
	clean := *u
	q := clean.Query()
	q.Del(ParamAuthToken)
	q.Del(ParamWpLogin)
	q.Del(ParamLoggedIn)
	clean.RawQuery = q.Encode()
	return &clean
}

func hasCallbackParams(q url.Values) bool {
	return q.Has(ParamAuthToken) || q.Has(ParamWpLogin) || q.Has(ParamLoggedIn)
}

// PageLoad processes the handshake for a single page load at most once
type PageLoad struct {
	bridge *Bridge
	url    *url.URL

	once  sync.Once
	mu    sync.Mutex
	state State
}

// Process runs the handshake. Only the first call has any effect; later
// calls return NoOp.
func (p *PageLoad) Process(ctx context.Context) Outcome {
	outcome := NoOp()
	p.once.Do(func() {
		state, out := p.bridge.process(ctx, p.url)
		p.mu.Lock()
		p.state = state
		p.mu.Unlock()
		p.bridge.metrics.SSOOutcomesTotal.WithLabelValues(state.String()).Inc()
		outcome = out
	})
	return outcome
}

// State returns the state reached, or StateIdle before Process runs
func (p *PageLoad) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (b *Bridge) process(ctx context.Context, u *url.URL) (State, Outcome) {
	q := u.Query()
	clean := StripCallbackParams(u)

	if token := q.Get(ParamAuthToken); token != "" {
		if err := b.tokens.Set(ctx, token); err != nil {
			// The session will not survive the reload but the page still works.
			b.logger.WithError(err).Error("Failed to store SSO token")
		}
		b.forgetSessionCheck(ctx)
		return StateTokenReceived, Reload(clean.RequestURI(), b.cfg.ReloadDelay)
	}

	if q.Get(ParamWpLogin) == "true" {
		return StateWpLoginAck, ReplaceURL(clean.RequestURI())
	}

	if b.routes.IsProtected(u.Path) {
		_, ok, err := b.tokens.Get(ctx)
		if err != nil {
			b.logger.WithError(err).Warn("Failed to read token, treating as absent")
		}
		if !ok {
			return StateNeedsSessionCheck, b.SessionCheck(ctx, u)
		}
	}

	if hasCallbackParams(q) {
		return StateNoOp, ReplaceURL(clean.RequestURI())
	}
	return StateNoOp, NoOp()
}
