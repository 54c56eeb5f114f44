package session

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/realleaders/portal/pkg/clock"
	"github.com/realleaders/portal/pkg/identity"
	"github.com/realleaders/portal/pkg/kvstore"
	"github.com/realleaders/portal/pkg/observability"
	"github.com/realleaders/portal/pkg/sso"
	"github.com/realleaders/portal/pkg/tokenstore"
)

const testIdentityHost = "https://real-leaders.com/wp-json/real-leaders/v1"

var errBackendDown = errors.New("connection refused")

// fakeIdentity records calls and returns canned results
type fakeIdentity struct {
	mu sync.Mutex

	refreshCalls  []string
	refreshErr    error
	refreshToken  string
	onRefresh     func()
	detailsCalls  []string
	detailsErr    error
	user          identity.User
	logoutCalls   []string
	logoutErr     error
	loginResult   *identity.LoginResult
	loginErr      error
	onboarding    []identity.OnboardingUpdate
	onboardingErr error
}

func (f *fakeIdentity) CheckSessionURL(returnURL string) string {
	return testIdentityHost + "/sso/check-session?" + url.Values{"redirect_url": {returnURL}}.Encode()
}

func (f *fakeIdentity) LoginToWordPressURL(token, returnURL string) string {
	return testIdentityHost + "/sso/login-to-wordpress?" + url.Values{"token": {token}, "redirect_url": {returnURL}}.Encode()
}

func (f *fakeIdentity) SyncLogout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls = append(f.logoutCalls, token)
	return f.logoutErr
}

func (f *fakeIdentity) RefreshToken(_ context.Context, token string) (*identity.RefreshResult, error) {
	f.mu.Lock()
	f.refreshCalls = append(f.refreshCalls, token)
	hook := f.onRefresh
	err, next := f.refreshErr, f.refreshToken
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return &identity.RefreshResult{Token: next, ExpiresIn: 86400}, nil
}

func (f *fakeIdentity) UserDetails(_ context.Context, token string) (*identity.UserDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailsCalls = append(f.detailsCalls, token)
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	return &identity.UserDetails{User: f.user}, nil
}

func (f *fakeIdentity) Login(_ context.Context, username, password string) (*identity.LoginResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.loginResult, nil
}

func (f *fakeIdentity) UpdateOnboarding(_ context.Context, _ string, update identity.OnboardingUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onboarding = append(f.onboarding, update)
	return f.onboardingErr
}

func (f *fakeIdentity) refreshes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refreshCalls...)
}

// env is a browser with a shared client store and any number of tabs
type env struct {
	t        *testing.T
	backend  *kvstore.MemoryBackend
	session  *kvstore.MemoryBackend
	clock    *clock.Manual
	identity *fakeIdentity
	routes   *sso.Routes
	metrics  *observability.Metrics
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{
		t:        t,
		backend:  kvstore.NewMemoryBackend(),
		session:  kvstore.NewMemoryBackend(),
		clock:    clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		identity: &fakeIdentity{user: identity.User{ID: 7, Username: "ada", Email: "ada@example.com"}},
		routes:   sso.NewRoutes([]string{"/dashboard", "/profile"}),
		metrics:  observability.NewNopMetrics(),
	}
}

func (e *env) clientStore(tab string) *kvstore.Store {
	return kvstore.NewStore(e.backend, "client:1:", tab)
}

func (e *env) tokens(tab string) *tokenstore.Store {
	return tokenstore.New(e.clientStore(tab), e.metrics)
}

func (e *env) manager(tab string) *Manager {
	m := NewManager(Deps{
		TabID:    tab,
		Client:   e.clientStore(tab),
		Session:  kvstore.NewStore(e.session, "tab:"+tab+":", tab),
		Identity: e.identity,
		Routes:   e.routes,
		Clock:    e.clock,
		Logger:   observability.NewNopLogger(),
		Metrics:  e.metrics,
	}, Config{
		AppBaseURL:      "https://app.real-leaders.com",
		LoginPath:       "/login",
		DefaultRoute:    "/dashboard",
		RefreshInterval: DefaultRefreshInterval,
		ReloadDelay:     100 * time.Millisecond,
		LogoutTimeout:   time.Second,
	})
	e.t.Cleanup(m.Close)
	return m
}

func (e *env) storedToken() string {
	token, _, err := e.tokens("inspector").Get(context.Background())
	require.NoError(e.t, err)
	return token
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}
