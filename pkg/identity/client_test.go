package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/realleaders/portal/pkg/observability"
)

// fakeIdentity serves the identity host under /host and the API under /api
type fakeIdentity struct {
	*httptest.Server
	handlers map[string]http.HandlerFunc

	mu   sync.Mutex
	auth map[string]string
}

func (f *fakeIdentity) authHeader(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auth[key]
}

func newFakeIdentity(t *testing.T) *fakeIdentity {
	t.Helper()
	f := &fakeIdentity{handlers: map[string]http.HandlerFunc{}, auth: map[string]string{}}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		f.mu.Lock()
		f.auth[key] = r.Header.Get("Authorization")
		h, ok := f.handlers[key]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeIdentity) route(key string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[key] = h
}

func (f *fakeIdentity) handle(key string, status int, body string) {
	f.route(key, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func newTestClient(t *testing.T, f *fakeIdentity, metrics *observability.Metrics) *Client {
	t.Helper()
	c, err := NewClient(Config{
		HostURL:    f.URL + "/host",
		APIBaseURL: f.URL + "/api",
		Timeout:    2 * time.Second,
		Metrics:    metrics,
	})
	require.NoError(t, err)
	return c
}

func TestNewClient_InvalidURLs(t *testing.T) {
	_, err := NewClient(Config{HostURL: "real-leaders.com", APIBaseURL: "https://api.example.com"})
	assert.Error(t, err)
}

func TestCheckSessionURL(t *testing.T) {
	c, err := NewClient(Config{
		HostURL:    "https://real-leaders.com/wp-json/real-leaders/v1",
		APIBaseURL: "https://api.real-leaders.com/api",
	})
	require.NoError(t, err)

	got := c.CheckSessionURL("https://app.real-leaders.com/dashboard/profile")
	assert.Equal(t,
		"https://real-leaders.com/wp-json/real-leaders/v1/sso/check-session?redirect_url=https%3A%2F%2Fapp.real-leaders.com%2Fdashboard%2Fprofile",
		got)
}

func TestLoginToWordPressURL(t *testing.T) {
	c, err := NewClient(Config{HostURL: "https://id.example.com/v1", APIBaseURL: "https://api.example.com"})
	require.NoError(t, err)

	u, err := url.Parse(c.LoginToWordPressURL("tok en", "https://app.example.com/dashboard"))
	require.NoError(t, err)
	assert.Equal(t, "/v1/sso/login-to-wordpress", u.Path)
	assert.Equal(t, "tok en", u.Query().Get("token"))
	assert.Equal(t, "https://app.example.com/dashboard", u.Query().Get("redirect_url"))
}

func TestRefreshToken(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
	}{
		{name: "success", status: 200, body: `{"success":true,"token":"new-token","expires_in":86400}`, want: "new-token"},
		{name: "success false", status: 200, body: `{"success":false}`, wantErr: ErrRefreshRejected},
		{name: "missing token", status: 200, body: `{"success":true}`, wantErr: ErrRefreshRejected},
		{name: "server error", status: 500, body: `oops`},
		{name: "malformed", status: 200, body: `{"success":`},
		{name: "unauthorized", status: 401, body: `{}`, wantErr: ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeIdentity(t)
			f.handle("POST /host/sso/refresh-token", tt.status, tt.body)
			c := newTestClient(t, f, nil)

			result, err := c.RefreshToken(context.Background(), "old-token")
			assert.Equal(t, "Bearer old-token", f.authHeader("POST /host/sso/refresh-token"))

			if tt.want != "" {
				require.NoError(t, err)
				assert.Equal(t, tt.want, result.Token)
				assert.Equal(t, 86400, result.ExpiresIn)
				return
			}
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRefreshToken_NetworkError(t *testing.T) {
	f := newFakeIdentity(t)
	c := newTestClient(t, f, nil)
	f.Close()

	_, err := c.RefreshToken(context.Background(), "tok")
	assert.Error(t, err)
}

func TestUserDetails(t *testing.T) {
	f := newFakeIdentity(t)
	f.handle("GET /api/user/user-details", 200,
		`{"success":true,"user":{"id":7,"email":"ada@example.com","username":"ada","tours_completed":{"dashboard":true}},"profile_completion":80}`)
	metrics := observability.NewNopMetrics()
	c := newTestClient(t, f, metrics)

	details, err := c.UserDetails(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc123", f.authHeader("GET /api/user/user-details"))
	assert.Equal(t, int64(7), details.User.ID)
	assert.Equal(t, "ada", details.User.Username)
	assert.True(t, details.User.ToursCompleted["dashboard"])
	require.NotNil(t, details.ProfileCompletion)
	assert.Equal(t, 80, *details.ProfileCompletion)

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.IdentityCallDuration))
}

func TestUserDetails_Unauthorized(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		f := newFakeIdentity(t)
		f.handle("GET /api/user/user-details", status, `{"code":"jwt_auth_invalid_token"}`)
		c := newTestClient(t, f, nil)

		_, err := c.UserDetails(context.Background(), "stale")
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
}

func TestUserDetails_NoUser(t *testing.T) {
	f := newFakeIdentity(t)
	f.handle("GET /api/user/user-details", 200, `{"success":false}`)
	c := newTestClient(t, f, nil)

	_, err := c.UserDetails(context.Background(), "abc")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestSyncLogout(t *testing.T) {
	f := newFakeIdentity(t)
	f.handle("POST /host/sso/sync-logout", 200, `{"success":true}`)
	c := newTestClient(t, f, nil)

	require.NoError(t, c.SyncLogout(context.Background(), "abc"))
	assert.Equal(t, "Bearer abc", f.authHeader("POST /host/sso/sync-logout"))

	f.handle("POST /host/sso/sync-logout", 200, `{"success":false,"message":"no session"}`)
	assert.ErrorContains(t, c.SyncLogout(context.Background(), "abc"), "no session")
}

func TestSyncLogout_HonoursContext(t *testing.T) {
	f := newFakeIdentity(t)
	f.route("POST /host/sso/sync-logout", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	c := newTestClient(t, f, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.SyncLogout(ctx, "abc"))
}

func TestLogin(t *testing.T) {
	f := newFakeIdentity(t)
	f.route("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Username != "ada" || req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"success":true,"token":"fresh","user":{"id":1,"username":"ada"}}`))
	})
	c := newTestClient(t, f, nil)

	result, err := c.Login(context.Background(), "ada", "secret")
	require.NoError(t, err)
	assert.Equal(t, "fresh", result.Token)
	assert.Equal(t, "ada", result.User.Username)
	assert.Empty(t, f.authHeader("POST /api/auth/login"))

	_, err = c.Login(context.Background(), "ada", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUpdateOnboarding(t *testing.T) {
	f := newFakeIdentity(t)
	var got OnboardingUpdate
	f.route("POST /api/user/update-onboarding", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success":true}`))
	})
	c := newTestClient(t, f, nil)

	done := true
	err := c.UpdateOnboarding(context.Background(), "abc", OnboardingUpdate{OnboardingCompleted: &done})
	require.NoError(t, err)
	require.NotNil(t, got.OnboardingCompleted)
	assert.True(t, *got.OnboardingCompleted)
	assert.Equal(t, "Bearer abc", f.authHeader("POST /api/user/update-onboarding"))
}
