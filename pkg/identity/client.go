// Package identity talks to the external identity host and the backend REST API.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/realleaders/portal/pkg/observability"
)

// Config configures a Client
type Config struct {
	// HostURL is the identity host base, without trailing slash
	HostURL string
	// APIBaseURL is the backend REST API base, without trailing slash
	APIBaseURL string
	Timeout    time.Duration
	// Transport overrides the HTTP transport; defaults to http.DefaultTransport
	Transport http.RoundTripper
	Metrics   *observability.Metrics
}

// Client is an identity host and backend API client
type Client struct {
	hostURL string
	apiURL  string
	timeout time.Duration
	base    *http.Client
	metrics *observability.Metrics
}

// NewClient creates a client. The transport is traced with otelhttp.
func NewClient(cfg Config) (*Client, error) {
	for name, raw := range map[string]string{"identity host": cfg.HostURL, "api base": cfg.APIBaseURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid %s URL %q", name, raw)
		}
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}

	return &Client{
		hostURL: cfg.HostURL,
		apiURL:  cfg.APIBaseURL,
		timeout: timeout,
		base: &http.Client{
			Transport: otelhttp.NewTransport(transport),
			Timeout:   timeout,
		},
		metrics: metrics,
	}, nil
}

// CheckSessionURL is the full-navigation URL asking the identity host whether
// a session exists. The host redirects back to returnURL.
func (c *Client) CheckSessionURL(returnURL string) string {
	q := url.Values{"redirect_url": {returnURL}}
	return c.hostURL + "/sso/check-session?" + q.Encode()
}

// LoginToWordPressURL is the full-navigation URL that lets the identity host
// mirror a locally obtained token.
func (c *Client) LoginToWordPressURL(token, returnURL string) string {
	q := url.Values{"token": {token}, "redirect_url": {returnURL}}
	return c.hostURL + "/sso/login-to-wordpress?" + q.Encode()
}

// SyncLogout asks the identity host to end its mirrored session
func (c *Client) SyncLogout(ctx context.Context, token string) error {
	var resp successResponse
	if err := c.do(ctx, "sync-logout", http.MethodPost, c.hostURL+"/sso/sync-logout", token, nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("sync-logout not acknowledged: %s", resp.Message)
	}
	return nil
}

// RefreshToken exchanges token for a fresh one. Non-2xx responses, malformed
// bodies, success=false and empty tokens are all errors.
func (c *Client) RefreshToken(ctx context.Context, token string) (*RefreshResult, error) {
	var resp refreshResponse
	if err := c.do(ctx, "refresh-token", http.MethodPost, c.hostURL+"/sso/refresh-token", token, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Token == "" {
		return nil, ErrRefreshRejected
	}
	return &RefreshResult{Token: resp.Token, ExpiresIn: resp.ExpiresIn}, nil
}

// UserDetails fetches the authoritative user record. 401 and 403 map to
// ErrUnauthorized.
func (c *Client) UserDetails(ctx context.Context, token string) (*UserDetails, error) {
	var resp userDetailsResponse
	if err := c.do(ctx, "user-details", http.MethodGet, c.apiURL+"/user/user-details", token, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.User == nil {
		return nil, fmt.Errorf("user-details returned no user")
	}
	return &UserDetails{User: *resp.User, ProfileCompletion: resp.ProfileCompletion}, nil
}

// Login authenticates with username and password
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var resp loginResponse
	err := c.do(ctx, "login", http.MethodPost, c.apiURL+"/auth/login", "", loginRequest{Username: username, Password: password}, &resp)
	if errors.Is(err, ErrUnauthorized) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !resp.Success || resp.Token == "" {
		return nil, ErrInvalidCredentials
	}

	result := &LoginResult{Token: resp.Token}
	if resp.User != nil {
		result.User = *resp.User
	}
	return result, nil
}

// UpdateOnboarding stores onboarding and tour flags on the backend
func (c *Client) UpdateOnboarding(ctx context.Context, token string, update OnboardingUpdate) error {
	var resp successResponse
	if err := c.do(ctx, "update-onboarding", http.MethodPost, c.apiURL+"/user/update-onboarding", token, update, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("update-onboarding failed: %s", resp.Message)
	}
	return nil
}

// httpClient returns a client that attaches token as a bearer credential
func (c *Client) httpClient(ctx context.Context, token string) *http.Client {
	if token == "" {
		return c.base
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	client.Timeout = c.timeout
	return client
}

func (c *Client) do(ctx context.Context, endpoint, method, target, token string, body, out interface{}) error {
	start := time.Now()
	status := "error"
	defer func() {
		c.metrics.IdentityCallDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
	}()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient(ctx, token).Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s failed with status %d: %s", endpoint, resp.StatusCode, string(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
