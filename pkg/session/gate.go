package session

import (
	"context"
	"errors"
	"net/url"

	"github.com/realleaders/portal/pkg/identity"
	"github.com/realleaders/portal/pkg/observability"
	"github.com/realleaders/portal/pkg/sso"
)

// Verdict is the auth gate decision for a page
type Verdict int

const (
	// VerdictPublic renders the public view
	VerdictPublic Verdict = iota
	// VerdictRedirect leaves the page; see View.Outcome
	VerdictRedirect
	// VerdictAuthenticated renders protected content
	VerdictAuthenticated
)

func (v Verdict) String() string {
	switch v {
	case VerdictPublic:
		return "public"
	case VerdictRedirect:
		return "redirect"
	case VerdictAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// View is what the gate lets a page render
type View struct {
	Verdict Verdict
	Outcome sso.Outcome

	User              *identity.User
	ProfileCompletion *int
	// Stale is set when the backend was unreachable and User came from cache
	Stale bool
}

// GateTokens is the part of the token store the gate needs
type GateTokens interface {
	Get(ctx context.Context) (string, bool, error)
	Clear(ctx context.Context) error
	CacheUser(ctx context.Context, user identity.User) error
	CachedUser(ctx context.Context) (*identity.User, bool, error)
}

// UserSource fetches the authoritative user record
type UserSource interface {
	UserDetails(ctx context.Context, token string) (*identity.UserDetails, error)
}

// Gate decides whether protected content may render
type Gate struct {
	tokens    GateTokens
	users     UserSource
	bridge    *sso.Bridge
	loginPath string
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewGate creates a gate
func NewGate(tokens GateTokens, users UserSource, bridge *sso.Bridge, loginPath string, logger *observability.Logger, metrics *observability.Metrics) *Gate {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if loginPath == "" {
		loginPath = "/login"
	}
	return &Gate{
		tokens:    tokens,
		users:     users,
		bridge:    bridge,
		loginPath: loginPath,
		logger:    logger.WithField("component", "auth_gate"),
		metrics:   metrics,
	}
}

// Check evaluates u. An authentication error from the backend is fatal to the
// session: the store is cleared and the user is sent to login. Any other
// backend error falls back to the cached user record.
func (g *Gate) Check(ctx context.Context, u *url.URL) View {
	view := g.check(ctx, u)
	label := view.Verdict.String()
	if view.Stale {
		label = "stale"
	}
	g.metrics.AuthGateTotal.WithLabelValues(label).Inc()
	return view
}

func (g *Gate) check(ctx context.Context, u *url.URL) View {
	token, ok, err := g.tokens.Get(ctx)
	if err != nil {
		g.logger.WithError(err).Warn("Failed to read token, treating as absent")
	}

	if !ok {
		if g.bridge.Routes().IsProtected(u.Path) {
			return View{Verdict: VerdictRedirect, Outcome: g.bridge.SessionCheck(ctx, u)}
		}
		return View{Verdict: VerdictPublic, Outcome: sso.NoOp()}
	}

	details, err := g.users.UserDetails(ctx, token)
	switch {
	case err == nil:
		if err := g.tokens.CacheUser(ctx, details.User); err != nil {
			g.logger.WithError(err).Warn("Failed to cache user record")
		}
		user := details.User
		return View{
			Verdict:           VerdictAuthenticated,
			Outcome:           sso.NoOp(),
			User:              &user,
			ProfileCompletion: details.ProfileCompletion,
		}

	case errors.Is(err, identity.ErrUnauthorized):
		g.logger.Info("Token rejected by backend, clearing session")
		if err := g.tokens.Clear(ctx); err != nil {
			g.logger.WithError(err).Error("Failed to clear rejected session")
		}
		return View{Verdict: VerdictRedirect, Outcome: sso.Redirect(g.loginPath)}

	default:
		g.logger.WithError(err).Warn("User details unavailable, using cached record")
		cached, _, cacheErr := g.tokens.CachedUser(ctx)
		if cacheErr != nil {
			g.logger.WithError(cacheErr).Warn("Failed to read cached user")
		}
		return View{Verdict: VerdictAuthenticated, Outcome: sso.NoOp(), User: cached, Stale: true}
	}
}
