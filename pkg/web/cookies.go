package web

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/realleaders/portal/pkg/contextkeys"
	"github.com/realleaders/portal/pkg/observability"
)

// Cookie names
const (
	ClientCookie  = "rl_client"
	SessionCookie = "rl_session"
)

const clientCookieMaxAge = 400 * 24 * time.Hour

// identify makes sure the request carries a client and a tab id, issuing
// cookies for whichever is missing, and stores both ids in the context.
func (s *Server) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, fresh := cookieID(r, ClientCookie)
		if fresh {
			http.SetCookie(w, &http.Cookie{
				Name:     ClientCookie,
				Value:    clientID,
				Path:     "/",
				MaxAge:   int(clientCookieMaxAge.Seconds()),
				HttpOnly: true,
				Secure:   s.cfg.SecureCookies,
				SameSite: http.SameSiteLaxMode,
			})
		}

		tabID, fresh := cookieID(r, SessionCookie)
		if fresh {
			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    tabID,
				Path:     "/",
				HttpOnly: true,
				Secure:   s.cfg.SecureCookies,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := contextkeys.WithClientID(r.Context(), clientID)
		ctx = contextkeys.WithTabID(ctx, tabID)
		ctx = observability.WithClientID(ctx, clientID)
		ctx = observability.WithLogger(ctx, observability.GetLogger(ctx).WithField("tab_id", tabID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// cookieID returns the id stored in the named cookie, or a new one when the
// cookie is missing or does not hold a UUID.
func cookieID(r *http.Request, name string) (id string, fresh bool) {
	if c, err := r.Cookie(name); err == nil {
		if parsed, err := uuid.Parse(c.Value); err == nil {
			return parsed.String(), false
		}
	}
	return uuid.NewString(), true
}
