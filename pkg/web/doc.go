// Package web is the HTTP shell of the portal.
//
// Every browser gets two cookies. rl_client is persistent and scopes the
// durable store shared by all tabs (auth token, cached user). rl_session is a
// session cookie and scopes one tab: its wizard step, tour flags, flash
// notices and the session.Manager that owns the refresh timer.
//
// A request for an app route is one page load. Outcomes of the SSO handshake
// and the auth gate become HTTP redirects:
//
//	Reload       303 to the clean URL, X-Reload-After: <ms>
//	ReplaceURL   303 to the clean URL
//	Redirect     302
//	Error        flash notice + 302 to the fallback
//
// Anything else is rendered as a JSON view model.
package web
