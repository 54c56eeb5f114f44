// Package contextkeys provides centralized request-context key definitions
//
// All context keys used across the application are defined here.
//
//	ctx = contextkeys.WithTabID(ctx, tabID)
//	tabID := contextkeys.TabID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ClientIDKey contains the persistent browser client id (localStorage scope)
	// Set by: web.Server client middleware
	// Type: string
	ClientIDKey Key = "client_id"

	// TabIDKey contains the tab session id (sessionStorage scope)
	// Set by: web.Server client middleware
	// Type: string
	TabIDKey Key = "tab_id"
)

// WithClientID adds the browser client id to the context
func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ClientIDKey, id)
}

// ClientID retrieves the browser client id from context
func ClientID(ctx context.Context) string {
	if id, ok := ctx.Value(ClientIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTabID adds the tab session id to the context
func WithTabID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TabIDKey, id)
}

// TabID retrieves the tab session id from context
func TabID(ctx context.Context) string {
	if id, ok := ctx.Value(TabIDKey).(string); ok {
		return id
	}
	return ""
}
