// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding and request-scoped logging middleware.
package httputil
