package sso

import (
	"strings"
	"sync"
)

// Routes is the table of protected path prefixes. It may be replaced while
// requests are being served.
type Routes struct {
	mu       sync.RWMutex
	prefixes []string
}

// NewRoutes creates a table from prefixes
func NewRoutes(prefixes []string) *Routes {
	r := &Routes{}
	r.Replace(prefixes)
	return r
}

// Replace swaps the whole table
func (r *Routes) Replace(prefixes []string) {
	cleaned := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p != "/" {
			p = strings.TrimRight(p, "/")
		}
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}

	r.mu.Lock()
	r.prefixes = cleaned
	r.mu.Unlock()
}

// Prefixes returns a copy of the table
func (r *Routes) Prefixes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.prefixes...)
}

// IsProtected reports whether path is a protected prefix or lies beneath one.
// "/" protects only the root itself.
func (r *Routes) IsProtected(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, prefix := range r.prefixes {
		if path == prefix {
			return true
		}
		if prefix != "/" && strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}
