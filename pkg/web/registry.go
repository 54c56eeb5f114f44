package web

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/realleaders/portal/pkg/observability"
	"github.com/realleaders/portal/pkg/session"
)

// ManagerFactory builds the session manager for a new tab
type ManagerFactory func(clientID, tabID string) *session.Manager

// Registry holds the live tab managers. Tabs idle for longer than the TTL or
// pushed out by newer tabs are closed, which cancels their refresh timers.
type Registry struct {
	mu      sync.Mutex
	tabs    *expirable.LRU[string, *session.Manager]
	factory ManagerFactory
	metrics *observability.Metrics
}

// NewRegistry creates a registry of at most size tabs
func NewRegistry(size int, ttl time.Duration, factory ManagerFactory, metrics *observability.Metrics) *Registry {
	if metrics == nil {
		metrics = observability.NewNopMetrics()
	}
	r := &Registry{factory: factory, metrics: metrics}
	r.tabs = expirable.NewLRU[string, *session.Manager](size, r.evicted, ttl)
	return r
}

func (r *Registry) evicted(_ string, m *session.Manager) {
	m.Close()
	r.metrics.ActiveSessions.Dec()
}

// Get returns the manager of the tab, creating it on first use. Every access
// restarts the idle timeout.
func (r *Registry) Get(clientID, tabID string) *session.Manager {
	key := clientID + "/" + tabID

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.tabs.Get(key)
	if !ok || m.Closed() {
		// Add on a present key replaces the value without the eviction
		// callback, so an expired or closed entry is removed first.
		r.tabs.Remove(key)
		m = r.factory(clientID, tabID)
		r.metrics.ActiveSessions.Inc()
	}
	r.tabs.Add(key, m)
	return m
}

// Remove closes and forgets the tab
func (r *Registry) Remove(clientID, tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs.Remove(clientID + "/" + tabID)
}

// Len returns the number of live tabs
func (r *Registry) Len() int {
	return r.tabs.Len()
}

// Close closes every tab
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tabs.Purge()
}
