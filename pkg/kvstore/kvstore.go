package kvstore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotFound is returned when a key is absent
var ErrNotFound = errors.New("key not found")

// Change describes a single write or delete
type Change struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
	Origin  string `json:"origin"`
}

// Backend is raw key/value storage with change notification
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, origin, key, value string) error
	Delete(ctx context.Context, origin string, keys ...string) error
	// Watch registers fn for every change and returns a function that unregisters it
	Watch(fn func(Change)) (cancel func())
	Close() error
}

// Store is a namespaced view of a Backend owned by one writer
type Store struct {
	backend Backend
	prefix  string
	origin  string
}

// NewStore creates a view over backend. Keys are stored under prefix and
// writes are tagged with origin.
func NewStore(backend Backend, prefix, origin string) *Store {
	return &Store{backend: backend, prefix: prefix, origin: origin}
}

// Origin returns the writer id of this view
func (s *Store) Origin() string {
	return s.origin
}

// Get returns the value for key or ErrNotFound
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	return s.backend.Get(ctx, s.prefix+key)
}

// Set overwrites key
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.backend.Set(ctx, s.origin, s.prefix+key, value)
}

// Delete removes the given keys. Absent keys are ignored.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = s.prefix + key
	}
	return s.backend.Delete(ctx, s.origin, full...)
}

// OnExternalChange calls fn for changes in this namespace made by other views.
// Keys passed to fn have the namespace prefix removed.
func (s *Store) OnExternalChange(fn func(Change)) (cancel func()) {
	return s.backend.Watch(func(c Change) {
		if c.Origin == s.origin || !strings.HasPrefix(c.Key, s.prefix) {
			return
		}
		c.Key = strings.TrimPrefix(c.Key, s.prefix)
		fn(c)
	})
}

// hub fans changes out to watchers. Watchers run on the publishing goroutine
// after the backend has released its own locks.
type hub struct {
	mu       sync.RWMutex
	nextID   int
	watchers map[int]func(Change)
}

func (h *hub) watch(fn func(Change)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.watchers == nil {
		h.watchers = make(map[int]func(Change))
	}
	id := h.nextID
	h.nextID++
	h.watchers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.watchers, id)
			h.mu.Unlock()
		})
	}
}

func (h *hub) publish(changes ...Change) {
	h.mu.RLock()
	fns := make([]func(Change), 0, len(h.watchers))
	for _, fn := range h.watchers {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}

func (h *hub) reset() {
	h.mu.Lock()
	h.watchers = nil
	h.mu.Unlock()
}
