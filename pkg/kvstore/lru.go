package kvstore

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUBackend keeps at most size entries, each expiring ttl after its last
// write. Expired and evicted entries read as absent and produce no change
// notification.
type LRUBackend struct {
	cache *lru.LRU[string, string]
	hub   hub
}

// NewLRUBackend creates a bounded, expiring in-memory backend
func NewLRUBackend(size int, ttl time.Duration) *LRUBackend {
	return &LRUBackend{
		cache: lru.NewLRU[string, string](size, nil, ttl),
	}
}

func (b *LRUBackend) Get(ctx context.Context, key string) (string, error) {
	value, ok := b.cache.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (b *LRUBackend) Set(ctx context.Context, origin, key, value string) error {
	b.cache.Add(key, value)
	b.hub.publish(Change{Key: key, Value: value, Origin: origin})
	return nil
}

func (b *LRUBackend) Delete(ctx context.Context, origin string, keys ...string) error {
	var changes []Change
	for _, key := range keys {
		if b.cache.Remove(key) {
			changes = append(changes, Change{Key: key, Deleted: true, Origin: origin})
		}
	}
	b.hub.publish(changes...)
	return nil
}

func (b *LRUBackend) Watch(fn func(Change)) func() {
	return b.hub.watch(fn)
}

// Len returns the number of live entries
func (b *LRUBackend) Len() int {
	return b.cache.Len()
}

func (b *LRUBackend) Close() error {
	b.cache.Purge()
	b.hub.reset()
	return nil
}
