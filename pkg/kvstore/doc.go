// Package kvstore provides the string key/value storage used for session state.
//
// A Backend holds the raw keys. A Store is a namespaced view over a backend
// with its own origin id; every write is tagged with that origin and change
// notifications are delivered to every other view watching the same namespace,
// never to the view that made the write.
//
// Backends:
//
//   - MemoryBackend: in-process map, used for tests and single-node deployments
//   - RedisBackend: shared across processes, changes fanned out over pub/sub
//   - SQLBackend: durable single-node storage on SQLite
//   - LRUBackend: bounded, expiring storage for short-lived session keys
//
// Usage:
//
//	backend := kvstore.NewMemoryBackend()
//	tabA := kvstore.NewStore(backend, "client:42:", "tab-a")
//	tabB := kvstore.NewStore(backend, "client:42:", "tab-b")
//
//	cancel := tabB.OnExternalChange(func(c kvstore.Change) {
//		fmt.Println(c.Key, c.Value) // auth_token abc123
//	})
//	defer cancel()
//
//	tabA.Set(ctx, "auth_token", "abc123")
package kvstore
