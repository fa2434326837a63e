// Package session keeps the in-memory conversation sessions used to build
// provider requests.
//
// Invariants:
// - Values are copied on Put and Get; callers never share backing arrays.
// - An entry is never evicted while its conversation lane is held or awaited.
// - Capacity (LRU) and idle TTL bound the cache; a miss is always safe because
//   sessions can be rebuilt from the durable store.
//
// Usage:
//
//	cache := session.NewCache(session.CacheConfig{MaxEntries: 1000, TTL: 30 * time.Minute, Lanes: locker})
//	janitor := session.NewJanitor(cache, "@every 1m", logger)
//	_ = janitor.Start()
//	defer janitor.Stop()
package session
