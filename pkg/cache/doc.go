// Package cache stores previously fetched collections per resource and account.
//
// A collection is the ordered sequence of raw records returned by a full
// fetch. It is consulted when a caller asks for a resource without refresh,
// and by the resumable accumulator to detect where freshly fetched pages
// reconnect with known data. Each full refresh replaces the stored
// collection wholesale.
//
// Two backends implement Store:
//
//   - MemoryStore keeps collections in process memory
//   - Manager keeps collections in Redis, shared between processes
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager with a one day TTL
//	manager := cache.NewManager(redisClient, 24*time.Hour)
//
//	key := cache.CacheKey{Resource: "chats", AccountID: 42}
//
//	entry, err := manager.Load(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Cache miss - run a full fetch
//	}
//
//	// Replace the collection after a full fetch
//	if err := manager.Save(ctx, key, cache.NewEntry(records)); err != nil {
//		return err
//	}
//
// # Metrics
//
//   - content_api_cache_hits_total{backend} - Cache hits
//   - content_api_cache_misses_total - Cache misses
//   - content_api_cache_size_bytes{backend} - Bytes written per backend
//   - content_api_cache_errors_total{operation} - Cache operation errors
package cache
