// Package cache provides the listing lookup cache: a TTL'd key-value
// façade that maps a listing ID to its price/availability record.
//
// The cache stores both positive and negative results:
//
// - Found listings are stored with their display price and quantity
// - Listings that could not be resolved are stored as an empty record
// - Every entry expires after a fixed TTL (default 5h)
// - Entries that cannot be decoded are treated as misses
//
// The cache never calls the marketplace API itself; see package lookup.
//
// # Basic Usage
//
//	store := kv.NewRedisStore(redisClient)
//	manager := cache.NewManager(store, cache.DefaultConfig(), logger)
//
//	record, ok := manager.Get(ctx, "826425463")
//	if !ok {
//		// Cache miss - resolve through the API, then:
//		_ = manager.Put(ctx, "826425463", record)
//	}
//
// # Metrics
//
//   - listing_cache_hits_total{result} - Cache hits by result (found, not_found)
//   - listing_cache_misses_total - Cache misses
//   - listing_cache_errors_total{operation} - Store and decode errors
package cache
