// Package metrics documents the proxy's Prometheus metrics and serves them.
// Metrics are defined with promauto in the packages that own them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Listing cache (pkg/cache):
//   - listing_cache_hits_total{result} (Counter): hits by cached result (found, not_found)
//   - listing_cache_misses_total (Counter): misses, including unreadable entries
//   - listing_cache_errors_total{operation} (Counter): store and decode errors
//
// Listing lookups (pkg/lookup):
//   - listing_lookups_total{source, result} (Counter): lookups by source (cache, api); abandoned lookups are not cached
//   - listing_lookup_duration_seconds{source} (Histogram)
//
// Etsy API (pkg/etsy):
//   - etsy_requests_total{status} (Counter)
//   - etsy_request_duration_seconds (Histogram)
//   - etsy_errors_total{class} (Counter): client, server, rate_limit, network, payload
//   - etsy_retries_total, etsy_retry_exhausted_total (Counter)
//
// API quota (pkg/ratelimit):
//   - etsy_quota_remaining (Gauge)
//   - etsy_quota_blocks_total, etsy_quota_throttles_total (Counter)
//
// Rewriting (pkg/rewrite, pkg/annotate):
//   - rewrite_documents_total{result} (Counter)
//   - rewrite_document_duration_seconds (Histogram)
//   - rewrite_elements_total{outcome} (Counter): unchanged, modified, removed
//   - listing_annotations_total{outcome} (Counter): skipped, in_stock, sold_out, removed
//
// Edge cache (pkg/edgecache):
//   - edge_cache_hits_total{layer}, edge_cache_misses_total{layer} (Counter)
//   - edge_cache_errors_total{operation} (Counter)
//   - edge_cache_stored_bytes_total{layer} (Counter)
//
// Gateway (pkg/gateway):
//   - gateway_requests_total{result} (Counter): hit, pass_through, transformed, transform_error, origin_error
//   - gateway_request_duration_seconds{result} (Histogram)
//   - gateway_origin_responses_total{class} (Counter)
//   - gateway_background_writes (Gauge)
//   - gateway_cache_write_failures_total (Counter)
//
// Example Prometheus Queries:
//
//   # Edge cache hit rate
//   sum(rate(gateway_requests_total{result="hit"}[5m])) / sum(rate(gateway_requests_total[5m]))
//
//   # Etsy calls avoided by the listing cache
//   sum(rate(listing_lookups_total{source="cache"}[5m])) / sum(rate(listing_lookups_total[5m]))
//
//   # Quota headroom
//   etsy_quota_remaining < 500
