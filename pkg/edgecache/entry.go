// Package edgecache stores whole transformed responses keyed by request
// identity, so repeat page views skip the origin and the rewriter.
package edgecache

import (
	"net/http"
	"time"
)

// Entry is a cached response.
type Entry struct {
	// Body is the response body as sent to the client.
	Body []byte `json:"body"`

	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	CachedAt time.Time `json:"cached_at"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration, or 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
