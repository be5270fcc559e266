package edgecache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when the origin sends no freshness headers.
	DefaultTTL = 5 * time.Minute

	// StatusHeader reports whether a response came from the edge cache.
	StatusHeader = "X-Edge-Cache"
)

// NewEntry builds an entry from response parts. Expiry follows the
// Cache-Control max-age directive, then the Expires header, then fallback.
func NewEntry(statusCode int, header http.Header, body []byte, fallback time.Duration) *Entry {
	if fallback <= 0 {
		fallback = DefaultTTL
	}
	now := time.Now()
	h := header.Clone()
	h.Del("Content-Length")
	h.Del(StatusHeader)
	return &Entry{
		Body:       body,
		StatusCode: statusCode,
		Headers:    h,
		Expires:    parseExpiry(header, now, fallback),
		CachedAt:   now,
	}
}

// Cacheable reports whether the origin allows a shared cache to store a
// response with these headers.
func Cacheable(header http.Header) bool {
	for _, directive := range cacheControl(header) {
		switch directive.name {
		case "no-store", "private", "no-cache":
			return false
		}
	}
	return header.Get("Set-Cookie") == ""
}

// Serve writes the cached response to w, marked as a cache hit.
func (e *Entry) Serve(w http.ResponseWriter) error {
	h := w.Header()
	for key, values := range e.Headers {
		h[key] = append([]string(nil), values...)
	}
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	h.Set(StatusHeader, "HIT")
	w.WriteHeader(e.StatusCode)

	_, err := w.Write(e.Body)
	return err
}

// parseExpiry derives the expiry instant from response headers.
// A stale Expires date yields now, so the entry is not stored.
func parseExpiry(header http.Header, now time.Time, fallback time.Duration) time.Time {
	for _, directive := range cacheControl(header) {
		if directive.name != "s-maxage" && directive.name != "max-age" {
			continue
		}
		secs, err := strconv.Atoi(directive.value)
		if err != nil || secs < 0 {
			continue
		}
		return now.Add(time.Duration(secs) * time.Second)
	}

	expiresStr := header.Get("Expires")
	if expiresStr == "" {
		return now.Add(fallback)
	}
	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(fallback)
	}
	if expires.Before(now) {
		return now
	}
	return expires
}

type directive struct {
	name  string
	value string
}

// cacheControl parses Cache-Control directives, s-maxage first so it takes
// precedence over max-age for a shared cache.
func cacheControl(header http.Header) []directive {
	var out, shared []directive
	for _, line := range header.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			name, value, _ := strings.Cut(strings.TrimSpace(part), "=")
			d := directive{
				name:  strings.ToLower(strings.TrimSpace(name)),
				value: strings.Trim(strings.TrimSpace(value), `"`),
			}
			if d.name == "" {
				continue
			}
			if d.name == "s-maxage" {
				shared = append(shared, d)
				continue
			}
			out = append(out, d)
		}
	}
	return append(shared, out...)
}
