package edgecache

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached response by request identity.
type Key struct {
	Method string
	Host   string
	Path   string
	Query  url.Values
}

// KeyFromRequest derives the cache key of r.
func KeyFromRequest(r *http.Request) Key {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	return Key{
		Method: r.Method,
		Host:   host,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
	}
}

// String generates a deterministic key string.
// Format: edge:METHOD:host:/path?a=1&b=2
//
// Query parameters are sorted by name; repeated values keep their order.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString("edge:")
	b.WriteString(strings.ToUpper(k.Method))
	b.WriteByte(':')
	b.WriteString(strings.ToLower(k.Host))
	b.WriteByte(':')
	path := k.Path
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		sep := byte('?')
		for _, name := range names {
			for _, v := range k.Query[name] {
				b.WriteByte(sep)
				b.WriteString(url.QueryEscape(name))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
				sep = '&'
			}
		}
	}
	return b.String()
}
