package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// fetchOrigin forwards r to the origin.
func (g *Gateway) fetchOrigin(ctx context.Context, r *http.Request) (*http.Response, error) {
	target := *g.config.OriginURL
	target.Path = joinPath(target.Path, r.URL.Path)
	target.RawPath = ""
	target.RawQuery = r.URL.RawQuery

	var body = r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create origin request: %w", err)
	}
	req.ContentLength = r.ContentLength

	copyHeader(req.Header, r.Header)
	// The body must arrive decoded for the rewriter.
	req.Header.Del("Accept-Encoding")
	setForwarded(req.Header, r)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("origin request: %w", err)
	}
	originResponses.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	return resp, nil
}

// copyHeader copies src into dst minus hop-by-hop headers, including any
// named in src's Connection header.
func copyHeader(dst, src http.Header) {
	skip := make(map[string]bool, len(hopHeaders))
	for _, h := range hopHeaders {
		skip[h] = true
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				skip[http.CanonicalHeaderKey(name)] = true
			}
		}
	}

	for key, values := range src {
		if skip[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), values...)
	}
}

func setForwarded(h http.Header, r *http.Request) {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := h.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		h.Set("X-Forwarded-For", ip)
	}
	h.Set("X-Forwarded-Host", r.Host)
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	h.Set("X-Forwarded-Proto", proto)
}

func joinPath(base, path string) string {
	switch {
	case base == "" || base == "/":
		if path == "" {
			return "/"
		}
		return path
	case path == "" || path == "/":
		return base
	default:
		return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
	}
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
