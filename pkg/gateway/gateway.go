// Package gateway is the cache-aside front of the proxy.
//
// Each request is answered from the edge cache when possible. Otherwise
// the origin is fetched; HTML bodies are streamed through the rewriter to
// the client while a copy is kept, and the copy is stored in the edge
// cache on a background goroutine once the response is complete.
// Everything else is passed through untouched.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/listing-price-proxy/pkg/edgecache"
	"github.com/rs/zerolog"
)

// Transformer rewrites an HTML stream.
type Transformer interface {
	Transform(ctx context.Context, dst io.Writer, src io.Reader) error
}

// Config holds gateway settings.
type Config struct {
	// OriginURL is the upstream site; request paths are appended to it.
	OriginURL *url.URL

	// CacheTTL is the edge cache lifetime when the origin sends no
	// freshness headers.
	CacheTTL time.Duration

	// OriginTimeout bounds the whole origin exchange.
	OriginTimeout time.Duration

	// WriteTimeout bounds one background cache write.
	WriteTimeout time.Duration

	// MaxCacheBody is the largest body kept for the edge cache. Larger
	// responses are still served but not cached.
	MaxCacheBody int
}

// DefaultConfig returns a Config for origin with default limits.
func DefaultConfig(origin *url.URL) Config {
	return Config{
		OriginURL:     origin,
		CacheTTL:      edgecache.DefaultTTL,
		OriginTimeout: 30 * time.Second,
		WriteTimeout:  5 * time.Second,
		MaxCacheBody:  8 << 20,
	}
}

// Gateway is an http.Handler implementing the cache-aside flow.
type Gateway struct {
	config      Config
	cache       edgecache.Store
	transformer Transformer
	httpClient  *http.Client
	logger      zerolog.Logger

	writes sync.WaitGroup
}

// New creates a Gateway.
func New(cfg Config, cache edgecache.Store, transformer Transformer, logger zerolog.Logger) (*Gateway, error) {
	if cfg.OriginURL == nil || cfg.OriginURL.Scheme == "" || cfg.OriginURL.Host == "" {
		return nil, fmt.Errorf("origin url must be absolute")
	}
	if cache == nil {
		return nil, fmt.Errorf("edge cache is required")
	}
	if transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}

	def := DefaultConfig(cfg.OriginURL)
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.OriginTimeout <= 0 {
		cfg.OriginTimeout = def.OriginTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.MaxCacheBody <= 0 {
		cfg.MaxCacheBody = def.MaxCacheBody
	}

	return &Gateway{
		config:      cfg,
		cache:       cache,
		transformer: transformer,
		httpClient: &http.Client{
			// Redirects are the client's business.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

// SetHTTPClient replaces the origin HTTP client (for testing).
// Redirect handling of the given client is left as is.
func (g *Gateway) SetHTTPClient(client *http.Client) {
	g.httpClient = client
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	logger := g.requestLogger(r)

	cacheable := r.Method == http.MethodGet
	key := edgecache.KeyFromRequest(r)

	if cacheable {
		entry, err := g.cache.Match(r.Context(), key)
		switch {
		case err == nil:
			logger.Debug().Str("key", key.String()).Msg("Edge cache hit")
			if err := entry.Serve(w); err != nil {
				logger.Debug().Err(err).Msg("Client went away during cached response")
			}
			observe(resultHit, start)
			return
		case !errors.Is(err, edgecache.ErrCacheMiss):
			logger.Warn().Err(err).Str("key", key.String()).Msg("Edge cache lookup failed, treating as miss")
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), g.config.OriginTimeout)
	defer cancel()

	resp, err := g.fetchOrigin(ctx, r)
	if err != nil {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Origin fetch failed")
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		observe(resultOriginError, start)
		return
	}
	defer resp.Body.Close()

	if !isHTML(resp.Header) {
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.Debug().Err(err).Msg("Pass-through copy interrupted")
		}
		observe(resultPassThrough, start)
		return
	}

	header := w.Header()
	copyHeader(header, resp.Header)
	header.Del("Content-Length")
	header.Set(edgecache.StatusHeader, "MISS")
	w.WriteHeader(resp.StatusCode)

	store := cacheable && resp.StatusCode == http.StatusOK && edgecache.Cacheable(resp.Header)
	out := &teeWriter{w: w}
	if store {
		out.copy = &bytes.Buffer{}
		out.limit = g.config.MaxCacheBody
	}

	if err := g.transformer.Transform(ctx, out, resp.Body); err != nil {
		// Headers are gone; all that is left is to stop and not cache.
		logger.Warn().Err(err).Str("path", r.URL.Path).Msg("HTML transform aborted")
		observe(resultTransformError, start)
		return
	}
	observe(resultTransformed, start)

	// Elements rendered after the request context ended may have been
	// degraded, so such a page is served but never stored.
	if store && !out.overflow && ctx.Err() == nil {
		// Built from the origin headers so per-request headers set by
		// outer middleware (request id) are not replayed on hits.
		originHeader := make(http.Header, len(resp.Header))
		copyHeader(originHeader, resp.Header)
		entry := edgecache.NewEntry(resp.StatusCode, originHeader, out.copy.Bytes(), g.config.CacheTTL)
		g.scheduleWrite(r.Context(), key, entry, logger)
	}
}

// Wait blocks until background cache writes have finished or ctx is done.
func (g *Gateway) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.writes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// scheduleWrite stores entry after the response has been sent. Failures
// are logged only; the client already has its page.
func (g *Gateway) scheduleWrite(reqCtx context.Context, key edgecache.Key, entry *edgecache.Entry, logger zerolog.Logger) {
	g.writes.Add(1)
	backgroundWrites.Inc()
	go func() {
		defer g.writes.Done()
		defer backgroundWrites.Dec()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), g.config.WriteTimeout)
		defer cancel()

		if err := g.cache.Put(ctx, key, entry); err != nil {
			cacheWriteFailures.Inc()
			logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to store response in edge cache")
			return
		}
		logger.Debug().Str("key", key.String()).Dur("ttl", entry.TTL()).Msg("Stored response in edge cache")
	}()
}

func (g *Gateway) requestLogger(r *http.Request) zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return g.logger
}

// isHTML matches the media type prefix the way browsers sniff it off.
func isHTML(h http.Header) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(h.Get("Content-Type"))), "text/html")
}

// teeWriter forwards to the client and keeps a bounded copy. It passes
// flushes through so streamed output reaches the client promptly.
type teeWriter struct {
	w        http.ResponseWriter
	copy     *bytes.Buffer
	limit    int
	overflow bool
}

func (t *teeWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if t.copy != nil && !t.overflow {
		if t.copy.Len()+n > t.limit {
			t.overflow = true
			t.copy = nil
		} else {
			t.copy.Write(p[:n])
		}
	}
	return n, err
}

func (t *teeWriter) Flush() {
	if f, ok := t.w.(http.Flusher); ok {
		f.Flush()
	}
}
