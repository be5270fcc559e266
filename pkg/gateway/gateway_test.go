package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/listing-price-proxy/internal/testutil"
	"github.com/Sternrassler/listing-price-proxy/pkg/annotate"
	"github.com/Sternrassler/listing-price-proxy/pkg/cache"
	"github.com/Sternrassler/listing-price-proxy/pkg/edgecache"
	"github.com/Sternrassler/listing-price-proxy/pkg/etsy"
	"github.com/Sternrassler/listing-price-proxy/pkg/kv"
	"github.com/Sternrassler/listing-price-proxy/pkg/logging"
	"github.com/Sternrassler/listing-price-proxy/pkg/lookup"
	"github.com/Sternrassler/listing-price-proxy/pkg/rewrite"
	"github.com/rs/zerolog"
)

// originPage is one canned origin response.
type originPage struct {
	contentType string
	body        string
	header      http.Header
}

// mockOrigin serves canned pages and records requests.
type mockOrigin struct {
	*httptest.Server

	mu       sync.Mutex
	pages    map[string]originPage
	hits     map[string]int
	lastReq  http.Header
	lastBody string
}

func newMockOrigin(t *testing.T) *mockOrigin {
	t.Helper()
	o := &mockOrigin{
		pages: make(map[string]originPage),
		hits:  make(map[string]int),
	}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		o.mu.Lock()
		o.hits[r.URL.Path]++
		o.lastReq = r.Header.Clone()
		o.lastBody = string(body)
		page, ok := o.pages[r.URL.Path]
		o.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		for k, v := range page.header {
			w.Header()[k] = v
		}
		w.Header().Set("Content-Type", page.contentType)
		_, _ = io.WriteString(w, page.body)
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *mockOrigin) set(path string, page originPage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pages[path] = page
}

func (o *mockOrigin) hitsFor(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

// countingTransformer records whether the rewriter ran.
type countingTransformer struct {
	next  Transformer
	calls atomic.Int32
}

func (c *countingTransformer) Transform(ctx context.Context, dst io.Writer, src io.Reader) error {
	c.calls.Add(1)
	return c.next.Transform(ctx, dst, src)
}

type harness struct {
	gateway     *Gateway
	origin      *mockOrigin
	etsy        *testutil.MockEtsy
	edge        edgecache.Store
	transformer *countingTransformer
}

// newHarness wires the full stack against mock origin and Etsy servers.
func newHarness(t *testing.T, edge edgecache.Store) *harness {
	t.Helper()

	origin := newMockOrigin(t)
	mockEtsy := testutil.NewMockEtsy()
	t.Cleanup(mockEtsy.Close)

	etsyCfg := etsy.DefaultConfig("test-key")
	etsyCfg.BaseURL = mockEtsy.URL()
	etsyCfg.Retry = etsy.RetryConfig{
		MaxAttempts:       2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	etsyClient, err := etsy.New(etsyCfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("etsy.New() error = %v", err)
	}

	listings := cache.NewManager(kv.NewMemoryStore(0), cache.DefaultConfig(), zerolog.Nop())
	service := lookup.NewService(listings, etsyClient, zerolog.Nop())
	annotator := annotate.New(service, annotate.DefaultLabels(), zerolog.Nop())
	rw := rewrite.New(rewrite.AttrPrefix("a", "class", "etsy"),
		rewrite.HandlerFunc(func(ctx context.Context, el *rewrite.Element) { annotator.Annotate(ctx, el) }),
		rewrite.DefaultConfig(), zerolog.Nop())
	transformer := &countingTransformer{next: rw}

	if edge == nil {
		edge = edgecache.NewMemoryStore(100, time.Minute)
	}
	originURL, _ := url.Parse(origin.URL)
	gw, err := New(DefaultConfig(originURL), edge, transformer, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &harness{
		gateway:     gw,
		origin:      origin,
		etsy:        mockEtsy,
		edge:        edge,
		transformer: transformer,
	}
}

func (h *harness) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.gateway.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://shop.example"+path, nil))
	return rec
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.gateway.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

const listingPage = `<html><body><p>Shop</p><a class="etsy-link" href="https://www.etsy.com/uk/listing/826425463/handmade-mug">Mug</a></body></html>`

func TestGateway_ListingScenarios(t *testing.T) {
	tests := []struct {
		name     string
		response testutil.MockEtsyResponse
		want     string
	}{
		{
			name:     "in stock",
			response: testutil.NewListingResponse("826425463", "12.00", "GBP", "en-GB", 3),
			want:     `<a class="etsy-link" href="https://www.etsy.com/uk/listing/826425463/handmade-mug" title="From £12. Only 3 left." alt="Buy this on Etsy">Mug</a>`,
		},
		{
			name:     "sold out",
			response: testutil.NewListingResponse("826425463", "12.00", "GBP", "en-GB", 0),
			want:     `<a class="etsy-link" href="https://www.etsy.com/uk/listing/826425463/handmade-mug" title="From £12. Sold Out." alt="View this on Etsy">Mug</a>`,
		},
		{
			name:     "api failure",
			response: testutil.NewServerErrorResponse(),
			want:     `<p>Shop</p></body>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.origin.set("/", originPage{contentType: "text/html; charset=utf-8", body: listingPage})
			h.etsy.SetListing("826425463", tt.response)

			rec := h.get(t, "/")
			h.wait(t)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %s\nwant it to contain %s", rec.Body.String(), tt.want)
			}
			if rec.Header().Get("Content-Type") != "text/html; charset=utf-8" {
				t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
			}
			if rec.Header().Get(edgecache.StatusHeader) != "MISS" {
				t.Errorf("%s = %q, want MISS", edgecache.StatusHeader, rec.Header().Get(edgecache.StatusHeader))
			}
		})
	}
}

func TestGateway_NonHTMLPassThrough(t *testing.T) {
	h := newHarness(t, nil)
	png := "\x89PNG\r\n\x1a\n<a class=\"etsy\" href=\"/listing/1/\">"
	h.origin.set("/logo.png", originPage{contentType: "image/png", body: png})

	rec := h.get(t, "/logo.png")
	h.wait(t)

	if rec.Body.String() != png {
		t.Errorf("body = %q, want unmodified", rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if n := h.transformer.calls.Load(); n != 0 {
		t.Errorf("rewriter invoked %d times for image/png", n)
	}
	if n := h.etsy.GetRequestCount(); n != 0 {
		t.Errorf("Etsy requests = %d, want 0", n)
	}
}

func TestGateway_EdgeCacheHit(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.set("/", originPage{contentType: "text/html", body: listingPage})
	h.etsy.SetListing("826425463", testutil.NewListingResponse("826425463", "12.00", "GBP", "en-GB", 3))

	first := h.get(t, "/")
	h.wait(t)
	second := h.get(t, "/")

	if second.Body.String() != first.Body.String() {
		t.Errorf("cached body differs:\n%s\n%s", second.Body.String(), first.Body.String())
	}
	if second.Header().Get(edgecache.StatusHeader) != "HIT" {
		t.Errorf("%s = %q, want HIT", edgecache.StatusHeader, second.Header().Get(edgecache.StatusHeader))
	}
	if n := h.origin.hitsFor("/"); n != 1 {
		t.Errorf("origin hits = %d, want 1", n)
	}
	if n := h.transformer.calls.Load(); n != 1 {
		t.Errorf("rewriter calls = %d, want 1", n)
	}
	if n := h.etsy.GetRequestCount(); n != 1 {
		t.Errorf("Etsy requests = %d, want 1", n)
	}
}

func TestGateway_ListingCacheAcrossPages(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.set("/a", originPage{contentType: "text/html", body: listingPage})
	h.origin.set("/b", originPage{contentType: "text/html", body: listingPage})
	h.etsy.SetListing("826425463", testutil.NewListingResponse("826425463", "12.00", "GBP", "en-GB", 3))

	h.get(t, "/a")
	h.get(t, "/b")
	h.wait(t)

	if n := h.etsy.RequestsFor("826425463"); n != 1 {
		t.Errorf("Etsy requests for listing = %d, want 1", n)
	}
}

func TestGateway_NotCached(t *testing.T) {
	tests := []struct {
		name   string
		method string
		page   originPage
	}{
		{
			name:   "post",
			method: http.MethodPost,
			page:   originPage{contentType: "text/html", body: "<p>form</p>"},
		},
		{
			name:   "no-store",
			method: http.MethodGet,
			page:   originPage{contentType: "text/html", body: "<p>private</p>", header: http.Header{"Cache-Control": {"no-store"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.origin.set("/p", tt.page)

			for i := 0; i < 2; i++ {
				rec := httptest.NewRecorder()
				h.gateway.ServeHTTP(rec, httptest.NewRequest(tt.method, "http://shop.example/p", strings.NewReader("x=1")))
				h.wait(t)
				if rec.Body.String() != tt.page.body {
					t.Errorf("body = %q", rec.Body.String())
				}
			}
			if n := h.origin.hitsFor("/p"); n != 2 {
				t.Errorf("origin hits = %d, want 2", n)
			}
		})
	}
}

func TestGateway_NotFoundNotCached(t *testing.T) {
	h := newHarness(t, nil)

	h.get(t, "/missing")
	h.wait(t)
	h.get(t, "/missing")

	if n := h.origin.hitsFor("/missing"); n != 2 {
		t.Errorf("origin hits = %d, want 2", n)
	}
}

// failingStore misses on every lookup and fails every write.
type failingStore struct {
	matchErr error
	puts     atomic.Int32
}

func (s *failingStore) Match(context.Context, edgecache.Key) (*edgecache.Entry, error) {
	return nil, s.matchErr
}

func (s *failingStore) Put(context.Context, edgecache.Key, *edgecache.Entry) error {
	s.puts.Add(1)
	return errors.New("store unavailable")
}

func TestGateway_EdgeCacheFailuresAreInvisible(t *testing.T) {
	for _, matchErr := range []error{edgecache.ErrCacheMiss, errors.New("connection refused")} {
		store := &failingStore{matchErr: matchErr}
		h := newHarness(t, store)
		h.origin.set("/", originPage{contentType: "text/html", body: "<p>ok</p>"})

		rec := h.get(t, "/")
		h.wait(t)

		if rec.Code != http.StatusOK || rec.Body.String() != "<p>ok</p>" {
			t.Errorf("match error %v: response = %d %q", matchErr, rec.Code, rec.Body.String())
		}
		if store.puts.Load() != 1 {
			t.Errorf("match error %v: puts = %d, want 1", matchErr, store.puts.Load())
		}
	}
}

func TestGateway_OriginDown(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.Close()

	rec := h.get(t, "/")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestGateway_OriginRequestHeaders(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.set("/", originPage{
		contentType: "text/html",
		body:        "<p>hi</p>",
		header:      http.Header{"Content-Length": {"9"}, "X-Origin": {"1"}},
	})

	req := httptest.NewRequest(http.MethodGet, "http://shop.example/", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("Connection", "keep-alive, X-Secret")
	req.Header.Set("X-Secret", "hop")
	req.Header.Set("Cookie", "a=1")
	rec := httptest.NewRecorder()
	h.gateway.ServeHTTP(rec, req)
	h.wait(t)

	h.origin.mu.Lock()
	got := h.origin.lastReq
	h.origin.mu.Unlock()

	if got.Get("X-Secret") != "" {
		t.Error("header named in Connection should not be forwarded")
	}
	if got.Get("Cookie") != "a=1" {
		t.Errorf("Cookie = %q, want forwarded", got.Get("Cookie"))
	}
	if got.Get("X-Forwarded-Host") != "shop.example" {
		t.Errorf("X-Forwarded-Host = %q", got.Get("X-Forwarded-Host"))
	}
	if strings.Contains(got.Get("Accept-Encoding"), "br") {
		t.Errorf("Accept-Encoding = %q, client encodings must not reach the origin", got.Get("Accept-Encoding"))
	}

	if rec.Header().Get("Content-Length") != "" {
		t.Error("Content-Length must be dropped from a rewritten response")
	}
	if rec.Header().Get("X-Origin") != "1" {
		t.Error("origin headers should be forwarded to the client")
	}
}

func TestGateway_OriginPathJoin(t *testing.T) {
	tests := []struct {
		base, path, want string
	}{
		{"", "/a", "/a"},
		{"/", "", "/"},
		{"/shop", "/", "/shop"},
		{"/shop/", "/a/b", "/shop/a/b"},
	}
	for _, tt := range tests {
		if got := joinPath(tt.base, tt.path); got != tt.want {
			t.Errorf("joinPath(%q, %q) = %q, want %q", tt.base, tt.path, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	origin, _ := url.Parse("http://origin.example")
	relative, _ := url.Parse("/relative")
	store := edgecache.NewMemoryStore(1, time.Minute)
	rw := rewrite.New(rewrite.AttrPrefix("a", "class", "etsy"),
		rewrite.HandlerFunc(func(context.Context, *rewrite.Element) {}), rewrite.Config{}, zerolog.Nop())

	tests := []struct {
		name        string
		cfg         Config
		store       edgecache.Store
		transformer Transformer
		wantErr     bool
	}{
		{"valid", DefaultConfig(origin), store, rw, false},
		{"no origin", Config{}, store, rw, true},
		{"relative origin", DefaultConfig(relative), store, rw, true},
		{"no store", DefaultConfig(origin), nil, rw, true},
		{"no transformer", DefaultConfig(origin), store, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.store, tt.transformer, zerolog.Nop())
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGateway_EdgeCacheHitKeepsRequestID(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.set("/", originPage{contentType: "text/html", body: listingPage})
	h.etsy.SetListing("826425463", testutil.NewListingResponse("826425463", "12.00", "GBP", "en-GB", 3))
	handler := logging.Middleware(zerolog.Nop())(h.gateway)

	send := func(id string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "http://shop.example/", nil)
		req.Header.Set(logging.RequestIDHeader, id)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		h.wait(t)
		return rec
	}

	first := send("client-id-1")
	second := send("client-id-2")

	if got := first.Header().Get(logging.RequestIDHeader); got != "client-id-1" {
		t.Errorf("first request id = %q, want client-id-1", got)
	}
	if second.Header().Get(edgecache.StatusHeader) != "HIT" {
		t.Fatalf("%s = %q, want HIT", edgecache.StatusHeader, second.Header().Get(edgecache.StatusHeader))
	}
	if got := second.Header().Values(logging.RequestIDHeader); len(got) != 1 || got[0] != "client-id-2" {
		t.Errorf("cached response request id = %v, want [client-id-2]", got)
	}
}

func TestGateway_AbandonedRequestDoesNotPoisonListingCache(t *testing.T) {
	h := newHarness(t, nil)
	h.origin.set("/", originPage{contentType: "text/html", body: listingPage})
	slow := testutil.NewListingResponse("826425463", "12.00", "GBP", "en-GB", 3)
	slow.Delay = 300 * time.Millisecond
	h.etsy.SetListing("826425463", slow)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	h.gateway.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodGet, "http://shop.example/", nil).WithContext(ctx))
	h.wait(t)

	rec := h.get(t, "/")
	want := `title="From £12. Only 3 left." alt="Buy this on Etsy">Mug</a>`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("body = %s\nwant it to contain %s", rec.Body.String(), want)
	}
}
