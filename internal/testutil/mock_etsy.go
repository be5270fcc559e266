// Package testutil provides testing utilities for the listing price proxy.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockEtsyResponse defines the behavior for a mock listing response.
type MockEtsyResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockEtsy is a configurable mock Etsy listings API for testing.
type MockEtsy struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responses map[string]MockEtsyResponse

	// Tracking
	RequestCount int
	LastAPIKey   string
	requestsByID map[string]int
}

// NewMockEtsy creates a new mock Etsy server.
// Unknown listings answer 404 like the real API does for removed listings.
func NewMockEtsy() *MockEtsy {
	mock := &MockEtsy{
		responses:    make(map[string]MockEtsyResponse),
		requestsByID: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/listings/"), "/")

		mock.mu.Lock()
		mock.RequestCount++
		mock.requestsByID[id]++
		mock.LastAPIKey = r.URL.Query().Get("api_key")
		resp, exists := mock.responses[id]
		mock.mu.Unlock()

		if !exists {
			resp = NewNotFoundResponse()
		}

		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	}))

	return mock
}

// URL returns the mock API base URL.
func (m *MockEtsy) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockEtsy) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockEtsy) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastAPIKey = ""
	m.requestsByID = make(map[string]int)
}

// SetListing configures the response for one listing ID.
func (m *MockEtsy) SetListing(id string, resp MockEtsyResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[id] = resp
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockEtsy) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// RequestsFor returns the number of requests made for one listing ID.
func (m *MockEtsy) RequestsFor(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestsByID[id]
}

// NewListingResponse creates a 200 OK listing response in the v2 API shape.
// The price is sent as a string, as the real API does.
func NewListingResponse(id string, price, currency, language string, quantity int) MockEtsyResponse {
	return MockEtsyResponse{
		StatusCode: http.StatusOK,
		Body: fmt.Sprintf(`{"count":1,"results":[{"listing_id":%s,"state":"active","price":"%s","currency_code":"%s","quantity":%d,"language":"%s"}],"type":"Listing"}`,
			id, price, currency, quantity, language),
		Headers: map[string]string{
			"Content-Type":          "application/json",
			"X-RateLimit-Limit":     "10000",
			"X-RateLimit-Remaining": "9999",
		},
	}
}

// NewNotFoundResponse creates the 404 returned for removed listings.
func NewNotFoundResponse() MockEtsyResponse {
	return MockEtsyResponse{
		StatusCode: http.StatusNotFound,
		Body:       `Could not find a Listing with listing_id`,
		Headers:    map[string]string{"Content-Type": "text/plain"},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockEtsyResponse {
	return MockEtsyResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockEtsyResponse {
	return MockEtsyResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type":          "application/json",
			"X-RateLimit-Limit":     "10000",
			"X-RateLimit-Remaining": "0",
		},
	}
}

// NewEmptyResultsResponse creates a 200 OK response without results.
func NewEmptyResultsResponse() MockEtsyResponse {
	return MockEtsyResponse{
		StatusCode: http.StatusOK,
		Body:       `{"count":0,"results":[],"type":"Listing"}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
