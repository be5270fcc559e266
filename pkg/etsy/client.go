// Package etsy is a minimal client for the Etsy listings API, with
// error classification, retry and quota-aware request gating.
package etsy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/listing-price-proxy/pkg/listing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for Etsy API operations.
var (
	etsyRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etsy_requests_total",
		Help: "Total Etsy API requests by status",
	}, []string{"status"})

	etsyRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "etsy_request_duration_seconds",
		Help:    "Etsy API request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})

	etsyErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etsy_errors_total",
		Help: "Total Etsy API errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the Etsy v2 open API.
const DefaultBaseURL = "https://openapi.etsy.com/v2"

// maxBodyBytes caps how much of a listing response is read.
const maxBodyBytes = 1 << 20

// QuotaTracker gates requests on the remaining API quota.
type QuotaTracker interface {
	ShouldAllowRequest(ctx context.Context) (bool, error)
	UpdateFromHeaders(ctx context.Context, headers http.Header) error
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the listings API (default: DefaultBaseURL)
	BaseURL string

	// APIKey is sent as the api_key query parameter (REQUIRED)
	APIKey string

	// UserAgent header sent with every request
	UserAgent string

	// Timeout per HTTP attempt
	Timeout time.Duration

	// Retry policy for server and network errors
	Retry RetryConfig

	// Quota is optional; nil disables quota gating
	Quota QuotaTracker
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		APIKey:    apiKey,
		UserAgent: "listing-price-proxy/0.1.0",
		Timeout:   5 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// Listing is the subset of an Etsy listing needed for price display.
type Listing struct {
	ListingID    int64
	Language     string
	CurrencyCode string
	Price        float64
	Quantity     int
}

// Record formats l into a display-ready listing record.
func (l *Listing) Record() (listing.Record, error) {
	price, err := listing.FormatPrice(l.Price, l.CurrencyCode, l.Language)
	if err != nil {
		return listing.Record{}, err
	}
	quantity := l.Quantity
	if quantity < 0 {
		quantity = 0
	}
	return listing.Record{Found: true, DisplayPrice: price, Quantity: quantity}, nil
}

type listingsResponse struct {
	Count   int             `json:"count"`
	Results []listingResult `json:"results"`
}

type listingResult struct {
	ListingID    int64      `json:"listing_id"`
	Language     string     `json:"language"`
	CurrencyCode string     `json:"currency_code"`
	Price        *flexFloat `json:"price"`
	Quantity     int        `json:"quantity"`
}

// flexFloat accepts a JSON number or a numeric string ("12.00").
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse price %s: %w", data, err)
	}
	*f = flexFloat(v)
	return nil
}

// Client fetches listings from the Etsy API.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new Etsy client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		config:     cfg,
		logger:     logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// GetListing fetches one listing by ID.
// Every failure (blocked by quota, network, non-2xx status, malformed body,
// missing results or price) is returned as an error.
func (c *Client) GetListing(ctx context.Context, id listing.ID) (*Listing, error) {
	if c.config.Quota != nil {
		allowed, err := c.config.Quota.ShouldAllowRequest(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Quota check failed, allowing request")
		} else if !allowed {
			etsyRequestsTotal.WithLabelValues("quota_blocked").Inc()
			return nil, ErrQuotaBlocked
		}
	}

	var result *Listing
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		var err error
		result, err = c.fetchListing(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) listingURL(id listing.ID) string {
	q := url.Values{"api_key": []string{c.config.APIKey}}
	return strings.TrimRight(c.config.BaseURL, "/") + "/listings/" + url.PathEscape(string(id)) + "?" + q.Encode()
}

// fetchListing performs a single attempt.
func (c *Client) fetchListing(ctx context.Context, id listing.ID) (*Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.listingURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	etsyRequestDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		etsyErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		etsyRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	etsyRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if c.config.Quota != nil {
		if err := c.config.Quota.UpdateFromHeaders(ctx, resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}
	}

	if class := classifyStatus(resp.StatusCode); class != "" {
		etsyErrorsTotal.WithLabelValues(string(class)).Inc()
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: class, Message: resp.Status}
	}

	var payload listingsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		etsyErrorsTotal.WithLabelValues(string(ErrorClassPayload)).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassPayload, Message: "decode listing", Err: err}
	}

	if len(payload.Results) == 0 {
		etsyErrorsTotal.WithLabelValues(string(ErrorClassPayload)).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassPayload, Message: "listing " + string(id), Err: ErrNoResults}
	}

	first := payload.Results[0]
	if first.Price == nil {
		etsyErrorsTotal.WithLabelValues(string(ErrorClassPayload)).Inc()
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorClass: ErrorClassPayload, Message: "listing " + string(id), Err: ErrMissingPrice}
	}

	c.logger.Info().Str("listing_id", string(id)).Msg("Fetched listing from Etsy")

	return &Listing{
		ListingID:    first.ListingID,
		Language:     first.Language,
		CurrencyCode: first.CurrencyCode,
		Price:        float64(*first.Price),
		Quantity:     first.Quantity,
	}, nil
}
