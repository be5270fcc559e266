// Package lookup resolves listing IDs to display records, fronting the
// Etsy API with the listing cache.
//
// Every miss is written back, including failures: a listing that cannot be
// resolved is cached as not found for the cache TTL so a removed or
// erroring listing costs at most one API call per TTL window. Lookups cut
// short by the caller's context are the exception and are not cached.
//
// Concurrent lookups of the same ID are not coalesced; each one that
// misses the cache makes its own API call and the last write wins.
package lookup

import (
	"context"
	"time"

	"github.com/Sternrassler/listing-price-proxy/pkg/etsy"
	"github.com/Sternrassler/listing-price-proxy/pkg/listing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listing_lookups_total",
		Help: "Total listing lookups by source and result",
	}, []string{"source", "result"}) // source: cache, api; result: found, not_found, abandoned

	lookupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "listing_lookup_duration_seconds",
		Help:    "Listing lookup duration in seconds by source",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"source"})
)

// Cache is the listing cache used by the service.
type Cache interface {
	Get(ctx context.Context, id listing.ID) (listing.Record, bool)
	Put(ctx context.Context, id listing.ID, record listing.Record) error
}

// Fetcher resolves a listing against the marketplace API.
type Fetcher interface {
	GetListing(ctx context.Context, id listing.ID) (*etsy.Listing, error)
}

// Service implements get-from-cache, else fetch, else mark not found.
type Service struct {
	cache   Cache
	fetcher Fetcher
	logger  zerolog.Logger
}

// NewService creates a lookup service.
func NewService(cache Cache, fetcher Fetcher, logger zerolog.Logger) *Service {
	if cache == nil || fetcher == nil {
		panic("lookup: cache and fetcher are required")
	}
	return &Service{
		cache:   cache,
		fetcher: fetcher,
		logger:  logger,
	}
}

// Lookup returns the record for id. It never fails: any error resolving
// the listing yields a not-found record.
func (s *Service) Lookup(ctx context.Context, id listing.ID) listing.Record {
	start := time.Now()

	if record, ok := s.cache.Get(ctx, id); ok {
		lookupsTotal.WithLabelValues("cache", resultLabel(record)).Inc()
		lookupDuration.WithLabelValues("cache").Observe(time.Since(start).Seconds())
		return record
	}

	record := s.fetch(ctx, id)
	lookupDuration.WithLabelValues("api").Observe(time.Since(start).Seconds())

	// A failure caused by the caller going away says nothing about the
	// listing. Render it as not found but leave the cache alone.
	if !record.Found && ctx.Err() != nil {
		lookupsTotal.WithLabelValues("api", "abandoned").Inc()
		s.logger.Debug().Err(ctx.Err()).Str("listing_id", string(id)).Msg("Lookup abandoned, not caching")
		return record
	}
	lookupsTotal.WithLabelValues("api", resultLabel(record)).Inc()

	// A resolved record is still stored if the client disconnected after the fetch.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.cache.Put(writeCtx, id, record); err != nil {
		s.logger.Warn().Err(err).Str("listing_id", string(id)).Msg("Failed to cache listing record")
	}

	return record
}

func (s *Service) fetch(ctx context.Context, id listing.ID) listing.Record {
	l, err := s.fetcher.GetListing(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("listing_id", string(id)).Msg("Listing lookup failed, caching as not found")
		return listing.NotFound()
	}

	record, err := l.Record()
	if err != nil {
		s.logger.Warn().Err(err).Str("listing_id", string(id)).Msg("Listing price unusable, caching as not found")
		return listing.NotFound()
	}
	return record
}

func resultLabel(r listing.Record) string {
	if r.Found {
		return "found"
	}
	return "not_found"
}
