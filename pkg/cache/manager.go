package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/listing-price-proxy/pkg/kv"
	"github.com/Sternrassler/listing-price-proxy/pkg/listing"
	"github.com/rs/zerolog"
)

// DefaultTTL bounds how long positive and negative results are trusted.
const DefaultTTL = 18000 * time.Second

// Config holds the listing cache configuration.
type Config struct {
	// Namespace prefixes store keys (e.g. "listing" -> "listing:826425463")
	Namespace string

	// TTL is the expiration set on every Put
	TTL time.Duration
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Namespace: DefaultNamespace,
		TTL:       DefaultTTL,
	}
}

// Manager is the listing lookup cache.
type Manager struct {
	store  kv.Store
	config Config
	logger zerolog.Logger
}

// NewManager creates a listing cache on top of store.
func NewManager(store kv.Store, cfg Config, logger zerolog.Logger) *Manager {
	if store == nil {
		panic("kv store cannot be nil")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Manager{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// TTL returns the expiration applied by Put.
func (m *Manager) TTL() time.Duration {
	return m.config.TTL
}

// Get returns the cached record for id.
// The second return value is false on a miss. Store errors and entries
// that cannot be decoded are reported as misses.
func (m *Manager) Get(ctx context.Context, id listing.ID) (listing.Record, bool) {
	key := Key(m.config.Namespace, id)

	raw, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			CacheErrors.WithLabelValues("get").Inc()
			m.logger.Warn().Err(err).Str("key", key).Msg("Listing cache get failed, treating as miss")
		}
		CacheMisses.Inc()
		return listing.Record{}, false
	}

	record, err := listing.Unmarshal(raw)
	if err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		CacheMisses.Inc()
		m.logger.Warn().Err(err).Str("key", key).Msg("Malformed listing cache entry, treating as miss")
		return listing.Record{}, false
	}

	if record.Found {
		CacheHits.WithLabelValues("found").Inc()
	} else {
		CacheHits.WithLabelValues("not_found").Inc()
	}
	m.logger.Debug().Str("key", key).Bool("found", record.Found).Msg("Listing cache hit")

	return record, true
}

// Put stores record for id, overwriting any existing entry, with the
// configured TTL.
func (m *Manager) Put(ctx context.Context, id listing.ID, record listing.Record) error {
	key := Key(m.config.Namespace, id)

	raw, err := record.Marshal()
	if err != nil {
		CacheErrors.WithLabelValues("encode").Inc()
		return err
	}

	if err := m.store.Put(ctx, key, raw, m.config.TTL); err != nil {
		CacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("store listing %s: %w", id, err)
	}

	m.logger.Debug().
		Str("key", key).
		Bool("found", record.Found).
		Dur("ttl", m.config.TTL).
		Msg("Cached listing record")

	return nil
}
