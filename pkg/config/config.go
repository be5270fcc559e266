// Package config loads the proxy configuration from the environment.
// A .env file in the working directory, or the path given to Load, is
// read first; variables already set in the environment take precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/listing-price-proxy/pkg/rewrite"
	"github.com/joho/godotenv"
)

// DefaultSelector picks the Etsy links the proxy annotates.
const DefaultSelector = `a[class^="etsy"]`

// Cache backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config holds all proxy settings.
type Config struct {
	Port string

	// OriginURL is the site whose pages are proxied (REQUIRED).
	OriginURL *url.URL

	// CacheBackend selects where listing and edge caches live.
	CacheBackend string
	// RedisURL is a redis:// URL or a host:port address.
	RedisURL string

	EtsyAPIKey string
	EtsyAPIURL string

	ListingTTL       time.Duration
	ListingCacheSize int
	EdgeCacheTTL     time.Duration
	EdgeCacheSize    int

	LogLevel  string
	LogPretty bool

	// Selector picks the links to annotate, in the form tag[attr^="prefix"].
	Selector             rewrite.Selector
	MaxConcurrentLookups int

	ShutdownTimeout time.Duration
}

// Load reads the configuration. A missing .env file is not an error.
func Load(envPath ...string) (*Config, error) {
	if err := godotenv.Load(envPath...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	var errs []error
	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		CacheBackend:         strings.ToLower(getEnv("CACHE_BACKEND", BackendRedis)),
		RedisURL:             getEnv("REDIS_URL", "localhost:6379"),
		EtsyAPIKey:           os.Getenv("ETSY_API_KEY"),
		EtsyAPIURL:           getEnv("ETSY_API_URL", "https://openapi.etsy.com/v2"),
		ListingTTL:           getEnvAsDuration("LISTING_TTL", 18000*time.Second, &errs),
		ListingCacheSize:     getEnvAsInt("LISTING_CACHE_SIZE", 100000, &errs),
		EdgeCacheTTL:         getEnvAsDuration("EDGE_CACHE_TTL", 5*time.Minute, &errs),
		EdgeCacheSize:        getEnvAsInt("EDGE_CACHE_SIZE", 1024, &errs),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogPretty:            getEnvAsBool("LOG_PRETTY", false, &errs),
		MaxConcurrentLookups: getEnvAsInt("MAX_CONCURRENT_LOOKUPS", 8, &errs),
		ShutdownTimeout:      getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second, &errs),
	}

	origin := os.Getenv("ORIGIN_URL")
	if origin == "" {
		errs = append(errs, fmt.Errorf("ORIGIN_URL is required"))
	} else if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("ORIGIN_URL must be an absolute URL, got %q", origin))
	} else {
		cfg.OriginURL = u
	}

	if cfg.EtsyAPIKey == "" {
		errs = append(errs, fmt.Errorf("ETSY_API_KEY is required"))
	}
	if cfg.CacheBackend != BackendRedis && cfg.CacheBackend != BackendMemory {
		errs = append(errs, fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", BackendRedis, BackendMemory, cfg.CacheBackend))
	}
	if cfg.ListingTTL <= 0 {
		errs = append(errs, fmt.Errorf("LISTING_TTL must be positive"))
	}
	if cfg.EdgeCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("EDGE_CACHE_TTL must be positive"))
	}
	if cfg.ListingCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("LISTING_CACHE_SIZE must be positive"))
	}
	if cfg.EdgeCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("EDGE_CACHE_SIZE must be positive"))
	}
	if cfg.MaxConcurrentLookups <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_LOOKUPS must be positive"))
	}
	if sel, err := rewrite.ParseSelector(getEnv("SELECTOR", DefaultSelector)); err != nil {
		errs = append(errs, fmt.Errorf("SELECTOR: %w", err))
	} else {
		cfg.Selector = sel
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int, errs *[]error) int {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return fallback
	}
	return n
}

func getEnvAsBool(key string, fallback bool, errs *[]error) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a boolean", key, value))
		return fallback
	}
	return b
}

// getEnvAsDuration accepts Go durations ("5h") or plain seconds ("18000").
func getEnvAsDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", key, value))
		return fallback
	}
	return d
}
