package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Sternrassler/listing-price-proxy/pkg/annotate"
	"github.com/Sternrassler/listing-price-proxy/pkg/cache"
	"github.com/Sternrassler/listing-price-proxy/pkg/config"
	"github.com/Sternrassler/listing-price-proxy/pkg/edgecache"
	"github.com/Sternrassler/listing-price-proxy/pkg/etsy"
	"github.com/Sternrassler/listing-price-proxy/pkg/gateway"
	"github.com/Sternrassler/listing-price-proxy/pkg/kv"
	"github.com/Sternrassler/listing-price-proxy/pkg/logging"
	"github.com/Sternrassler/listing-price-proxy/pkg/lookup"
	"github.com/Sternrassler/listing-price-proxy/pkg/metrics"
	"github.com/Sternrassler/listing-price-proxy/pkg/ratelimit"
	"github.com/Sternrassler/listing-price-proxy/pkg/rewrite"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.LogLevel(cfg.LogLevel)
	logCfg.Pretty = cfg.LogPretty
	logging.Setup(logCfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("Listing proxy failed")
	}
}

// run serves until ctx is cancelled, then drains requests and pending
// edge cache writes.
func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger("server")

	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("origin", cfg.OriginURL.String()).
			Str("backend", cfg.CacheBackend).
			Msg("Starting listing proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if err := app.gateway.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Edge cache writes still pending at shutdown")
	}
	logger.Info().Msg("Stopped")
	return nil
}

// app is the wired proxy.
type app struct {
	redis   *redis.Client // nil with the memory backend
	gateway *gateway.Gateway
	logger  zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	var (
		redisClient *redis.Client
		listingKV   kv.Store
		edge        edgecache.Store
		quota       etsy.QuotaTracker
	)

	switch cfg.CacheBackend {
	case config.BackendRedis:
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		listingKV = kv.NewRedisStore(redisClient)
		edge = edgecache.NewRedisStore(redisClient)
		quota = ratelimit.NewTracker(redisClient, logging.NewLogger("ratelimit"))
	default:
		listingKV = kv.NewMemoryStore(cfg.ListingCacheSize)
		edge = edgecache.NewMemoryStore(cfg.EdgeCacheSize, cfg.EdgeCacheTTL)
	}

	etsyCfg := etsy.DefaultConfig(cfg.EtsyAPIKey)
	etsyCfg.BaseURL = cfg.EtsyAPIURL
	if quota != nil {
		etsyCfg.Quota = quota
	}
	etsyClient, err := etsy.New(etsyCfg, logging.NewLogger("etsy"))
	if err != nil {
		return nil, fmt.Errorf("create etsy client: %w", err)
	}

	listings := cache.NewManager(listingKV, cache.Config{
		Namespace: cache.DefaultNamespace,
		TTL:       cfg.ListingTTL,
	}, logging.NewLogger("cache"))
	service := lookup.NewService(listings, etsyClient, logging.NewLogger("lookup"))
	annotator := annotate.New(service, annotate.DefaultLabels(), logging.NewLogger("annotate"))

	rw := rewrite.New(
		cfg.Selector,
		rewrite.HandlerFunc(func(ctx context.Context, el *rewrite.Element) {
			annotator.Annotate(ctx, el)
		}),
		rewrite.Config{MaxConcurrent: cfg.MaxConcurrentLookups},
		logging.NewLogger("rewrite"),
	)

	gwCfg := gateway.DefaultConfig(cfg.OriginURL)
	gwCfg.CacheTTL = cfg.EdgeCacheTTL
	gw, err := gateway.New(gwCfg, edge, rw, logging.NewLogger("gateway"))
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	return &app{
		redis:   redisClient,
		gateway: gw,
		logger:  logging.NewLogger("http"),
	}, nil
}

// Router mounts the operational endpoints and hands everything else to
// the gateway.
func (a *app) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, logging.Middleware(a.logger), middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(a.redis))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.NotFound(a.gateway.ServeHTTP)
	r.MethodNotAllowed(a.gateway.ServeHTTP)

	return r
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyHandler reports ready once Redis answers; without Redis the proxy
// is always ready.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Readiness check failed")
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	}
}

// redisOptions accepts redis:// URLs and bare host:port addresses.
func redisOptions(s string) (*redis.Options, error) {
	if strings.Contains(s, "://") {
		opts, err := redis.ParseURL(s)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: s}, nil
}
