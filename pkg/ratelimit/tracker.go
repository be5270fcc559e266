package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	etsyQuotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "etsy_quota_remaining",
		Help: "Number of Etsy API calls remaining in the current quota window",
	})

	etsyQuotaBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etsy_quota_blocks_total",
		Help: "Total number of Etsy API calls blocked due to critical quota",
	})

	etsyQuotaThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "etsy_quota_throttles_total",
		Help: "Total number of Etsy API calls throttled due to low quota",
	})
)

// DefaultThrottleDelay is the pause applied to calls in the warning band.
const DefaultThrottleDelay = 250 * time.Millisecond

// Tracker monitors the Etsy API quota and gates requests.
type Tracker struct {
	redis         *redis.Client
	logger        zerolog.Logger
	throttleDelay time.Duration
}

// NewTracker creates a new quota tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		throttleDelay: DefaultThrottleDelay,
	}
}

// SetThrottleDelay changes the warning-band pause (for testing).
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.throttleDelay = d
}

// GetState retrieves the current quota state from Redis.
// Returns a default healthy state if no data exists in Redis.
func (t *Tracker) GetState(ctx context.Context) (*QuotaState, error) {
	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if err == redis.Nil {
		t.logger.Debug().Msg("No quota state in Redis, returning default healthy state")
		return defaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota remaining: %w", err)
	}

	limit, err := t.redis.Get(ctx, RedisKeyLimit).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get quota limit: %w", err)
	}

	lastUpdate, err := t.redis.Get(ctx, RedisKeyLastUpdate).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get quota last update: %w", err)
	}

	state := &QuotaState{
		Remaining:  remaining,
		Limit:      limit,
		LastUpdate: time.Unix(lastUpdate, 0),
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses Etsy quota headers and updates Redis state.
// Responses without quota headers are ignored.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get("X-RateLimit-Remaining")
	if remainStr == "" {
		return nil
	}

	remaining, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse X-RateLimit-Remaining header: %w", err)
	}

	limit := 0
	if limitStr := headers.Get("X-RateLimit-Limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return fmt.Errorf("parse X-RateLimit-Limit header: %w", err)
		}
	}

	state := &QuotaState{
		Remaining:  remaining,
		Limit:      limit,
		LastUpdate: time.Now(),
	}
	state.UpdateHealth()

	// Keys expire with the window so stale state falls back to the default.
	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, remaining, QuotaWindow)
	pipe.Set(ctx, RedisKeyLimit, limit, QuotaWindow)
	pipe.Set(ctx, RedisKeyLastUpdate, state.LastUpdate.Unix(), QuotaWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store quota state in redis: %w", err)
	}

	etsyQuotaRemaining.Set(float64(remaining))

	switch {
	case state.NeedsCriticalBlock():
		t.logger.Error().Int("remaining", remaining).Msg("Etsy quota CRITICAL - API calls will be blocked")
	case state.NeedsThrottling():
		t.logger.Warn().Int("remaining", remaining).Msg("Etsy quota WARNING - API calls will be throttled")
	default:
		t.logger.Debug().Int("remaining", remaining).Int("limit", limit).Msg("Etsy quota state updated")
	}

	return nil
}

// ShouldAllowRequest checks whether an API call may be made.
// Returns false in the critical band. In the warning band it waits
// throttleDelay (or until ctx is done) before allowing the call.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get quota state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Etsy quota critical - blocking request")
		etsyQuotaBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Debug().Int("remaining", state.Remaining).Msg("Etsy quota low - throttling request")
		etsyQuotaThrottlesTotal.Inc()

		timer := time.NewTimer(t.throttleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}
