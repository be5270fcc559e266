// Package ratelimit tracks the remaining Etsy API quota and gates requests.
// It monitors the X-RateLimit-Remaining and X-RateLimit-Limit headers so the
// proxy stops calling the API before the key's quota is exhausted.
package ratelimit

import (
	"time"
)

// Redis keys for quota state storage.
const (
	RedisKeyRemaining  = "etsy:quota:remaining"
	RedisKeyLimit      = "etsy:quota:limit"
	RedisKeyLastUpdate = "etsy:quota:last_update"
)

// QuotaWindow is the length of the Etsy quota window.
const QuotaWindow = 24 * time.Hour

// Thresholds for quota decisions.
const (
	// QuotaThresholdCritical blocks all requests when remaining calls fall below this value.
	QuotaThresholdCritical = 50

	// QuotaThresholdWarning applies throttling when remaining calls fall below this value.
	QuotaThresholdWarning = 500

	// QuotaThresholdHealthy indicates normal operation.
	QuotaThresholdHealthy = 1000
)

// QuotaState represents the current Etsy API quota state.
// This state is shared across all proxy instances via Redis.
type QuotaState struct {
	// Remaining is the number of calls left in the current window.
	// Extracted from the X-RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// Limit is the window's total allowance (X-RateLimit-Limit).
	Limit int `json:"limit"`

	// LastUpdate is when this state was last updated.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= QuotaThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *QuotaState) NeedsCriticalBlock() bool {
	return s.Remaining < QuotaThresholdCritical
}

// NeedsThrottling returns true if requests should be throttled.
func (s *QuotaState) NeedsThrottling() bool {
	return s.Remaining < QuotaThresholdWarning && !s.NeedsCriticalBlock()
}

// ResetAt returns when the window observed at LastUpdate ends at the latest.
func (s *QuotaState) ResetAt() time.Time {
	return s.LastUpdate.Add(QuotaWindow)
}

// TimeUntilReset returns the duration until the quota window resets.
// Returns 0 if the reset time has already passed.
func (s *QuotaState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt())
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *QuotaState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= QuotaThresholdHealthy
}

// defaultState is assumed until the API reports real numbers.
func defaultState() *QuotaState {
	return &QuotaState{
		Remaining:  10000,
		Limit:      10000,
		LastUpdate: time.Now(),
		IsHealthy:  true,
	}
}
