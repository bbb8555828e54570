// Package ratelimit gates outgoing content API requests. A local token bucket
// bounds the request rate, and the server-reported request budget
// (X-RateLimit-Remaining / X-RateLimit-Reset) throttles or pauses requests
// before the account gets locked out. The budget state can be shared between
// processes through Redis.
package ratelimit

import (
	"time"
)

// Redis keys for budget state storage.
const (
	RedisKeyRemaining      = "content:rate_limit:remaining"
	RedisKeyResetTimestamp = "content:rate_limit:reset_timestamp"
	RedisKeyLastUpdate     = "content:rate_limit:last_update"
)

// Response headers carrying the server budget.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds for budget decisions.
const (
	// BudgetThresholdCritical pauses all requests until the window resets.
	BudgetThresholdCritical = 5

	// BudgetThresholdWarning applies a fixed delay before each request.
	BudgetThresholdWarning = 20

	// BudgetThresholdHealthy indicates normal operation.
	BudgetThresholdHealthy = 50
)

// RateLimitState represents the current server request budget.
type RateLimitState struct {
	// Remaining is the number of requests left in the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the window resets.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this state was last refreshed from response headers.
	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= BudgetThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// defaultState is assumed until the first response reports a budget.
func defaultState() *RateLimitState {
	now := time.Now()
	return &RateLimitState{
		Remaining:  100,
		ResetAt:    now.Add(60 * time.Second),
		LastUpdate: now,
		IsHealthy:  true,
	}
}

// IsStale returns true if the state data is older than the given duration.
func (s *RateLimitState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// NeedsPause returns true if requests must wait for the window to reset.
func (s *RateLimitState) NeedsPause() bool {
	return s.Remaining < BudgetThresholdCritical && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.Remaining < BudgetThresholdWarning && s.Remaining >= BudgetThresholdCritical
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current Remaining.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= BudgetThresholdHealthy
}
