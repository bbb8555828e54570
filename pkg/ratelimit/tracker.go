package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for budget tracking.
var (
	budgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "content_api_budget_remaining",
		Help: "Requests remaining in the current server rate limit window",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_api_rate_limit_waits_total",
		Help: "Total number of requests paused until the rate limit window reset",
	})

	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "content_api_rate_limit_throttles_total",
		Help: "Total number of requests delayed due to a low request budget",
	})
)

// ErrBudgetExhausted is returned when the window reset is further away than
// the configured maximum wait.
var ErrBudgetExhausted = errors.New("request budget exhausted")

// Config holds the tracker configuration.
type Config struct {
	// RequestsPerSecond is the local token bucket rate. Zero disables it.
	RequestsPerSecond float64

	// Burst is the token bucket burst size.
	Burst int

	// ThrottleDelay is applied before each request while the budget is low.
	ThrottleDelay time.Duration

	// MaxPause caps how long a request waits for the window to reset.
	MaxPause time.Duration

	// MaxStateAge discards a recorded budget older than this, for example one
	// left in Redis by a process that stopped long ago. Zero keeps it forever.
	MaxStateAge time.Duration
}

// DefaultConfig returns a conservative configuration.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Burst:             10,
		ThrottleDelay:     1 * time.Second,
		MaxPause:          2 * time.Minute,
		MaxStateAge:       10 * time.Minute,
	}
}

// Tracker gates requests using a local token bucket and the server budget.
// When redisClient is nil the budget state lives in memory.
type Tracker struct {
	redis   *redis.Client
	limiter *rate.Limiter
	config  Config
	logger  zerolog.Logger

	mu    sync.RWMutex
	local *RateLimitState
}

// NewTracker creates a new tracker.
func NewTracker(redisClient *redis.Client, cfg Config, logger zerolog.Logger) *Tracker {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Tracker{
		redis:   redisClient,
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}
}

// GetState retrieves the current budget state.
// Returns a default healthy state if nothing has been recorded yet or the
// recorded state is older than MaxStateAge.
func (t *Tracker) GetState(ctx context.Context) (*RateLimitState, error) {
	state, err := t.loadState(ctx)
	if err != nil {
		return nil, err
	}
	if t.config.MaxStateAge > 0 && state.IsStale(t.config.MaxStateAge) {
		t.logger.Debug().
			Time("last_update", state.LastUpdate).
			Msg("Budget state is stale, returning default healthy state")
		return defaultState(), nil
	}
	return state, nil
}

func (t *Tracker) loadState(ctx context.Context) (*RateLimitState, error) {
	if t.redis == nil {
		t.mu.RLock()
		defer t.mu.RUnlock()
		if t.local == nil {
			return defaultState(), nil
		}
		state := *t.local
		return &state, nil
	}

	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if errors.Is(err, redis.Nil) {
		t.logger.Debug().Msg("No budget state in Redis, returning default healthy state")
		return defaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get remaining: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	lastUpdateStr, err := t.redis.Get(ctx, RedisKeyLastUpdate).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	var lastUpdate time.Time
	if lastUpdateStr != "" {
		if err := json.Unmarshal([]byte(lastUpdateStr), &lastUpdate); err != nil {
			return nil, fmt.Errorf("parse last update: %w", err)
		}
	}

	state := &RateLimitState{
		Remaining:  remaining,
		ResetAt:    time.Unix(resetTimestamp, 0),
		LastUpdate: lastUpdate,
	}
	state.UpdateHealth()

	return state, nil
}

// UpdateFromHeaders parses the budget headers of a response and stores the state.
// Responses without budget headers leave the state untouched.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}

	resetStr := headers.Get(HeaderReset)
	if resetStr == "" {
		return fmt.Errorf("%s header missing", HeaderReset)
	}

	resetSeconds, err := strconv.Atoi(resetStr)
	if err != nil {
		return fmt.Errorf("parse %s header: %w", HeaderReset, err)
	}

	now := time.Now()
	state := &RateLimitState{
		Remaining:  remain,
		ResetAt:    now.Add(time.Duration(resetSeconds) * time.Second),
		LastUpdate: now,
	}
	state.UpdateHealth()

	if err := t.store(ctx, state); err != nil {
		return err
	}

	budgetRemaining.Set(float64(remain))

	switch {
	case state.NeedsPause():
		t.logger.Error().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Request budget CRITICAL - requests will pause until reset")
	case state.NeedsThrottling():
		t.logger.Warn().
			Int("remaining", remain).
			Time("reset_at", state.ResetAt).
			Msg("Request budget WARNING - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", remain).
			Bool("is_healthy", state.IsHealthy).
			Msg("Request budget updated")
	}

	return nil
}

func (t *Tracker) store(ctx context.Context, state *RateLimitState) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local = state
		t.mu.Unlock()
		return nil
	}

	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store budget state in redis: %w", err)
	}
	return nil
}

// Wait blocks until a request may be sent.
// It honours the token bucket, pauses while the budget is critical and delays
// while it is low. Returns the context error if ctx ends first.
func (t *Tracker) Wait(ctx context.Context) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("token bucket wait: %w", err)
		}
	}

	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get budget state: %w", err)
	}

	var delay time.Duration
	switch {
	case state.NeedsPause():
		delay = state.TimeUntilReset()
		if t.config.MaxPause > 0 && delay > t.config.MaxPause {
			t.logger.Error().
				Int("remaining", state.Remaining).
				Dur("reset_in", delay).
				Msg("Request budget exhausted beyond max pause")
			return fmt.Errorf("%w: reset in %s", ErrBudgetExhausted, delay)
		}
		rateLimitWaitsTotal.Inc()
		t.logger.Warn().
			Int("remaining", state.Remaining).
			Dur("wait_duration", delay).
			Msg("Request budget critical - pausing until reset")
	case state.NeedsThrottling():
		delay = t.config.ThrottleDelay
		rateLimitThrottlesTotal.Inc()
		t.logger.Debug().
			Int("remaining", state.Remaining).
			Dur("delay", delay).
			Msg("Request budget low - throttling request")
	}

	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
