// Package client provides the HTTP transport for the content platform API
// with budget-aware rate limiting, retries, and error classification.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/creator-api-client/pkg/ratelimit"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "content_api_requests_total",
		Help: "Total content API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "content_api_request_duration_seconds",
		Help:    "Content API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "content_api_errors_total",
		Help: "Total content API transport errors by class",
	}, []string{"class"})
)

// Requester performs requests against the API. A not-found answer is an
// empty Response, an API error payload is carried in Response.Err, and only
// transport failures are returned as error.
type Requester interface {
	Request(ctx context.Context, link, method string, payload any) (Response, error)
	RequestMany(ctx context.Context, links []string) ([]Response, error)
}

// HeaderProvider supplies the headers and cookies for a request. The
// authenticated session implements it.
type HeaderProvider interface {
	RequestHeaders(link string) (http.Header, []*http.Cookie)
}

// Client is the content API client.
type Client struct {
	http        *resty.Client
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger

	mu      sync.RWMutex
	headers HeaderProvider
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is prepended to relative links.
	BaseURL string

	// Timeout applies to a single HTTP attempt.
	Timeout time.Duration

	// Redis shares the request budget between processes. Optional.
	Redis *redis.Client

	// RateLimit configures the local token bucket and budget handling.
	RateLimit ratelimit.Config

	// MaxConcurrency bounds in-flight requests of RequestMany.
	MaxConcurrency int

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// HTTPClient replaces the underlying transport (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		Timeout:        30 * time.Second,
		RateLimit:      ratelimit.DefaultConfig(),
		MaxConcurrency: 8,
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.MaxConcurrency < 1 {
		return nil, fmt.Errorf("max_concurrency must be >= 1 (got %d)", cfg.MaxConcurrency)
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("max_retries must be >= 1 (got %d)", cfg.MaxRetries)
	}

	logger := log.With().Str("component", "content-client").Logger()

	var rc *resty.Client
	if cfg.HTTPClient != nil {
		rc = resty.NewWithClient(cfg.HTTPClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	rc.SetHeader("Accept", "application/json, text/plain, */*")

	return &Client{
		http:        rc,
		rateLimiter: ratelimit.NewTracker(cfg.Redis, cfg.RateLimit, logger),
		config:      cfg,
		logger:      logger,
	}, nil
}

// SetHeaderProvider installs the source of session headers.
func (c *Client) SetHeaderProvider(p HeaderProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers = p
}

// Request performs a single request with rate limiting and retries.
// An empty method means GET; a non-nil payload is sent as JSON.
func (c *Client) Request(ctx context.Context, link, method string, payload any) (Response, error) {
	if method == "" {
		method = http.MethodGet
	}
	endpoint := endpointLabel(link)

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", method).
		Msg("Executing request")

	var out Response
	err := retryWithBackoff(ctx, c.retryConfig, func() (ErrorClass, error) {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}

		req := c.http.R().SetContext(ctx)
		headers, cookies := c.requestHeaders(link)
		for key, values := range headers {
			req.SetHeaderMultiValues(map[string][]string{key: values})
		}
		if len(cookies) > 0 {
			req.SetCookies(cookies)
		}
		if payload != nil {
			req.SetHeader("Content-Type", "application/json").SetBody(payload)
		}

		resp, err := req.Execute(method, link)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			errClass := c.classifyError(0, err)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
			return errClass, &APIError{ErrorClass: errClass, Message: "request failed", Err: err}
		}

		if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.Header()); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update request budget from headers")
		}

		status := resp.StatusCode()
		requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()

		if status >= http.StatusBadRequest {
			errClass := c.classifyError(status, nil)
			errorsTotal.WithLabelValues(string(errClass)).Inc()
			if shouldRetry(errClass) {
				c.logger.Warn().
					Str("endpoint", endpoint).
					Int("status", status).
					Str("error_class", string(errClass)).
					Msg("Request error")
				return errClass, &APIError{StatusCode: status, ErrorClass: errClass, Message: resp.Status()}
			}
		}

		out = decodeResponse(status, resp.Body())
		return "", nil
	})
	if err != nil {
		return Response{}, err
	}

	return out, nil
}

// RequestMany issues GET requests for links concurrently, bounded by
// MaxConcurrency. The result has one entry per link in input order. A
// transport failure of one link is reported in its entry as an error payload
// with code 0; only cancellation aborts the whole call.
func (c *Client) RequestMany(ctx context.Context, links []string) ([]Response, error) {
	results := make([]Response, len(links))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrency)

	for i, link := range links {
		g.Go(func() error {
			resp, err := c.Request(gctx, link, http.MethodGet, nil)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				resp = Response{Err: &ErrorPayload{Code: 0, Message: err.Error()}}
			}
			results[i] = resp
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// retryConfig scales the per-class defaults with the client configuration.
func (c *Client) retryConfig(errClass ErrorClass) RetryConfig {
	cfg := RetryConfigForErrorClass(errClass)
	cfg.MaxAttempts = c.config.MaxRetries
	if c.config.InitialBackoff > 0 && errClass != ErrorClassRateLimit {
		cfg.InitialBackoff = c.config.InitialBackoff
	}
	if c.config.MaxBackoff > 0 {
		cfg.MaxBackoff = c.config.MaxBackoff
	}
	if cfg.InitialBackoff > cfg.MaxBackoff {
		cfg.InitialBackoff = cfg.MaxBackoff
	}
	return cfg
}

func (c *Client) requestHeaders(link string) (http.Header, []*http.Cookie) {
	c.mu.RLock()
	p := c.headers
	c.mu.RUnlock()
	if p == nil {
		return nil, nil
	}
	return p.RequestHeaders(link)
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(status int, err error) ErrorClass {
	if err != nil {
		var netErr interface{ Timeout() bool }
		c.logger.Debug().
			Str("class", string(ErrorClassNetwork)).
			Bool("timeout", errors.As(err, &netErr) && netErr.Timeout()).
			Msg("Error classified")
		return ErrorClassNetwork
	}

	switch {
	case status == http.StatusTooManyRequests:
		c.logger.Debug().Str("class", string(ErrorClassRateLimit)).Msg("Error classified")
		return ErrorClassRateLimit
	case status >= 400 && status < 500:
		c.logger.Debug().Str("class", string(ErrorClassClient)).Msg("Error classified")
		return ErrorClassClient
	case status >= 500:
		c.logger.Debug().Str("class", string(ErrorClassServer)).Msg("Error classified")
		return ErrorClassServer
	default:
		return ""
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

// RateLimiter returns the budget tracker (for testing).
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// endpointLabel reduces a link to a low-cardinality metric label: the path
// without query, with numeric segments replaced by ":id".
func endpointLabel(link string) string {
	path := link
	if u, err := url.Parse(link); err == nil {
		path = u.Path
	}
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if s == "" {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}
