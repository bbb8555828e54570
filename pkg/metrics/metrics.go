// Package metrics provides the Prometheus registry and HTTP exposition for the
// content API client. Metrics are defined in their respective packages
// (client, ratelimit, cache, pagination, auth, account) to keep those packages
// self-contained and avoid import cycles.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registerer used by all packages.
// All metrics are registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler exposing all registered metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - content_api_requests_total{endpoint, status} (Counter)
//   - content_api_request_duration_seconds{endpoint} (Histogram)
//   - content_api_errors_total{class} (Counter)
//   - content_api_retries_total{error_class} (Counter)
//   - content_api_retry_backoff_seconds{error_class} (Histogram)
//   - content_api_retry_exhausted_total{error_class} (Counter)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - content_api_budget_remaining (Gauge)
//   - content_api_rate_limit_waits_total (Counter)
//   - content_api_rate_limit_throttles_total (Counter)
//
// Pagination Metrics (pkg/pagination):
//   - content_api_pages_fetched_total{outcome} (Counter)
//   - content_api_lookahead_batches_total (Counter)
//   - content_api_accumulator_reconnects_total (Counter)
//
// Auth Metrics (pkg/auth):
//   - content_api_login_attempts_total{outcome} (Counter)
//   - content_api_2fa_submissions_total{outcome} (Counter)
//
// Account Metrics (pkg/account):
//   - content_api_enrichment_dropped_total (Counter)
//   - content_api_collection_size{resource} (Gauge)
//
// Cache Metrics (pkg/cache):
//   - content_api_cache_hits_total{backend} (Counter)
//   - content_api_cache_misses_total (Counter)
//   - content_api_cache_size_bytes{backend} (Gauge)
//   - content_api_cache_errors_total{operation} (Counter)
//
// Example Prometheus Queries:
//
//   # Lookahead waste: pages fetched per batch
//   rate(content_api_pages_fetched_total[5m]) / rate(content_api_lookahead_batches_total[5m])
//
//   # Login failure ratio
//   sum(rate(content_api_login_attempts_total{outcome="failed"}[1h]))
//     / sum(rate(content_api_login_attempts_total[1h]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(content_api_request_duration_seconds_bucket[5m]))
