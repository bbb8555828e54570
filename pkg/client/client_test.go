package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/creator-api-client/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// testConfig returns a config with fast retries, a short max pause and no
// local token bucket.
func testConfig(baseURL string) Config {
	cfg := DefaultConfig(baseURL)
	cfg.RateLimit = ratelimit.Config{MaxPause: 50 * time.Millisecond}
	cfg.InitialBackoff = 5 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client, server
}

type staticHeaders struct {
	header  http.Header
	cookies []*http.Cookie
}

func (s staticHeaders) RequestHeaders(string) (http.Header, []*http.Cookie) {
	return s.header, s.cookies
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("https://api.example.com"),
			expectError: false,
		},
		{
			name:        "empty base url",
			config:      DefaultConfig(""),
			expectError: true,
			errorMsg:    "base url is required",
		},
		{
			name: "zero concurrency",
			config: Config{
				BaseURL:    "https://api.example.com",
				MaxRetries: 3,
			},
			expectError: true,
			errorMsg:    "max_concurrency must be >= 1 (got 0)",
		},
		{
			name: "zero retries",
			config: Config{
				BaseURL:        "https://api.example.com",
				MaxConcurrency: 2,
			},
			expectError: true,
			errorMsg:    "max_retries must be >= 1 (got 0)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				if client == nil {
					t.Error("Client is nil")
				}
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("https://api.example.com")

	if cfg.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.MaxConcurrency < 1 {
		t.Errorf("MaxConcurrency = %d, should be >= 1", cfg.MaxConcurrency)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, should be > 0", cfg.RateLimit.RequestsPerSecond)
	}
}

func TestClassifyError(t *testing.T) {
	client := &Client{logger: zerolog.Nop()}

	tests := []struct {
		name       string
		statusCode int
		err        error
		expected   ErrorClass
	}{
		{"network error", 0, io.EOF, ErrorClassNetwork},
		{"client error 404", 404, nil, ErrorClassClient},
		{"client error 403", 403, nil, ErrorClassClient},
		{"server error 500", 500, nil, ErrorClassServer},
		{"server error 503", 503, nil, ErrorClassServer},
		{"rate limit 429", 429, nil, ErrorClassRateLimit},
		{"success 200", 200, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := client.classifyError(tt.statusCode, tt.err)
			if result != tt.expected {
				t.Errorf("classifyError() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestEndpointLabel(t *testing.T) {
	tests := []struct {
		link string
		want string
	}{
		{"/api2/v2/users/me", "/api2/v2/users/me"},
		{"/api2/v2/users/12345", "/api2/v2/users/:id"},
		{"/api2/v2/chats?limit=10&offset=20", "/api2/v2/chats"},
		{"https://api.example.com/api2/v2/lists/7/users?offset=0", "/api2/v2/lists/:id/users"},
	}

	for _, tt := range tests {
		t.Run(tt.link, func(t *testing.T) {
			if got := endpointLabel(tt.link); got != tt.want {
				t.Errorf("endpointLabel(%q) = %q, want %q", tt.link, got, tt.want)
			}
		})
	}
}

func TestRequest_Success(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api2/v2/users/me" {
			t.Errorf("Path = %q, want /api2/v2/users/me", r.URL.Path)
		}
		w.Header().Set(ratelimit.HeaderRemaining, "80")
		w.Header().Set(ratelimit.HeaderReset, "60")
		w.Write([]byte(`{"id": 42, "username": "alice"}`))
	}))

	resp, err := client.Request(context.Background(), "/api2/v2/users/me", "", nil)
	if err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if resp.Err != nil || resp.NotFound() {
		t.Fatalf("Response = %+v, want a body", resp)
	}

	var user struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	}
	if err := resp.Decode(&user); err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if user.ID != 42 || user.Username != "alice" {
		t.Errorf("user = %+v", user)
	}

	state, err := client.RateLimiter().GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() failed: %v", err)
	}
	if state.Remaining != 80 {
		t.Errorf("budget Remaining = %d, want 80", state.Remaining)
	}
}

func TestRequest_HeadersAndCookies(t *testing.T) {
	var gotUA, gotCookie string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if c, err := r.Cookie("sess"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte(`{}`))
	}))

	header := http.Header{}
	header.Set("User-Agent", "Mozilla/5.0 test")
	client.SetHeaderProvider(staticHeaders{
		header:  header,
		cookies: []*http.Cookie{{Name: "sess", Value: "token-1"}},
	})

	if _, err := client.Request(context.Background(), "/x", http.MethodGet, nil); err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if gotUA != "Mozilla/5.0 test" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotCookie != "token-1" {
		t.Errorf("sess cookie = %q, want token-1", gotCookie)
	}
}

func TestRequest_PostPayload(t *testing.T) {
	var body string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Write([]byte(`{"success": true}`))
	}))

	payload := map[string]any{"code": "123456", "rememberMe": true}
	if _, err := client.Request(context.Background(), "/otp", http.MethodPost, payload); err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if !strings.Contains(body, `"code":"123456"`) || !strings.Contains(body, `"rememberMe":true`) {
		t.Errorf("body = %s", body)
	}
}

func TestRequest_ErrorPayload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"code": 101, "message": "Need 2FA"}}`))
	}))

	resp, err := client.Request(context.Background(), "/api2/v2/users/me", "", nil)
	if err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if resp.Err == nil || resp.Err.Code != 101 {
		t.Fatalf("Err = %+v, want code 101", resp.Err)
	}
}

func TestRequest_NotFound(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	resp, err := client.Request(context.Background(), "/missing", "", nil)
	if err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if !resp.NotFound() {
		t.Errorf("NotFound() = false, response = %+v", resp)
	}
}

func TestRequest_RetryOnServerError(t *testing.T) {
	var attemptCount atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attemptCount.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"success": true}`))
	}))

	resp, err := client.Request(context.Background(), "/test", "", nil)
	if err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 after retry, got %d", resp.StatusCode)
	}
	if got := attemptCount.Load(); got != 3 {
		t.Errorf("Expected 3 attempts (2 retries), got %d", got)
	}
}

func TestRequest_NoRetryOnClientError(t *testing.T) {
	var attemptCount atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	resp, err := client.Request(context.Background(), "/test", "", nil)
	if err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if resp.Err == nil || resp.Err.Code != http.StatusForbidden {
		t.Errorf("Err = %+v, want 403 payload", resp.Err)
	}
	if got := attemptCount.Load(); got != 1 {
		t.Errorf("Expected 1 attempt (no retry for 4xx), got %d", got)
	}
}

func TestRequest_RetryOnRateLimit(t *testing.T) {
	var attemptCount atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attemptCount.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	}))

	resp, err := client.Request(context.Background(), "/test", "", nil)
	if err != nil {
		t.Fatalf("Request() failed: %v", err)
	}
	if string(resp.Body) != "[]" {
		t.Errorf("Body = %s, want []", resp.Body)
	}
	if got := attemptCount.Load(); got != 2 {
		t.Errorf("Expected 2 attempts (1 retry), got %d", got)
	}
}

func TestRequest_RetryExhausted(t *testing.T) {
	var attemptCount atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.Request(context.Background(), "/test", "", nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.ErrorClass != ErrorClassServer {
		t.Errorf("Expected wrapped server APIError, got %v", err)
	}
	if got := attemptCount.Load(); got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestRequest_BudgetExhaustedBlocks(t *testing.T) {
	var attemptCount atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attemptCount.Add(1)
		w.Header().Set(ratelimit.HeaderRemaining, "1")
		w.Header().Set(ratelimit.HeaderReset, "600")
		w.Write([]byte(`{}`))
	}))

	ctx := context.Background()
	if _, err := client.Request(ctx, "/first", "", nil); err != nil {
		t.Fatalf("first Request() failed: %v", err)
	}

	_, err := client.Request(ctx, "/second", "", nil)
	if !errors.Is(err, ratelimit.ErrBudgetExhausted) {
		t.Errorf("second Request() error = %v, want ErrBudgetExhausted", err)
	}
	if got := attemptCount.Load(); got != 1 {
		t.Errorf("Expected the second request to be blocked, got %d attempts", got)
	}
}

func TestRequestMany_PreservesOrder(t *testing.T) {
	const n = 6
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var idx int
		fmt.Sscanf(r.URL.Query().Get("i"), "%d", &idx)
		// Later links answer first.
		time.Sleep(time.Duration(n-idx) * 10 * time.Millisecond)
		fmt.Fprintf(w, `{"i": %d}`, idx)
	}))

	links := make([]string, n)
	for i := range links {
		links[i] = fmt.Sprintf("/page?i=%d", i)
	}

	results, err := client.RequestMany(context.Background(), links)
	if err != nil {
		t.Fatalf("RequestMany() failed: %v", err)
	}
	if len(results) != n {
		t.Fatalf("len(results) = %d, want %d", len(results), n)
	}
	for i, resp := range results {
		var body struct {
			I int `json:"i"`
		}
		if err := resp.Decode(&body); err != nil {
			t.Fatalf("result %d: Decode() failed: %v", i, err)
		}
		if body.I != i {
			t.Errorf("results[%d] answered for link %d", i, body.I)
		}
	}
}

func TestRequestMany_PerLinkFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") == "1" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))

	results, err := client.RequestMany(context.Background(), []string{"/a", "/b?fail=1", "/c"})
	if err != nil {
		t.Fatalf("RequestMany() failed: %v", err)
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("healthy links reported errors: %+v, %+v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil || results[1].Err.Code != 0 {
		t.Errorf("failed link Err = %+v, want transport error with code 0", results[1].Err)
	}
}

func TestRequestMany_ConcurrencyBound(t *testing.T) {
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxConcurrency = 2
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	links := []string{"/1", "/2", "/3", "/4", "/5", "/6"}
	if _, err := client.RequestMany(context.Background(), links); err != nil {
		t.Fatalf("RequestMany() failed: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestRequestMany_ContextCancelled(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.RequestMany(ctx, []string{"/a", "/b"}); !errors.Is(err, context.Canceled) {
		t.Errorf("RequestMany() error = %v, want context.Canceled", err)
	}
}
