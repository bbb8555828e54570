// Package testutil provides a mock content API for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/creator-api-client/pkg/client"
	"github.com/Sternrassler/creator-api-client/pkg/ratelimit"
)

// Paths served by the mock.
const (
	PathMe            = "/api2/v2/users/me"
	PathUsers         = "/api2/v2/users/"
	PathOTP           = "/api2/v2/users/otp/check"
	PathSubscriptions = "/api2/v2/subscriptions/subscribes"
	PathChats         = "/api2/v2/chats"
	PathMassMessages  = "/api2/v2/messages/queue/stats"
	PathPaid          = "/api2/v2/posts/paid"
	PathLists         = "/api2/v2/lists"
)

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// pageFailure is an error answered for one offset of a collection.
type pageFailure struct {
	code    int
	message string
}

// MockContentAPI is a stateful fake of the content API. Collections are
// paginated with the limit and offset query parameters; chats and mass
// messages answer with a {"list", "hasMore"} envelope, the other collections
// with bare arrays.
type MockContentAPI struct {
	server *httptest.Server

	mu           sync.RWMutex
	handlers     map[string]http.HandlerFunc
	me           map[string]any
	users        map[string]map[string]any
	userErrors   map[string]pageFailure
	collections  map[string][]map[string]any
	failures     map[string]map[int]pageFailure
	otpCode      string
	requests     map[string]int
	lastHeader   http.Header
	lastCookies  []*http.Cookie
	otpPayloads  []map[string]any
	requestCount int
}

// NewMockContentAPI starts a mock server.
func NewMockContentAPI() *MockContentAPI {
	m := &MockContentAPI{
		handlers:    make(map[string]http.HandlerFunc),
		users:       make(map[string]map[string]any),
		userErrors:  make(map[string]pageFailure),
		collections: make(map[string][]map[string]any),
		failures:    make(map[string]map[int]pageFailure),
		requests:    make(map[string]int),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requestCount++
		m.requests[r.URL.Path]++
		m.lastHeader = r.Header.Clone()
		m.lastCookies = r.Cookies()
		handler, exists := m.handlers[r.URL.Path]
		m.mu.Unlock()

		w.Header().Set(ratelimit.HeaderRemaining, "1000")
		w.Header().Set(ratelimit.HeaderReset, "60")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		if exists {
			handler(w, r)
			return
		}
		m.route(w, r)
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockContentAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockContentAPI) Close() {
	m.server.Close()
}

// ClientConfig returns a client configuration pointed at the mock with
// short backoffs and no local rate limit.
func (m *MockContentAPI) ClientConfig() client.Config {
	cfg := client.DefaultConfig(m.URL())
	cfg.RateLimit = ratelimit.Config{MaxPause: 50 * time.Millisecond}
	cfg.InitialBackoff = 5 * time.Millisecond
	cfg.MaxBackoff = 20 * time.Millisecond
	cfg.Timeout = 5 * time.Second
	return cfg
}

// SetHandler overrides the handler for a path.
func (m *MockContentAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockContentAPI) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetMe sets the profile answered by the identity endpoint. A nil profile
// answers not found.
func (m *MockContentAPI) SetMe(profile map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.me = profile
}

// AddUser registers a profile reachable by id and by username.
func (m *MockContentAPI) AddUser(profile map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := profile["id"]; ok {
		m.users[fmt.Sprint(id)] = profile
	}
	if name, ok := profile["username"].(string); ok && name != "" {
		m.users[name] = profile
	}
}

// FailUser answers an error payload for identifier.
func (m *MockContentAPI) FailUser(identifier string, code int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userErrors[identifier] = pageFailure{code: code, message: message}
}

// SetCollection sets the items of a collection path.
func (m *MockContentAPI) SetCollection(path string, items []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.collections[path] = items
}

// FailPage answers an error payload for the page of path at offset.
func (m *MockContentAPI) FailPage(path string, offset, code int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures[path] == nil {
		m.failures[path] = make(map[int]pageFailure)
	}
	m.failures[path][offset] = pageFailure{code: code, message: message}
}

// SetOTPCode sets the second-factor code the mock accepts. Until a code is
// accepted the identity endpoint answers error 101.
func (m *MockContentAPI) SetOTPCode(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otpCode = code
}

// Requests returns the number of requests made to path.
func (m *MockContentAPI) Requests(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// RequestCount returns the total number of requests.
func (m *MockContentAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// LastHeader returns the headers of the last request.
func (m *MockContentAPI) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader.Clone()
}

// LastCookies returns the cookies of the last request.
func (m *MockContentAPI) LastCookies() []*http.Cookie {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*http.Cookie(nil), m.lastCookies...)
}

// OTPPayloads returns the bodies posted to the OTP endpoint.
func (m *MockContentAPI) OTPPayloads() []map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]map[string]any(nil), m.otpPayloads...)
}

func (m *MockContentAPI) route(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == PathMe:
		m.serveMe(w)
	case path == PathOTP:
		m.serveOTP(w, r)
	case strings.HasPrefix(path, PathLists+"/") && strings.HasSuffix(path, "/users"):
		m.servePage(w, r, false)
	case path == PathChats || path == PathMassMessages:
		m.servePage(w, r, true)
	case path == PathSubscriptions || path == PathPaid || path == PathLists:
		m.servePage(w, r, false)
	case strings.HasPrefix(path, PathUsers):
		m.serveUser(w, strings.TrimPrefix(path, PathUsers))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (m *MockContentAPI) serveMe(w http.ResponseWriter) {
	m.mu.RLock()
	me, pendingOTP := m.me, m.otpCode != ""
	m.mu.RUnlock()

	if pendingOTP {
		writeError(w, http.StatusBadRequest, 101, "Two factor authentication required")
		return
	}
	if me == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, me)
}

func (m *MockContentAPI) serveOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, 400, "bad payload")
		return
	}

	m.mu.Lock()
	m.otpPayloads = append(m.otpPayloads, payload)
	accepted := m.otpCode != "" && payload["code"] == m.otpCode
	if accepted {
		m.otpCode = ""
	}
	m.mu.Unlock()

	if !accepted {
		writeError(w, http.StatusBadRequest, 102, "Code wrong")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (m *MockContentAPI) serveUser(w http.ResponseWriter, identifier string) {
	m.mu.RLock()
	failure, failed := m.userErrors[identifier]
	user, ok := m.users[identifier]
	m.mu.RUnlock()

	switch {
	case failed:
		writeError(w, http.StatusBadRequest, failure.code, failure.message)
	case !ok:
		writeError(w, http.StatusNotFound, 404, "User not found")
	default:
		writeJSON(w, http.StatusOK, user)
	}
}

func (m *MockContentAPI) servePage(w http.ResponseWriter, r *http.Request, envelope bool) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 10
	}

	m.mu.RLock()
	items := m.collections[r.URL.Path]
	failure, failed := m.failures[r.URL.Path][offset]
	m.mu.RUnlock()

	if failed {
		writeError(w, http.StatusBadRequest, failure.code, failure.message)
		return
	}

	page := []map[string]any{}
	if offset < len(items) {
		end := offset + limit
		if end > len(items) {
			end = len(items)
		}
		page = items[offset:end]
	}

	if !envelope {
		writeJSON(w, http.StatusOK, page)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"list":    page,
		"hasMore": offset+limit < len(items),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

// Users builds n user records with ids n..1.
func Users(n int, fields func(id int) map[string]any) []map[string]any {
	out := make([]map[string]any, 0, n)
	for id := n; id >= 1; id-- {
		u := map[string]any{"id": id, "username": fmt.Sprintf("user%d", id)}
		if fields != nil {
			for k, v := range fields(id) {
				u[k] = v
			}
		}
		out = append(out, u)
	}
	return out
}
