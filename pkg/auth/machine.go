package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/creator-api-client/pkg/client"
	"github.com/Sternrassler/creator-api-client/pkg/logging"
	"github.com/Sternrassler/creator-api-client/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	loginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "content_api_login_attempts_total",
		Help: "Total login attempts by outcome",
	}, []string{"outcome"})

	secondFactorSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "content_api_2fa_submissions_total",
		Help: "Total second-factor code submissions by outcome",
	}, []string{"outcome"})
)

// Default endpoints.
const (
	DefaultIdentityLink = "/api2/v2/users/me"
	DefaultOTPLink      = "/api2/v2/users/otp/check"
)

// guestIdentity is the identity used by anonymous sessions.
const guestIdentity = "0"

// State is the session machine state.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateNeeds2FA
	StateAuthenticated
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateNeeds2FA:
		return "needs_2fa"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config configures the session machine.
type Config struct {
	// MaxAttempts bounds the login loop.
	MaxAttempts int
	// MaxCodeAttempts bounds second-factor submissions per login attempt.
	MaxCodeAttempts int
	IdentityLink    string
	OTPLink         string
}

// DefaultConfig returns the default machine configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     10,
		MaxCodeAttempts: 3,
		IdentityLink:    DefaultIdentityLink,
		OTPLink:         DefaultOTPLink,
	}
}

// Option configures a Machine.
type Option func(*Machine)

// WithPrompter sets the second-factor code source.
func WithPrompter(p CodePrompter) Option {
	return func(m *Machine) { m.prompter = p }
}

// WithSigner sets the per-request header signer.
func WithSigner(s Signer) Option {
	return func(m *Machine) { m.signer = s }
}

// WithClock overrides the time source used for signing.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine drives the session lifecycle. It implements client.HeaderProvider;
// the headers come from an immutable SessionState that is replaced, never
// mutated, so in-flight requests keep the snapshot they started with.
type Machine struct {
	requester client.Requester
	prompter  CodePrompter
	signer    Signer
	config    Config
	logger    zerolog.Logger
	now       func() time.Time

	session atomic.Pointer[SessionState]

	mu      sync.Mutex
	state   State
	pending []AuthError
}

// NewMachine creates a session machine for creds.
func NewMachine(requester client.Requester, creds Credentials, cfg Config, opts ...Option) (*Machine, error) {
	if requester == nil {
		return nil, fmt.Errorf("requester is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("max_attempts must be >= 1 (got %d)", cfg.MaxAttempts)
	}
	if cfg.MaxCodeAttempts < 1 {
		cfg.MaxCodeAttempts = DefaultConfig().MaxCodeAttempts
	}
	if cfg.IdentityLink == "" {
		cfg.IdentityLink = DefaultIdentityLink
	}
	if cfg.OTPLink == "" {
		cfg.OTPLink = DefaultOTPLink
	}
	if creds.UserAgent == "" {
		creds.UserAgent = RandomUserAgent()
	}

	m := &Machine{
		requester: requester,
		signer:    NopSigner{},
		config:    cfg,
		logger:    logging.NewLogger("auth"),
		now:       time.Now,
		state:     StateUnauthenticated,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.session.Store(newSessionState(creds, false))

	return m, nil
}

// Login runs the login loop. It returns nil once authenticated, the terminal
// *AuthError when one is reported, or an error wrapping ErrAttemptsExhausted
// or ErrSecondFactorFailed.
func (m *Machine) Login(ctx context.Context) error {
	if err := m.Session().Credentials.Validate(); err != nil {
		m.setState(StateFailed)
		return err
	}
	m.setState(StateAuthenticating)

	for attempt := 1; attempt <= m.config.MaxAttempts; attempt++ {
		m.logger.Info().Int("attempt", attempt).Int("max_attempts", m.config.MaxAttempts).Msg("Login attempt")

		if err := m.ProbeSession(ctx); err != nil {
			if ctx.Err() != nil {
				m.setState(StateFailed)
				loginAttemptsTotal.WithLabelValues("cancelled").Inc()
				return ctx.Err()
			}
			m.logger.Warn().Err(err).Int("attempt", attempt).Msg("Session probe failed")
			loginAttemptsTotal.WithLabelValues("retry").Inc()
			continue
		}

		last, hasErr := m.lastPending()
		if m.Active() && !hasErr {
			m.authenticated()
			return nil
		}
		if !hasErr {
			loginAttemptsTotal.WithLabelValues("retry").Inc()
			continue
		}

		if last.NeedsSecondFactor() && m.Session().Credentials.Supports2FA {
			m.setState(StateNeeds2FA)
			ok, err := m.resolveSecondFactor(ctx)
			if err != nil {
				m.setState(StateFailed)
				loginAttemptsTotal.WithLabelValues("failed").Inc()
				return fmt.Errorf("%w: %w", ErrSecondFactorFailed, err)
			}
			if !ok {
				last, _ = m.lastPending()
				m.setState(StateFailed)
				loginAttemptsTotal.WithLabelValues("failed").Inc()
				m.logger.Error().Str("message", last.Message).Msg("Second factor rejected")
				return fmt.Errorf("%w: %s", ErrSecondFactorFailed, last.Message)
			}
			m.authenticated()
			return nil
		}

		if last.IsTerminal() {
			m.setState(StateFailed)
			loginAttemptsTotal.WithLabelValues("terminal").Inc()
			m.logger.Error().Int("code", last.Code).Str("message", last.Message).Msg("Login failed")
			err := last
			return &err
		}

		m.logger.Warn().Int("code", last.Code).Str("message", last.Message).Int("attempt", attempt).Msg("Login error")
		loginAttemptsTotal.WithLabelValues("retry").Inc()
	}

	m.setState(StateFailed)
	loginAttemptsTotal.WithLabelValues("exhausted").Inc()
	return fmt.Errorf("%w after %d attempts", ErrAttemptsExhausted, m.config.MaxAttempts)
}

// ProbeSession asks the identity endpoint who the session belongs to. A
// not-found answer deactivates the session, an error payload is appended to
// the pending errors, and a profile clears them and is merged into the
// session profile. Only transport failures are returned.
func (m *Machine) ProbeSession(ctx context.Context) error {
	resp, err := m.requester.Request(ctx, m.config.IdentityLink, http.MethodGet, nil)
	if err != nil {
		return fmt.Errorf("probe session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case resp.NotFound():
		m.update(func(s *SessionState) { s.Active = false })
	case resp.Err != nil:
		m.pending = append(m.pending, newAuthError(resp.Err.Code, resp.Err.Message))
	default:
		profile := m.Session().Profile.Snapshot()
		if err := profile.MergeJSON(resp.Body); err != nil {
			return fmt.Errorf("probe session: %w", err)
		}
		m.pending = nil
		m.update(func(s *SessionState) {
			s.Active = true
			s.Profile = profile
		})
	}
	return nil
}

// resolveSecondFactor submits up to MaxCodeAttempts codes. It reports
// whether a code was accepted.
func (m *Machine) resolveSecondFactor(ctx context.Context) (bool, error) {
	if m.prompter == nil {
		return false, errors.New("no code prompter configured")
	}

	for attempt := 1; attempt <= m.config.MaxCodeAttempts; attempt++ {
		code, err := m.prompter.PromptCode(ctx, attempt, m.config.MaxCodeAttempts)
		if err != nil {
			return false, fmt.Errorf("prompt code: %w", err)
		}

		payload := map[string]any{"code": code, "rememberMe": true}
		resp, err := m.requester.Request(ctx, m.config.OTPLink, http.MethodPost, payload)
		if err != nil {
			secondFactorSubmissionsTotal.WithLabelValues("error").Inc()
			return false, fmt.Errorf("submit code: %w", err)
		}

		if resp.Err != nil {
			secondFactorSubmissionsTotal.WithLabelValues("rejected").Inc()
			m.logger.Warn().Int("attempt", attempt).Str("message", resp.Err.Message).Msg("Code rejected")
			m.mu.Lock()
			if n := len(m.pending); n > 0 {
				m.pending[n-1].Message = resp.Err.Message
			}
			m.mu.Unlock()
			continue
		}

		secondFactorSubmissionsTotal.WithLabelValues("accepted").Inc()
		m.mu.Lock()
		if n := len(m.pending); n > 0 {
			m.pending = m.pending[:n-1]
		}
		m.update(func(s *SessionState) { s.Active = true })
		m.mu.Unlock()

		m.refreshProfile(ctx)
		return true, nil
	}
	return false, nil
}

// refreshProfile reloads the profile after a second factor was accepted.
// Failures leave the session active with the profile it had.
func (m *Machine) refreshProfile(ctx context.Context) {
	resp, err := m.requester.Request(ctx, m.config.IdentityLink, http.MethodGet, nil)
	if err != nil || resp.Err != nil || resp.NotFound() {
		m.logger.Warn().Err(err).Msg("Profile refresh after second factor failed")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	profile := m.Session().Profile.Snapshot()
	if err := profile.MergeJSON(resp.Body); err != nil {
		m.logger.Warn().Err(err).Msg("Profile refresh after second factor failed")
		return
	}
	m.update(func(s *SessionState) { s.Profile = profile })
}

// Guest switches to an anonymous session without contacting the network.
// The machine stays Unauthenticated.
func (m *Machine) Guest() {
	m.mu.Lock()
	defer m.mu.Unlock()

	creds := m.Session().Credentials
	creds.IdentityID = guestIdentity
	creds.UserAgent = RandomUserAgent()
	m.session.Store(newSessionState(creds, true))
	m.pending = nil
	m.state = StateUnauthenticated

	m.logger.Debug().Msg("Guest session prepared")
}

// RequestHeaders implements client.HeaderProvider.
func (m *Machine) RequestHeaders(link string) (http.Header, []*http.Cookie) {
	s := m.Session()
	h := s.Header.Clone()
	for key, values := range m.signer.Sign(link, s.Credentials.IdentityID, m.now()) {
		h[key] = values
	}
	return h, s.Cookies
}

// Session returns the current session snapshot. Callers must not modify it.
func (m *Machine) Session() *SessionState {
	return m.session.Load()
}

// State returns the machine state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Active reports whether the session is ready for authenticated calls.
func (m *Machine) Active() bool {
	return m.Session().Active
}

// Profile returns a copy of the account's own profile.
func (m *Machine) Profile() model.User {
	return m.Session().Profile.Snapshot()
}

// PendingErrors returns a copy of the errors reported since the last
// successful probe.
func (m *Machine) PendingErrors() []AuthError {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuthError, len(m.pending))
	copy(out, m.pending)
	return out
}

// ClearErrors drops the pending errors.
func (m *Machine) ClearErrors() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
}

func (m *Machine) authenticated() {
	m.setState(StateAuthenticated)
	loginAttemptsTotal.WithLabelValues("success").Inc()
	p := m.Profile()
	m.logger.Info().Int64("id", p.ID).Str("username", p.Handle()).Msg("Welcome")
}

func (m *Machine) lastPending() (AuthError, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return AuthError{}, false
	}
	return m.pending[len(m.pending)-1], true
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != s {
		m.logger.Debug().Str("from", m.state.String()).Str("to", s.String()).Msg("State transition")
	}
	m.state = s
}

// update swaps in a modified copy of the session. Callers hold m.mu.
func (m *Machine) update(fn func(*SessionState)) {
	next := m.session.Load().clone()
	fn(next)
	m.session.Store(next)
}

func parseIdentity(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}
