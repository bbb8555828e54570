// Package config loads the creator-sync configuration from a YAML file and
// the environment. Later sources override earlier ones: defaults, file,
// environment (CREATOR_ prefix), then explicit overrides such as CLI flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/Sternrassler/creator-api-client/pkg/account"
	"github.com/Sternrassler/creator-api-client/pkg/auth"
	"github.com/Sternrassler/creator-api-client/pkg/client"
	"github.com/Sternrassler/creator-api-client/pkg/logging"
	"github.com/Sternrassler/creator-api-client/pkg/ratelimit"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the environment variable prefix.
const EnvPrefix = "CREATOR_"

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the complete configuration.
type Config struct {
	API     APIConfig     `koanf:"api"`
	Auth    AuthConfig    `koanf:"auth"`
	Fetch   FetchConfig   `koanf:"fetch"`
	Cache   CacheConfig   `koanf:"cache"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// APIConfig configures the transport.
type APIConfig struct {
	BaseURL        string        `koanf:"base_url"`
	Timeout        time.Duration `koanf:"timeout"`
	RateLimit      float64       `koanf:"rate_limit"`
	Burst          int           `koanf:"burst"`
	MaxConcurrency int           `koanf:"max_concurrency"`
	MaxRetries     int           `koanf:"max_retries"`
	InitialBackoff time.Duration `koanf:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff"`
}

// AuthConfig holds the session credentials and login behaviour.
type AuthConfig struct {
	SessionToken  string `koanf:"session_token"`
	SigningSecret string `koanf:"signing_secret"`
	AppToken      string `koanf:"app_token"`
	IdentityID    string `koanf:"identity_id"`
	UserAgent     string `koanf:"user_agent"`
	XBC           string `koanf:"x_bc"`
	AuthHash      string `koanf:"auth_hash"`
	AuthUniq      string `koanf:"auth_uniq"`
	Supports2FA   bool   `koanf:"supports_2fa"`
	TOTPSecret    string `koanf:"totp_secret"`
	MaxAttempts   int    `koanf:"max_attempts"`
	Guest         bool   `koanf:"guest"`
}

// FetchConfig sizes the collection fetches.
type FetchConfig struct {
	Workers           int           `koanf:"workers"`
	SubscriptionLimit int           `koanf:"subscription_limit"`
	ChatLimit         int           `koanf:"chat_limit"`
	MassMessageLimit  int           `koanf:"mass_message_limit"`
	PaidLimit         int           `koanf:"paid_limit"`
	ListLimit         int           `koanf:"list_limit"`
	PageTimeout       time.Duration `koanf:"page_timeout"`
	ExtraInfo         bool          `koanf:"extra_info"`
}

// CacheConfig selects the collection store.
type CacheConfig struct {
	Backend   string        `koanf:"backend"`
	RedisAddr string        `koanf:"redis_addr"`
	RedisDB   int           `koanf:"redis_db"`
	TTL       time.Duration `koanf:"ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
	File   string `koanf:"file"`
}

// MetricsConfig configures the metrics endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the default configuration.
func Default() Config {
	api := client.DefaultConfig("https://onlyfans.com")
	rl := ratelimit.DefaultConfig()
	acct := account.DefaultConfig()

	return Config{
		API: APIConfig{
			BaseURL:        api.BaseURL,
			Timeout:        api.Timeout,
			RateLimit:      rl.RequestsPerSecond,
			Burst:          rl.Burst,
			MaxConcurrency: api.MaxConcurrency,
			MaxRetries:     api.MaxRetries,
			InitialBackoff: api.InitialBackoff,
			MaxBackoff:     api.MaxBackoff,
		},
		Auth: AuthConfig{
			MaxAttempts: auth.DefaultConfig().MaxAttempts,
		},
		Fetch: FetchConfig{
			Workers:           acct.Workers,
			SubscriptionLimit: acct.SubscriptionLimit,
			ChatLimit:         acct.ChatLimit,
			MassMessageLimit:  acct.MassMessageLimit,
			PaidLimit:         acct.PaidLimit,
			ListLimit:         acct.ListLimit,
			PageTimeout:       acct.PageTimeout,
		},
		Cache: CacheConfig{
			Backend:   CacheMemory,
			RedisAddr: "localhost:6379",
			TTL:       24 * time.Hour,
		},
		Log: LogConfig{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load reads path (optional), the environment and overrides, then fills
// unset fields from Default and validates the result. Override keys use
// dotted paths such as "fetch.workers".
func Load(path string, overrides map[string]any) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// CREATOR_API_BASE_URL -> api.base_url
	transform := func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.Replace(s, "_", ".", 1)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", transform), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	if len(overrides) > 0 {
		if err := k.Load(mapProvider(overrides), nil); err != nil {
			return Config{}, fmt.Errorf("load overrides: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return Config{}, fmt.Errorf("apply defaults: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("api.max_concurrency must be >= 1 (got %d)", c.API.MaxConcurrency))
	}
	if c.Fetch.Workers < 1 {
		errs = append(errs, fmt.Errorf("fetch.workers must be >= 1 (got %d)", c.Fetch.Workers))
	}
	switch c.Cache.Backend {
	case CacheMemory, CacheRedis:
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be %q or %q (got %q)", CacheMemory, CacheRedis, c.Cache.Backend))
	}
	if !c.Auth.Guest && (c.Auth.IdentityID == "" || c.Auth.SessionToken == "") {
		errs = append(errs, errors.New("auth.identity_id and auth.session_token are required unless auth.guest is set"))
	}
	return errors.Join(errs...)
}

// ClientConfig returns the transport configuration.
func (c Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.API.BaseURL)
	cfg.Timeout = c.API.Timeout
	cfg.RateLimit.RequestsPerSecond = c.API.RateLimit
	cfg.RateLimit.Burst = c.API.Burst
	cfg.MaxConcurrency = c.API.MaxConcurrency
	cfg.MaxRetries = c.API.MaxRetries
	cfg.InitialBackoff = c.API.InitialBackoff
	cfg.MaxBackoff = c.API.MaxBackoff
	return cfg
}

// Credentials returns the session credentials.
func (c Config) Credentials() auth.Credentials {
	return auth.Credentials{
		IdentityID:   c.Auth.IdentityID,
		SessionToken: c.Auth.SessionToken,
		AuthHash:     c.Auth.AuthHash,
		AuthUniq:     c.Auth.AuthUniq,
		UserAgent:    c.Auth.UserAgent,
		XBC:          c.Auth.XBC,
		Supports2FA:  c.Auth.Supports2FA,
	}
}

// MachineConfig returns the session machine configuration.
func (c Config) MachineConfig() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.MaxAttempts = c.Auth.MaxAttempts
	return cfg
}

// Signer returns the request signer; without a signing secret requests are
// not signed.
func (c Config) Signer() auth.Signer {
	if c.Auth.SigningSecret == "" {
		return auth.NopSigner{}
	}
	return auth.HashSigner{Secret: c.Auth.SigningSecret, AppToken: c.Auth.AppToken}
}

// AccountConfig returns the collection fetch configuration.
func (c Config) AccountConfig() account.Config {
	return account.Config{
		Workers:           c.Fetch.Workers,
		SubscriptionLimit: c.Fetch.SubscriptionLimit,
		ChatLimit:         c.Fetch.ChatLimit,
		MassMessageLimit:  c.Fetch.MassMessageLimit,
		PaidLimit:         c.Fetch.PaidLimit,
		ListLimit:         c.Fetch.ListLimit,
		PageTimeout:       c.Fetch.PageTimeout,
	}
}

// LoggingConfig returns the logger configuration.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	cfg.File = c.Log.File
	return cfg
}

// mapProvider is a koanf provider over an in-memory map of dotted keys.
type mapProvider map[string]any

// ReadBytes is not supported; koanf uses Read.
func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

// Read returns the map unflattened on ".".
func (m mapProvider) Read() (map[string]any, error) {
	out := make(map[string]any)
	for key, value := range m {
		parts := strings.Split(key, ".")
		node := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := node[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[p] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = value
	}
	return out, nil
}
