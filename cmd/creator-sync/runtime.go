package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/creator-api-client/internal/config"
	"github.com/Sternrassler/creator-api-client/pkg/account"
	"github.com/Sternrassler/creator-api-client/pkg/auth"
	"github.com/Sternrassler/creator-api-client/pkg/cache"
	"github.com/Sternrassler/creator-api-client/pkg/client"
	"github.com/Sternrassler/creator-api-client/pkg/logging"
	"github.com/Sternrassler/creator-api-client/pkg/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

// Flags holds the global flags and the runtime built from them.
type Flags struct {
	ConfigPath  string
	LogLevel    string
	Pretty      bool
	MetricsAddr string
	Guest       bool
	Workers     int

	Runtime *Runtime
}

// overrides returns the config keys set explicitly on the command line.
func (f *Flags) overrides(c *cli.Command) map[string]any {
	out := map[string]any{}
	if c.IsSet("log-level") {
		out["log.level"] = f.LogLevel
	}
	if c.IsSet("pretty") {
		out["log.pretty"] = f.Pretty
	}
	if c.IsSet("metrics-addr") {
		out["metrics.addr"] = f.MetricsAddr
	}
	if c.IsSet("guest") {
		out["auth.guest"] = f.Guest
	}
	if c.IsSet("workers") {
		out["fetch.workers"] = f.Workers
	}
	return out
}

// Runtime wires the configured components.
type Runtime struct {
	Config  config.Config
	Client  *client.Client
	Machine *auth.Machine
	Account *account.Account

	redis    *redis.Client
	metrics  *http.Server
	closeLog func() error
}

func newRuntime(ctx context.Context, flags *Flags, overrides map[string]any) (*Runtime, error) {
	cfg, err := config.Load(flags.ConfigPath, overrides)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	_, closeLog, err := logging.Setup(cfg.LoggingConfig())
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	rt := &Runtime{Config: cfg, closeLog: closeLog}

	clientCfg := cfg.ClientConfig()
	var store cache.Store = cache.NewMemoryStore(cfg.Cache.TTL)
	if cfg.Cache.Backend == config.CacheRedis {
		rt.redis = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Connected to Redis")
		clientCfg.Redis = rt.redis
		store = cache.NewManager(rt.redis, cfg.Cache.TTL)
	}

	rt.Client, err = client.New(clientCfg)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("create client: %w", err)
	}

	var prompter auth.CodePrompter = auth.NewTerminalPrompter()
	if cfg.Auth.TOTPSecret != "" {
		prompter = auth.TOTPPrompter{Secret: cfg.Auth.TOTPSecret}
	}

	rt.Machine, err = auth.NewMachine(rt.Client, cfg.Credentials(), cfg.MachineConfig(),
		auth.WithPrompter(prompter),
		auth.WithSigner(cfg.Signer()),
	)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("create session: %w", err)
	}
	rt.Client.SetHeaderProvider(rt.Machine)

	rt.Account, err = account.New(rt.Machine, rt.Client, store, cfg.AccountConfig())
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("create account: %w", err)
	}

	if cfg.Metrics.Addr != "" {
		rt.metrics = startMetricsServer(cfg.Metrics.Addr)
	}

	return rt, nil
}

// Login authenticates the session, or prepares a guest session.
func (rt *Runtime) Login(ctx context.Context) error {
	if rt.Config.Auth.Guest {
		rt.Machine.Guest()
		return nil
	}
	if err := rt.Machine.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// Close releases all resources.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		errs = append(errs, rt.metrics.Shutdown(shutdownCtx))
		cancel()
	}
	if rt.Client != nil {
		errs = append(errs, rt.Client.Close())
	}
	if rt.redis != nil {
		errs = append(errs, rt.redis.Close())
	}
	if rt.closeLog != nil {
		errs = append(errs, rt.closeLog())
	}
	return errors.Join(errs...)
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", healthHandler)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}
