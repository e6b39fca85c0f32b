package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tome-gg/negotiation-protocols/pkg/api"
	"github.com/tome-gg/negotiation-protocols/pkg/archive"
	"github.com/tome-gg/negotiation-protocols/pkg/auth"
	"github.com/tome-gg/negotiation-protocols/pkg/config"
	"github.com/tome-gg/negotiation-protocols/pkg/ledger"
	"github.com/tome-gg/negotiation-protocols/pkg/lock"
	"github.com/tome-gg/negotiation-protocols/pkg/observability"
	"github.com/tome-gg/negotiation-protocols/pkg/policy"
	"github.com/tome-gg/negotiation-protocols/pkg/store"

	_ "github.com/lib/pq" // Postgres driver
)

func runServer(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	configFile := cmd.String("config", "", "YAML overlay file (overrides CONFIG_FILE)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if *configFile != "" {
		cfg.ConfigFile = *configFile
	}
	if err := cfg.ApplyConfigFile(); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// serve wires the service from cfg and blocks until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "negotiator",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTelEndpoint,
		SampleRate:     cfg.OTelSampleRate,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTelEnabled,
		Insecure:       cfg.OTelInsecure,
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	rules, err := policy.NewEvaluator(cfg.Policy)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if n := len(rules.Rules()); n > 0 {
		logger.Info("admission policy loaded", "rules", n)
	}

	arc, err := archive.New(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if arc != nil {
		logger.Info("settlement archive ready", "type", string(cfg.Archive.Type))
	}

	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithObservability(obs),
		ledger.WithPolicy(rules),
		ledger.WithLockWait(cfg.LockWait),
	}
	if arc != nil {
		opts = append(opts, ledger.WithArchive(arc))
	}

	var idem api.IdempotencyStore = api.NewMemoryIdempotencyStore(cfg.IdempotencyTTL)
	if cfg.RedisAddr != "" {
		rdb := lock.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, ledger.WithLocker(lock.NewRedisLocker(rdb, cfg.LockTTL)))
		idem = api.NewRedisIdempotencyStore(rdb, cfg.IdempotencyTTL)
		logger.Info("redis connected", "addr", cfg.RedisAddr)
	}

	handler := api.NewHandler(api.Options{
		Service:     ledger.New(st, opts...),
		Validator:   auth.NewValidator(cfg.TokenMaxTTL),
		RateLimiter: api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Idempotency: idem,
		Logger:      logger,
	})

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET /health", api.HandleHealth)

	servers := []*http.Server{
		newHTTPServer(ctx, ":"+cfg.Port, handler),
		newHTTPServer(ctx, ":"+cfg.HealthPort, healthMux),
	}
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func newHTTPServer(ctx context.Context, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

// openStore opens the configured backend. The returned *sql.DB is nil for
// the file backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sql.DB, store.Store, error) {
	switch cfg.Backend() {
	case config.BackendSQLite:
		logger.Info("using lite mode", "data_dir", cfg.DataDir)
		return setupLiteMode(ctx, cfg.DataDir)
	case config.BackendFile:
		st, err := openFileStore(cfg.DataFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file store", "path", cfg.DataFile)
		return nil, st, nil
	case config.BackendPostgres:
	default:
		return nil, nil, fmt.Errorf("unsupported store backend %q", cfg.Backend())
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	st := store.NewPostgresStore(db)
	if err := st.Init(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init postgres store: %w", err)
	}
	logger.Info("postgres connected")
	return db, st, nil
}
