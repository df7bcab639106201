// Command server is the Athena dashboard server binary. It loads a YAML
// configuration file (optionally overridden by environment variables and a
// .env file), opens the storage backend selected by the run mode, schedules
// audit retention and AI health sampling, exposes the REST API and the live
// activity feed over HTTP, and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/athena-ai/dashboard/internal/audit"
	"github.com/athena-ai/dashboard/internal/config"
	"github.com/athena-ai/dashboard/internal/healthsampler"
	"github.com/athena-ai/dashboard/internal/metrics"
	"github.com/athena-ai/dashboard/internal/server/rest"
	"github.com/athena-ai/dashboard/internal/server/static"
	"github.com/athena-ai/dashboard/internal/server/storage"
	"github.com/athena-ai/dashboard/internal/server/websocket"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file (optional)")
	envFile := flag.String("env-file", ".env", "Path to a .env file loaded before reading the environment")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(*configPath, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("athena dashboard server failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("athena dashboard server exited cleanly")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("athena dashboard server starting",
		slog.String("mode", cfg.Mode),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("http_addr", cfg.Addr()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	feed := websocket.NewBroadcaster(logger, 0)
	defer feed.Close()

	// ── Activity archive ──────────────────────────────────────────────────────
	var journal *audit.Journal
	if cfg.Audit.JournalPath != "" {
		var err error
		journal, err = audit.OpenJournal(cfg.Audit.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()
		logger.Info("activity journal enabled", slog.String("path", cfg.Audit.JournalPath))
	}

	onAudit := func(entry storage.ActivityLog) {
		m.ObserveActivity(string(entry.Action), entry.EntityType)
		feed.PublishActivity(entry)
		if journal == nil {
			return
		}
		if _, err := journal.Archive(entry); err != nil {
			logger.Error("activity journal append failed",
				slog.String("log_id", entry.ID),
				slog.Any("error", err),
			)
		}
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.DSN(), storage.WithAuditHook(onAudit))
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("storage opened", slog.String("driver", cfg.Storage.Driver))

	if err := store.Seed(ctx, storage.Bootstrap{
		AdminUsername: cfg.Bootstrap.AdminUsername,
		AdminPassword: cfg.Bootstrap.AdminPassword,
		AdminEmail:    cfg.Bootstrap.AdminEmail,
	}); err != nil {
		return err
	}
	if cfg.Bootstrap.AdminPassword == "" {
		logger.Warn("ADMIN_PASSWORD not configured; no bootstrap admin account was created")
	}

	// ── Background jobs ───────────────────────────────────────────────────────
	sched := cron.New()
	retention := audit.Retention{MaxAge: cfg.Audit.MaxAge, MaxEntries: cfg.Audit.MaxEntries}
	if _, err := audit.Schedule(sched, cfg.Audit.Schedule, retention, store, logger); err != nil {
		return err
	}
	if cfg.SamplerEnabled() {
		sampler := healthsampler.New(store, logger, m)
		if _, err := sampler.Schedule(sched, cfg.Sampler.Schedule); err != nil {
			return err
		}
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	// ── REST API server ───────────────────────────────────────────────────────
	secret := []byte(cfg.Auth.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generate session secret: %w", err)
		}
		logger.Warn("SESSION_SECRET not configured; using a random secret, tokens will not survive a restart")
	}
	tokens, err := rest.NewTokenIssuer(secret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	if !cfg.Auth.Required {
		logger.Warn("API authentication is optional; anonymous requests are accepted")
	}

	opts := rest.RouterOptions{
		RequireAuth: cfg.Auth.Required,
		Live:        websocket.NewHandler(feed, logger, 0),
	}
	if *cfg.Server.MetricsEnabled {
		opts.Metrics = m
	}
	if cfg.Server.StaticDir != "" {
		h, err := static.New(cfg.Server.StaticDir)
		if err != nil {
			return err
		}
		opts.Static = h
		logger.Info("serving client", slog.String("dir", cfg.Server.StaticDir))
	}

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      rest.NewRouter(rest.NewServer(store, logger, tokens), opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ── Start server ──────────────────────────────────────────────────────────
	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP REST server listening", slog.String("addr", cfg.Addr()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(httpErrCh)
	}()

	// ── Wait for shutdown signal or fatal error ────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-httpErrCh:
		if err != nil {
			return err
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	logger.Info("shutting down server")
	cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown.
	feed.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.Any("error", err))
	}
	return nil
}

// newLogger constructs a *slog.Logger that writes JSON-structured log records
// to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
