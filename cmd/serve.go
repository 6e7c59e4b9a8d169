package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/byteagent/byte/internal/auth"
	"github.com/byteagent/byte/internal/config"
	"github.com/byteagent/byte/internal/database"
	"github.com/byteagent/byte/internal/server"
	"github.com/byteagent/byte/internal/thread"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// runServe initializes and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr, err := parseServeAddr(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("parsing address: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting HTTP API server", "version", AppVersion)

	var (
		pool    *pgxpool.Pool
		users   auth.Store
		threads thread.Store
	)
	if cfg.InMemory {
		logger.Warn("using in-memory stores, data will not survive restarts")
		users = auth.NewMemory()
		threads = thread.NewMemory()
	} else {
		if err := database.Migrate(cfg.PostgresURL()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		pool, err = database.Open(ctx, cfg.PostgresConnectionString())
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer pool.Close()
		users = auth.NewPostgres(pool, logger)
		threads = thread.NewPostgres(pool, logger)
	}

	authSvc := auth.NewService(auth.ServiceConfig{
		Store:    users,
		Secret:   []byte(cfg.AuthSecret),
		TokenTTL: cfg.TokenTTL(),
		Logger:   logger,
	})

	srv, err := server.New(server.Config{
		Logger:      logger,
		Auth:        authSvc,
		Threads:     threads,
		Pool:        pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		// No Read/WriteTimeout: the WebSocket chat endpoint holds
		// long-lived connections.
	}

	logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/*",
		"ws", "/ws/chat",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}
