package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rickgao/codelab-live/internal/api"
	"github.com/rickgao/codelab-live/internal/auth"
	"github.com/rickgao/codelab-live/internal/config"
	"github.com/rickgao/codelab-live/internal/connection"
	"github.com/rickgao/codelab-live/internal/database"
	"github.com/rickgao/codelab-live/internal/hub"
	"github.com/rickgao/codelab-live/internal/router"
	"github.com/rickgao/codelab-live/internal/store"
	"github.com/rickgao/codelab-live/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/livehub.local.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// Bootstrap logger until the configured one is known
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := config.LoadDotEnv(*envPath); err != nil {
		logger.Error("failed to load env file", "path", *envPath, "error", err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	configured, err := newLogger(cfg.Log)
	if err != nil {
		logger.Error("invalid log config", "error", err)
		os.Exit(1)
	}
	logger = configured
	slog.SetDefault(logger)

	logger.Info("starting livehub",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		logger.Info("schema applied")
	}

	st := store.New(pool, logger)

	creds, err := auth.LoadCredentials(cfg.Auth.PrivateKeyPath, cfg.Auth.Issuer, cfg.Auth.SessionTTL)
	if err != nil {
		logger.Error("failed to load signing key", "error", err)
		os.Exit(1)
	}
	authenticator := auth.NewAuthenticator(creds, cfg.Auth.CookieName)

	h := hub.New(hub.Config{
		FanoutCapacity:     cfg.Hub.FanoutCapacity,
		DirectQueueInitial: cfg.Hub.DirectQueueInitial,
		DirectQueueMax:     cfg.Hub.DirectQueueMax,
	}, logger)

	rtr := router.NewRouter(router.RouterConfig{
		PersistTimeout: cfg.Hub.PersistTimeout,
	}, st, h, logger)

	supervisor := connection.NewSupervisor(connection.SupervisorConfig{
		WriteTimeout:      cfg.Hub.WriteTimeout,
		MaxFrameBytes:     cfg.Hub.MaxFrameBytes,
		NameLookupTimeout: cfg.Hub.NameLookupTimeout,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
	}, h, authenticator, st, rtr, logger)

	handler := api.NewServer(api.Deps{
		Hub:        h,
		Supervisor: supervisor,
		Router:     rtr,
		Store:      st,
		Auth:       authenticator,
	}, cfg.Hub.NameLookupTimeout, logger)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server error", "error", err)
		}
		cancel()
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Shutdown does not wait for hijacked connections; the supervisor owns those.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}
	if err := supervisor.Stop(shutdownCtx); err != nil {
		logger.Warn("live connections did not drain", "error", err)
	}

	stats := h.Stats()
	logger.Info("livehub stopped",
		"published", stats.Published,
		"direct_delivered", stats.DirectDelivered,
		"superseded", stats.Superseded,
	)
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}
