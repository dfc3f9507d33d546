// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/otpgate/otpgate/internal/auth"
	authpg "github.com/otpgate/otpgate/internal/auth/postgres"
	"github.com/otpgate/otpgate/internal/config"
	"github.com/otpgate/otpgate/internal/httpapi"
	"github.com/otpgate/otpgate/internal/logging"
	"github.com/otpgate/otpgate/internal/notify"
	"github.com/otpgate/otpgate/internal/observability"
	"github.com/otpgate/otpgate/internal/store"
)

// ObservabilityServer abstracts the metrics/health server for tests.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// ServeDeps holds injectable dependencies for the serve command.
// Nil fields fall back to the production implementations.
type ServeDeps struct {
	// DBConnector returns the query interface and a close func.
	DBConnector func(ctx context.Context, url string) (authpg.DB, func(), error)

	// ObservabilityServerFactory builds the metrics/health server.
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// NotifierFactory builds the OTP delivery channel.
	NotifierFactory func(cfg config.SMTPConfig) (auth.Notifier, error)
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the OTPGate HTTP server",
		Long: `Start the HTTP server that exposes registration, login,
email verification, and password reset endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// runServeWithDeps starts the server with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.DBConnector == nil {
		deps.DBConnector = func(ctx context.Context, url string) (authpg.DB, func(), error) {
			pool, err := store.Connect(ctx, url)
			if err != nil {
				return nil, nil, err
			}
			return pool, pool.Close, nil
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.NotifierFactory == nil {
		deps.NotifierFactory = buildNotifier
	}

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.SetDefault("otpgate", version, cfg.Logging.Level, cfg.Logging.Format)
	gin.SetMode(gin.ReleaseMode)

	slog.Info("starting otpgate",
		"addr", cfg.Server.Addr,
		"metrics_addr", cfg.Observability.Addr,
	)

	db, closeDB, err := deps.DBConnector(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}
	defer closeDB()

	slog.Info("connected to database")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start observability server if configured
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Observability.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Observability.Addr, func() bool { return true })
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBS_START_FAILED").Wrap(err)
		}
		metrics = obsServer.Metrics()
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	notifier, err := deps.NotifierFactory(cfg.SMTP)
	if err != nil {
		return err
	}
	if metrics != nil {
		notifier = notify.NewInstrumentedNotifier(notifier, metrics.NotifyFailuresTotal)
	}

	issuer, err := auth.NewJWTIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	svc, err := auth.NewService(
		authpg.NewUserRepository(db),
		auth.NewArgon2idHasher(),
		notifier,
		issuer,
		auth.Policy{RequireVerifiedEmail: cfg.Auth.RequireVerifiedEmail},
	)
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.NewHandler(svc, metrics, slog.Default()))
	apiServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	apiErrChan := make(chan error, 1)
	go func() {
		if serveErr := apiServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			apiErrChan <- serveErr
		}
	}()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("OTPGate started")
	slog.Info("otpgate ready", "addr", cfg.Server.Addr)

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-apiErrChan:
		return oops.Code("HTTP_SERVER_FAILED").Wrap(err)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error stopping HTTP server", "error", err)
	}

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// buildNotifier picks SMTP delivery when configured and falls back to
// the log-only notifier otherwise.
func buildNotifier(cfg config.SMTPConfig) (auth.Notifier, error) {
	if cfg.Host == "" {
		slog.Warn("smtp host not configured, OTP codes will only be logged")
		return notify.NewLogNotifier(slog.Default()), nil
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		From:     cfg.From,
		AppName:  cfg.AppName,
	})
}

// monitorServerErrors cancels the context when a background server
// reports an error, triggering graceful shutdown of the process. It
// exits when an error arrives, the channel closes, or the context ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
