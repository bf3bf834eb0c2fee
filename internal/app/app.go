package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appregistry/internal/clock"
	"appregistry/internal/config"
	"appregistry/internal/httpserver"
	"appregistry/internal/httpserver/deps"
	"appregistry/internal/idempotency"
	"appregistry/internal/ident"
	"appregistry/internal/logger"
	"appregistry/internal/metrics"
	"appregistry/internal/ratelimit"
	"appregistry/internal/scheduler"
	"appregistry/internal/service"
	"appregistry/internal/store"
	"appregistry/internal/version"
)

type App struct {
	cfg       *config.Config
	logger    logger.Logger
	server    *httpserver.Server
	scheduler *scheduler.ActivationScheduler
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	clk := clock.System()
	idf := ident.New()
	m := metrics.New()

	applicationStore := store.New(clk, idf)
	registry := idempotency.New()
	limiter := ratelimit.New(clk, cfg.RateLimit, cfg.RateWindow)
	activations := scheduler.NewActivationScheduler(applicationStore, clk, loggerClient, m)

	svc := service.New(
		applicationStore,
		registry,
		limiter,
		activations,
		m,
		loggerClient,
		service.Options{
			Mode:            service.Mode(cfg.ActivationMode),
			ActivationDelay: cfg.ActivationDelay,
		},
	)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:    loggerClient,
		StartTime: time.Now(),
		Version:   version.Version,
		Commit:    version.Commit,
		BuildDate: version.BuildDate,
		GoVersion: version.GoVersion,
		Service:   svc,
		Metrics:   m,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:       cfg,
		logger:    loggerClient,
		server:    server,
		scheduler: activations,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting appregistry v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Info("configuration",
		logger.String("activation_mode", a.cfg.ActivationMode),
		logger.Duration("activation_delay", a.cfg.ActivationDelay),
		logger.Int("rate_limit", a.cfg.RateLimit),
		logger.Duration("rate_window", a.cfg.RateWindow))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start activation scheduler: %w", err)
	}
	a.logger.Info("activation scheduler started")

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	a.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	a.logger.Info("✅ appregistry stopped cleanly")
	return nil
}
