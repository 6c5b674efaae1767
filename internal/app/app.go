package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pixied/internal/config"
	"github.com/dokzlo13/pixied/internal/pixie/discovery"
)

// App is the main application container that manages all services and their lifecycle.
// It provides dependency injection and enables testable architecture.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Start initializes and starts all services.
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		return err
	}

	log.Info().Msg("pixied started")
	return nil
}

// Stop gracefully shuts down all services.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ResetSession clears the stored cloud session and device snapshot.
// Used on startup with the --reset-session flag to force rediscovery.
func (a *App) ResetSession() error {
	if a.services != nil {
		return a.services.ResetSession()
	}
	return nil
}

// Discover runs device discovery without starting the daemon and stores
// the result for the next start.
func (a *App) Discover(ctx context.Context) (*discovery.Entry, error) {
	return a.services.Pixie.Discover(ctx)
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
