// Package app wires all Auris subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithHistoryStore, WithMetrics, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/auris/internal/api"
	"github.com/MrWong99/auris/internal/capture"
	"github.com/MrWong99/auris/internal/config"
	"github.com/MrWong99/auris/internal/health"
	"github.com/MrWong99/auris/internal/history"
	"github.com/MrWong99/auris/internal/observe"
	"github.com/MrWong99/auris/internal/session"
	"github.com/MrWong99/auris/pkg/audio"
	"github.com/MrWong99/auris/pkg/classify"
)

// shutdownTimeout bounds the HTTP server drain during Run teardown.
const shutdownTimeout = 10 * time.Second

// Providers holds the pluggable backends selected via the config registry.
// Populated by main.go.
type Providers struct {
	// Device is the audio capture backend. Required.
	Device audio.Device

	// Gate grants microphone access. May be nil.
	Gate audio.PermissionGate

	// Classifier is the sound recognition engine. Required.
	Classifier classify.Engine
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	metrics    *observe.Metrics
	store      history.Store
	tap        capture.Tap
	controller *session.Controller
	httpServer *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a detection store instead of creating one from config.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTap injects a chunk tap instead of creating a WAV tap from config.
func WithTap(t capture.Tap) Option {
	return func(a *App) { a.tap = t }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Device == nil {
		return nil, fmt.Errorf("app: capture device provider is required")
	}
	if providers.Classifier == nil {
		return nil, fmt.Errorf("app: classifier provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	if err := a.initTap(); err != nil {
		return nil, fmt.Errorf("app: init tap: %w", err)
	}
	if err := a.initSession(); err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}
	if err := a.initHTTP(); err != nil {
		return nil, fmt.Errorf("app: init http: %w", err)
	}

	return a, nil
}

// initHistory sets up the detection store: PostgreSQL when a DSN is
// configured, the in-memory ring otherwise.
func (a *App) initHistory(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	if dsn := a.cfg.History.PostgresDSN; dsn != "" {
		store, err := history.NewPostgresStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = store
		slog.Info("detection history backed by PostgreSQL")
	} else {
		a.store = history.NewMemStore(a.cfg.History.MaxEntries)
		slog.Info("detection history kept in memory", "max_entries", a.cfg.History.MaxEntries)
	}

	a.closers = append(a.closers, a.store.Close)
	return nil
}

// initTap creates the diagnostic WAV tap when configured.
func (a *App) initTap() error {
	if a.tap != nil || a.cfg.Audio.TapPath == "" {
		return nil
	}
	tap, err := capture.NewWavTap(a.cfg.Audio.TapPath, a.cfg.Audio.StreamConfig())
	if err != nil {
		return err
	}
	a.tap = tap
	slog.Info("capture tap enabled", "path", a.cfg.Audio.TapPath)
	return nil
}

// initSession builds the recording session controller.
func (a *App) initSession() error {
	controller, err := session.New(session.Config{
		Device:  a.providers.Device,
		Engine:  a.providers.Classifier,
		Gate:    a.providers.Gate,
		Stream:  a.cfg.Audio.StreamConfig(),
		Tap:     a.tap,
		Store:   a.store,
		Metrics: a.metrics,
		Restart: session.RestartPolicy{
			Enabled:    a.cfg.Session.AutoRestart,
			MaxRetries: a.cfg.Session.MaxRetries,
			Backoff:    time.Duration(a.cfg.Session.BackoffMillis) * time.Millisecond,
		},
	})
	if err != nil {
		return err
	}
	a.controller = controller
	a.closers = append(a.closers, controller.Close)
	return nil
}

// initHTTP builds the API server and its health checks.
func (a *App) initHTTP() error {
	checks := health.New(
		health.ModelChecker(a.providers.Classifier),
		health.DeviceChecker(a.controller.Probe, a.controller.Recording),
	)

	srv, err := api.New(api.Config{
		Controller: a.controller,
		Store:      a.store,
		Health:     checks,
		Metrics:    a.metrics,
	})
	if err != nil {
		return err
	}

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// Controller exposes the session controller, mainly for tests.
func (a *App) Controller() *session.Controller {
	return a.controller
}

// ApplyConfigDiff applies hot-reloadable config changes produced by the
// config watcher. Changes that require a restart are logged and skipped.
func (a *App) ApplyConfigDiff(d config.ConfigDiff) {
	if d.HistoryLimitChanged {
		if mem, ok := a.store.(*history.MemStore); ok {
			mem.SetLimit(d.NewHistoryLimit)
			slog.Info("history limit updated", "max_entries", d.NewHistoryLimit)
		}
	}
	if d.SessionChanged {
		slog.Warn("session restart policy changed; restart the process to apply")
	}
}

// Run prepares the session controller and serves HTTP until ctx is
// cancelled. It returns the context error on orderly shutdown or the HTTP
// server error if serving fails.
func (a *App) Run(ctx context.Context) error {
	a.controller.Init(ctx)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.httpServer.Shutdown(drainCtx); err != nil {
			slog.Warn("http server drain error", "err", err)
		}
		return ctx.Err()
	})

	return g.Wait()
}

// Shutdown tears all subsystems down in order. Safe to call multiple times.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
