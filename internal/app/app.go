// Package app wires all voxlabel subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP and drives the session sweeper, and Shutdown
// purges every session and tears everything down in order.
//
// For testing, inject a clock, a summariser or metrics via functional options.
// When an option is not provided, New builds the real implementation from the
// config and providers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxlabel/internal/api"
	"github.com/MrWong99/voxlabel/internal/config"
	"github.com/MrWong99/voxlabel/internal/health"
	"github.com/MrWong99/voxlabel/internal/observe"
	"github.com/MrWong99/voxlabel/internal/override"
	"github.com/MrWong99/voxlabel/internal/resilience"
	"github.com/MrWong99/voxlabel/internal/session"
	"github.com/MrWong99/voxlabel/internal/summary"
	"github.com/MrWong99/voxlabel/internal/workspace"
	"github.com/MrWong99/voxlabel/pkg/provider/llm"
)

// shutdownGrace bounds the graceful HTTP shutdown inside Run.
const shutdownGrace = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	// LLM backs the summary endpoint.
	LLM llm.Provider

	// LLMName labels LLM in logs. Defaults to the configured summariser name.
	LLMName string

	// Fallbacks are tried in order when LLM fails or its circuit is open.
	Fallbacks []NamedLLM
}

// NamedLLM is a fallback summariser provider.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	now        func() time.Time
	logLevel   *slog.LevelVar
	metrics    *observe.Metrics
	summariser summary.Summariser

	// Subsystems, initialised in New.
	workspaces *workspace.Registry
	overrides  *override.Registry
	sessions   *session.Manager
	handler    http.Handler

	configPath string
	watcher    *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithClock replaces time.Now for every lifecycle decision.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// WithLogLevel hands New the level variable of the process logger so log
// level changes can be hot-reloaded.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// WithMetrics injects the metric instruments instead of using the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithSummariser injects a summariser instead of wrapping providers.LLM.
func WithSummariser(s summary.Summariser) Option {
	return func(a *App) { a.summariser = s }
}

// WithConfigFile makes Serve watch path and hot-reload log level and session
// timing when it changes.
func WithConfigFile(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithCloser registers fn to run during Shutdown, after all sessions were
// purged.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
func New(cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.summariser == nil && providers.LLM != nil {
		a.summariser = summary.NewLLMSummariser(failover(cfg, providers, a.now))
	}

	// ── 1. Workspaces + overrides (shared clock) ─────────────────────────
	a.workspaces = workspace.NewRegistry(workspace.WithClock(a.now))
	a.overrides = override.NewRegistry(a.workspaces, override.WithClock(a.now))

	// ── 2. Session lifecycle ─────────────────────────────────────────────
	a.sessions = session.NewManager(a.overrides, session.Config{
		Timing:     TimingOf(cfg.Session),
		Now:        a.now,
		Workspaces: a.workspaces,
		OnPurge: func(_ string, reason session.PurgeReason) {
			a.metrics.RecordPurge(context.Background(), string(reason))
		},
	})
	if err := a.metrics.ObserveActiveSessions(a.sessions.Len); err != nil {
		return nil, fmt.Errorf("app: register session gauge: %w", err)
	}

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	mux := http.NewServeMux()
	api.New(api.Config{
		Workspaces: a.workspaces,
		Sessions:   a.sessions,
		Summariser: a.summariser,
		Metrics:    a.metrics,
	}).Register(mux)

	health.New(
		health.Heartbeat("sweeper", a.sessions.LastSweep, func() time.Duration {
			return 3 * a.sessions.Timing().SweepInterval
		}, a.now),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.handler = observe.Middleware(a.metrics)(mux)

	// ── 4. Config hot reload ─────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.Reload)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.watcher = w
	}

	slog.Info("app initialised",
		"session_timeout", cfg.Session.Timeout,
		"summariser", cfg.Summariser.Name,
		"summariser_fallbacks", len(providers.Fallbacks),
	)
	return a, nil
}

// failover puts every summariser provider behind a circuit breaker.
func failover(cfg *config.Config, ps *Providers, now func() time.Time) *resilience.LLM {
	name := ps.LLMName
	if name == "" {
		name = cfg.Summariser.Name
	}
	f := resilience.NewLLM(name, ps.LLM, resilience.BreakerConfig{Now: now})
	for _, fb := range ps.Fallbacks {
		f.AddFallback(fb.Name, fb.Provider)
	}
	return f
}

// TimingOf converts the session config section into lifecycle timing.
func TimingOf(c config.SessionConfig) session.Timing {
	return session.Timing{
		Timeout:          c.Timeout,
		WarningThreshold: c.WarningThreshold,
		ExtendStep:       c.ExtendStep,
		SweepInterval:    c.SweepInterval,
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Sessions returns the session lifecycle manager.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable part of d. It is the [config.ReloadFunc]
// of the watcher installed by [WithConfigFile].
func (a *App) Reload(d config.ConfigDiff, _ *config.Config) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		a.sessions.SetTiming(TimingOf(d.NewSession))
	}
	for _, key := range d.RestartRequired {
		slog.Warn("config change requires a restart to take effect", "setting", key)
	}
}

// SlogLevel converts a config log level into a slog level.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on cfg.Server.ListenAddr and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln and runs the session sweeper until ctx is
// cancelled or either fails. The HTTP server is shut down gracefully.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.sessions.Run(gctx)
	})

	if a.watcher != nil {
		g.Go(func() error {
			return a.watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	slog.Info("app running")
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown purges every session, then runs the registered closers in order.
// It respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		n := a.sessions.ClearAll()
		slog.Info("shutting down", "sessions_purged", n, "closers", len(a.closers))

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
