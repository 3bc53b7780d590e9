// Package app wires all Wren subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects the
// store, cache, metrics, session manager, validation workflow, and CRM
// syncer; Run serves HTTP until the context is cancelled; Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates the real
// implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/meetwren/wren/internal/api"
	"github.com/meetwren/wren/internal/callbot"
	"github.com/meetwren/wren/internal/config"
	"github.com/meetwren/wren/internal/crmsync"
	"github.com/meetwren/wren/internal/engine"
	"github.com/meetwren/wren/internal/health"
	"github.com/meetwren/wren/internal/observe"
	"github.com/meetwren/wren/internal/session"
	"github.com/meetwren/wren/internal/store"
	"github.com/meetwren/wren/internal/store/cache"
	"github.com/meetwren/wren/internal/store/memstore"
	"github.com/meetwren/wren/internal/store/postgres"
	"github.com/meetwren/wren/internal/summary"
	"github.com/meetwren/wren/internal/validation"
	"github.com/meetwren/wren/pkg/crm"
	"github.com/meetwren/wren/pkg/platform"
)

// shutdownGrace bounds the HTTP server drain during Shutdown.
const shutdownGrace = 10 * time.Second

// Adapters holds the pluggable integrations, populated by main.go via the
// config registry.
type Adapters struct {
	Platforms map[string]platform.Adapter
	Engine    engine.Engine
	CRMs      map[string]crm.Adapter
}

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	adapters *Adapters

	store    store.Store
	rdb      *redis.Client
	cache    *cache.SessionCache
	provider *observe.Provider
	metrics  *observe.Metrics

	bots     *callbot.Service
	manager  *session.Manager
	workflow *validation.Workflow
	syncer   *crmsync.Syncer
	monitor  *callbot.Monitor
	api      *api.Server

	// closers run in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of creating one from config.
func WithStore(st store.Store) Option {
	return func(a *App) { a.store = st }
}

// WithMetrics injects metric instruments instead of building a Prometheus
// provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires all subsystems together. The adapters come from main.go,
// constructed through the config registry.
func New(ctx context.Context, cfg *config.Config, adapters *Adapters, opts ...Option) (*App, error) {
	if adapters == nil || adapters.Engine == nil {
		return nil, fmt.Errorf("app: an engine adapter is required")
	}

	a := &App{cfg: cfg, adapters: adapters}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init cache: %w", err)
	}
	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("app: init metrics: %w", err)
	}
	a.initPipeline()

	a.api = api.New(a.manager, a.workflow, a.syncer, a.store, a.metrics, cfg.Server.AuthToken,
		api.WithChunkDuration(cfg.Session.ChunkDuration))
	return a, nil
}

// initStore selects the persistence backend per config unless one was
// injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Store.Driver {
	case config.StorePostgres:
		st, err := postgres.Connect(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		a.store = st
	default:
		a.store = memstore.New()
	}
	a.closers = append(a.closers, a.store.Close)
	slog.Info("store ready", "driver", a.cfg.Store.Driver)
	return nil
}

// initCache connects the Redis snapshot cache when configured. The cache is
// optional; sessions run fine without it.
func (a *App) initCache(ctx context.Context) error {
	if a.cfg.Store.RedisAddr == "" {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Store.RedisAddr,
		Password: a.cfg.Store.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("ping redis %s: %w", a.cfg.Store.RedisAddr, err)
	}

	a.rdb = rdb
	a.cache = cache.New(rdb)
	a.closers = append(a.closers, rdb.Close)
	slog.Info("session cache ready", "addr", a.cfg.Store.RedisAddr)
	return nil
}

// initMetrics builds the Prometheus-backed meter provider, or falls back to
// noop instruments when metrics are disabled.
func (a *App) initMetrics() error {
	if a.metrics != nil {
		return nil
	}
	if !a.cfg.Metrics.Enabled {
		a.metrics = observe.Noop()
		return nil
	}

	provider, err := observe.InitProvider()
	if err != nil {
		return err
	}
	metrics, err := observe.New(provider.Meter())
	if err != nil {
		return err
	}
	a.provider = provider
	a.metrics = metrics
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return provider.Shutdown(ctx)
	})
	return nil
}

// initPipeline assembles the session manager and the packages downstream of
// it.
func (a *App) initPipeline() {
	a.bots = callbot.NewService(a.adapters.Platforms)
	gen := summary.NewGenerator(a.adapters.Engine, a.store)

	managerOpts := []session.Option{session.WithMetrics(a.metrics)}
	if a.cache != nil {
		managerOpts = append(managerOpts, session.WithCache(a.cache))
	}
	a.manager = session.NewManager(a.bots, a.adapters.Engine, gen, a.store, session.Config{
		MaxReconnectAttempts: a.cfg.Session.MaxReconnectAttempts,
		ReconnectDelayBase:   a.cfg.Session.ReconnectDelayBase,
		SessionTimeout:       a.cfg.Session.Timeout,
		QueueSize:            a.cfg.Session.MaxChunkQueue,
		ErrorThreshold:       a.cfg.Session.ErrorThreshold,
		QualityInterval:      a.cfg.Session.QualityCheckInterval,
	}, managerOpts...)

	a.workflow = validation.New(a.store, validation.WithExpiry(a.cfg.Validation.Expiry))
	a.syncer = crmsync.New(a.adapters.CRMs, a.store, crmsync.WithMetrics(a.metrics))
	a.monitor = callbot.NewMonitor(callbot.DefaultMonitorInterval, a.manager.Watched, a.manager.HandleDisconnection)
}

// Manager exposes the session manager, mainly for CLI subcommands.
func (a *App) Manager() *session.Manager { return a.manager }

// Handler builds the full HTTP tree: health probes, optional /metrics, and
// the authenticated API.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.healthHandler().Register(mux)
	if a.provider != nil && a.cfg.Metrics.ListenAddr == "" {
		mux.Handle("GET /metrics", a.provider.Handler())
	}
	mux.Handle("/", a.api.Routes())
	return mux
}

// healthHandler assembles readiness checkers for the dependencies this
// deployment actually has.
func (a *App) healthHandler() *health.Handler {
	var checkers []health.Checker
	if ps, ok := a.store.(*postgres.Store); ok {
		checkers = append(checkers, health.Checker{Name: "postgres", Check: ps.Ping})
	}
	if a.rdb != nil {
		checkers = append(checkers, health.Checker{Name: "redis", Check: func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		}})
	}
	return health.New(checkers...)
}

// Run serves HTTP until ctx is cancelled, then drains. The connection
// monitor runs for the whole lifetime of the server.
func (a *App) Run(ctx context.Context) error {
	a.monitor.Start()
	defer a.monitor.Stop()

	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("api server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("app: api server: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if a.provider != nil && a.cfg.Metrics.ListenAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", a.provider.Handler())
		metricsSrv = &http.Server{
			Addr:              a.cfg.Metrics.ListenAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("metrics server listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("app: metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		drain, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(drain); err != nil {
				slog.Warn("metrics server shutdown", "err", err)
			}
		}
		return srv.Shutdown(drain)
	})

	return g.Wait()
}

// Shutdown stops live sessions and closes all subsystems in order. Safe to
// call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.monitor.Stop()

		for _, snap := range a.manager.Snapshots() {
			if _, err := a.manager.Stop(ctx, snap.SessionID, "server shutdown"); err != nil {
				slog.Warn("session stop during shutdown", "session_id", snap.SessionID, "err", err)
			}
		}

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
