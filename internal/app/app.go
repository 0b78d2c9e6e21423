// Package app initializes and holds long-lived application services, acting as
// a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/taskshell/internal/api"
	"github.com/JakeFAU/taskshell/internal/clock/system"
	"github.com/JakeFAU/taskshell/internal/config"
	collyfetcher "github.com/JakeFAU/taskshell/internal/fetcher/colly"
	"github.com/JakeFAU/taskshell/internal/fetcher/status"
	"github.com/JakeFAU/taskshell/internal/id/uuid"
	"github.com/JakeFAU/taskshell/internal/lifecycle"
	"github.com/JakeFAU/taskshell/internal/offline"
	"github.com/JakeFAU/taskshell/internal/policy/ratelimit"
	"github.com/JakeFAU/taskshell/internal/poller"
)

// App holds the shared services for one process. It is built once at startup
// and closed by the command that created it. Cache storage and the services on
// top of it are connected on first use, so commands that never touch the cache
// never dial a backend.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	fetcher offline.Fetcher

	cacheOnce sync.Once
	cacheErr  error
	storage   offline.Storage
	manager   *offline.Manager
	host      *lifecycle.Host

	mu      sync.Mutex
	closers []io.Closer
}

// New validates cfg and builds the origin fetcher. It does not connect to the
// storage backend.
func New(_ context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("initializing application services", zap.String("storage", cfg.Storage.Provider))

	fetcher, err := collyfetcher.New(collyfetcher.Config{
		Origin:    cfg.Cache.Origin,
		UserAgent: cfg.Cache.UserAgent,
		Timeout:   cfg.Cache.FetchTimeout,
		Limiter: ratelimit.New(ratelimit.Config{
			RPS:   cfg.Cache.FetchRPS,
			Burst: cfg.Cache.FetchBurst,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}

	return &App{cfg: cfg, logger: logger, fetcher: fetcher}, nil
}

// initCache connects storage and builds the manager and host. It runs once;
// later callers get the same result.
func (a *App) initCache(ctx context.Context) error {
	a.cacheOnce.Do(func() {
		store, closers, err := newStorage(ctx, a.cfg.Storage)
		if err != nil {
			a.cacheErr = fmt.Errorf("init storage: %w", err)
			return
		}
		a.mu.Lock()
		a.closers = append(a.closers, closers...)
		a.mu.Unlock()

		manager, err := offline.NewManager(store, a.fetcher, offline.Config{
			Version:          a.cfg.Cache.Version,
			AppShell:         a.cfg.Cache.AppShell,
			StoreOnMiss:      a.cfg.Cache.StoreOnMiss,
			FetchConcurrency: a.cfg.Cache.FetchConcurrency,
		}, a.logger.Named("offline"))
		if err != nil {
			a.cacheErr = fmt.Errorf("init cache manager: %w", err)
			return
		}

		a.storage = store
		a.manager = manager
		a.host = lifecycle.NewHost(manager, a.logger)
		a.logger.Info("cache services ready", zap.String("storage", a.cfg.Storage.Provider))
	})
	return a.cacheErr
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Storage returns the configured cache storage, connecting it on first use.
func (a *App) Storage(ctx context.Context) (offline.Storage, error) {
	if err := a.initCache(ctx); err != nil {
		return nil, err
	}
	return a.storage, nil
}

// Manager returns the offline cache manager.
func (a *App) Manager(ctx context.Context) (*offline.Manager, error) {
	if err := a.initCache(ctx); err != nil {
		return nil, err
	}
	return a.manager, nil
}

// Host returns the cache lifecycle host.
func (a *App) Host(ctx context.Context) (*lifecycle.Host, error) {
	if err := a.initCache(ctx); err != nil {
		return nil, err
	}
	return a.host, nil
}

// Server builds the HTTP API over the lifecycle host.
func (a *App) Server(ctx context.Context) (*api.Server, error) {
	if err := a.initCache(ctx); err != nil {
		return nil, err
	}
	return api.NewServer(a.host, a.manager, uuid.New(), a.cfg, a.logger), nil
}

// NewPoller builds a poller that follows taskID on the configured status
// endpoint and renders into view.
func (a *App) NewPoller(taskID string, view poller.View) (*poller.Poller, error) {
	if taskID == "" {
		return nil, errors.New("task id is required")
	}
	client, err := status.New(status.Config{
		URL:       a.cfg.Poller.StatusURL,
		UserAgent: a.cfg.Poller.UserAgent,
		Timeout:   a.cfg.Poller.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init status client: %w", err)
	}
	return poller.New(
		taskID,
		a.cfg.Poller.IndexURL,
		client,
		view,
		system.New(),
		poller.Config{
			Interval:       a.cfg.Poller.Interval,
			RequestTimeout: a.cfg.Poller.RequestTimeout,
			RedirectDelay:  a.cfg.Poller.RedirectDelay,
		},
		a.logger.Named("poller"),
	), nil
}

// Close releases backend clients and flushes the logger.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	closeAll(closers, a.logger)
	// Sync fails on some terminals (ENOTTY on stderr); best effort only.
	_ = a.logger.Sync()
}

func closeAll(closers []io.Closer, logger *zap.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Warn("error closing backend client", zap.Error(err))
		}
	}
}
