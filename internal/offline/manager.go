package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/taskshell/internal/metrics"
)

const defaultFetchConcurrency = 4

// Config describes the current cache generation.
type Config struct {
	// Version names the current generation; bump it when the app shell changes.
	Version string
	// AppShell lists the URLs pre-populated at install time.
	AppShell []string
	// StoreOnMiss writes network responses for cache misses into the current
	// generation. When false the cache only holds what Install stored.
	StoreOnMiss bool
	// FetchConcurrency bounds parallel manifest fetches during Install.
	FetchConcurrency int
}

// Manager runs the install, fetch and activate hooks against a Storage.
type Manager struct {
	storage  Storage
	fetcher  Fetcher
	cfg      Config
	appShell []string
	now      func() time.Time
	logger   *zap.Logger
}

// NewManager validates cfg and builds a Manager.
func NewManager(storage Storage, fetcher Fetcher, cfg Config, logger *zap.Logger) (*Manager, error) {
	if storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if fetcher == nil {
		return nil, errors.New("network fetcher is required")
	}
	if cfg.Version == "" {
		return nil, errors.New("cache version is required")
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = defaultFetchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		storage:  storage,
		fetcher:  fetcher,
		cfg:      cfg,
		appShell: dedupe(cfg.AppShell),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(zap.String("cache", cfg.Version)),
	}, nil
}

// Version returns the current generation name.
func (m *Manager) Version() string {
	return m.cfg.Version
}

// AppShell returns the normalized manifest.
func (m *Manager) AppShell() []string {
	return append([]string(nil), m.appShell...)
}

// Generations lists every stored generation.
func (m *Manager) Generations(ctx context.Context) ([]string, error) {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	return names, nil
}

// Install fetches every app shell URL and stores the responses in the current
// generation. If any fetch fails nothing is written. If a write fails the
// generation is returned to its prior state: a generation created by this call
// is removed, an existing one gets its previous entries back.
func (m *Manager) Install(ctx context.Context) (err error) {
	defer func() { metrics.ObserveCacheInstall(err) }()
	start := time.Now()

	defer func() {
		if err != nil {
			m.logger.Error("cache install failed", zap.Error(err))
			err = fmt.Errorf("install %s: %w", m.cfg.Version, err)
		}
	}()

	responses, err := m.fetchAll(ctx)
	if err != nil {
		return err
	}

	existed, err := m.storage.Has(ctx, m.cfg.Version)
	if err != nil {
		return err
	}
	cache, err := m.storage.Open(ctx, m.cfg.Version)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}

	var prior map[string]*Response
	if existed {
		if prior, err = m.snapshot(ctx, cache); err != nil {
			return err
		}
	}
	if err = m.putAll(ctx, cache, responses); err != nil {
		if existed {
			m.restore(cache, prior)
		} else {
			m.discard(m.cfg.Version)
		}
		return err
	}

	m.logger.Info("cache installed",
		zap.Int("entries", len(responses)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (m *Manager) fetchAll(ctx context.Context) ([]Response, error) {
	responses := make([]Response, len(m.appShell))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.FetchConcurrency)
	for i, url := range m.appShell {
		g.Go(func() error {
			resp, err := m.fetcher.Fetch(gctx, url)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", url, err)
			}
			if !resp.OK() {
				return fmt.Errorf("fetch %s: %w: %d", url, ErrBadStatus, resp.StatusCode)
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return responses, nil
}

func (m *Manager) putAll(ctx context.Context, cache Cache, responses []Response) error {
	stored := m.now()
	for i, url := range m.appShell {
		resp := responses[i]
		resp.StoredAt = stored
		if err := cache.Put(ctx, url, resp); err != nil {
			return fmt.Errorf("store %s: %w", url, err)
		}
	}
	return nil
}

// snapshot records the entries an install is about to overwrite. A nil value
// marks a URL that had no entry.
func (m *Manager) snapshot(ctx context.Context, cache Cache) (map[string]*Response, error) {
	prior := make(map[string]*Response, len(m.appShell))
	for _, url := range m.appShell {
		resp, err := cache.Match(ctx, url)
		switch {
		case err == nil:
			prior[url] = &resp
		case errors.Is(err, ErrNotFound):
			prior[url] = nil
		default:
			return nil, fmt.Errorf("snapshot %s: %w", url, err)
		}
	}
	return prior, nil
}

// cleanupContext outlives a canceled caller so rollback still runs.
func cleanupContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func (m *Manager) restore(cache Cache, prior map[string]*Response) {
	ctx, cancel := cleanupContext()
	defer cancel()
	for url, resp := range prior {
		var err error
		if resp == nil {
			err = cache.Delete(ctx, url)
		} else {
			err = cache.Put(ctx, url, *resp)
		}
		if err != nil {
			m.logger.Warn("failed to restore cache entry", zap.String("url", url), zap.Error(err))
		}
	}
}

func (m *Manager) discard(name string) {
	ctx, cancel := cleanupContext()
	defer cancel()
	if _, err := m.storage.Delete(ctx, name); err != nil {
		m.logger.Warn("failed to discard partial cache", zap.Error(err))
	}
}

// Fetch serves url from the cache, falling back to the network on a miss. The
// boolean reports whether the response came from the cache. Network errors are
// returned to the caller.
func (m *Manager) Fetch(ctx context.Context, url string) (Response, bool, error) {
	key := NormalizeKey(url)
	resp, err := m.match(ctx, key)
	switch {
	case err == nil:
		metrics.ObserveCacheLookup(true)
		return resp, true, nil
	case !errors.Is(err, ErrNotFound):
		m.logger.Warn("cache lookup failed, using network", zap.String("url", key), zap.Error(err))
	}
	metrics.ObserveCacheLookup(false)

	resp, err = m.fetcher.Fetch(ctx, key)
	if err != nil {
		return Response{}, false, fmt.Errorf("network fetch %s: %w", key, err)
	}
	if m.cfg.StoreOnMiss && resp.OK() {
		m.storeMiss(ctx, key, resp)
	}
	return resp, false, nil
}

// match looks in the current generation first, then in the others.
func (m *Manager) match(ctx context.Context, url string) (Response, error) {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("list caches: %w", err)
	}
	ordered := make([]string, 0, len(names))
	for _, name := range names {
		if name == m.cfg.Version {
			ordered = append([]string{name}, ordered...)
			continue
		}
		ordered = append(ordered, name)
	}
	for _, name := range ordered {
		// A generation purged after listing is skipped, never recreated.
		cache, ok, err := m.storage.Lookup(ctx, name)
		if err != nil {
			return Response{}, fmt.Errorf("open cache %s: %w", name, err)
		}
		if !ok {
			continue
		}
		resp, err := cache.Match(ctx, url)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Response{}, fmt.Errorf("match in %s: %w", name, err)
		}
	}
	return Response{}, ErrNotFound
}

func (m *Manager) storeMiss(ctx context.Context, url string, resp Response) {
	cache, err := m.storage.Open(ctx, m.cfg.Version)
	if err != nil {
		m.logger.Warn("open cache for miss failed", zap.String("url", url), zap.Error(err))
		return
	}
	resp.StoredAt = m.now()
	if err := cache.Put(ctx, url, resp); err != nil {
		m.logger.Warn("store miss failed", zap.String("url", url), zap.Error(err))
	}
}

// Activate deletes every generation except the current one and returns the
// names it removed.
func (m *Manager) Activate(ctx context.Context) ([]string, error) {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("activate: list caches: %w", err)
	}
	var purged []string
	for _, name := range names {
		if name == m.cfg.Version {
			continue
		}
		deleted, err := m.storage.Delete(ctx, name)
		if err != nil {
			metrics.AddGenerationsPurged(len(purged))
			return purged, fmt.Errorf("activate: delete %s: %w", name, err)
		}
		if deleted {
			purged = append(purged, name)
		}
	}
	metrics.AddGenerationsPurged(len(purged))
	if len(purged) > 0 {
		m.logger.Info("stale caches purged", zap.Strings("purged", purged))
	}
	return purged, nil
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		key := NormalizeKey(u)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
