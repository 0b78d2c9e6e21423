package app

import (
	"context"
	"fmt"
	"io"

	gcsclient "cloud.google.com/go/storage"

	"github.com/JakeFAU/taskshell/internal/config"
	"github.com/JakeFAU/taskshell/internal/hash/sha256"
	"github.com/JakeFAU/taskshell/internal/offline"
	"github.com/JakeFAU/taskshell/internal/storage/gcs"
	"github.com/JakeFAU/taskshell/internal/storage/local"
	"github.com/JakeFAU/taskshell/internal/storage/memory"
	"github.com/JakeFAU/taskshell/internal/storage/mio"
	"github.com/JakeFAU/taskshell/internal/storage/postgres"
	"github.com/JakeFAU/taskshell/internal/storage/redis"
)

// closerFunc adapts a no-error Close to io.Closer.
type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

// newStorage picks the backend named by cfg.Provider. The returned closers
// must be closed when the storage is no longer used.
func newStorage(ctx context.Context, cfg config.StorageConfig) (offline.Storage, []io.Closer, error) {
	switch cfg.Provider {
	case config.ProviderMemory, "":
		return memory.NewStorage(), nil, nil
	case config.ProviderLocal:
		store, err := local.New(cfg.Local, sha256.New())
		if err != nil {
			return nil, nil, fmt.Errorf("local storage: %w", err)
		}
		return store, nil, nil
	case config.ProviderRedis:
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		store, err := redis.New(client, cfg.Redis)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, []io.Closer{client}, nil
	case config.ProviderGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		store, err := gcs.New(client, cfg.GCS, sha256.New())
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, []io.Closer{client}, nil
	case config.ProviderMinIO:
		client, err := mio.NewClient(ctx, cfg.MinIO)
		if err != nil {
			return nil, nil, err
		}
		store, err := mio.New(client, cfg.MinIO, sha256.New())
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.ProviderPostgres:
		store, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return store, []io.Closer{closerFunc(store.Close)}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}
