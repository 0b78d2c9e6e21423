// Package gcs provides cache storage backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/taskshell/internal/offline"
	"github.com/JakeFAU/taskshell/internal/storage/objectkey"
)

const contentType = "application/json"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// Storage keeps cache generations as objects in a configured GCS bucket.
type Storage struct {
	client *storage.Client
	bucket string
	layout objectkey.Layout
	hasher offline.Hasher
}

// New creates a GCS-backed cache storage.
func New(client *storage.Client, cfg Config, hasher offline.Hasher) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	return &Storage{
		client: client,
		bucket: cfg.Bucket,
		layout: objectkey.New(cfg.Prefix),
		hasher: hasher,
	}, nil
}

func (s *Storage) handle() *storage.BucketHandle {
	return s.client.Bucket(s.bucket)
}

func (s *Storage) write(ctx context.Context, key string, data []byte) error {
	writer := s.handle().Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func (s *Storage) list(ctx context.Context, prefix string, fn func(name string) error) error {
	it := s.handle().Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("list objects: %w", err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
}

// Open writes the generation marker and returns the cache handle.
func (s *Storage) Open(ctx context.Context, name string) (offline.Cache, error) {
	if err := objectkey.ValidateName(name); err != nil {
		return nil, err
	}
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.write(ctx, s.layout.Marker(name), []byte("{}")); err != nil {
			return nil, fmt.Errorf("write generation marker: %w", err)
		}
	}
	return &Cache{store: s, name: name}, nil
}

// Lookup returns the cache handle if the generation marker exists.
func (s *Storage) Lookup(ctx context.Context, name string) (offline.Cache, bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Cache{store: s, name: name}, true, nil
}

// Has reports whether the generation marker exists.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	if err := objectkey.ValidateName(name); err != nil {
		return false, err
	}
	_, err := s.handle().Object(s.layout.Marker(name)).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat generation marker: %w", err)
	}
	return true, nil
}

// Delete removes every object owned by the generation.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	err = s.list(ctx, s.layout.Generation(name), func(key string) error {
		err := s.handle().Object(key).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("delete object %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Keys lists generation names found by their markers.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	var names []string
	err := s.list(ctx, s.layout.Prefix(), func(key string) error {
		if name, ok := s.layout.NameFromMarker(key); ok {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Cache is one generation inside the bucket.
type Cache struct {
	store *Storage
	name  string
}

// Name returns the generation name.
func (c *Cache) Name() string {
	return c.name
}

func (c *Cache) key(url string) (string, error) {
	digest, err := c.store.hasher.Hash([]byte(url))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	return c.store.layout.Entry(c.name, digest), nil
}

func (c *Cache) read(ctx context.Context, key string) (offline.Response, error) {
	reader, err := c.store.handle().Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return offline.Response{}, offline.ErrNotFound
	}
	if err != nil {
		return offline.Response{}, fmt.Errorf("open object: %w", err)
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return offline.Response{}, fmt.Errorf("read object: %w", err)
	}
	return offline.DecodeEntry(data)
}

// Match downloads the entry stored for url.
func (c *Cache) Match(ctx context.Context, url string) (offline.Response, error) {
	key, err := c.key(url)
	if err != nil {
		return offline.Response{}, err
	}
	return c.read(ctx, key)
}

// Put uploads the encoded entry for url.
func (c *Cache) Put(ctx context.Context, url string, resp offline.Response) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("url is required")
	}
	key, err := c.key(url)
	if err != nil {
		return err
	}
	resp.URL = url
	data, err := offline.EncodeEntry(resp)
	if err != nil {
		return err
	}
	return c.store.write(ctx, key, data)
}

// Delete removes the entry object for url.
func (c *Cache) Delete(ctx context.Context, url string) error {
	key, err := c.key(url)
	if err != nil {
		return err
	}
	err = c.store.handle().Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// Keys lists stored URLs in sorted order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	var urls []string
	err := c.store.list(ctx, c.store.layout.Generation(c.name), func(key string) error {
		if !c.store.layout.IsEntry(key) {
			return nil
		}
		resp, err := c.read(ctx, key)
		if err != nil {
			return err
		}
		urls = append(urls, resp.URL)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(urls)
	return urls, nil
}
