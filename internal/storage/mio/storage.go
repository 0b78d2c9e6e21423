package mio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/JakeFAU/taskshell/internal/offline"
	"github.com/JakeFAU/taskshell/internal/storage/objectkey"
)

const contentType = "application/json"

// Storage keeps cache generations as objects in a MinIO bucket.
type Storage struct {
	db     *minio.Client
	bucket string
	layout objectkey.Layout
	hasher offline.Hasher
}

// New wraps a connected client.
func New(client *minio.Client, cfg Config, hasher offline.Hasher) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("empty MinIO bucket")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	return &Storage{
		db:     client,
		bucket: cfg.Bucket,
		layout: objectkey.New(cfg.Prefix),
		hasher: hasher,
	}, nil
}

func isNoSuchKey(err error) bool {
	var merr minio.ErrorResponse
	if errors.As(err, &merr) {
		return merr.Code == minio.NoSuchKey
	}
	return minio.ToErrorResponse(err).Code == minio.NoSuchKey
}

func (s *Storage) put(ctx context.Context, key string, data []byte) error {
	_, err := s.db.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (s *Storage) list(ctx context.Context, prefix string, fn func(key string) error) error {
	opts := minio.ListObjectsOptions{Prefix: prefix, Recursive: true}
	for info := range s.db.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return fmt.Errorf("list objects: %w", info.Err)
		}
		if err := fn(info.Key); err != nil {
			return err
		}
	}
	return nil
}

// Open writes the generation marker and returns the cache handle.
func (s *Storage) Open(ctx context.Context, name string) (offline.Cache, error) {
	ok, err := s.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := s.put(ctx, s.layout.Marker(name), []byte("{}")); err != nil {
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
	_, err := s.db.StatObject(ctx, s.bucket, s.layout.Marker(name), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
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
		if err := s.db.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
			return fmt.Errorf("remove object %s: %w", key, err)
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
	obj, err := c.store.db.GetObject(ctx, c.store.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return offline.Response{}, fmt.Errorf("get object: %w", err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return offline.Response{}, offline.ErrNotFound
		}
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
	return c.store.put(ctx, key, data)
}

// Delete removes the entry object for url.
func (c *Cache) Delete(ctx context.Context, url string) error {
	key, err := c.key(url)
	if err != nil {
		return err
	}
	err = c.store.db.RemoveObject(ctx, c.store.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("remove object %s: %w", key, err)
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
