// Package redis provides cache storage backed by Redis.
//
// Each generation is a hash keyed by URL; a set tracks generation names.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/taskshell/internal/offline"
	"github.com/JakeFAU/taskshell/internal/storage/objectkey"
)

// DefaultPrefix namespaces every key written by Storage.
const DefaultPrefix = "taskshell:"

// Config captures the Redis connection parameters.
type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// Commander is the subset of go-redis commands the storage issues.
type Commander interface {
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *goredis.IntCmd
	HKeys(ctx context.Context, key string) *goredis.StringSliceCmd
	HDel(ctx context.Context, key string, fields ...string) *goredis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *goredis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *goredis.BoolCmd
	SMembers(ctx context.Context, key string) *goredis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// NewClient opens a client and verifies connectivity.
func NewClient(cfg Config) (*goredis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// Storage keeps generations in Redis hashes.
type Storage struct {
	cmd    Commander
	prefix string
}

// New wraps a Redis command set.
func New(cmd Commander, cfg Config) (*Storage, error) {
	if cmd == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Storage{cmd: cmd, prefix: prefix}, nil
}

func (s *Storage) namesKey() string {
	return s.prefix + "caches"
}

func (s *Storage) cacheKey(name string) string {
	return s.prefix + "cache:" + name
}

// Open registers the generation name and returns its handle.
func (s *Storage) Open(ctx context.Context, name string) (offline.Cache, error) {
	if err := objectkey.ValidateName(name); err != nil {
		return nil, err
	}
	if err := s.cmd.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("register cache: %w", err)
	}
	return &Cache{store: s, name: name}, nil
}

// Lookup returns the generation handle if the name is registered.
func (s *Storage) Lookup(ctx context.Context, name string) (offline.Cache, bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Cache{store: s, name: name}, true, nil
}

// Has reports whether the generation name is registered.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	ok, err := s.cmd.SIsMember(ctx, s.namesKey(), name).Result()
	if err != nil {
		return false, fmt.Errorf("check cache: %w", err)
	}
	return ok, nil
}

// Delete drops the generation hash and its registration.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	if err := s.cmd.Del(ctx, s.cacheKey(name)).Err(); err != nil {
		return false, fmt.Errorf("delete cache: %w", err)
	}
	n, err := s.cmd.SRem(ctx, s.namesKey(), name).Result()
	if err != nil {
		return false, fmt.Errorf("unregister cache: %w", err)
	}
	return n > 0, nil
}

// Keys lists registered generation names in sorted order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.cmd.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Cache is one generation hash.
type Cache struct {
	store *Storage
	name  string
}

// Name returns the generation name.
func (c *Cache) Name() string {
	return c.name
}

// Match reads the entry stored for url.
func (c *Cache) Match(ctx context.Context, url string) (offline.Response, error) {
	raw, err := c.store.cmd.HGet(ctx, c.store.cacheKey(c.name), url).Result()
	if errors.Is(err, goredis.Nil) {
		return offline.Response{}, offline.ErrNotFound
	}
	if err != nil {
		return offline.Response{}, fmt.Errorf("read entry: %w", err)
	}
	return offline.DecodeEntry([]byte(raw))
}

// Put writes the entry for url.
func (c *Cache) Put(ctx context.Context, url string, resp offline.Response) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("url is required")
	}
	resp.URL = url
	data, err := offline.EncodeEntry(resp)
	if err != nil {
		return err
	}
	if err := c.store.cmd.HSet(ctx, c.store.cacheKey(c.name), url, data).Err(); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// Delete removes the hash field for url.
func (c *Cache) Delete(ctx context.Context, url string) error {
	if err := c.store.cmd.HDel(ctx, c.store.cacheKey(c.name), url).Err(); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// Keys lists stored URLs in sorted order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	urls, err := c.store.cmd.HKeys(ctx, c.store.cacheKey(c.name)).Result()
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	sort.Strings(urls)
	return urls, nil
}
