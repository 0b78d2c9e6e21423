// Package local implements cache storage on the local filesystem.
//
// Layout: <base_dir>/<cache name>/<sha256(url)>.json, one JSON-encoded entry
// per file.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/taskshell/internal/offline"
)

const entryExt = ".json"

// Config captures the parameters for the local filesystem storage.
type Config struct {
	// BaseDir is the root directory where cache generations are stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Storage keeps each generation in its own directory.
type Storage struct {
	baseDir string
	hasher  offline.Hasher
}

// New creates a new local filesystem-backed storage.
func New(cfg Config, hasher offline.Hasher) (*Storage, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	// Check for write permissions.
	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Storage{baseDir: filepath.Clean(cfg.BaseDir), hasher: hasher}, nil
}

func (s *Storage) dir(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid cache name %q", name)
	}
	return filepath.Join(s.baseDir, name), nil
}

// Open returns the named cache, creating its directory when absent.
func (s *Storage) Open(_ context.Context, name string) (offline.Cache, error) {
	dir, err := s.dir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Cache{name: name, dir: dir, hasher: s.hasher}, nil
}

// Lookup returns the named cache if its directory exists.
func (s *Storage) Lookup(ctx context.Context, name string) (offline.Cache, bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	dir, _ := s.dir(name)
	return &Cache{name: name, dir: dir, hasher: s.hasher}, true, nil
}

// Has reports whether the cache directory exists.
func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	dir, err := s.dir(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat cache directory: %w", err)
	}
	return info.IsDir(), nil
}

// Delete removes the cache directory and its entries.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	dir, _ := s.dir(name)
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("remove cache directory: %w", err)
	}
	return true, nil
}

// Keys lists cache directories in sorted order.
func (s *Storage) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Cache is one generation directory.
type Cache struct {
	name   string
	dir    string
	hasher offline.Hasher
}

// Name returns the generation name.
func (c *Cache) Name() string {
	return c.name
}

func (c *Cache) path(url string) (string, error) {
	digest, err := c.hasher.Hash([]byte(url))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	return filepath.Join(c.dir, digest+entryExt), nil
}

// Match reads the entry stored for url.
func (c *Cache) Match(_ context.Context, url string) (offline.Response, error) {
	p, err := c.path(url)
	if err != nil {
		return offline.Response{}, err
	}
	data, err := os.ReadFile(p) // #nosec G304 -- path derived from a digest inside the cache dir.
	if errors.Is(err, os.ErrNotExist) {
		return offline.Response{}, offline.ErrNotFound
	}
	if err != nil {
		return offline.Response{}, fmt.Errorf("read entry: %w", err)
	}
	return offline.DecodeEntry(data)
}

// Put writes the entry through a temp file and rename.
func (c *Cache) Put(_ context.Context, url string, resp offline.Response) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("url is required")
	}
	p, err := c.path(url)
	if err != nil {
		return err
	}
	resp.URL = url
	data, err := offline.EncodeEntry(resp)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("create temp entry: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp entry: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename entry: %w", err)
	}
	return nil
}

// Delete removes the entry file for url.
func (c *Cache) Delete(_ context.Context, url string) error {
	p, err := c.path(url)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove entry: %w", err)
	}
	return nil
}

// Keys lists stored URLs in sorted order.
func (c *Cache) Keys(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache directory: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entryExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(c.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read entry: %w", err)
		}
		resp, err := offline.DecodeEntry(data)
		if err != nil {
			return nil, err
		}
		keys = append(keys, resp.URL)
	}
	sort.Strings(keys)
	return keys, nil
}
