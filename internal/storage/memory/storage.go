// Package memory stores cache generations in-memory for development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/taskshell/internal/offline"
)

// Storage keeps every generation in process memory.
type Storage struct {
	mu     sync.RWMutex
	caches map[string]*Cache
}

// NewStorage creates an empty in-memory storage.
func NewStorage() *Storage {
	return &Storage{caches: make(map[string]*Cache)}
}

// Open returns the named cache, creating it when absent.
func (s *Storage) Open(_ context.Context, name string) (offline.Cache, error) {
	if name == "" {
		return nil, fmt.Errorf("cache name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[name]
	if !ok {
		c = &Cache{name: name, entries: make(map[string]offline.Response)}
		s.caches[name] = c
	}
	return c, nil
}

// Lookup returns the named cache if it exists.
func (s *Storage) Lookup(_ context.Context, name string) (offline.Cache, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.caches[name]
	if !ok {
		return nil, false, nil
	}
	return c, true, nil
}

// Has reports whether the named cache exists.
func (s *Storage) Has(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.caches[name]
	return ok, nil
}

// Delete removes the named cache.
func (s *Storage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	delete(s.caches, name)
	return ok, nil
}

// Keys lists cache names in sorted order.
func (s *Storage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.caches))
	for name := range s.caches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Cache is a single in-memory generation.
type Cache struct {
	name    string
	mu      sync.RWMutex
	entries map[string]offline.Response
}

// Name returns the generation name.
func (c *Cache) Name() string {
	return c.name
}

// Match returns a copy of the stored entry.
func (c *Cache) Match(_ context.Context, url string) (offline.Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[url]
	if !ok {
		return offline.Response{}, offline.ErrNotFound
	}
	return resp.Clone(), nil
}

// Put stores a copy of resp under url.
func (c *Cache) Put(_ context.Context, url string, resp offline.Response) error {
	if url == "" {
		return fmt.Errorf("url is required")
	}
	resp = resp.Clone()
	resp.URL = url
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = resp
	return nil
}

// Delete removes the entry for url.
func (c *Cache) Delete(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
	return nil
}

// Keys lists stored URLs in sorted order.
func (c *Cache) Keys(_ context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
