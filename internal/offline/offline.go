// Package offline implements an app-shell cache with versioned generations.
//
// A generation is a named cache ("news-v2"). Install pre-populates the current
// generation with the app shell manifest, all or nothing. Fetch serves from any
// generation and falls back to the network on a miss. Activate deletes every
// generation except the current one.
package offline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a cache or entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBadStatus is returned when a network response is not 2xx.
	ErrBadStatus = errors.New("unexpected response status")
)

// Response is a stored or freshly fetched HTTP response.
type Response struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at,omitempty"`
}

// OK reports whether the response has a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Clone returns a deep copy of r.
func (r Response) Clone() Response {
	cp := r
	cp.Header = r.Header.Clone()
	cp.Body = append([]byte(nil), r.Body...)
	return cp
}

// Cache is a single named generation.
type Cache interface {
	Name() string
	// Match returns the entry stored for url or ErrNotFound.
	Match(ctx context.Context, url string) (Response, error)
	Put(ctx context.Context, url string, resp Response) error
	// Delete removes the entry for url. A missing entry is not an error.
	Delete(ctx context.Context, url string) error
	// Keys lists the stored URLs in sorted order.
	Keys(ctx context.Context) ([]string, error)
}

// Storage holds every generation, keyed by name.
type Storage interface {
	// Open returns the named cache, creating it when absent.
	Open(ctx context.Context, name string) (Cache, error)
	// Lookup returns the named cache without creating it. The boolean is
	// false when no such generation exists.
	Lookup(ctx context.Context, name string) (Cache, bool, error)
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes the named cache and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Keys lists generation names in sorted order.
	Keys(ctx context.Context) ([]string, error)
}

// Fetcher performs live network fetches.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// Hasher computes digests used to derive storage object names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// NormalizeKey strips the fragment from a request URL so "/a.css#x" and
// "/a.css" share an entry.
func NormalizeKey(url string) string {
	if i := strings.IndexByte(url, '#'); i >= 0 {
		url = url[:i]
	}
	return strings.TrimSpace(url)
}
