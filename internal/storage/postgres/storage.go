// Package postgres provides cache storage backed by Postgres.
//
// Generation names live in <table>_generations; entries live in <table>, keyed
// by (generation, url) and removed with their generation by ON DELETE CASCADE.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/taskshell/internal/offline"
	"github.com/JakeFAU/taskshell/internal/storage/objectkey"
)

const defaultTable = "cache_entries"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table layout.
type Config struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	Table           string        `mapstructure:"table" yaml:"table"`
	MaxConns        int32         `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns" yaml:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	// AutoMigrate creates the tables at startup when they are missing.
	AutoMigrate bool `mapstructure:"auto_migrate" yaml:"auto_migrate"`
}

type queryCloser interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Storage keeps cache generations in two Postgres tables.
type Storage struct {
	pool        queryCloser
	table       string
	generations string
}

// New connects a pool using cfg, verifies it and prepares the schema when
// cfg.AutoMigrate is set.
func New(ctx context.Context, cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := newStorage(pool, table)
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool queryCloser, table string) (*Storage, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return newStorage(pool, name), nil
}

func newStorage(pool queryCloser, table string) *Storage {
	return &Storage{pool: pool, table: table, generations: table + "_generations"}
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Storage) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the generation and entry tables if they do not exist.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.generations),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	generation TEXT NOT NULL REFERENCES %s (name) ON DELETE CASCADE,
	url TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	headers JSONB NOT NULL,
	body BYTEA NOT NULL,
	stored_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (generation, url)
)`, s.table, s.generations),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Open registers the generation and returns its handle.
func (s *Storage) Open(ctx context.Context, name string) (offline.Cache, error) {
	if err := objectkey.ValidateName(name); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, s.generations)
	if _, err := s.pool.Exec(ctx, query, name); err != nil {
		return nil, fmt.Errorf("register cache: %w", err)
	}
	return &Cache{store: s, name: name}, nil
}

// Lookup returns the generation handle if it is registered.
func (s *Storage) Lookup(ctx context.Context, name string) (offline.Cache, bool, error) {
	ok, err := s.Has(ctx, name)
	if err != nil || !ok {
		return nil, false, err
	}
	return &Cache{store: s, name: name}, true, nil
}

// Has reports whether the generation is registered.
func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE name = $1)`, s.generations)
	var ok bool
	if err := s.pool.QueryRow(ctx, query, name).Scan(&ok); err != nil {
		return false, fmt.Errorf("check cache: %w", err)
	}
	return ok, nil
}

// Delete removes the generation; its entries go with it.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, s.generations)
	tag, err := s.pool.Exec(ctx, query, name)
	if err != nil {
		return false, fmt.Errorf("delete cache: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Keys lists generation names in sorted order.
func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT name FROM %s ORDER BY name`, s.generations)
	return s.strings(ctx, "list caches", query)
}

func (s *Storage) strings(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// Cache is one generation's rows.
type Cache struct {
	store *Storage
	name  string
}

// Name returns the generation name.
func (c *Cache) Name() string {
	return c.name
}

// Match reads the row stored for url.
func (c *Cache) Match(ctx context.Context, url string) (offline.Response, error) {
	query := fmt.Sprintf(`
SELECT status_code, headers, body, stored_at
FROM %s
WHERE generation = $1 AND url = $2`, c.store.table)

	var (
		resp    = offline.Response{URL: url}
		headers []byte
	)
	err := c.store.pool.QueryRow(ctx, query, c.name, url).Scan(&resp.StatusCode, &headers, &resp.Body, &resp.StoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return offline.Response{}, offline.ErrNotFound
	}
	if err != nil {
		return offline.Response{}, fmt.Errorf("read entry: %w", err)
	}
	if err := json.Unmarshal(headers, &resp.Header); err != nil {
		return offline.Response{}, fmt.Errorf("decode headers: %w", err)
	}
	return resp, nil
}

// Put upserts the row for url.
func (c *Cache) Put(ctx context.Context, url string, resp offline.Response) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("url is required")
	}
	headersJSON, err := json.Marshal(normalizeHeaders(resp.Header))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	generation,
	url,
	status_code,
	headers,
	body,
	stored_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)
ON CONFLICT (generation, url) DO UPDATE SET
	status_code = EXCLUDED.status_code,
	headers = EXCLUDED.headers,
	body = EXCLUDED.body,
	stored_at = EXCLUDED.stored_at`, c.store.table)

	args := []any{
		c.name,
		url,
		resp.StatusCode,
		headersJSON,
		body,
		resp.StoredAt,
	}
	if _, err := c.store.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// Delete removes the row for url.
func (c *Cache) Delete(ctx context.Context, url string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE generation = $1 AND url = $2`, c.store.table)
	if _, err := c.store.pool.Exec(ctx, query, c.name, url); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

// Keys lists stored URLs in sorted order.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT url FROM %s WHERE generation = $1 ORDER BY url`, c.store.table)
	return c.store.strings(ctx, "list entries", query, c.name)
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
