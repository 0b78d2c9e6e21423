// Package status implements poller.StatusFetcher over HTTP.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/taskshell/internal/task"
)

const maxBodyBytes = 1 << 20

// Config controls the status client.
type Config struct {
	// URL is the status endpoint; the task id is sent as the task_id query parameter.
	URL       string
	UserAgent string
	// Timeout caps every request on top of the caller's context (default 450ms).
	Timeout time.Duration
}

// Client queries a task status endpoint.
type Client struct {
	endpoint  *url.URL
	userAgent string
	http      *http.Client
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("status url is required")
	}
	endpoint, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse status url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 450 * time.Millisecond
	}
	return &Client{
		endpoint:  endpoint,
		userAgent: cfg.UserAgent,
		http: &http.Client{
			Timeout:   timeout,
			Transport: newHTTPTransport(),
		},
	}, nil
}

// FetchStatus issues GET <url>?task_id=<id> and decodes the JSON payload.
func (c *Client) FetchStatus(ctx context.Context, taskID string) (task.Status, error) {
	u := *c.endpoint
	q := u.Query()
	q.Set("task_id", taskID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return task.Status{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return task.Status{}, fmt.Errorf("status request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return task.Status{}, fmt.Errorf("status request: unexpected status %d", resp.StatusCode)
	}

	var payload task.Status
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		return task.Status{}, fmt.Errorf("decode status: %w", err)
	}
	if payload.State == "" {
		return task.Status{}, errors.New("decode status: missing state")
	}
	return payload, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}
}
