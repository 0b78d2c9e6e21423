// Package collyfetcher implements offline.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/taskshell/internal/offline"
)

const defaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	// Origin resolves relative app shell URLs such as "/a.css".
	Origin    string
	UserAgent string
	Timeout   time.Duration
	Headers   http.Header
	// Limiter throttles requests per host when set.
	Limiter Limiter
}

// Limiter blocks until a request to rawURL may proceed.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements offline.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	origin        *url.URL
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) (*Fetcher, error) {
	var origin *url.URL
	if strings.TrimSpace(cfg.Origin) != "" {
		u, err := url.Parse(cfg.Origin)
		if err != nil {
			return nil, fmt.Errorf("parse origin: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("origin %q must be absolute", cfg.Origin)
		}
		origin = u
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		origin:        origin,
		baseCollector: c,
	}, nil
}

// Resolve turns a cache key into an absolute URL.
func (f *Fetcher) Resolve(raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if f.origin == nil {
		return "", fmt.Errorf("relative url %q without origin", raw)
	}
	return f.origin.ResolveReference(ref).String(), nil
}

// Fetch executes a single HTTP GET using Colly. Non-2xx responses are returned
// with their status code rather than as errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (offline.Response, error) {
	target, err := f.Resolve(rawURL)
	if err != nil {
		return offline.Response{}, err
	}
	if f.cfg.Limiter != nil {
		if err := f.cfg.Limiter.Wait(ctx, target); err != nil {
			return offline.Response{}, err
		}
	}

	var (
		result   offline.Response
		fetchErr error
	)
	collector := f.buildCollector(ctx)
	f.configureCollectorHooks(collector, rawURL, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return offline.Response{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	// Clones share the visited store; the same asset is fetched on every
	// install and every miss.
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.Context = ctx
	collector.SetRequestTimeout(f.cfg.Timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	key string,
	result *offline.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var header http.Header
		if r.Headers != nil {
			header = r.Headers.Clone()
		}
		*result = offline.Response{
			URL:        key,
			StatusCode: r.StatusCode,
			Header:     header,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
