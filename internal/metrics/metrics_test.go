package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if pollTicksTotal == nil || cacheLookupsTotal == nil ||
		httpRequestsTotal == nil || httpRequestDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObservePollTick(t *testing.T) {
	Init()
	before := testutil.ToFloat64(pollTicksTotal.WithLabelValues(PollTransportError))
	ObservePollTick(PollTransportError)
	if got := testutil.ToFloat64(pollTicksTotal.WithLabelValues(PollTransportError)); got != before+1 {
		t.Errorf("expected transport error ticks %f, got %f", before+1, got)
	}
}

func TestObserveCacheLookup(t *testing.T) {
	Init()
	hits := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit"))
	misses := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss"))

	ObserveCacheLookup(true)
	ObserveCacheLookup(false)
	ObserveCacheLookup(false)

	if got := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")); got != hits+1 {
		t.Errorf("expected hits %f, got %f", hits+1, got)
	}
	if got := testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("miss")); got != misses+2 {
		t.Errorf("expected misses %f, got %f", misses+2, got)
	}
}

func TestObserveCacheInstallAndPurge(t *testing.T) {
	Init()
	failed := testutil.ToFloat64(cacheInstallsTotal.WithLabelValues("error"))
	purged := testutil.ToFloat64(cacheGenerationsPurged)

	ObserveCacheInstall(errors.New("boom"))
	AddGenerationsPurged(2)
	AddGenerationsPurged(0)

	if got := testutil.ToFloat64(cacheInstallsTotal.WithLabelValues("error")); got != failed+1 {
		t.Errorf("expected failed installs %f, got %f", failed+1, got)
	}
	if got := testutil.ToFloat64(cacheGenerationsPurged); got != purged+2 {
		t.Errorf("expected purged %f, got %f", purged+2, got)
	}
}

func TestObserveRateLimitDelay(t *testing.T) {
	ObserveRateLimitDelay("origin.test", 20*time.Millisecond)
	if got := testutil.CollectAndCount(originRateLimitDelay); got < 1 {
		t.Errorf("expected at least one rate limit series, got %d", got)
	}
}
