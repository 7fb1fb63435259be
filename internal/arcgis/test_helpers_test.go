package arcgis

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sells-group/parcel-feasibility/internal/cache"
	"github.com/sells-group/parcel-feasibility/internal/resilience"
)

// fastPolicy retries quickly and trips no breakers.
func fastPolicy() resilience.Policy {
	return resilience.Policy{Retry: resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}}
}

// countingServer wraps h and counts requests.
func countingServer(t *testing.T, h http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithPolicy(fastPolicy()),
		WithMinDelay(0),
		WithCache(cache.Nop{}),
	}
	return NewClient(append(base, opts...)...)
}

func newFileCache(t *testing.T) *cache.FileCache {
	t.Helper()
	fc, err := cache.NewFileCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return fc
}
