// Package cache stores raw GIS responses keyed by a hash of the request.
// Entries never expire: public parcel and constraint layers change slowly and
// a run must be reproducible from its cache.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Cache is a byte store shared by concurrent runs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte) error
}

// Clearer is implemented by caches that can drop every entry.
type Clearer interface {
	Clear(ctx context.Context) error
}

// Key derives a stable cache key from request components.
func Key(parts ...string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(parts, "\x1f"))))
}

// Nop never stores anything.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

// Set discards data.
func (Nop) Set(context.Context, string, []byte) error { return nil }

// New builds a cache for the configured driver: "file", "redis" or "none".
func New(driver, dir, redisURL, prefix string) (Cache, error) {
	switch driver {
	case "file", "":
		return NewFileCache(dir)
	case "redis":
		return NewRedisCache(redisURL, prefix)
	case "none":
		return Nop{}, nil
	default:
		return nil, eris.Errorf("cache: unknown driver %q", driver)
	}
}
