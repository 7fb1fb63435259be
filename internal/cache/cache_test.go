package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStableAndDistinct(t *testing.T) {
	a := Key("flood", "GET", "https://example/query", "f=json&where=1%3D1")
	b := Key("flood", "GET", "https://example/query", "f=json&where=1%3D1")
	c := Key("flood", "GET", "https://example/query", "f=json&where=2%3D2")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
	// Part boundaries matter.
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
}

func TestFileCacheRoundTrip(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := Key("parcel", "123")

	_, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, key, []byte(`{"features":[]}`)))
	data, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"features":[]}`, string(data))

	_, err = os.Stat(filepath.Join(c.dir, key[:2], key))
	assert.NoError(t, err)
}

func TestFileCacheConcurrentWriters(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := Key("shared")

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Set(ctx, key, []byte(fmt.Sprintf("writer-%02d", i))))
		}()
	}
	wg.Wait()

	data, ok, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Regexp(t, `^writer-\d\d$`, string(data))

	entries, err := os.ReadDir(filepath.Join(c.dir, key[:2]))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestNewDrivers(t *testing.T) {
	fc, err := New("file", t.TempDir(), "", "")
	require.NoError(t, err)
	assert.IsType(t, &FileCache{}, fc)

	nop, err := New("none", "", "", "")
	require.NoError(t, err)
	require.NoError(t, nop.Set(context.Background(), "k", []byte("v")))
	_, ok, _ := nop.Get(context.Background(), "k")
	assert.False(t, ok)

	rc, err := New("redis", "", "redis://localhost:6379/2", "test:")
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, rc)
	require.NoError(t, rc.(*RedisCache).Close())

	_, err = New("redis", "", "not a url", "")
	assert.Error(t, err)

	_, err = New("memcached", "", "", "")
	assert.Error(t, err)

	_, err = NewFileCache("")
	assert.Error(t, err)
}

func TestFileCacheStatsAndClear(t *testing.T) {
	c, err := NewFileCache(filepath.Join(t.TempDir(), "gis"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, Key("a"), []byte("12345")))
	require.NoError(t, c.Set(ctx, Key("b"), []byte("123")))

	n, size, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(8), size)

	var cl Clearer = c
	require.NoError(t, cl.Clear(ctx))

	n, size, err = c.Stats()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, size)

	_, ok, err := c.Get(ctx, Key("a"))
	require.NoError(t, err)
	assert.False(t, ok)
}
