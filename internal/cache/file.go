package cache

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// FileCache keeps one file per key under dir/<key[:2]>/<key>.
type FileCache struct {
	dir string
}

// NewFileCache creates dir if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if dir == "" {
		return nil, eris.New("cache: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "cache: create %s", dir)
	}
	return &FileCache{dir: dir}, nil
}

func (c *FileCache) path(key string) string {
	if len(key) < 2 {
		return filepath.Join(c.dir, "_", key)
	}
	return filepath.Join(c.dir, key[:2], key)
}

// Get reads the entry for key.
func (c *FileCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(c.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: read entry")
	}
	return data, true, nil
}

// Set writes the entry through a temp file and rename, so concurrent readers
// see either the old entry or the new one and concurrent writers resolve to
// the last rename.
func (c *FileCache) Set(_ context.Context, key string, data []byte) error {
	path := c.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "cache: create shard")
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return eris.Wrap(err, "cache: create temp")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "cache: write temp")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "cache: close temp")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "cache: rename entry")
	}
	return nil
}

// Stats reports the number of entries and their total size in bytes.
func (c *FileCache) Stats() (entries int, bytes int64, err error) {
	err = filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries++
		bytes += info.Size()
		return nil
	})
	if err != nil {
		return 0, 0, eris.Wrapf(err, "cache: walk %s", c.dir)
	}
	return entries, bytes, nil
}

// Clear removes every entry and leaves an empty cache directory.
func (c *FileCache) Clear(_ context.Context) error {
	if err := os.RemoveAll(c.dir); err != nil {
		return eris.Wrapf(err, "cache: remove %s", c.dir)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return eris.Wrapf(err, "cache: recreate %s", c.dir)
	}
	return nil
}
