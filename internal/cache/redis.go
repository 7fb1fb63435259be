package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisCache shares entries between machines running batches against the
// same services.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects lazily to the Redis server at url
// (redis://host:port/db).
func NewRedisCache(url, prefix string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "cache: parse redis url")
	}
	return &RedisCache{client: redis.NewClient(opts), prefix: prefix}, nil
}

// Get reads the entry for key.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "cache: redis get")
	}
	return data, true, nil
}

// Set stores the entry without expiry.
func (c *RedisCache) Set(ctx context.Context, key string, data []byte) error {
	if err := c.client.Set(ctx, c.prefix+key, data, 0).Err(); err != nil {
		return eris.Wrap(err, "cache: redis set")
	}
	return nil
}

// Clear deletes every key under the prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 500).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return eris.Wrap(err, "cache: redis del")
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return eris.Wrap(err, "cache: redis scan")
	}
	if len(batch) > 0 {
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			return eris.Wrap(err, "cache: redis del")
		}
	}
	return nil
}

// Close releases the connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
