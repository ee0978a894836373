package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// RedisCache implements Cache on Redis. Every write that depends on the current
// pointer runs under WATCH on that pointer and retries when it changed, so at most
// one record is flagged current.
type RedisCache struct {
	rdb       *redis.Client
	retention time.Duration
}

// maxTxAttempts bounds optimistic retries when the current pointer keeps changing.
const maxTxAttempts = 16

// NewRedisCache parses a redis:// URL, connects, and verifies the connection with PING.
func NewRedisCache(ctx context.Context, url string, retention time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &RedisCache{rdb: rdb, retention: retention}, nil
}

// NewRedisCacheFromClient wraps an existing client. Used by tests.
func NewRedisCacheFromClient(rdb *redis.Client, retention time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, retention: retention}
}

func (c *RedisCache) key(k string) string {
	return keyPrefix + k
}

func (c *RedisCache) getByKey(ctx context.Context, key string) (models.WeatherResponse, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.WeatherResponse{}, false, nil
		}
		return models.WeatherResponse{}, false, err
	}
	var data models.WeatherResponse
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.WeatherResponse{}, false, err
	}
	return data, true, nil
}

func (c *RedisCache) pointerKey() string {
	return c.key(currentPointerKey)
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func currentKeyOf(ctx context.Context, cmd stringGetter, pointer string) (string, error) {
	key, err := cmd.Get(ctx, pointer).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return key, err
}

// withPointer reads the current pointer inside a WATCH and hands it to fn, which
// queues its writes on the transaction. The whole step is retried if the pointer
// changed before EXEC.
func (c *RedisCache) withPointer(ctx context.Context, fn func(tx *redis.Tx, cur string) error) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := currentKeyOf(ctx, tx, c.pointerKey())
			if err != nil {
				return err
			}
			return fn(tx, cur)
		}, c.pointerKey())
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("current pointer contended after %d attempts: %w", maxTxAttempts, redis.TxFailedErr)
}

func (c *RedisCache) Get(ctx context.Context, lat, lon float64) (models.WeatherResponse, bool, error) {
	return c.getByKey(ctx, models.CoordKey(lat, lon))
}

func (c *RedisCache) Current(ctx context.Context) (models.WeatherResponse, bool, error) {
	key, err := currentKeyOf(ctx, c.rdb, c.pointerKey())
	if err != nil || key == "" {
		return models.WeatherResponse{}, false, err
	}
	return c.getByKey(ctx, key)
}

func (c *RedisCache) Put(ctx context.Context, resp models.WeatherResponse) error {
	key := resp.Key()
	resp.Stale = false
	return c.withPointer(ctx, func(tx *redis.Tx, cur string) error {
		resp.IsCurrent = key == cur
		raw, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(key), raw, c.retention)
			return nil
		})
		return err
	})
}

func (c *RedisCache) ReplaceCurrent(ctx context.Context, resp models.WeatherResponse) error {
	key := resp.Key()
	resp.Stale = false
	resp.IsCurrent = true
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.withPointer(ctx, func(tx *redis.Tx, prev string) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prev != "" && prev != key {
				pipe.Del(ctx, c.key(prev))
			}
			pipe.Set(ctx, c.key(key), raw, c.retention)
			pipe.Set(ctx, c.pointerKey(), key, 0)
			return nil
		})
		return err
	})
}

func (c *RedisCache) Delete(ctx context.Context, lat, lon float64) error {
	key := models.CoordKey(lat, lon)
	return c.withPointer(ctx, func(tx *redis.Tx, cur string) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, c.key(key))
			if cur == key {
				pipe.Del(ctx, c.pointerKey())
			}
			return nil
		})
		return err
	})
}

// Ping checks if Redis is reachable. Used for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
