package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

const keyPrefix = "weather:"

// maxCASAttempts bounds retries when the current pointer keeps changing underneath a swap.
const maxCASAttempts = 16

// maxRelativeExp is the largest relative expiration memcached accepts (30 days).
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache using memcached. The current record is located
// through a pointer key holding its coordinate key. Records are stored without the
// current flag; it is derived from the pointer on read, and the pointer itself only
// moves through compare-and-swap.
// A crash between writing a record and moving the pointer leaves at worst a dangling
// pointer, which Current reports as a miss.
type MemcachedCache struct {
	client    *memcache.Client
	retention time.Duration
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. retention 0 keeps records
// until evicted by memcached.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, retention time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, retention: retention}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

func (c *MemcachedCache) expiration() int32 {
	sec := int32(c.retention.Seconds())
	if sec <= 0 {
		return 0
	}
	if sec > maxRelativeExp {
		return maxRelativeExp
	}
	return sec
}

func decodeRecord(item *memcache.Item) (models.WeatherResponse, error) {
	var data models.WeatherResponse
	if err := json.Unmarshal(item.Value, &data); err != nil {
		return models.WeatherResponse{}, err
	}
	return data, nil
}

func (c *MemcachedCache) setByKey(key string, resp models.WeatherResponse) error {
	resp.Stale = false
	resp.IsCurrent = false
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: c.expiration(),
	})
}

func (c *MemcachedCache) currentKey() (string, error) {
	item, err := c.client.Get(c.key(currentPointerKey))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return "", nil
		}
		return "", err
	}
	return string(item.Value), nil
}

// swapPointer moves the current pointer to next when its value satisfies cond, and
// returns the value it replaced. ok is false when cond rejected the value.
func (c *MemcachedCache) swapPointer(next string, cond func(prev string) bool) (prev string, ok bool, err error) {
	pointer := c.key(currentPointerKey)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		item, err := c.client.Get(pointer)
		switch {
		case errors.Is(err, memcache.ErrCacheMiss):
			if !cond("") {
				return "", false, nil
			}
			err = c.client.Add(&memcache.Item{Key: pointer, Value: []byte(next)})
			if errors.Is(err, memcache.ErrNotStored) {
				continue
			}
			return "", err == nil, err
		case err != nil:
			return "", false, err
		}
		prev = string(item.Value)
		if !cond(prev) {
			return prev, false, nil
		}
		item.Value = []byte(next)
		err = c.client.CompareAndSwap(item)
		if errors.Is(err, memcache.ErrCASConflict) || errors.Is(err, memcache.ErrNotStored) {
			continue
		}
		return prev, err == nil, err
	}
	return "", false, fmt.Errorf("current pointer contended after %d attempts: %w", maxCASAttempts, memcache.ErrCASConflict)
}

func (c *MemcachedCache) Get(ctx context.Context, lat, lon float64) (models.WeatherResponse, bool, error) {
	if ctx.Err() != nil {
		return models.WeatherResponse{}, false, ctx.Err()
	}
	key := models.CoordKey(lat, lon)
	items, err := c.client.GetMulti([]string{c.key(key), c.key(currentPointerKey)})
	if err != nil {
		return models.WeatherResponse{}, false, err
	}
	item, ok := items[c.key(key)]
	if !ok {
		return models.WeatherResponse{}, false, nil
	}
	data, err := decodeRecord(item)
	if err != nil {
		return models.WeatherResponse{}, false, err
	}
	if ptr, ok := items[c.key(currentPointerKey)]; ok {
		data.IsCurrent = string(ptr.Value) == key
	}
	return data, true, nil
}

func (c *MemcachedCache) Current(ctx context.Context) (models.WeatherResponse, bool, error) {
	if ctx.Err() != nil {
		return models.WeatherResponse{}, false, ctx.Err()
	}
	key, err := c.currentKey()
	if err != nil || key == "" {
		return models.WeatherResponse{}, false, err
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.WeatherResponse{}, false, nil
		}
		return models.WeatherResponse{}, false, err
	}
	data, err := decodeRecord(item)
	if err != nil {
		return models.WeatherResponse{}, false, err
	}
	data.IsCurrent = true
	return data, true, nil
}

func (c *MemcachedCache) Put(ctx context.Context, resp models.WeatherResponse) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.setByKey(resp.Key(), resp)
}

func (c *MemcachedCache) ReplaceCurrent(ctx context.Context, resp models.WeatherResponse) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	key := resp.Key()
	if err := c.setByKey(key, resp); err != nil {
		return err
	}
	prev, _, err := c.swapPointer(key, func(string) bool { return true })
	if err != nil {
		return err
	}
	if prev != "" && prev != key {
		if err := c.client.Delete(c.key(prev)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return err
		}
	}
	return nil
}

func (c *MemcachedCache) Delete(ctx context.Context, lat, lon float64) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	key := models.CoordKey(lat, lon)
	if err := c.client.Delete(c.key(key)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return err
	}
	// An empty pointer reads as no current record.
	_, _, err := c.swapPointer("", func(prev string) bool { return prev == key })
	return err
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
