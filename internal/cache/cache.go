package cache

import (
	"context"
	"sync"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// currentPointerKey names the entry holding the coordinate key of the current record
// in networked backends.
const currentPointerKey = "current"

// Cache stores the last fetched forecast per rounded coordinate.
// At most one record is flagged current at any time.
type Cache interface {
	Get(ctx context.Context, lat, lon float64) (models.WeatherResponse, bool, error)
	Current(ctx context.Context) (models.WeatherResponse, bool, error)
	// Put stores a non-current record. A coordinate that already holds the current
	// record keeps its current flag.
	Put(ctx context.Context, resp models.WeatherResponse) error
	// ReplaceCurrent evicts the prior current record and stores resp as current.
	ReplaceCurrent(ctx context.Context, resp models.WeatherResponse) error
	Delete(ctx context.Context, lat, lon float64) error
}

// InMemoryCache implements Cache using a map keyed by models.CoordKey.
// Safe for concurrent use.
type InMemoryCache struct {
	mu         sync.RWMutex
	data       map[string]models.WeatherResponse
	currentKey string
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]models.WeatherResponse),
	}
}

func (c *InMemoryCache) Get(ctx context.Context, lat, lon float64) (models.WeatherResponse, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[models.CoordKey(lat, lon)]
	return v, ok, nil
}

func (c *InMemoryCache) Current(ctx context.Context) (models.WeatherResponse, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.currentKey == "" {
		return models.WeatherResponse{}, false, nil
	}
	v, ok := c.data[c.currentKey]
	return v, ok, nil
}

func (c *InMemoryCache) Put(ctx context.Context, resp models.WeatherResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := resp.Key()
	resp.Stale = false
	resp.IsCurrent = key == c.currentKey
	c.data[key] = resp
	return nil
}

func (c *InMemoryCache) ReplaceCurrent(ctx context.Context, resp models.WeatherResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := resp.Key()
	if c.currentKey != "" && c.currentKey != key {
		delete(c.data, c.currentKey)
	}
	resp.Stale = false
	resp.IsCurrent = true
	c.data[key] = resp
	c.currentKey = key
	return nil
}

func (c *InMemoryCache) Delete(ctx context.Context, lat, lon float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := models.CoordKey(lat, lon)
	delete(c.data, key)
	if key == c.currentKey {
		c.currentKey = ""
	}
	return nil
}
