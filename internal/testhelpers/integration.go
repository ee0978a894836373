//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
	"github.com/kjstillabower/weather-cache-service/internal/client"
	"github.com/kjstillabower/weather-cache-service/internal/connectivity"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory", "memcached" or "redis"
	MemcachedAddr string
	RedisURL      string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        envOr("WEATHER_API_URL", "https://api.openweathermap.org/data/2.5/onecall"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: envOr("MEMCACHED_ADDRS", "localhost:11211"),
		RedisURL:      envOr("REDIS_URL", "redis://localhost:6379/15"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// NewCache builds the configured cache backend, falling back to in-memory when the
// backend is unreachable. The returned cleanup closes the backend.
func NewCache(t *testing.T, cfg IntegrationTestConfig) (cache.Cache, func()) {
	t.Helper()
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2, time.Hour)
		if err == nil && mc.Ping() == nil {
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
			return mc, func() { _ = mc.Close() }
		}
		t.Logf("Memcached not available (%v), using in-memory cache", err)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, time.Hour)
		if err == nil {
			t.Logf("Using Redis cache at %s", cfg.RedisURL)
			return rc, func() { _ = rc.Close() }
		}
		t.Logf("Redis not available (%v), using in-memory cache", err)
	}
	return cache.NewInMemoryCache(), func() {}
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OneCallClient {
	t.Helper()
	c, err := client.NewOneCallClient(cfg.APIKey, cfg.APIURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOneCallClient() error = %v", err)
	}
	return c
}

// SetupIntegrationService creates a weather service against the real API.
// Returns the service, its client, the cache instance, and a cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.WeatherService, *client.OneCallClient, cache.Cache, func()) {
	t.Helper()
	logger, err := observability.NewLogger("weather-cache-service-test")
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	c := SetupIntegrationClient(t, cfg)
	wc, cleanup := NewCache(t, cfg)
	monitor := connectivity.NewMonitor(connectivity.Config{}, zap.NewNop())
	return service.NewWeatherService(c, cache.NewInstrumented(wc), monitor, logger), c, wc, cleanup
}
