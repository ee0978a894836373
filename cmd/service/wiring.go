package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/client"
	"github.com/kjstillabower/weather-cache-service/internal/config"
	"github.com/kjstillabower/weather-cache-service/internal/geocode"
	"github.com/kjstillabower/weather-cache-service/internal/notify"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/settings"
	"github.com/kjstillabower/weather-cache-service/internal/store"
)

// backends holds the storage and delivery dependencies chosen by config.
type backends struct {
	cache     cache.Cache
	locations store.LocationStore
	alarms    store.AlarmStore
	settings  settings.Store
	notifier  notify.Notifier
	geocoder  geocode.ReverseGeocoder
	// checks are reported on /health.
	checks  map[string]func(ctx context.Context) error
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

func (b *backends) onClose(name string, fn func() error) {
	b.closers = append(b.closers, namedCloser{name, fn})
}

// Close releases backends in reverse order of creation.
func (b *backends) Close(logger *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		c := b.closers[i]
		if err := c.close(); err != nil {
			logger.Error("close backend", zap.String("backend", c.name), zap.Error(err))
		}
	}
}

// buildBackends connects every configured backend. On error, backends opened so far are closed.
func buildBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *backends, err error) {
	b := &backends{checks: make(map[string]func(ctx context.Context) error)}
	defer func() {
		if err != nil {
			b.Close(logger)
		}
	}()

	if err = b.buildCache(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err = b.buildStore(ctx, cfg, logger); err != nil {
		return nil, err
	}

	if cfg.SettingsPath != "" {
		b.settings = settings.NewFileStore(cfg.SettingsPath)
		logger.Info("settings backend: file", zap.String("path", cfg.SettingsPath))
	} else {
		b.settings = settings.NewMemoryStore()
		logger.Info("settings backend: in_memory")
	}

	if cfg.GeocoderAPIKey != "" {
		b.geocoder = geocode.NewGoogleGeocoder(cfg.GeocoderAPIKey)
	} else {
		b.geocoder = geocode.StaticGeocoder{}
		logger.Info("no geocoder key; unnamed locations are saved as Unknown")
	}

	switch cfg.NotifyBackend {
	case "kafka":
		kn, kerr := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.NotifyTopic, cfg.NotifyTimeout, logger)
		if kerr != nil {
			return nil, kerr
		}
		b.notifier = kn
	default:
		b.notifier = notify.NewLogNotifier(logger)
	}
	b.onClose("notifier", b.notifier.Close)
	return b, nil
}

func (b *backends) buildCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var backing cache.Cache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheRetention)
		if err != nil {
			return fmt.Errorf("memcached cache: %w", err)
		}
		backing = mc
		b.checks["cache"] = func(context.Context) error { return mc.Ping() }
		b.onClose("memcached", mc.Close)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "redis":
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, cfg.CacheRetention)
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
		backing = rc
		b.checks["cache"] = rc.Ping
		b.onClose("redis", rc.Close)
		logger.Info("cache backend: redis")
	default:
		backing = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	b.cache = cache.NewInstrumented(backing)
	return nil
}

func (b *backends) buildStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	switch cfg.StoreBackend {
	case "postgres":
		pg, err := store.ConnectPostgres(ctx, cfg.DatabaseURL, uint(cfg.StoreConnectAttempts), cfg.StoreConnectDelay, logger)
		if err != nil {
			return fmt.Errorf("postgres store: %w", err)
		}
		b.locations, b.alarms = pg, pg.Alarms()
		b.checks["store"] = pg.Ping
		b.onClose("postgres", pg.Close)
		logger.Info("store backend: postgres")
	default:
		ms := store.NewMemoryStore()
		b.locations, b.alarms = ms, ms.Alarms()
		logger.Info("store backend: in_memory")
	}
	return nil
}

// newWeatherClient builds the One Call client with retries and, when enabled, a
// circuit breaker that only counts network failures.
func newWeatherClient(cfg *config.Config, logger *zap.Logger) (*client.OneCallClient, error) {
	c, err := client.NewOneCallClientWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		return nil, err
	}
	c.SetExclude(cfg.WeatherAPIExclude)

	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			Component:        "weather_api",
			IsFailure:        client.IsNetworkFailure,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String(), int(to))
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		c.SetCircuitBreaker(cb)
		observability.CircuitBreakerState.WithLabelValues("weather_api").Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}
	return c, nil
}
