package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
	"github.com/kjstillabower/weather-cache-service/internal/client"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/reqctx"
)

// ErrOffline is returned when the weather API failed and nothing is cached for the
// requested coordinate.
var ErrOffline = errors.New("weather unavailable offline")

// Connectivity receives fetch outcomes. Implemented by connectivity.Monitor.
type Connectivity interface {
	RecordSuccess()
	RecordFailure()
}

// WeatherService fetches forecasts network-first and falls back to the local cache.
type WeatherService struct {
	client       client.WeatherClient
	cache        cache.Cache
	connectivity Connectivity
	coalescer    *requestCoalescer
	logger       *zap.Logger
	now          func() time.Time
}

func NewWeatherService(c client.WeatherClient, wc cache.Cache, conn Connectivity, logger *zap.Logger) *WeatherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherService{
		client:       c,
		cache:        wc,
		connectivity: conn,
		coalescer:    newRequestCoalescer(defaultFlightTimeout),
		logger:       logger,
		now:          time.Now,
	}
}

// GetLiveWeather always asks the weather API first. A successful response becomes the
// current record, evicting the previous one. On failure the cached response for the
// rounded coordinate is returned with Stale set, or ErrOffline when there is none.
func (s *WeatherService) GetLiveWeather(ctx context.Context, lat, lon float64, lang string) (models.WeatherResponse, error) {
	return s.fetch(ctx, lat, lon, lang, true)
}

// Cached returns the stored response for the coordinate without touching the network.
func (s *WeatherService) Cached(ctx context.Context, lat, lon float64) (models.WeatherResponse, bool, error) {
	return s.cache.Get(ctx, models.RoundCoordinate(lat), models.RoundCoordinate(lon))
}

// Current returns the record flagged current, if any.
func (s *WeatherService) Current(ctx context.Context) (models.WeatherResponse, bool, error) {
	return s.cache.Current(ctx)
}

// RefreshLocation refetches one saved location. The current slot is stored with the
// same semantics as GetLiveWeather; favorites are stored without changing which
// record is current.
func (s *WeatherService) RefreshLocation(ctx context.Context, loc models.Location, lang string) (models.WeatherResponse, error) {
	return s.fetch(ctx, loc.Lat, loc.Lon, lang, loc.IsCurrent())
}

func (s *WeatherService) fetch(ctx context.Context, lat, lon float64, lang string, asCurrent bool) (models.WeatherResponse, error) {
	lat, lon = models.RoundCoordinate(lat), models.RoundCoordinate(lon)
	logger := reqctx.Logger(ctx, s.logger).With(zap.String("coord", models.CoordKey(lat, lon)))
	start := s.now()
	if ctx.Err() != nil {
		return models.WeatherResponse{}, ctx.Err()
	}

	resp, shared, err := s.coalescer.Do(ctx, models.CoordKey(lat, lon)+"|"+lang, func(callCtx context.Context) (models.WeatherResponse, error) {
		r, err := s.client.GetForecast(callCtx, client.Query{Lat: lat, Lon: lon, Lang: lang})
		if !errors.Is(err, context.Canceled) {
			s.recordOutcome(err)
		}
		return r, err
	})
	if err == nil {
		resp.Lat, resp.Lon = lat, lon
		if asCurrent {
			err = s.cache.ReplaceCurrent(ctx, resp)
			resp.IsCurrent = true
		} else {
			err = s.cache.Put(ctx, resp)
		}
		if err != nil {
			// The caller still gets fresh data; only persistence failed.
			logger.Warn("cache write failed", zap.Bool("current", asCurrent), zap.Error(err))
		}
		logger.Debug("weather served", zap.Bool("cached", false), zap.Bool("shared", shared), zap.Duration("duration", s.now().Sub(start)))
		return resp, nil
	}

	if ctx.Err() != nil {
		return models.WeatherResponse{}, ctx.Err()
	}

	cached, ok, cacheErr := s.cache.Get(ctx, lat, lon)
	if cacheErr != nil {
		logger.Warn("cache read failed during fallback", zap.Error(cacheErr))
	}
	if !ok {
		observability.OfflineFallbacksTotal.WithLabelValues("miss").Inc()
		logger.Info("weather API failed and nothing cached", zap.Error(err))
		return models.WeatherResponse{}, fmt.Errorf("%w: %w", ErrOffline, err)
	}

	observability.OfflineFallbacksTotal.WithLabelValues("served").Inc()
	cached.Stale = true
	logger.Info("serving cached weather",
		zap.Error(err),
		zap.Duration("age", s.now().Sub(cached.FetchedAt)),
	)
	return cached, nil
}

func (s *WeatherService) recordOutcome(err error) {
	if s.connectivity == nil {
		return
	}
	switch {
	case err == nil:
		s.connectivity.RecordSuccess()
	case client.IsNetworkFailure(err):
		s.connectivity.RecordFailure()
	}
}
