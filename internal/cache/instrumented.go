package cache

import (
	"context"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// Instrumented wraps a Cache and counts every operation in cacheOperationsTotal.
type Instrumented struct {
	next Cache
}

func NewInstrumented(next Cache) *Instrumented {
	return &Instrumented{next: next}
}

func (i *Instrumented) Get(ctx context.Context, lat, lon float64) (models.WeatherResponse, bool, error) {
	v, ok, err := i.next.Get(ctx, lat, lon)
	recordLookup("get", ok, err)
	return v, ok, err
}

func (i *Instrumented) Current(ctx context.Context) (models.WeatherResponse, bool, error) {
	v, ok, err := i.next.Current(ctx)
	recordLookup("current", ok, err)
	return v, ok, err
}

func (i *Instrumented) Put(ctx context.Context, resp models.WeatherResponse) error {
	err := i.next.Put(ctx, resp)
	observability.RecordCacheOperation("put", err)
	return err
}

func (i *Instrumented) ReplaceCurrent(ctx context.Context, resp models.WeatherResponse) error {
	err := i.next.ReplaceCurrent(ctx, resp)
	observability.RecordCacheOperation("replace_current", err)
	return err
}

func (i *Instrumented) Delete(ctx context.Context, lat, lon float64) error {
	err := i.next.Delete(ctx, lat, lon)
	observability.RecordCacheOperation("delete", err)
	return err
}

func recordLookup(op string, hit bool, err error) {
	switch {
	case err != nil:
		observability.CacheOperationsTotal.WithLabelValues(op, "error").Inc()
	case hit:
		observability.CacheOperationsTotal.WithLabelValues(op, "hit").Inc()
	default:
		observability.CacheOperationsTotal.WithLabelValues(op, "miss").Inc()
	}
}
