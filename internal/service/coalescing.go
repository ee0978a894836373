package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// defaultFlightTimeout bounds a shared upstream call once it no longer follows any
// caller's context.
const defaultFlightTimeout = 30 * time.Second

// flight is one upstream call that concurrent callers for the same key share.
type flight struct {
	done chan struct{}
	resp models.WeatherResponse
	err  error
}

// requestCoalescer collapses concurrent weather API calls for the same key into one.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*flight
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	if timeout <= 0 {
		timeout = defaultFlightTimeout
	}
	return &requestCoalescer{inFlight: make(map[string]*flight), timeout: timeout}
}

// Do starts fn for key unless a call is already in flight, then waits for the result.
// fn runs detached from the caller that started it, so one caller giving up does not
// fail the others; each caller stops waiting when its own ctx is done. shared reports
// whether the call was started by another caller.
func (rc *requestCoalescer) Do(ctx context.Context, key string, fn func(context.Context) (models.WeatherResponse, error)) (resp models.WeatherResponse, shared bool, err error) {
	rc.mu.Lock()
	f, shared := rc.inFlight[key]
	if !shared {
		f = &flight{done: make(chan struct{})}
		rc.inFlight[key] = f
		go rc.run(ctx, key, f, fn)
	}
	rc.mu.Unlock()

	start := time.Now()
	select {
	case <-f.done:
		if shared {
			observability.RequestCoalescingHitsTotal.Inc()
			observability.RequestCoalescingWaitSeconds.Observe(time.Since(start).Seconds())
		}
		return f.resp, shared, f.err
	case <-ctx.Done():
		return models.WeatherResponse{}, shared, ctx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, f *flight, fn func(context.Context) (models.WeatherResponse, error)) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
	defer cancel()
	f.resp, f.err = fn(callCtx)

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(f.done)
}
