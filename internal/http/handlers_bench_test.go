package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/cache"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/settings"
)

// setupBenchmarkRouter builds a router over in-memory backends. When clientErr is set,
// every live fetch falls back to the cache.
func setupBenchmarkRouter(clientErr error) http.Handler {
	mc := &mockWeatherClient{resp: forecast(20), err: clientErr}
	wc := cache.NewInMemoryCache()
	resp := forecast(20)
	resp.Lat, resp.Lon = 48.8566, 2.3522
	_ = wc.ReplaceCurrent(context.Background(), resp)

	h := NewHandler(Dependencies{
		Weather:  service.NewWeatherService(mc, wc, nil, zap.NewNop()),
		Settings: settings.NewMemoryStore(),
		Client:   mc,
	}, nil, zap.NewNop())
	return NewRouter(h, RouterConfig{})
}

func runBenchmark(b *testing.B, router http.Handler, path string) {
	b.Helper()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			b.Fatalf("status = %d", w.Code)
		}
	}
}

func BenchmarkGetWeather_Live(b *testing.B) {
	runBenchmark(b, setupBenchmarkRouter(nil), "/weather?lat=48.8566&lon=2.3522")
}

func BenchmarkGetWeather_OfflineFallback(b *testing.B) {
	runBenchmark(b, setupBenchmarkRouter(errors.New("dial tcp: connection refused")), "/weather?lat=48.8566&lon=2.3522")
}

func BenchmarkGetCurrentWeather(b *testing.B) {
	runBenchmark(b, setupBenchmarkRouter(nil), "/weather/current")
}

func BenchmarkHealth(b *testing.B) {
	runBenchmark(b, setupBenchmarkRouter(nil), "/health")
}
