//go:build integration
// +build integration

package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-cache-service/internal/geocode"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/settings"
	"github.com/kjstillabower/weather-cache-service/internal/store"
	testhelpers "github.com/kjstillabower/weather-cache-service/internal/testhelpers"
)

// setupIntegrationRouter wires the full handler stack against the real weather API.
func setupIntegrationRouter(t *testing.T, limiter *rate.Limiter) http.Handler {
	t.Helper()
	cfg := testhelpers.GetIntegrationConfig(t)
	weather, c, _, cleanup := testhelpers.SetupIntegrationService(t, cfg)
	t.Cleanup(cleanup)

	st := store.NewMemoryStore()
	h := NewHandler(Dependencies{
		Weather:   weather,
		Locations: service.NewLocationService(st, geocode.StaticGeocoder{}, zap.NewNop()),
		Alarms:    service.NewAlarmService(st.Alarms()),
		Settings:  settings.NewMemoryStore(),
		Client:    c,
	}, nil, zap.NewNop())
	return NewRouter(h, RouterConfig{RequestTimeout: 15 * time.Second, Limiter: limiter})
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Correlation-ID", "test-correlation-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIntegration_GetWeather_LiveThenCached(t *testing.T) {
	// Arrange
	router := setupIntegrationRouter(t, nil)

	// Act
	live := get(t, router, "/weather?lat=47.6062&lon=-122.3321")
	cached := get(t, router, "/weather/cached?lat=47.6062&lon=-122.3321")

	// Assert
	if live.Code != http.StatusOK {
		t.Fatalf("live status = %d (body %s)", live.Code, live.Body.String())
	}
	got := decode[models.WeatherResponse](t, live)
	if got.Timezone == "" || !got.IsCurrent {
		t.Errorf("live response = %+v", got)
	}
	if cached.Code != http.StatusOK {
		t.Errorf("cached status = %d, want 200 after a live fetch", cached.Code)
	}
}

func TestIntegration_GetHealth_FullStack(t *testing.T) {
	router := setupIntegrationRouter(t, nil)
	w := get(t, router, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d (body %s)", w.Code, w.Body.String())
	}
}

func TestIntegration_GetMetrics_Format(t *testing.T) {
	router := setupIntegrationRouter(t, nil)
	get(t, router, "/weather?lat=51.5074&lon=-0.1278")

	w := get(t, router, "/metrics")
	body, _ := io.ReadAll(w.Body)
	for _, name := range []string{"weatherApiCallsTotal", "cacheOperationsTotal", "httpRequestsTotal"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics missing %s", name)
		}
	}
}

func TestIntegration_RateLimiting_Enforcement(t *testing.T) {
	router := setupIntegrationRouter(t, rate.NewLimiter(rate.Every(time.Hour), 1))
	if w := get(t, router, "/weather?lat=35.6762&lon=139.6503"); w.Code != http.StatusOK {
		t.Fatalf("first status = %d", w.Code)
	}
	if w := get(t, router, "/weather?lat=35.6762&lon=139.6503"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", w.Code)
	}
}
