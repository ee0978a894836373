package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-cache-service/internal/observability"
)

// RouterConfig holds the per-route middleware settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	Limiter        *rate.Limiter // nil disables rate limiting
	InFlight       *InFlightTracker
}

// NewRouter registers every route on a gorilla/mux router. /health and /metrics
// bypass the rate limiter and request timeout.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(h.logger))
	router.Use(MetricsMiddleware)
	router.Use(InFlightMiddleware(cfg.InFlight))
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter, h.deps.Traffic))
	api.Use(TimeoutMiddleware(cfg.RequestTimeout))

	api.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)
	api.HandleFunc("/weather/current", h.GetCurrentWeather).Methods(http.MethodGet)
	api.HandleFunc("/weather/cached", h.GetCachedWeather).Methods(http.MethodGet)

	api.HandleFunc("/locations", h.ListLocations).Methods(http.MethodGet)
	api.HandleFunc("/locations/{slot}", h.GetLocation).Methods(http.MethodGet)
	api.HandleFunc("/locations/{slot}", h.PutLocation).Methods(http.MethodPut)
	api.HandleFunc("/locations/{slot}", h.DeleteLocation).Methods(http.MethodDelete)
	api.HandleFunc("/locations/{slot}/weather", h.GetLocationWeather).Methods(http.MethodGet)

	api.HandleFunc("/alarms", h.ListAlarms).Methods(http.MethodGet)
	api.HandleFunc("/alarms", h.CreateAlarm).Methods(http.MethodPost)
	api.HandleFunc("/alarms/{id}", h.GetAlarm).Methods(http.MethodGet)
	api.HandleFunc("/alarms/{id}", h.PutAlarm).Methods(http.MethodPut)
	api.HandleFunc("/alarms/{id}", h.DeleteAlarm).Methods(http.MethodDelete)

	api.HandleFunc("/settings", h.GetSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings/{key}", h.PutSetting).Methods(http.MethodPut)

	// Refresh runs can outlast the request timeout.
	ops := router.NewRoute().Subrouter()
	ops.Use(RateLimitMiddleware(cfg.Limiter, h.deps.Traffic))
	ops.HandleFunc("/refresh", h.PostRefresh).Methods(http.MethodPost)

	return router
}
