package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/client"
	"github.com/kjstillabower/weather-cache-service/internal/lifecycle"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/refresh"
	"github.com/kjstillabower/weather-cache-service/internal/reqctx"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/settings"
	"github.com/kjstillabower/weather-cache-service/internal/traffic"
	"github.com/kjstillabower/weather-cache-service/internal/units"
	"github.com/kjstillabower/weather-cache-service/internal/validation"
)

// Refresher runs one background refresh on demand. Implemented by refresh.Scheduler.
type Refresher interface {
	RunOnce(ctx context.Context) (refresh.Result, error)
}

// ConnectivityStatus reports whether the weather API is currently reachable, since
// when, and the upstream error rate over its window. Implemented by connectivity.Monitor.
type ConnectivityStatus interface {
	IsOnline() bool
	Since() time.Time
	ErrorRate() (failures, total int)
}

// HealthConfig holds thresholds and dependency checks for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// Checks are reported by name as healthy or unhealthy. They do not change the status.
	Checks map[string]func(ctx context.Context) error
}

// Dependencies are the collaborators a Handler serves from. Weather, Locations,
// Alarms, Settings and Client are required.
type Dependencies struct {
	Weather      *service.WeatherService
	Locations    *service.LocationService
	Alarms       *service.AlarmService
	Settings     settings.Store
	Refresher    Refresher
	Client       client.WeatherClient
	Connectivity ConnectivityStatus
	Lifecycle    *lifecycle.State
	Traffic      *traffic.Tracker
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps         Dependencies
	healthConfig *HealthConfig
	logger       *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. A nil Traffic or Lifecycle is replaced with a fresh one.
func NewHandler(deps Dependencies, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Traffic == nil {
		deps.Traffic = traffic.NewTracker(0)
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = lifecycle.New()
		deps.Lifecycle.MarkServing()
	}
	return &Handler{deps: deps, healthConfig: healthConfig, logger: logger}
}

// userSettings loads preferences for output conversion. Defaults are used when the
// store fails so weather can still be served.
func (h *Handler) userSettings(ctx context.Context) models.Settings {
	if h.deps.Settings == nil {
		return models.DefaultSettings()
	}
	s, err := h.deps.Settings.Load(ctx)
	if err != nil {
		reqctx.Logger(ctx, h.logger).Warn("settings unavailable, using defaults", zap.Error(err))
		return models.DefaultSettings()
	}
	return s
}

// fail writes err and records 5xx outcomes for the degraded check.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status := writeServiceError(w, r, h.logger, err); status >= http.StatusInternalServerError {
		h.deps.Traffic.RecordError()
	}
}

// writeWeather converts resp to the user's units and marks cache fallbacks.
func (h *Handler) writeWeather(w http.ResponseWriter, resp models.WeatherResponse, s models.Settings) {
	h.deps.Traffic.RecordSuccess()
	if resp.Stale {
		w.Header().Set(offlineHeader, "true")
	}
	writeJSON(w, http.StatusOK, units.Apply(resp, s))
}

// decodeBody decodes a JSON request body and runs struct validation on it.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("request body must be valid JSON")
	}
	return validation.Struct(v)
}

// GetWeather handles GET /weather?lat=&lon=&lang=.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	st := h.userSettings(r.Context())
	lang, err := validation.NormalizeLanguage(q.Get("lang"), st.Language)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	resp, err := h.deps.Weather.GetLiveWeather(r.Context(), lat, lon, lang)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeWeather(w, resp, st)
}

// GetCurrentWeather handles GET /weather/current.
func (h *Handler) GetCurrentWeather(w http.ResponseWriter, r *http.Request) {
	resp, ok, err := h.deps.Weather.Current(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, codeNotFound, "no current weather cached")
		return
	}
	writeJSON(w, http.StatusOK, units.Apply(resp, h.userSettings(r.Context())))
}

// GetCachedWeather handles GET /weather/cached?lat=&lon=.
func (h *Handler) GetCachedWeather(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, lon, err := validation.ParseCoordinates(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	resp, ok, err := h.deps.Weather.Cached(r.Context(), lat, lon)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusNotFound, codeNotFound, "no weather cached for "+models.CoordKey(lat, lon))
		return
	}
	writeJSON(w, http.StatusOK, units.Apply(resp, h.userSettings(r.Context())))
}

// ListLocations handles GET /locations.
func (h *Handler) ListLocations(w http.ResponseWriter, r *http.Request) {
	locs, err := h.deps.Locations.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if locs == nil {
		locs = []models.Location{}
	}
	writeJSON(w, http.StatusOK, locs)
}

func slotVar(r *http.Request) (int, error) {
	return validation.ParseSlot(mux.Vars(r)["slot"])
}

// GetLocation handles GET /locations/{slot}.
func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	slot, err := slotVar(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	loc, err := h.deps.Locations.Get(r.Context(), slot)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// PutLocation handles PUT /locations/{slot}. An empty name is filled by reverse geocoding.
func (h *Handler) PutLocation(w http.ResponseWriter, r *http.Request) {
	slot, err := slotVar(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	var body validation.LocationRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	loc, err := h.deps.Locations.Save(r.Context(), models.Location{
		Slot: slot,
		Lat:  body.Lat,
		Lon:  body.Lon,
		Name: body.Name,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// DeleteLocation handles DELETE /locations/{slot}. The current slot is refused.
func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	slot, err := slotVar(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if err := h.deps.Locations.Delete(r.Context(), slot); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetLocationWeather handles GET /locations/{slot}/weather. It refreshes the saved
// location through the network and falls back to its cached record.
func (h *Handler) GetLocationWeather(w http.ResponseWriter, r *http.Request) {
	slot, err := slotVar(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	loc, err := h.deps.Locations.Get(r.Context(), slot)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if loc.IsCurrent() && !loc.HasPosition() {
		writeError(w, r, http.StatusNotFound, codeNotFound, "current location has not been resolved yet")
		return
	}
	st := h.userSettings(r.Context())
	lang, err := validation.NormalizeLanguage(r.URL.Query().Get("lang"), st.Language)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	resp, err := h.deps.Weather.RefreshLocation(r.Context(), loc, lang)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeWeather(w, resp, st)
}

// ListAlarms handles GET /alarms.
func (h *Handler) ListAlarms(w http.ResponseWriter, r *http.Request) {
	alarms, err := h.deps.Alarms.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if alarms == nil {
		alarms = []models.Alarm{}
	}
	writeJSON(w, http.StatusOK, alarms)
}

// CreateAlarm handles POST /alarms.
func (h *Handler) CreateAlarm(w http.ResponseWriter, r *http.Request) {
	var body validation.AlarmRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	a, err := h.deps.Alarms.Create(r.Context(), body.Start, body.End)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/alarms/"+a.ID.String())
	writeJSON(w, http.StatusCreated, a)
}

func alarmIDVar(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, errors.New("alarm id must be a UUID")
	}
	return id, nil
}

// GetAlarm handles GET /alarms/{id}.
func (h *Handler) GetAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := alarmIDVar(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	a, err := h.deps.Alarms.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// PutAlarm handles PUT /alarms/{id}.
func (h *Handler) PutAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := alarmIDVar(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	var body validation.AlarmRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	a, err := h.deps.Alarms.Update(r.Context(), models.Alarm{ID: id, Start: body.Start, End: body.End})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DeleteAlarm handles DELETE /alarms/{id}.
func (h *Handler) DeleteAlarm(w http.ResponseWriter, r *http.Request) {
	id, err := alarmIDVar(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if err := h.deps.Alarms.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Settings.Load(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// PutSetting handles PUT /settings/{key} and returns the updated settings.
func (h *Handler) PutSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var body validation.SettingRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	if err := h.deps.Settings.Set(r.Context(), key, body.Value); err != nil {
		h.fail(w, r, err)
		return
	}
	reqctx.Logger(r.Context(), h.logger).Info("setting changed", zap.String("key", key), zap.String("value", body.Value))
	h.GetSettings(w, r)
}

type refreshResponse struct {
	refresh.Result
	Error string `json:"error,omitempty"`
}

// PostRefresh handles POST /refresh by running one refresh synchronously.
// Partial failures are reported in the body with status 200.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	if h.deps.Refresher == nil {
		writeError(w, r, http.StatusNotFound, codeNotFound, "background refresh is disabled")
		return
	}
	res, err := h.deps.Refresher.RunOnce(r.Context())
	out := refreshResponse{Result: res}
	if err != nil {
		if ctxErr := r.Context().Err(); ctxErr != nil {
			h.fail(w, r, ctxErr)
			return
		}
		out.Error = err.Error()
		reqctx.Logger(r.Context(), h.logger).Warn("manual refresh finished with errors", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, out)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	switch result.reason {
	case "api_key_invalid", "offline":
		checks["weatherApi"] = "unhealthy"
	default:
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil {
		for name, check := range h.healthConfig.Checks {
			if check(r.Context()) == nil {
				checks[name] = "healthy"
			} else {
				checks[name] = "unhealthy"
			}
		}
	}
	body := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-cache-service",
		"version":   "dev",
		"checks":    checks,
		"uptime":    h.deps.Lifecycle.Uptime().Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if c := h.deps.Connectivity; c != nil {
		upstreamErrors, upstreamCalls := c.ErrorRate()
		body["connectivity"] = connectivityReport{
			Online:         c.IsOnline(),
			Since:          c.Since().UTC().Format(time.RFC3339),
			UpstreamErrors: upstreamErrors,
			UpstreamCalls:  upstreamCalls,
		}
	}
	writeJSON(w, result.statusCode, body)
}

type connectivityReport struct {
	Online         bool   `json:"online"`
	Since          string `json:"since"`
	UpstreamErrors int    `json:"upstreamErrors"`
	UpstreamCalls  int    `json:"upstreamCalls"`
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > API key invalid > offline > degraded > healthy.
// Offline still answers 200 because cached weather remains available.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	switch h.deps.Lifecycle.Phase() {
	case lifecycle.ShuttingDown:
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	case lifecycle.Starting:
		return healthResult{"starting", http.StatusServiceUnavailable, "starting"}
	}

	keyErr := h.deps.Client.ValidateAPIKey(ctx)
	if errors.Is(keyErr, client.ErrInvalidAPIKey) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if keyErr != nil || (h.deps.Connectivity != nil && !h.deps.Connectivity.IsOnline()) {
		return healthResult{"offline", http.StatusOK, "offline"}
	}

	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errCount, total := h.deps.Traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errCount) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}
