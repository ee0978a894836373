package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/reqctx"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/settings"
	"github.com/kjstillabower/weather-cache-service/internal/store"
	"github.com/kjstillabower/weather-cache-service/internal/validation"
)

// Error codes returned in the error envelope.
const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeNotFound       = "NOT_FOUND"
	codeOffline        = "OFFLINE"
	codeRateLimited    = "RATE_LIMITED"
	codeTimeout        = "TIMEOUT"
	codeInternal       = "INTERNAL"
)

// offlineHeader marks responses answered without a successful upstream call.
const offlineHeader = "X-Weather-Offline"

// writeJSON writes a JSON response with the specified HTTP status code.
// Sets Content-Type header to application/json and encodes the provided value.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": reqctx.CorrelationID(r.Context()),
		},
	})
}

func isInvalidRequest(err error) bool {
	for _, target := range []error{
		validation.ErrCoordinatesRequired,
		validation.ErrLatitudeRange,
		validation.ErrLongitudeRange,
		validation.ErrLanguageInvalid,
		validation.ErrSlotInvalid,
		service.ErrInvalidAlarm,
		service.ErrCurrentSlotProtected,
		settings.ErrInvalidValue,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeServiceError maps service and store errors to a status code and envelope.
// It returns the status written so callers can record the outcome.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) int {
	logger = reqctx.Logger(r.Context(), logger)
	switch {
	case isInvalidRequest(err):
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, settings.ErrUnknownKey):
		writeError(w, r, http.StatusNotFound, codeNotFound, err.Error())
		return http.StatusNotFound
	case errors.Is(err, service.ErrOffline):
		w.Header().Set(offlineHeader, "true")
		writeError(w, r, http.StatusServiceUnavailable, codeOffline, "Weather unavailable and nothing cached for this location")
		logger.Debug("offline without cache", zap.Error(err))
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, codeTimeout, "Request timed out")
		logger.Debug("request timed out", zap.Error(err))
		return http.StatusGatewayTimeout
	default:
		writeError(w, r, http.StatusInternalServerError, codeInternal, "Internal error")
		logger.Error("request failed", zap.Error(err))
		return http.StatusInternalServerError
	}
}
