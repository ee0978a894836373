package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/kjstillabower/weather-cache-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/reqctx"
)

// DefaultExclude drops the per-minute series; the service stores current, hourly, daily and alerts.
const DefaultExclude = "minutely"

// Query identifies one forecast request. Coordinates should already be rounded.
type Query struct {
	Lat  float64
	Lon  float64
	Lang string
}

type WeatherClient interface {
	GetForecast(ctx context.Context, q Query) (models.WeatherResponse, error)
	ValidateAPIKey(ctx context.Context) error
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrCircuitOpen      = errors.New("weather API circuit open")
)

// How long a key check result is reused: keyValidationTTL after success,
// keyFailureTTL after failure.
const (
	keyValidationTTL = time.Minute
	keyFailureTTL    = 15 * time.Second
)

type OneCallClient struct {
	apiKey         string
	apiURL         string
	exclude        string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker

	keyMu        sync.Mutex
	keyCheckedAt time.Time
	keyErr       error
}

func NewOneCallClient(apiKey, apiURL string, timeout time.Duration) (*OneCallClient, error) {
	return NewOneCallClientWithRetry(apiKey, apiURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewOneCallClientWithRetry(apiKey, apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OneCallClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &OneCallClient{
		apiKey:         apiKey,
		apiURL:         apiURL,
		exclude:        DefaultExclude,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker wraps every upstream attempt in cb. Call before serving traffic.
func (c *OneCallClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// SetExclude overrides the One Call "exclude" parameter (comma-separated parts).
func (c *OneCallClient) SetExclude(exclude string) {
	c.exclude = exclude
}

// APIURL returns the configured endpoint; used by the connectivity probe.
func (c *OneCallClient) APIURL() string {
	return c.apiURL
}

type oneCallCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type oneCallResponse struct {
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	Timezone       string  `json:"timezone"`
	TimezoneOffset int     `json:"timezone_offset"`
	Current        struct {
		Dt         int64              `json:"dt"`
		Sunrise    int64              `json:"sunrise"`
		Sunset     int64              `json:"sunset"`
		Temp       float64            `json:"temp"`
		FeelsLike  float64            `json:"feels_like"`
		Pressure   int                `json:"pressure"`
		Humidity   int                `json:"humidity"`
		Clouds     int                `json:"clouds"`
		UVI        float64            `json:"uvi"`
		Visibility int                `json:"visibility"`
		WindSpeed  float64            `json:"wind_speed"`
		WindDeg    int                `json:"wind_deg"`
		Weather    []oneCallCondition `json:"weather"`
	} `json:"current"`
	Hourly []struct {
		Dt        int64              `json:"dt"`
		Temp      float64            `json:"temp"`
		FeelsLike float64            `json:"feels_like"`
		Humidity  int                `json:"humidity"`
		WindSpeed float64            `json:"wind_speed"`
		Pop       float64            `json:"pop"`
		Weather   []oneCallCondition `json:"weather"`
	} `json:"hourly"`
	Daily []struct {
		Dt      int64 `json:"dt"`
		Sunrise int64 `json:"sunrise"`
		Sunset  int64 `json:"sunset"`
		Temp    struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		} `json:"temp"`
		Humidity  int                `json:"humidity"`
		WindSpeed float64            `json:"wind_speed"`
		Pop       float64            `json:"pop"`
		Weather   []oneCallCondition `json:"weather"`
	} `json:"daily"`
	Alerts []struct {
		SenderName  string `json:"sender_name"`
		Event       string `json:"event"`
		Start       int64  `json:"start"`
		End         int64  `json:"end"`
		Description string `json:"description"`
	} `json:"alerts"`
}

// GetForecast fetches the One Call forecast for q, retrying transient failures
// with exponential backoff and jitter.
func (c *OneCallClient) GetForecast(ctx context.Context, q Query) (models.WeatherResponse, error) {
	attempt := 0
	result, err := retry.DoWithData(
		func() (models.WeatherResponse, error) {
			if attempt > 0 {
				observability.WeatherAPIRetriesTotal.Inc()
			}
			attempt++
			return c.guardedCall(ctx, q)
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.retryAttempts)),
		retry.Delay(c.retryBaseDelay),
		retry.MaxDelay(c.retryMaxDelay),
		retry.MaxJitter(c.retryBaseDelay/10+time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.RetryIf(func(err error) bool { return ctx.Err() == nil && isRetryable(err) }),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		if attempt > 1 && isRetryable(err) {
			return models.WeatherResponse{}, fmt.Errorf("exhausted retries: %w", err)
		}
		return models.WeatherResponse{}, err
	}
	return result, nil
}

func (c *OneCallClient) guardedCall(ctx context.Context, q Query) (models.WeatherResponse, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, q)
	}
	var result models.WeatherResponse
	err := c.breaker.Call(ctx, func() error {
		var callErr error
		result, callErr = c.callAPI(ctx, q)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return models.WeatherResponse{}, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return result, err
}

func (c *OneCallClient) callAPI(ctx context.Context, q Query) (models.WeatherResponse, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, q, c.exclude)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.WeatherResponse{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := reqctx.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.WeatherResponse{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.WeatherResponse{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return models.WeatherResponse{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.WeatherResponse{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp oneCallResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.WeatherResponse{}, fmt.Errorf("parse response: %w", err)
	}

	return mapResponse(apiResp, q, time.Now()), nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrInvalidAPIKey) || errors.Is(err, ErrLocationNotFound) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func (c *OneCallClient) buildRequest(ctx context.Context, q Query, exclude string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(q.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(q.Lon, 'f', -1, 64))
	if exclude != "" {
		params.Set("exclude", exclude)
	}
	params.Set("units", "metric")
	if q.Lang != "" {
		params.Set("lang", q.Lang)
	}
	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound, http.StatusBadRequest:
		return fmt.Errorf("%w: HTTP %d", ErrLocationNotFound, resp.StatusCode)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func mapConditions(in []oneCallCondition) []models.Condition {
	out := make([]models.Condition, 0, len(in))
	for _, w := range in {
		out = append(out, models.Condition{ID: w.ID, Main: w.Main, Description: w.Description, Icon: w.Icon})
	}
	return out
}

// mapResponse converts the wire payload. The stored coordinates are the rounded
// query coordinates, not the ones echoed by the API, so cache keys stay stable.
func mapResponse(apiResp oneCallResponse, q Query, fetchedAt time.Time) models.WeatherResponse {
	cur := apiResp.Current
	out := models.WeatherResponse{
		Lat:            models.RoundCoordinate(q.Lat),
		Lon:            models.RoundCoordinate(q.Lon),
		Timezone:       apiResp.Timezone,
		TimezoneOffset: apiResp.TimezoneOffset,
		Current: models.CurrentConditions{
			Time:       unixTime(cur.Dt),
			Sunrise:    unixTime(cur.Sunrise),
			Sunset:     unixTime(cur.Sunset),
			Temp:       cur.Temp,
			FeelsLike:  cur.FeelsLike,
			Pressure:   cur.Pressure,
			Humidity:   cur.Humidity,
			Clouds:     cur.Clouds,
			UVI:        cur.UVI,
			Visibility: cur.Visibility,
			WindSpeed:  cur.WindSpeed,
			WindDeg:    cur.WindDeg,
			Conditions: mapConditions(cur.Weather),
		},
		Hourly:    make([]models.HourlySample, 0, len(apiResp.Hourly)),
		Daily:     make([]models.DailySample, 0, len(apiResp.Daily)),
		FetchedAt: fetchedAt.UTC(),
	}
	for _, h := range apiResp.Hourly {
		out.Hourly = append(out.Hourly, models.HourlySample{
			Time:       unixTime(h.Dt),
			Temp:       h.Temp,
			FeelsLike:  h.FeelsLike,
			Humidity:   h.Humidity,
			WindSpeed:  h.WindSpeed,
			Pop:        h.Pop,
			Conditions: mapConditions(h.Weather),
		})
	}
	for _, d := range apiResp.Daily {
		out.Daily = append(out.Daily, models.DailySample{
			Time:       unixTime(d.Dt),
			Sunrise:    unixTime(d.Sunrise),
			Sunset:     unixTime(d.Sunset),
			TempMin:    d.Temp.Min,
			TempMax:    d.Temp.Max,
			Humidity:   d.Humidity,
			WindSpeed:  d.WindSpeed,
			Pop:        d.Pop,
			Conditions: mapConditions(d.Weather),
		})
	}
	for _, a := range apiResp.Alerts {
		out.Alerts = append(out.Alerts, models.WeatherAlert{
			SenderName:  a.SenderName,
			Event:       a.Event,
			Start:       unixTime(a.Start),
			End:         unixTime(a.End),
			Description: a.Description,
		})
	}
	return out
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues a minimal request (London, everything excluded but current)
// and reports ErrInvalidAPIKey on 401. Results are reused: successes for
// keyValidationTTL, failures for keyFailureTTL. A check cut short by the caller's
// context is not remembered.
func (c *OneCallClient) ValidateAPIKey(ctx context.Context) error {
	c.keyMu.Lock()
	if !c.keyCheckedAt.IsZero() {
		ttl := keyValidationTTL
		if c.keyErr != nil {
			ttl = keyFailureTTL
		}
		if time.Since(c.keyCheckedAt) < ttl {
			err := c.keyErr
			c.keyMu.Unlock()
			return err
		}
	}
	c.keyMu.Unlock()

	err := c.checkAPIKey(ctx)
	if ctx.Err() != nil {
		return err
	}
	c.keyMu.Lock()
	c.keyCheckedAt = time.Now()
	c.keyErr = err
	c.keyMu.Unlock()
	return err
}

func (c *OneCallClient) checkAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, Query{Lat: 51.5074, Lon: -0.1278}, "minutely,hourly,daily,alerts")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}
	return nil
}
