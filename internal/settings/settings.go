// Package settings stores user preferences as key/value pairs.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/validation"
)

// Known keys.
const (
	KeyLocationProvider = "location_provider"
	KeyLanguage         = "language"
	KeyTemperatureUnit  = "temperature_unit"
	KeyWindSpeedUnit    = "wind_speed_unit"
	KeyRefreshEnqueued  = "refresh_enqueued"
)

var (
	ErrUnknownKey   = errors.New("unknown settings key")
	ErrInvalidValue = errors.New("invalid settings value")
)

type Store interface {
	Load(ctx context.Context) (models.Settings, error)
	Set(ctx context.Context, key, value string) error
}

// Keys lists the accepted keys in display order.
func Keys() []string {
	return []string{KeyLocationProvider, KeyLanguage, KeyTemperatureUnit, KeyWindSpeedUnit, KeyRefreshEnqueued}
}

// apply validates value and writes it into s.
func apply(s *models.Settings, key, value string) error {
	switch key {
	case KeyLocationProvider:
		if value != models.ProviderGPS && value != models.ProviderMap {
			return fmt.Errorf("%w: %s must be %q or %q", ErrInvalidValue, key, models.ProviderGPS, models.ProviderMap)
		}
		s.LocationProvider = value
	case KeyLanguage:
		lang, err := validation.NormalizeLanguage(value, "")
		if err != nil || lang == "" {
			return fmt.Errorf("%w: %s must be a language code like en or zh_cn", ErrInvalidValue, key)
		}
		s.Language = lang
	case KeyTemperatureUnit:
		switch value {
		case models.TempCelsius, models.TempKelvin, models.TempFahrenheit:
			s.TemperatureUnit = value
		default:
			return fmt.Errorf("%w: %s must be celsius, kelvin or fahrenheit", ErrInvalidValue, key)
		}
	case KeyWindSpeedUnit:
		if value != models.WindMeterSec && value != models.WindMileHour {
			return fmt.Errorf("%w: %s must be %q or %q", ErrInvalidValue, key, models.WindMeterSec, models.WindMileHour)
		}
		s.WindSpeedUnit = value
	case KeyRefreshEnqueued:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be true or false", ErrInvalidValue, key)
		}
		s.RefreshEnqueued = b
	default:
		return fmt.Errorf("%w: %q (accepted: %s)", ErrUnknownKey, key, strings.Join(Keys(), ", "))
	}
	return nil
}

// fillDefaults replaces empty fields left by an older or hand-edited file.
func fillDefaults(s models.Settings) models.Settings {
	d := models.DefaultSettings()
	if s.LocationProvider == "" {
		s.LocationProvider = d.LocationProvider
	}
	if s.Language == "" {
		s.Language = d.Language
	}
	if s.TemperatureUnit == "" {
		s.TemperatureUnit = d.TemperatureUnit
	}
	if s.WindSpeedUnit == "" {
		s.WindSpeedUnit = d.WindSpeedUnit
	}
	return s
}
