// Package units converts metric forecasts into the user's preferred units.
package units

import "github.com/kjstillabower/weather-cache-service/internal/models"

const (
	kelvinOffset   = 273.15
	msToMilesPerHr = 2.236936
)

// ConvertTemperature converts a Celsius value. Unknown units return the input.
func ConvertTemperature(celsius float64, unit string) float64 {
	switch unit {
	case models.TempKelvin:
		return celsius + kelvinOffset
	case models.TempFahrenheit:
		return celsius*1.8 + 32
	default:
		return celsius
	}
}

// ConvertWindSpeed converts a meters-per-second value.
func ConvertWindSpeed(ms float64, unit string) float64 {
	if unit == models.WindMileHour {
		return ms * msToMilesPerHr
	}
	return ms
}

// Apply returns a copy of resp with temperatures and wind speeds converted.
// The input is not modified; its slices are copied.
func Apply(resp models.WeatherResponse, s models.Settings) models.WeatherResponse {
	t := func(v float64) float64 { return ConvertTemperature(v, s.TemperatureUnit) }
	w := func(v float64) float64 { return ConvertWindSpeed(v, s.WindSpeedUnit) }

	out := resp
	out.Current.Temp = t(resp.Current.Temp)
	out.Current.FeelsLike = t(resp.Current.FeelsLike)
	out.Current.WindSpeed = w(resp.Current.WindSpeed)

	out.Hourly = make([]models.HourlySample, len(resp.Hourly))
	for i, h := range resp.Hourly {
		h.Temp = t(h.Temp)
		h.FeelsLike = t(h.FeelsLike)
		h.WindSpeed = w(h.WindSpeed)
		out.Hourly[i] = h
	}
	out.Daily = make([]models.DailySample, len(resp.Daily))
	for i, d := range resp.Daily {
		d.TempMin = t(d.TempMin)
		d.TempMax = t(d.TempMax)
		d.WindSpeed = w(d.WindSpeed)
		out.Daily[i] = d
	}
	return out
}
