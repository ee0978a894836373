package units

import (
	"math"
	"testing"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestConvertTemperature(t *testing.T) {
	tests := []struct {
		c    float64
		unit string
		want float64
	}{
		{20, models.TempCelsius, 20},
		{20, models.TempKelvin, 293.15},
		{20, models.TempFahrenheit, 68},
		{-40, models.TempFahrenheit, -40},
		{0, models.TempKelvin, 273.15},
		{12, "unknown", 12},
	}
	for _, tt := range tests {
		if got := ConvertTemperature(tt.c, tt.unit); !approx(got, tt.want) {
			t.Errorf("ConvertTemperature(%v, %s) = %v, want %v", tt.c, tt.unit, got, tt.want)
		}
	}
}

func TestConvertWindSpeed(t *testing.T) {
	if got := ConvertWindSpeed(10, models.WindMileHour); !approx(got, 22.36936) {
		t.Errorf("mph = %v, want 22.36936", got)
	}
	if got := ConvertWindSpeed(10, models.WindMeterSec); got != 10 {
		t.Errorf("m/s = %v, want 10", got)
	}
}

func TestApply(t *testing.T) {
	// Arrange
	resp := models.WeatherResponse{
		Current: models.CurrentConditions{Temp: 10, FeelsLike: 5, WindSpeed: 1, Humidity: 50},
		Hourly:  []models.HourlySample{{Temp: 0, FeelsLike: -5, WindSpeed: 2}},
		Daily:   []models.DailySample{{TempMin: -10, TempMax: 30, WindSpeed: 3}},
	}
	s := models.Settings{TemperatureUnit: models.TempFahrenheit, WindSpeedUnit: models.WindMileHour}

	// Act
	got := Apply(resp, s)

	// Assert
	if !approx(got.Current.Temp, 50) || !approx(got.Current.FeelsLike, 41) || got.Current.Humidity != 50 {
		t.Errorf("current = %+v", got.Current)
	}
	if !approx(got.Hourly[0].Temp, 32) || !approx(got.Hourly[0].WindSpeed, 2*2.236936) {
		t.Errorf("hourly = %+v", got.Hourly[0])
	}
	if !approx(got.Daily[0].TempMin, 14) || !approx(got.Daily[0].TempMax, 86) {
		t.Errorf("daily = %+v", got.Daily[0])
	}
	if resp.Hourly[0].Temp != 0 || resp.Daily[0].TempMax != 30 || resp.Current.Temp != 10 {
		t.Error("Apply modified its input")
	}
}

func TestApply_Defaults(t *testing.T) {
	resp := models.WeatherResponse{Current: models.CurrentConditions{Temp: 21.5, WindSpeed: 4}}
	got := Apply(resp, models.DefaultSettings())
	if got.Current.Temp != 21.5 || got.Current.WindSpeed != 4 {
		t.Errorf("Apply(defaults) changed values: %+v", got.Current)
	}
}
