package models

// Location providers.
const (
	ProviderGPS = "gps"
	ProviderMap = "map"
)

// Temperature units.
const (
	TempCelsius    = "celsius"
	TempKelvin     = "kelvin"
	TempFahrenheit = "fahrenheit"
)

// Wind speed units.
const (
	WindMeterSec = "meter_sec"
	WindMileHour = "mile_hour"
)

// Settings holds user preferences persisted as key/value pairs.
type Settings struct {
	LocationProvider string `json:"locationProvider" toml:"location_provider"`
	Language         string `json:"language" toml:"language"`
	TemperatureUnit  string `json:"temperatureUnit" toml:"temperature_unit"`
	WindSpeedUnit    string `json:"windSpeedUnit" toml:"wind_speed_unit"`
	RefreshEnqueued  bool   `json:"refreshEnqueued" toml:"refresh_enqueued"`
}

// DefaultSettings mirrors the first-run defaults of the mobile client.
func DefaultSettings() Settings {
	return Settings{
		LocationProvider: ProviderGPS,
		Language:         "en",
		TemperatureUnit:  TempCelsius,
		WindSpeedUnit:    WindMeterSec,
	}
}
