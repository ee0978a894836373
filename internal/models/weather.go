package models

import "time"

// WeatherResponse is a One Call forecast for a single rounded coordinate.
// At most one stored response has IsCurrent set; it belongs to the device location.
type WeatherResponse struct {
	Lat            float64           `json:"lat"`
	Lon            float64           `json:"lon"`
	Timezone       string            `json:"timezone"`
	TimezoneOffset int               `json:"timezoneOffset"`
	Current        CurrentConditions `json:"current"`
	Hourly         []HourlySample    `json:"hourly"`
	Daily          []DailySample     `json:"daily"`
	Alerts         []WeatherAlert    `json:"alerts,omitempty"`
	IsCurrent      bool              `json:"isCurrent"`
	FetchedAt      time.Time         `json:"fetchedAt"`
	Stale          bool              `json:"stale,omitempty"` // served from cache after a network failure
}

// Key returns the cache key for the response coordinates.
func (w WeatherResponse) Key() string {
	return CoordKey(w.Lat, w.Lon)
}

type Condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

type CurrentConditions struct {
	Time       time.Time   `json:"time"`
	Sunrise    time.Time   `json:"sunrise"`
	Sunset     time.Time   `json:"sunset"`
	Temp       float64     `json:"temp"`
	FeelsLike  float64     `json:"feelsLike"`
	Pressure   int         `json:"pressure"`
	Humidity   int         `json:"humidity"`
	Clouds     int         `json:"clouds"`
	UVI        float64     `json:"uvi"`
	Visibility int         `json:"visibility"`
	WindSpeed  float64     `json:"windSpeed"`
	WindDeg    int         `json:"windDeg"`
	Conditions []Condition `json:"conditions"`
}

type HourlySample struct {
	Time       time.Time   `json:"time"`
	Temp       float64     `json:"temp"`
	FeelsLike  float64     `json:"feelsLike"`
	Humidity   int         `json:"humidity"`
	WindSpeed  float64     `json:"windSpeed"`
	Pop        float64     `json:"pop"`
	Conditions []Condition `json:"conditions"`
}

type DailySample struct {
	Time       time.Time   `json:"time"`
	Sunrise    time.Time   `json:"sunrise"`
	Sunset     time.Time   `json:"sunset"`
	TempMin    float64     `json:"tempMin"`
	TempMax    float64     `json:"tempMax"`
	Humidity   int         `json:"humidity"`
	WindSpeed  float64     `json:"windSpeed"`
	Pop        float64     `json:"pop"`
	Conditions []Condition `json:"conditions"`
}

// WeatherAlert is a government weather alert attached to a forecast.
type WeatherAlert struct {
	SenderName  string    `json:"senderName"`
	Event       string    `json:"event"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description"`
}

// Overlaps reports whether the alert window intersects [start, end].
func (a WeatherAlert) Overlaps(start, end time.Time) bool {
	return !a.Start.After(end) && !a.End.Before(start)
}
