// Package geocode resolves coordinates to a display name for saved locations.
package geocode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"
)

// ErrNoResult is returned when the provider knows nothing about the coordinate.
var ErrNoResult = errors.New("no geocoding result")

type ReverseGeocoder interface {
	CityName(ctx context.Context, lat, lon float64) (string, error)
}

// keyMu guards geocoder.ApiKey, which the library keeps as a package variable.
var keyMu sync.Mutex

// GoogleGeocoder uses the Google Geocoding API through kelvins/geocoder.
type GoogleGeocoder struct {
	apiKey string
}

func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	return &GoogleGeocoder{apiKey: apiKey}
}

// CityName returns the locality of the first result, falling back to the state
// when the coordinate is outside any city.
func (g *GoogleGeocoder) CityName(ctx context.Context, lat, lon float64) (string, error) {
	type result struct {
		addrs []geocoder.Address
		err   error
	}
	done := make(chan result, 1)
	go func() {
		keyMu.Lock()
		geocoder.ApiKey = g.apiKey
		addrs, err := geocoder.GeocodingReverse(geocoder.Location{Latitude: lat, Longitude: lon})
		keyMu.Unlock()
		done <- result{addrs, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return "", fmt.Errorf("reverse geocode: %w", r.err)
	}
	return pickName(r.addrs)
}

func pickName(addrs []geocoder.Address) (string, error) {
	if len(addrs) == 0 {
		return "", ErrNoResult
	}
	a := addrs[0]
	switch {
	case a.City != "":
		return a.City, nil
	case a.State != "":
		return a.State, nil
	case a.Country != "":
		return a.Country, nil
	}
	return "", ErrNoResult
}

// StaticGeocoder always answers with Name.
type StaticGeocoder struct {
	Name string
}

func (s StaticGeocoder) CityName(ctx context.Context, lat, lon float64) (string, error) {
	if s.Name == "" {
		return "", ErrNoResult
	}
	return s.Name, nil
}
