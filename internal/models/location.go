package models

import (
	"fmt"
	"math"
)

// CurrentSlot is the slot reserved for the device's live location. Saved favorites use higher slots.
const CurrentSlot = 1

// UnknownLocationName is the display name seeded for the current slot before a position is known.
const UnknownLocationName = "Unknown"

// coordinateScale rounds coordinates to 4 decimal places (about 11 m).
const coordinateScale = 1e4

type Location struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name"`
	Slot int     `json:"slot"`
}

// IsCurrent reports whether the location occupies the device-location slot.
func (l Location) IsCurrent() bool {
	return l.Slot == CurrentSlot
}

// HasPosition reports whether the location has been resolved away from the (0, 0) placeholder.
func (l Location) HasPosition() bool {
	return l.Lat != 0 && l.Lon != 0
}

// Rounded returns a copy with coordinates rounded to 4 decimal places.
func (l Location) Rounded() Location {
	l.Lat = RoundCoordinate(l.Lat)
	l.Lon = RoundCoordinate(l.Lon)
	return l
}

// RoundCoordinate rounds v to 4 decimal places, halves away from zero.
func RoundCoordinate(v float64) float64 {
	return math.Round(v*coordinateScale) / coordinateScale
}

// CoordKey returns the canonical cache key for a coordinate pair after rounding.
func CoordKey(lat, lon float64) string {
	return fmt.Sprintf("%.4f,%.4f", RoundCoordinate(lat), RoundCoordinate(lon))
}
