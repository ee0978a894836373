package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		name    string
		lat     string
		lon     string
		wantLat float64
		wantLon float64
		wantErr error
	}{
		{name: "valid", lat: "47.6062", lon: "-122.3321", wantLat: 47.6062, wantLon: -122.3321},
		{name: "trimmed", lat: " 30.0444 ", lon: " 31.2357", wantLat: 30.0444, wantLon: 31.2357},
		{name: "missing lat", lat: "", lon: "1", wantErr: ErrCoordinatesRequired},
		{name: "missing lon", lat: "1", lon: "  ", wantErr: ErrCoordinatesRequired},
		{name: "lat out of range", lat: "91", lon: "0", wantErr: ErrLatitudeRange},
		{name: "lon out of range", lat: "0", lon: "-180.5", wantErr: ErrLongitudeRange},
		{name: "lat not a number", lat: "abc", lon: "0", wantErr: ErrLatitudeRange},
		{name: "lon NaN", lat: "0", lon: "NaN", wantErr: ErrLongitudeRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lon, err := ParseCoordinates(tt.lat, tt.lon)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseCoordinates() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCoordinates() error = %v", err)
			}
			if lat != tt.wantLat || lon != tt.wantLon {
				t.Errorf("ParseCoordinates() = (%v, %v), want (%v, %v)", lat, lon, tt.wantLat, tt.wantLon)
			}
		})
	}
}

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "en", false},
		{"EN", "en", false},
		{" ar ", "ar", false},
		{"pt-BR", "pt_br", false},
		{"zh_cn", "zh_cn", false},
		{"english", "", true},
		{"e1", "", true},
		{"pt_b", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeLanguage(tt.in, "en")
		if tt.wantErr {
			if !errors.Is(err, ErrLanguageInvalid) {
				t.Errorf("NormalizeLanguage(%q) error = %v, want ErrLanguageInvalid", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeLanguage(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestParseSlot(t *testing.T) {
	if slot, err := ParseSlot("2"); err != nil || slot != 2 {
		t.Errorf("ParseSlot(2) = (%d, %v)", slot, err)
	}
	for _, in := range []string{"0", "-1", "x", ""} {
		if _, err := ParseSlot(in); !errors.Is(err, ErrSlotInvalid) {
			t.Errorf("ParseSlot(%q) error = %v, want ErrSlotInvalid", in, err)
		}
	}
}

func TestStruct_LocationRequest(t *testing.T) {
	if err := Struct(LocationRequest{Lat: 47.6, Lon: -122.3, Name: "Seattle"}); err != nil {
		t.Fatalf("Struct(valid) error = %v", err)
	}
	err := Struct(LocationRequest{Lat: 120, Lon: 0})
	if err == nil {
		t.Fatal("Struct(lat 120) error = nil")
	}
	if !strings.Contains(err.Error(), "latitude") {
		t.Errorf("error = %v, want latitude message", err)
	}
}

func TestStruct_AlarmRequest(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	if err := Struct(AlarmRequest{Start: start, End: start.Add(time.Hour)}); err != nil {
		t.Fatalf("Struct(valid alarm) error = %v", err)
	}

	err := Struct(AlarmRequest{Start: start, End: start.Add(-time.Hour)})
	if err == nil || !strings.Contains(err.Error(), "end must be after start") {
		t.Errorf("Struct(end before start) error = %v", err)
	}

	err = Struct(AlarmRequest{End: start})
	if err == nil || !strings.Contains(err.Error(), "start is required") {
		t.Errorf("Struct(missing start) error = %v", err)
	}
}

func TestStruct_SettingRequest(t *testing.T) {
	if err := Struct(SettingRequest{Value: "kelvin"}); err != nil {
		t.Errorf("Struct(valid) error = %v", err)
	}
	if err := Struct(SettingRequest{}); err == nil {
		t.Error("Struct(empty value) error = nil")
	}
}
