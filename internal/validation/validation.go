package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrCoordinatesRequired is returned when lat or lon is missing from a query.
var ErrCoordinatesRequired = errors.New("lat and lon are required")

// ErrLatitudeRange is returned when latitude is not a finite value in [-90, 90].
var ErrLatitudeRange = errors.New("latitude must be between -90 and 90")

// ErrLongitudeRange is returned when longitude is not a finite value in [-180, 180].
var ErrLongitudeRange = errors.New("longitude must be between -180 and 180")

// ErrLanguageInvalid is returned for language codes that are not "xx" or "xx_yy".
var ErrLanguageInvalid = errors.New("language must be a two-letter code, optionally with region (e.g. en, pt_br)")

// ErrSlotInvalid is returned for slots below the current-location slot.
var ErrSlotInvalid = errors.New("slot must be a positive integer")

// LocationRequest is the body of PUT /locations/{slot}.
type LocationRequest struct {
	Lat  float64 `json:"lat" validate:"latitude"`
	Lon  float64 `json:"lon" validate:"longitude"`
	Name string  `json:"name" validate:"max=100"`
}

// AlarmRequest is the body of POST /alarms and PUT /alarms/{id}.
type AlarmRequest struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtfield=Start"`
}

// SettingRequest is the body of PUT /settings/{key}.
type SettingRequest struct {
	Value string `json:"value" validate:"required,max=32"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Struct validates a request body against its `validate` tags and flattens
// field errors into a single message suitable for 400 INVALID_REQUEST responses.
func Struct(v interface{}) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("validation: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "latitude":
		return ErrLatitudeRange.Error()
	case "longitude":
		return ErrLongitudeRange.Error()
	case "gtfield":
		return field + " must be after " + strings.ToLower(fe.Param())
	case "max":
		return field + " is too long"
	default:
		return field + " is invalid"
	}
}

// ParseCoordinates parses and range-checks lat/lon query values.
func ParseCoordinates(latStr, lonStr string) (float64, float64, error) {
	latStr, lonStr = strings.TrimSpace(latStr), strings.TrimSpace(lonStr)
	if latStr == "" || lonStr == "" {
		return 0, 0, ErrCoordinatesRequired
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, ErrLatitudeRange
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return 0, 0, ErrLongitudeRange
	}
	if err := ValidateCoordinates(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// ValidateCoordinates checks that lat/lon are finite and inside the WGS84 ranges.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return ErrLatitudeRange
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return ErrLongitudeRange
	}
	return nil
}

// NormalizeLanguage lowercases and validates a language code. Empty input returns fallback.
func NormalizeLanguage(input, fallback string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return fallback, nil
	}
	s = strings.ReplaceAll(s, "-", "_")
	r := []rune(s)
	switch len(r) {
	case 2:
		if isLower(r[0]) && isLower(r[1]) {
			return s, nil
		}
	case 5:
		if isLower(r[0]) && isLower(r[1]) && r[2] == '_' && isLower(r[3]) && isLower(r[4]) {
			return s, nil
		}
	}
	return "", ErrLanguageInvalid
}

func isLower(r rune) bool {
	return r >= 'a' && r <= 'z'
}

// ParseSlot parses a location slot path value.
func ParseSlot(s string) (int, error) {
	slot, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || slot < 1 {
		return 0, ErrSlotInvalid
	}
	return slot, nil
}
