package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/geocode"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/reqctx"
	"github.com/kjstillabower/weather-cache-service/internal/store"
	"github.com/kjstillabower/weather-cache-service/internal/validation"
)

// ErrCurrentSlotProtected is returned when deleting the device-location slot.
var ErrCurrentSlotProtected = errors.New("current location slot cannot be deleted")

type LocationService struct {
	store    store.LocationStore
	geocoder geocode.ReverseGeocoder
	logger   *zap.Logger
}

func NewLocationService(s store.LocationStore, g geocode.ReverseGeocoder, logger *zap.Logger) *LocationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocationService{store: s, geocoder: g, logger: logger}
}

// EnsureDefault seeds the current slot with (0, 0, "Unknown") on first run.
func (s *LocationService) EnsureDefault(ctx context.Context) error {
	_, err := s.store.Get(ctx, models.CurrentSlot)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	s.logger.Info("seeding current location slot")
	return s.store.Upsert(ctx, models.Location{Slot: models.CurrentSlot, Name: models.UnknownLocationName})
}

// Save rounds the coordinates, fills an empty name by reverse geocoding, and
// replaces whatever occupied the slot.
func (s *LocationService) Save(ctx context.Context, loc models.Location) (models.Location, error) {
	if loc.Slot < models.CurrentSlot {
		return models.Location{}, validation.ErrSlotInvalid
	}
	if err := validation.ValidateCoordinates(loc.Lat, loc.Lon); err != nil {
		return models.Location{}, err
	}
	loc = loc.Rounded()
	if loc.Name == "" {
		loc.Name = s.resolveName(ctx, loc)
	}
	if err := s.store.Upsert(ctx, loc); err != nil {
		return models.Location{}, fmt.Errorf("save location: %w", err)
	}
	return loc, nil
}

func (s *LocationService) resolveName(ctx context.Context, loc models.Location) string {
	if s.geocoder == nil || !loc.HasPosition() {
		return models.UnknownLocationName
	}
	name, err := s.geocoder.CityName(ctx, loc.Lat, loc.Lon)
	if err != nil || name == "" {
		reqctx.Logger(ctx, s.logger).Warn("reverse geocoding failed",
			zap.Int("slot", loc.Slot), zap.Error(err))
		return models.UnknownLocationName
	}
	return name
}

func (s *LocationService) Get(ctx context.Context, slot int) (models.Location, error) {
	return s.store.Get(ctx, slot)
}

func (s *LocationService) List(ctx context.Context) ([]models.Location, error) {
	return s.store.List(ctx)
}

func (s *LocationService) Delete(ctx context.Context, slot int) error {
	if slot == models.CurrentSlot {
		return ErrCurrentSlotProtected
	}
	return s.store.Delete(ctx, slot)
}
