package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kjstillabower/weather-cache-service/internal/geocode"
	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/store"
	"github.com/kjstillabower/weather-cache-service/internal/validation"
)

type errGeocoder struct{}

func (errGeocoder) CityName(ctx context.Context, lat, lon float64) (string, error) {
	return "", errors.New("quota exceeded")
}

func TestEnsureDefault_SeedsOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	svc := NewLocationService(s, nil, nil)

	if err := svc.EnsureDefault(ctx); err != nil {
		t.Fatal(err)
	}
	got, err := svc.Get(ctx, models.CurrentSlot)
	if err != nil || got.Name != models.UnknownLocationName || got.Lat != 0 || got.Lon != 0 {
		t.Fatalf("slot 1 = %+v, %v", got, err)
	}

	_ = s.Upsert(ctx, models.Location{Slot: 1, Lat: 5, Lon: 5, Name: "Here"})
	if err := svc.EnsureDefault(ctx); err != nil {
		t.Fatal(err)
	}
	got, _ = svc.Get(ctx, models.CurrentSlot)
	if got.Name != "Here" {
		t.Errorf("EnsureDefault overwrote existing slot: %+v", got)
	}
}

func TestSave(t *testing.T) {
	tests := []struct {
		name     string
		geocoder geocode.ReverseGeocoder
		in       models.Location
		want     models.Location
		wantErr  error
	}{
		{
			name:     "rounds and keeps given name",
			geocoder: geocode.StaticGeocoder{Name: "Ignored"},
			in:       models.Location{Slot: 2, Lat: 47.606249, Lon: -122.332071, Name: "Seattle"},
			want:     models.Location{Slot: 2, Lat: 47.6062, Lon: -122.3321, Name: "Seattle"},
		},
		{
			name:     "geocodes empty name",
			geocoder: geocode.StaticGeocoder{Name: "Portland"},
			in:       models.Location{Slot: 3, Lat: 45.5152, Lon: -122.6784},
			want:     models.Location{Slot: 3, Lat: 45.5152, Lon: -122.6784, Name: "Portland"},
		},
		{
			name:     "geocoder failure falls back to unknown",
			geocoder: errGeocoder{},
			in:       models.Location{Slot: 2, Lat: 1, Lon: 1},
			want:     models.Location{Slot: 2, Lat: 1, Lon: 1, Name: models.UnknownLocationName},
		},
		{
			name:    "invalid slot",
			in:      models.Location{Slot: 0, Lat: 1, Lon: 1},
			wantErr: validation.ErrSlotInvalid,
		},
		{
			name:    "latitude out of range",
			in:      models.Location{Slot: 2, Lat: 91, Lon: 1},
			wantErr: validation.ErrLatitudeRange,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := store.NewMemoryStore()
			svc := NewLocationService(s, tt.geocoder, nil)

			got, err := svc.Save(ctx, tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Save() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Save() = %+v, want %+v", got, tt.want)
			}
			stored, _ := s.Get(ctx, tt.in.Slot)
			if stored != tt.want {
				t.Errorf("stored = %+v, want %+v", stored, tt.want)
			}
		})
	}
}

func TestDelete_CurrentSlotProtected(t *testing.T) {
	ctx := context.Background()
	svc := NewLocationService(store.NewMemoryStore(), nil, nil)
	_ = svc.EnsureDefault(ctx)
	_, _ = svc.Save(ctx, models.Location{Slot: 2, Lat: 1, Lon: 1, Name: "A"})

	if err := svc.Delete(ctx, models.CurrentSlot); !errors.Is(err, ErrCurrentSlotProtected) {
		t.Errorf("Delete(1) error = %v, want ErrCurrentSlotProtected", err)
	}
	if err := svc.Delete(ctx, 2); err != nil {
		t.Errorf("Delete(2) error = %v", err)
	}
	if err := svc.Delete(ctx, 2); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Delete(2) again error = %v, want ErrNotFound", err)
	}
	list, _ := svc.List(ctx)
	if len(list) != 1 {
		t.Errorf("List() = %+v, want only slot 1", list)
	}
}
