// Package store persists saved locations and alarms.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// ErrNotFound is returned when a slot or alarm ID has no record.
var ErrNotFound = errors.New("not found")

// LocationStore keeps one location per slot. Slot 1 is the device location.
type LocationStore interface {
	// Upsert replaces whatever occupies loc.Slot.
	Upsert(ctx context.Context, loc models.Location) error
	Get(ctx context.Context, slot int) (models.Location, error)
	// List returns all locations ordered by slot.
	List(ctx context.Context) ([]models.Location, error)
	Delete(ctx context.Context, slot int) error
}

type AlarmStore interface {
	Insert(ctx context.Context, a models.Alarm) error
	Update(ctx context.Context, a models.Alarm) error
	Delete(ctx context.Context, id uuid.UUID) error
	Get(ctx context.Context, id uuid.UUID) (models.Alarm, error)
	// List returns all alarms ordered by start time.
	List(ctx context.Context) ([]models.Alarm, error)
}
