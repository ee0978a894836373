package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/store"
)

// ErrInvalidAlarm is returned when an alarm does not end after it starts.
var ErrInvalidAlarm = errors.New("alarm end must be after start")

type AlarmService struct {
	store store.AlarmStore
}

func NewAlarmService(s store.AlarmStore) *AlarmService {
	return &AlarmService{store: s}
}

func (s *AlarmService) Create(ctx context.Context, start, end time.Time) (models.Alarm, error) {
	a := models.Alarm{ID: uuid.New(), Start: start.UTC(), End: end.UTC()}
	if !a.End.After(a.Start) {
		return models.Alarm{}, ErrInvalidAlarm
	}
	if err := s.store.Insert(ctx, a); err != nil {
		return models.Alarm{}, fmt.Errorf("create alarm: %w", err)
	}
	return a, nil
}

func (s *AlarmService) Update(ctx context.Context, a models.Alarm) (models.Alarm, error) {
	a.Start, a.End = a.Start.UTC(), a.End.UTC()
	if !a.End.After(a.Start) {
		return models.Alarm{}, ErrInvalidAlarm
	}
	if err := s.store.Update(ctx, a); err != nil {
		return models.Alarm{}, err
	}
	return a, nil
}

func (s *AlarmService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.Delete(ctx, id)
}

func (s *AlarmService) Get(ctx context.Context, id uuid.UUID) (models.Alarm, error) {
	return s.store.Get(ctx, id)
}

func (s *AlarmService) List(ctx context.Context) ([]models.Alarm, error) {
	return s.store.List(ctx)
}

// Active returns the alarms whose window contains now.
func (s *AlarmService) Active(ctx context.Context, now time.Time) ([]models.Alarm, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Alarm
	for _, a := range all {
		if a.ActiveAt(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

// DeleteExpired removes alarms that ended before now and returns how many were removed.
func (s *AlarmService) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range all {
		if !a.ExpiredAt(now) {
			continue
		}
		if err := s.store.Delete(ctx, a.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return n, err
		}
		n++
	}
	return n, nil
}
