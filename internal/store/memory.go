package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

// MemoryStore implements LocationStore and AlarmStore in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	locations map[int]models.Location
	alarms    map[uuid.UUID]models.Alarm
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locations: make(map[int]models.Location),
		alarms:    make(map[uuid.UUID]models.Alarm),
	}
}

func (s *MemoryStore) Upsert(ctx context.Context, loc models.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[loc.Slot] = loc
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, slot int) (models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.locations[slot]
	if !ok {
		return models.Location{}, fmt.Errorf("location slot %d: %w", slot, ErrNotFound)
	}
	return loc, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locations[slot]; !ok {
		return fmt.Errorf("location slot %d: %w", slot, ErrNotFound)
	}
	delete(s.locations, slot)
	return nil
}

// Alarms returns the alarm view of the store.
func (s *MemoryStore) Alarms() AlarmStore {
	return memoryAlarms{s}
}

type memoryAlarms struct {
	s *MemoryStore
}

func (m memoryAlarms) Insert(ctx context.Context, a models.Alarm) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.alarms[a.ID]; ok {
		return fmt.Errorf("alarm %s already exists", a.ID)
	}
	m.s.alarms[a.ID] = a
	return nil
}

func (m memoryAlarms) Update(ctx context.Context, a models.Alarm) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.alarms[a.ID]; !ok {
		return fmt.Errorf("alarm %s: %w", a.ID, ErrNotFound)
	}
	m.s.alarms[a.ID] = a
	return nil
}

func (m memoryAlarms) Delete(ctx context.Context, id uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.alarms[id]; !ok {
		return fmt.Errorf("alarm %s: %w", id, ErrNotFound)
	}
	delete(m.s.alarms, id)
	return nil
}

func (m memoryAlarms) Get(ctx context.Context, id uuid.UUID) (models.Alarm, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	a, ok := m.s.alarms[id]
	if !ok {
		return models.Alarm{}, fmt.Errorf("alarm %s: %w", id, ErrNotFound)
	}
	return a, nil
}

func (m memoryAlarms) List(ctx context.Context) ([]models.Alarm, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]models.Alarm, 0, len(m.s.alarms))
	for _, a := range m.s.alarms {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}
