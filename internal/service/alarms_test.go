package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/store"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func TestAlarmService_CreateValidates(t *testing.T) {
	svc := NewAlarmService(store.NewMemoryStore().Alarms())
	ctx := context.Background()

	a, err := svc.Create(ctx, t0, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.ID == uuid.Nil {
		t.Error("Create() did not assign an ID")
	}

	if _, err := svc.Create(ctx, t0, t0); !errors.Is(err, ErrInvalidAlarm) {
		t.Errorf("Create(end == start) error = %v, want ErrInvalidAlarm", err)
	}
	if _, err := svc.Create(ctx, t0, t0.Add(-time.Minute)); !errors.Is(err, ErrInvalidAlarm) {
		t.Errorf("Create(end < start) error = %v, want ErrInvalidAlarm", err)
	}
}

func TestAlarmService_UpdateAndDelete(t *testing.T) {
	svc := NewAlarmService(store.NewMemoryStore().Alarms())
	ctx := context.Background()
	a, _ := svc.Create(ctx, t0, t0.Add(time.Hour))

	a.End = t0.Add(2 * time.Hour)
	if _, err := svc.Update(ctx, a); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, _ := svc.Get(ctx, a.ID)
	if !got.End.Equal(t0.Add(2 * time.Hour)) {
		t.Errorf("Get() = %+v", got)
	}

	a.End = a.Start.Add(-time.Second)
	if _, err := svc.Update(ctx, a); !errors.Is(err, ErrInvalidAlarm) {
		t.Errorf("Update() error = %v, want ErrInvalidAlarm", err)
	}
	if _, err := svc.Update(ctx, models.Alarm{ID: uuid.New(), Start: t0, End: t0.Add(time.Hour)}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Update() missing error = %v, want ErrNotFound", err)
	}

	if err := svc.Delete(ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Get(ctx, a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
}

func TestAlarmService_ActiveAndExpired(t *testing.T) {
	// Arrange
	svc := NewAlarmService(store.NewMemoryStore().Alarms())
	ctx := context.Background()
	past, _ := svc.Create(ctx, t0.Add(-3*time.Hour), t0.Add(-time.Hour))
	active, _ := svc.Create(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	edge, _ := svc.Create(ctx, t0, t0.Add(time.Minute))
	future, _ := svc.Create(ctx, t0.Add(time.Hour), t0.Add(2*time.Hour))

	// Act
	got, err := svc.Active(ctx, t0)

	// Assert
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != active.ID || got[1].ID != edge.ID {
		t.Errorf("Active() = %+v, want active and edge", got)
	}

	n, err := svc.DeleteExpired(ctx, t0)
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired() = %d, %v; want 1", n, err)
	}
	if _, err := svc.Get(ctx, past.ID); !errors.Is(err, store.ErrNotFound) {
		t.Error("expired alarm not deleted")
	}
	list, _ := svc.List(ctx)
	if len(list) != 3 || list[2].ID != future.ID {
		t.Errorf("List() = %+v", list)
	}
}
