package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/models"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		slot INTEGER PRIMARY KEY,
		lat  DOUBLE PRECISION NOT NULL,
		lon  DOUBLE PRECISION NOT NULL,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS alarms (
		id       UUID PRIMARY KEY,
		start_at TIMESTAMPTZ NOT NULL,
		end_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS alarms_start_at_idx ON alarms (start_at)`,
}

// PostgresStore implements LocationStore and AlarmStore on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// ConnectPostgres opens dsn, pings it with up to attempts tries, and applies migrations.
func ConnectPostgres(ctx context.Context, dsn string, attempts uint, delay time.Duration, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return db.PingContext(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			if logger != nil {
				logger.Warn("postgres not ready", zap.Uint("attempt", n+1), zap.Error(err))
			}
		}),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if logger != nil {
		logger.Info("postgres connected")
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, loc models.Location) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO locations (slot, lat, lon, name) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (slot) DO UPDATE SET lat = EXCLUDED.lat, lon = EXCLUDED.lon, name = EXCLUDED.name`,
		loc.Slot, loc.Lat, loc.Lon, loc.Name)
	if err != nil {
		return fmt.Errorf("upsert location slot %d: %w", loc.Slot, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, slot int) (models.Location, error) {
	var loc models.Location
	err := s.db.QueryRowContext(ctx,
		`SELECT slot, lat, lon, name FROM locations WHERE slot = $1`, slot).
		Scan(&loc.Slot, &loc.Lat, &loc.Lon, &loc.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Location{}, fmt.Errorf("location slot %d: %w", slot, ErrNotFound)
	}
	if err != nil {
		return models.Location{}, fmt.Errorf("get location slot %d: %w", slot, err)
	}
	return loc, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]models.Location, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slot, lat, lon, name FROM locations ORDER BY slot`)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	defer rows.Close()

	var out []models.Location
	for rows.Next() {
		var loc models.Location
		if err := rows.Scan(&loc.Slot, &loc.Lat, &loc.Lon, &loc.Name); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, slot int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM locations WHERE slot = $1`, slot)
	if err != nil {
		return fmt.Errorf("delete location slot %d: %w", slot, err)
	}
	return requireAffected(res, fmt.Sprintf("location slot %d", slot))
}

// Alarms returns the alarm view of the store.
func (s *PostgresStore) Alarms() AlarmStore {
	return postgresAlarms{s.db}
}

// Ping checks the database connection. Used for health checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type postgresAlarms struct {
	db *sql.DB
}

func (p postgresAlarms) Insert(ctx context.Context, a models.Alarm) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO alarms (id, start_at, end_at) VALUES ($1, $2, $3)`, a.ID, a.Start.UTC(), a.End.UTC())
	if err != nil {
		return fmt.Errorf("insert alarm %s: %w", a.ID, err)
	}
	return nil
}

func (p postgresAlarms) Update(ctx context.Context, a models.Alarm) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE alarms SET start_at = $2, end_at = $3 WHERE id = $1`, a.ID, a.Start.UTC(), a.End.UTC())
	if err != nil {
		return fmt.Errorf("update alarm %s: %w", a.ID, err)
	}
	return requireAffected(res, "alarm "+a.ID.String())
}

func (p postgresAlarms) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM alarms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete alarm %s: %w", id, err)
	}
	return requireAffected(res, "alarm "+id.String())
}

func (p postgresAlarms) Get(ctx context.Context, id uuid.UUID) (models.Alarm, error) {
	var a models.Alarm
	err := p.db.QueryRowContext(ctx,
		`SELECT id, start_at, end_at FROM alarms WHERE id = $1`, id).Scan(&a.ID, &a.Start, &a.End)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Alarm{}, fmt.Errorf("alarm %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Alarm{}, fmt.Errorf("get alarm %s: %w", id, err)
	}
	return a, nil
}

func (p postgresAlarms) List(ctx context.Context) ([]models.Alarm, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, start_at, end_at FROM alarms ORDER BY start_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list alarms: %w", err)
	}
	defer rows.Close()

	var out []models.Alarm
	for rows.Next() {
		var a models.Alarm
		if err := rows.Scan(&a.ID, &a.Start, &a.End); err != nil {
			return nil, fmt.Errorf("scan alarm: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
