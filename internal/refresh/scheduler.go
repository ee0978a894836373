// Package refresh periodically refetches saved locations and delivers alarm alerts.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/models"
	"github.com/kjstillabower/weather-cache-service/internal/notify"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/settings"
)

// DefaultSchedule runs roughly hourly; the flex delay spreads runs further.
const DefaultSchedule = "@every 1h"

// maxConcurrentFetches bounds parallel upstream calls during one run.
const maxConcurrentFetches = 4

type WeatherRefresher interface {
	RefreshLocation(ctx context.Context, loc models.Location, lang string) (models.WeatherResponse, error)
	Current(ctx context.Context) (models.WeatherResponse, bool, error)
}

type LocationLister interface {
	List(ctx context.Context) ([]models.Location, error)
}

type AlarmSource interface {
	Active(ctx context.Context, now time.Time) ([]models.Alarm, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type ConnectivityChecker interface {
	Online(ctx context.Context) bool
}

// Config holds Scheduler parameters.
type Config struct {
	Schedule string
	// Flex is the upper bound of the random delay before each scheduled run.
	Flex time.Duration
}

// Result summarizes one run.
type Result struct {
	Skipped   bool `json:"skipped"`
	Refreshed int  `json:"refreshed"`
	Failed    int  `json:"failed"`
	Notified  int  `json:"notified"`
	Expired   int  `json:"expired"`
}

type Scheduler struct {
	cfg          Config
	weather      WeatherRefresher
	locations    LocationLister
	alarms       AlarmSource
	connectivity ConnectivityChecker
	settings     settings.Store
	notifier     notify.Notifier
	logger       *zap.Logger
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	runMu sync.Mutex

	sentMu sync.Mutex
	sent   map[string]time.Time // dedup key -> alert end
}

func NewScheduler(cfg Config, w WeatherRefresher, l LocationLister, a AlarmSource, c ConnectivityChecker, st settings.Store, n notify.Notifier, logger *zap.Logger) *Scheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:          cfg,
		weather:      w,
		locations:    l,
		alarms:       a,
		connectivity: c,
		settings:     st,
		notifier:     n,
		logger:       logger,
		now:          time.Now,
		sleep:        sleepCtx,
		sent:         make(map[string]time.Time),
	}
}

// Start marks the background job as enqueued, registers it with cron, and blocks
// until ctx is done. Overlapping runs are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.markEnqueued(ctx); err != nil {
		s.logger.Warn("could not persist refresh flag", zap.Error(err))
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		if s.cfg.Flex > 0 {
			if err := s.sleep(ctx, time.Duration(rand.Int63n(int64(s.cfg.Flex)))); err != nil {
				return
			}
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Warn("scheduled refresh failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("add refresh job: %w", err)
	}

	s.logger.Info("refresh scheduler started", zap.String("schedule", s.cfg.Schedule), zap.Duration("flex", s.cfg.Flex))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("refresh scheduler stopped")
	return ctx.Err()
}

func (s *Scheduler) markEnqueued(ctx context.Context) error {
	if s.settings == nil {
		return nil
	}
	st, err := s.settings.Load(ctx)
	if err != nil {
		return err
	}
	if st.RefreshEnqueued {
		s.logger.Debug("background refresh already enqueued")
		return nil
	}
	s.logger.Info("enqueuing background refresh for the first time")
	return s.settings.Set(ctx, settings.KeyRefreshEnqueued, "true")
}

// RunOnce refreshes every saved location and evaluates alarms. It does nothing when
// the weather API is unreachable. Concurrent calls are serialized.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := s.now()
	var res Result
	if !s.connectivity.Online(ctx) {
		res.Skipped = true
		observability.RefreshRunsTotal.WithLabelValues("skipped_offline").Inc()
		s.logger.Info("refresh skipped, offline")
		return res, nil
	}

	lang := models.DefaultSettings().Language
	if s.settings != nil {
		if st, err := s.settings.Load(ctx); err == nil {
			lang = st.Language
		}
	}

	locs, err := s.locations.List(ctx)
	if err != nil {
		observability.RefreshRunsTotal.WithLabelValues("failed").Inc()
		return res, fmt.Errorf("list locations: %w", err)
	}

	res.Refreshed, res.Failed = s.refreshAll(ctx, locs, lang)

	var errs []error
	notified, err := s.evaluateAlarms(ctx, locs)
	res.Notified = notified
	if err != nil {
		errs = append(errs, err)
	}
	expired, err := s.alarms.DeleteExpired(ctx, s.now())
	res.Expired = expired
	if expired > 0 {
		observability.AlarmsExpiredTotal.Add(float64(expired))
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("delete expired alarms: %w", err))
	}

	duration := s.now().Sub(start)
	observability.RefreshDurationSeconds.Observe(duration.Seconds())
	result := "success"
	switch {
	case res.Failed > 0 && res.Refreshed == 0:
		result = "failed"
	case res.Failed > 0 || len(errs) > 0:
		result = "partial"
	}
	observability.RefreshRunsTotal.WithLabelValues(result).Inc()
	s.logger.Info("refresh complete",
		zap.Int("refreshed", res.Refreshed),
		zap.Int("failed", res.Failed),
		zap.Int("notified", res.Notified),
		zap.Int("expired", res.Expired),
		zap.Duration("duration", duration),
	)
	return res, errors.Join(errs...)
}

func (s *Scheduler) refreshAll(ctx context.Context, locs []models.Location, lang string) (ok, failed int) {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, maxConcurrentFetches)
	)
	for _, loc := range locs {
		if !loc.HasPosition() {
			continue
		}
		loc := loc
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			resp, err := s.weather.RefreshLocation(ctx, loc, lang)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || resp.Stale {
				failed++
				observability.RefreshLocationsTotal.WithLabelValues("error").Inc()
				s.logger.Warn("location refresh failed", zap.Int("slot", loc.Slot), zap.Error(err))
				return
			}
			ok++
			observability.RefreshLocationsTotal.WithLabelValues("success").Inc()
		}()
	}
	wg.Wait()
	return ok, failed
}

// evaluateAlarms sends every unexpired alert on the current record that overlaps an
// active alarm. Each (alarm, event, alert start) is sent at most once.
func (s *Scheduler) evaluateAlarms(ctx context.Context, locs []models.Location) (int, error) {
	now := s.now()
	active, err := s.alarms.Active(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list active alarms: %w", err)
	}
	if len(active) == 0 || s.notifier == nil {
		return 0, nil
	}
	cur, ok, err := s.weather.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("read current weather: %w", err)
	}
	if !ok || len(cur.Alerts) == 0 {
		return 0, nil
	}

	name := models.UnknownLocationName
	for _, l := range locs {
		if l.IsCurrent() {
			name = l.Name
		}
	}

	s.pruneSent(now)
	sent := 0
	var errs []error
	for _, a := range active {
		for _, alert := range cur.Alerts {
			if alert.End.Before(now) || !alert.Overlaps(a.Start, a.End) {
				continue
			}
			key := dedupKey(a.ID, alert)
			if s.alreadySent(key) {
				continue
			}
			n := notify.Notification{
				AlarmID:    a.ID,
				Location:   name,
				Lat:        cur.Lat,
				Lon:        cur.Lon,
				Alert:      alert,
				NotifiedAt: now,
			}
			if err := s.notifier.Notify(ctx, n); err != nil {
				observability.AlarmNotificationsTotal.WithLabelValues("error").Inc()
				errs = append(errs, fmt.Errorf("notify alarm %s: %w", a.ID, err))
				continue
			}
			observability.AlarmNotificationsTotal.WithLabelValues("sent").Inc()
			s.markSent(key, alert.End)
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func dedupKey(id uuid.UUID, alert models.WeatherAlert) string {
	return fmt.Sprintf("%s|%s|%d", id, alert.Event, alert.Start.Unix())
}

func (s *Scheduler) alreadySent(key string) bool {
	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	_, ok := s.sent[key]
	return ok
}

func (s *Scheduler) markSent(key string, alertEnd time.Time) {
	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	s.sent[key] = alertEnd
}

// pruneSent forgets alerts that have ended; they can no longer overlap anything new.
func (s *Scheduler) pruneSent(now time.Time) {
	s.sentMu.Lock()
	defer s.sentMu.Unlock()
	for k, end := range s.sent {
		if end.Before(now) {
			delete(s.sent, k)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
