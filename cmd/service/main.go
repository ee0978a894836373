package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-cache-service/internal/config"
	"github.com/kjstillabower/weather-cache-service/internal/connectivity"
	httphandler "github.com/kjstillabower/weather-cache-service/internal/http"
	"github.com/kjstillabower/weather-cache-service/internal/lifecycle"
	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/refresh"
	"github.com/kjstillabower/weather-cache-service/internal/service"
	"github.com/kjstillabower/weather-cache-service/internal/traffic"
)

// inFlightCheckInterval is how often shutdown re-checks the in-flight count.
const inFlightCheckInterval = 100 * time.Millisecond

func main() {
	logger, err := observability.NewLogger("weather-cache-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	state := lifecycle.New()

	// Background work outlives the signal context so in-flight requests can drain first.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	startCtx, startCancel := context.WithTimeout(bgCtx, time.Minute)
	b, err := buildBackends(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		logger.Fatal("backends", zap.Error(err))
	}

	weatherClient, err := newWeatherClient(cfg, logger)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	probeAddr, err := connectivity.ProbeAddrFromURL(cfg.WeatherAPIURL)
	if err != nil {
		logger.Fatal("connectivity", zap.Error(err))
	}
	monitor := connectivity.NewMonitor(connectivity.Config{
		ProbeAddr:        probeAddr,
		ProbeTimeout:     cfg.ProbeTimeout,
		FailureThreshold: cfg.OfflineFailureThreshold,
		ErrorWindow:      cfg.DegradedWindow,
	}, logger)
	monitor.StartRecovery(bgCtx, cfg.RecoveryInitial, cfg.RecoveryMax)

	weatherService := service.NewWeatherService(weatherClient, b.cache, monitor, logger)
	locationService := service.NewLocationService(b.locations, b.geocoder, logger)
	alarmService := service.NewAlarmService(b.alarms)
	if err := locationService.EnsureDefault(bgCtx); err != nil {
		logger.Fatal("seed current location", zap.Error(err))
	}

	var scheduler *refresh.Scheduler
	if cfg.RefreshEnabled {
		scheduler = refresh.NewScheduler(refresh.Config{
			Schedule: cfg.RefreshSchedule,
			Flex:     cfg.RefreshFlex,
		}, weatherService, locationService, alarmService, monitor, b.settings, b.notifier, logger)
		go func() {
			if err := scheduler.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("refresh scheduler stopped", zap.Error(err))
			}
		}()
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	deps := httphandler.Dependencies{
		Weather:      weatherService,
		Locations:    locationService,
		Alarms:       alarmService,
		Settings:     b.settings,
		Client:       weatherClient,
		Connectivity: monitor,
		Lifecycle:    state,
		Traffic:      traffic.NewTracker(cfg.DegradedWindow),
	}
	if scheduler != nil {
		deps.Refresher = scheduler
	}
	handler := httphandler.NewHandler(deps, &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		Checks:           b.checks,
	}, logger)
	inFlight := &httphandler.InFlightTracker{}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Limiter:        limiter,
		InFlight:       inFlight,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	state.MarkServing()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	state.BeginShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	if err := inFlight.WaitForZero(shutdownCtx, inFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	bgCancel()
	b.Close(logger)

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
