// Package connectivity decides whether the weather API is reachable.
package connectivity

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-cache-service/internal/observability"
	"github.com/kjstillabower/weather-cache-service/internal/traffic"
)

// Config holds Monitor parameters.
type Config struct {
	// ProbeAddr is the host:port dialed by Probe.
	ProbeAddr    string
	ProbeTimeout time.Duration
	// FailureThreshold consecutive network failures switch the monitor offline.
	FailureThreshold int
	// ErrorWindow is the sliding window used by ErrorRate.
	ErrorWindow time.Duration
}

// Monitor tracks upstream outcomes and the resulting online/offline state.
// It starts online; the first failed fetch or probe proves otherwise.
type Monitor struct {
	cfg     Config
	tracker *traffic.Tracker
	logger  *zap.Logger
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)

	mu          sync.Mutex
	online      bool
	consecutive int
	changedAt   time.Time

	recoveryMu sync.Mutex
	recoveryCh chan struct{}
}

func NewMonitor(cfg Config, logger *zap.Logger) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.ErrorWindow <= 0 {
		cfg.ErrorWindow = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := &net.Dialer{Timeout: cfg.ProbeTimeout}
	observability.SetConnectivity(true)
	return &Monitor{
		cfg:       cfg,
		tracker:   traffic.NewTracker(0),
		logger:    logger,
		dial:      dialer.DialContext,
		online:    true,
		changedAt: time.Now(),
	}
}

// ProbeAddrFromURL derives host:port from an API URL, defaulting the port by scheme.
func ProbeAddrFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse API URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("API URL %q has no host", raw)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "443"
	if u.Scheme == "http" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// IsOnline reports the last known state without touching the network.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Since returns when the state last changed.
func (m *Monitor) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changedAt
}

// RecordSuccess marks the API reachable.
func (m *Monitor) RecordSuccess() {
	m.tracker.RecordSuccess()
	m.mu.Lock()
	m.consecutive = 0
	changed := m.setOnlineLocked(true)
	m.mu.Unlock()
	if changed {
		m.logger.Info("weather API reachable again")
	}
}

// RecordFailure counts a network-level failure. Crossing the threshold switches
// the monitor offline and wakes the recovery loop.
func (m *Monitor) RecordFailure() {
	m.tracker.RecordError()
	m.mu.Lock()
	m.consecutive++
	changed := false
	if m.consecutive >= m.cfg.FailureThreshold {
		changed = m.setOnlineLocked(false)
	}
	m.mu.Unlock()
	if changed {
		m.logger.Warn("weather API unreachable, serving cached data", zap.Int("consecutiveFailures", m.cfg.FailureThreshold))
		m.notifyOffline()
	}
}

func (m *Monitor) setOnlineLocked(online bool) bool {
	if m.online == online {
		return false
	}
	m.online = online
	m.changedAt = time.Now()
	observability.SetConnectivity(online)
	return true
}

// ErrorRate returns upstream (errors, total) within the configured window.
func (m *Monitor) ErrorRate() (errors, total int) {
	return m.tracker.ErrorRate(m.cfg.ErrorWindow)
}

// Probe dials the API host over TCP. It does not change the monitor state.
func (m *Monitor) Probe(ctx context.Context) error {
	if m.cfg.ProbeAddr == "" {
		return fmt.Errorf("no probe address configured")
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	conn, err := m.dial(ctx, "tcp", m.cfg.ProbeAddr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Online returns true when the monitor is online, otherwise probes once.
// A successful probe restores the online state.
func (m *Monitor) Online(ctx context.Context) bool {
	if m.IsOnline() {
		return true
	}
	if err := m.Probe(ctx); err != nil {
		m.logger.Debug("connectivity probe failed", zap.Error(err))
		return false
	}
	m.RecordSuccess()
	return true
}
