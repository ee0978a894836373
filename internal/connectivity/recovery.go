package connectivity

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StartRecovery starts a listener that reprobes the API with Fibonacci delays
// (initial, 2x, 3x, 5x ... up to max) each time the monitor goes offline.
// Only one recovery loop runs at a time.
func (m *Monitor) StartRecovery(ctx context.Context, initial, max time.Duration) {
	ch := make(chan struct{}, 1)
	m.recoveryMu.Lock()
	m.recoveryCh = ch
	m.recoveryMu.Unlock()

	var running atomic.Bool
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				if running.Swap(true) {
					continue
				}
				go func() {
					defer running.Store(false)
					m.runRecovery(ctx, initial, max)
				}()
			}
		}
	}()
}

func (m *Monitor) notifyOffline() {
	m.recoveryMu.Lock()
	ch := m.recoveryCh
	m.recoveryMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// runRecovery probes at each Fibonacci delay until the API answers, something else
// restores the online state, or the sequence is exhausted.
func (m *Monitor) runRecovery(ctx context.Context, initial, max time.Duration) {
	if initial <= 0 || max < initial {
		return
	}
	delays := fibDelays(initial, max)
	for i, d := range delays {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
		if m.IsOnline() {
			return
		}
		if err := m.Probe(ctx); err == nil {
			m.RecordSuccess()
			return
		} else if i == len(delays)-1 {
			m.logger.Warn("connectivity recovery exhausted, waiting for next fetch", zap.Error(err), zap.Int("attempts", len(delays)))
		}
	}
}

func fibDelays(initial, max time.Duration) []time.Duration {
	a, b := 1.0, 2.0
	unit := initial.Seconds()
	var out []time.Duration
	for {
		d := time.Duration(a * unit * float64(time.Second))
		if d > max {
			break
		}
		out = append(out, d)
		a, b = b, a+b
	}
	return out
}
