// Package lifecycle tracks the process phase reported by the health endpoint.
package lifecycle

import (
	"sync/atomic"
	"time"
)

type Phase int32

const (
	// Starting lasts until dependencies are wired and the listener is up.
	Starting Phase = iota
	Serving
	// ShuttingDown is entered on SIGTERM/SIGINT and never left.
	ShuttingDown
)

func (p Phase) String() string {
	switch p {
	case Starting:
		return "starting"
	case Serving:
		return "serving"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// State holds the current phase. The zero value is not usable; call New.
type State struct {
	phase   atomic.Int32
	started time.Time
}

func New() *State {
	return &State{started: time.Now()}
}

// MarkServing moves Starting to Serving. It has no effect once shutdown began.
func (s *State) MarkServing() {
	s.phase.CompareAndSwap(int32(Starting), int32(Serving))
}

// BeginShutdown sets the shutdown phase. Health returns 503 from then on.
func (s *State) BeginShutdown() {
	s.phase.Store(int32(ShuttingDown))
}

func (s *State) Phase() Phase {
	return Phase(s.phase.Load())
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func (s *State) IsShuttingDown() bool {
	return s.Phase() == ShuttingDown
}

// Uptime returns the time since New.
func (s *State) Uptime() time.Duration {
	return time.Since(s.started)
}
