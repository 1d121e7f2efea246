// Package telemetry stores per-tick operational statistics in SQLite.
// No signal data is written, only timings and counters.
package telemetry

import (
	"context"
	"time"
)

// Recorder defines the core domain interface
type Recorder interface {
	Record(ctx context.Context, stat *TickStat) error
	Close() error
}

// Repository defines the interface for tick stat storage
type Repository interface {
	Record(stat *TickStat) error
	Close() error
}

// TickStat describes one pipeline tick.
type TickStat struct {
	RunID           string
	Tick            uint64
	StartedAt       time.Time
	Duration        time.Duration
	Outcome         string
	BufferLen       int
	SamplesAccepted int // since the previous tick
	SamplesDropped  int // since the previous tick
}
