package pipeline

import "time"

// TickOutcome classifies how a tick ended.
type TickOutcome string

const (
	OutcomePublished TickOutcome = "published"
	OutcomeSkipped   TickOutcome = "skipped"
	OutcomeFailed    TickOutcome = "failed"
	OutcomeCancelled TickOutcome = "cancelled"
)

type TickReport struct {
	RunID     string
	Tick      uint64
	Started   time.Time
	Duration  time.Duration
	Outcome   TickOutcome
	BufferLen int
	Err       error
}

// Observer is notified of ingestion and tick activity. Calls arrive from
// the pipeline's goroutines and must not block.
type Observer interface {
	ObserveIngest(accepted, dropped int)
	ObserveTick(report TickReport)
}
