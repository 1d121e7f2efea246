// Package source produces samples for the rolling buffer, either from an
// OSC stream over UDP or from a local generator.
package source

import (
	"context"

	"codeberg.org/mutker/eegpipe/internal/signal"
)

// Sink receives samples from a Source. Implementations must be safe for
// use from the source's goroutine while other goroutines read the data.
type Sink interface {
	Ingest(s signal.Sample) error
	IngestBatch(samples []signal.Sample) error
}

// Source runs until ctx is cancelled, in which case it returns nil, or
// until its transport fails, in which case it returns an error carrying
// errors.ErrTransport.
type Source interface {
	Run(ctx context.Context, sink Sink) error
}

// Stats counts what a source has seen since it was created.
type Stats struct {
	Received  uint64 // datagrams or generated batches
	Ingested  uint64 // samples accepted by the sink
	Malformed uint64 // packets or messages that could not be decoded
	Rejected  uint64 // samples the sink refused
}
