// Package stage defines the processing steps a pipeline tick runs over the
// rolling buffer. Pre-stages rewrite the buffer in place; post-stages read
// a snapshot and derive a summary.
package stage

import (
	"context"
	"fmt"

	"codeberg.org/mutker/eegpipe/internal/buffer"
	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/signal"
)

// Buffer is the view of the rolling buffer that stages work against.
type Buffer interface {
	Channels() int
	Len() int
	TransformInPlace(fn buffer.TransformFunc) error
	Snapshot(n int) (signal.Window, error)
}

// Stage is anything that can be placed in a pipeline.
type Stage interface {
	Name() string
}

// Preprocessor transforms the buffer contents in place.
type Preprocessor interface {
	Stage
	Preprocess(ctx context.Context, buf Buffer) error
}

// Postprocessor computes a summary from a snapshot of the buffer.
type Postprocessor interface {
	Stage
	Postprocess(ctx context.Context, buf Buffer) (signal.Summary, error)
}

// Classify splits stages into pre- and post-stages, keeping their order.
// A stage that is neither, or both, is a configuration error.
func Classify(stages ...Stage) ([]Preprocessor, []Postprocessor, error) {
	errFactory := errors.New()
	var (
		pre  []Preprocessor
		post []Postprocessor
	)

	for i, s := range stages {
		if s == nil {
			return nil, nil, errFactory.WithData(ErrInvalidStage, fmt.Sprintf("stage %d is nil", i))
		}
		p, isPre := s.(Preprocessor)
		q, isPost := s.(Postprocessor)
		switch {
		case isPre && isPost:
			return nil, nil, errFactory.WithData(ErrInvalidStage, fmt.Sprintf("%s is both a pre- and a post-stage", s.Name()))
		case isPre:
			pre = append(pre, p)
		case isPost:
			post = append(post, q)
		default:
			return nil, nil, errFactory.WithData(ErrInvalidStage, fmt.Sprintf("%s is not a processing stage", s.Name()))
		}
	}

	return pre, post, nil
}
