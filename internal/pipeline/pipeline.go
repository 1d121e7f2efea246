// Package pipeline drives a rolling buffer: one goroutine feeds it from a
// source while another periodically runs the processing stages and
// publishes their summaries.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/eegpipe/internal/buffer"
	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/logger"
	"codeberg.org/mutker/eegpipe/internal/signal"
	"codeberg.org/mutker/eegpipe/internal/source"
	"codeberg.org/mutker/eegpipe/internal/stage"
	"github.com/rs/xid"
)

const errorBacklog = 8

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ShapePolicy decides what happens to samples whose channel count does
// not match the buffer.
type ShapePolicy string

const (
	// ShapeDrop discards such samples.
	ShapeDrop ShapePolicy = "drop"
	// ShapeTruncate keeps the first channels of longer samples. Shorter
	// samples are still dropped.
	ShapeTruncate ShapePolicy = "truncate"
)

func (p ShapePolicy) IsValid() bool {
	return p == ShapeDrop || p == ShapeTruncate
}

type Config struct {
	// Stages run in order each tick: preprocessors first, then
	// postprocessors. The last postprocessor's summary is published.
	Stages   []stage.Stage
	Interval time.Duration
	Shape    ShapePolicy
	// Isolate runs each tick on a copy of the buffer so preprocessing
	// does not alter the data later ticks see.
	Isolate bool
	// RetryDelay restarts a failed source after the delay. Zero leaves
	// ingestion stopped after the first transport failure.
	RetryDelay time.Duration
	Observers  []Observer
}

type Pipeline struct {
	id      xid.ID
	buf     *buffer.Rolling
	src     source.Source
	cfg     Config
	pre     []stage.Preprocessor
	post    []stage.Postprocessor
	results *Results
	errs    chan error
	log     logger.Logger

	mu       sync.Mutex
	state    State
	stopping bool
	stopped  chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	ticks atomic.Uint64
}

func New(buf *buffer.Rolling, src source.Source, cfg Config) (*Pipeline, error) {
	errFactory := errors.New()

	if buf == nil || src == nil {
		return nil, errFactory.WithData(ErrInvalidConfig, "pipeline needs a buffer and a source")
	}
	if cfg.Interval <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, cfg.Interval.String())
	}
	if cfg.RetryDelay < 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("retry delay %s", cfg.RetryDelay))
	}
	if cfg.Shape == "" {
		cfg.Shape = ShapeDrop
	}
	if !cfg.Shape.IsValid() {
		return nil, errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("shape policy %q", cfg.Shape))
	}

	pre, post, err := stage.Classify(cfg.Stages...)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		id:      xid.New(),
		buf:     buf,
		src:     src,
		cfg:     cfg,
		pre:     pre,
		post:    post,
		results: NewResults(),
		errs:    make(chan error, errorBacklog),
		stopped: make(chan struct{}),
		log:     logger.Component("pipeline"),
	}, nil
}

// ID identifies this pipeline run in logs and telemetry.
func (p *Pipeline) ID() string {
	return p.id.String()
}

func (p *Pipeline) Results() *Results {
	return p.results
}

// Errors delivers transport failures. It is closed by Stop. Failures are
// dropped if nobody reads them.
func (p *Pipeline) Errors() <-chan error {
	return p.errs
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Ticks returns how many ticks have started.
func (p *Pipeline) Ticks() uint64 {
	return p.ticks.Load()
}

// Start launches ingestion and the tick loop. It may be called once.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle || p.stopping {
		return errors.New().WithData(ErrInvalidOperation, fmt.Sprintf("start in state %s", p.state))
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.state = StateRunning

	p.wg.Add(2)
	go p.ingest(ctx)
	go p.tickLoop(ctx)

	p.log.Info().
		Str("run_id", p.ID()).
		Dur("interval", p.cfg.Interval).
		Int("pre_stages", len(p.pre)).
		Int("post_stages", len(p.post)).
		Bool("isolate", p.cfg.Isolate).
		Msg("Pipeline started")

	return nil
}

// Stop cancels both activities, waits for them and closes Results and
// Errors. A tick cut short by Stop publishes nothing. State reports
// Stopped only once both activities have returned. Stop is idempotent;
// concurrent callers wait for the first one to finish.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		<-p.stopped
		return
	}
	p.stopping = true
	running := p.state == StateRunning
	cancel := p.cancel
	p.mu.Unlock()

	if running {
		cancel()
		p.wg.Wait()
	}

	p.results.Close()
	close(p.errs)

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()
	close(p.stopped)

	p.log.Info().Str("run_id", p.ID()).Uint64("ticks", p.ticks.Load()).Msg("Pipeline stopped")
}

// Ingest stores one sample, applying the shape policy.
func (p *Pipeline) Ingest(s signal.Sample) error {
	s, err := p.shape(s)
	if err != nil {
		p.observeIngest(0, 1)
		return err
	}
	if err := p.buf.Append(s); err != nil {
		p.observeIngest(0, 1)
		return err
	}
	p.observeIngest(1, 0)
	return nil
}

// IngestBatch stores every well-shaped sample in one buffer operation.
// It reports a shape mismatch if any sample was dropped.
func (p *Pipeline) IngestBatch(samples []signal.Sample) error {
	kept := make([]signal.Sample, 0, len(samples))
	var firstErr error
	for _, s := range samples {
		s, err := p.shape(s)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		kept = append(kept, s)
	}
	dropped := len(samples) - len(kept)

	if len(kept) > 0 {
		if err := p.buf.AppendBatch(kept); err != nil {
			p.observeIngest(0, len(samples))
			return err
		}
	}
	p.observeIngest(len(kept), dropped)

	if firstErr != nil {
		return errors.New().Wrap(ErrShapeMismatch, firstErr).WithData(struct {
			Dropped int
			Total   int
		}{dropped, len(samples)})
	}
	return nil
}

func (p *Pipeline) shape(s signal.Sample) (signal.Sample, error) {
	channels := p.buf.Channels()
	if len(s.Values) > channels && p.cfg.Shape == ShapeTruncate {
		s.Values = append([]float64(nil), s.Values[:channels]...)
	}
	if len(s.Values) != channels {
		return s, errors.New().WithData(ErrShapeMismatch, struct {
			Seq      uint64
			Expected int
			Got      int
		}{s.Seq, channels, len(s.Values)})
	}
	return s, nil
}

func (p *Pipeline) ingest(ctx context.Context) {
	defer p.wg.Done()

	for {
		err := p.src.Run(ctx, p)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			p.log.Warn().Str("run_id", p.ID()).Msg("Source finished")
			return
		}

		if appErr, ok := err.(errors.Error); ok {
			p.log.ErrorWithCode(appErr).Str("run_id", p.ID()).Msg("Source failed")
		} else {
			p.log.Error().Err(err).Str("run_id", p.ID()).Msg("Source failed")
		}
		p.report(err)

		if p.cfg.RetryDelay <= 0 {
			return
		}
		timer := time.NewTimer(p.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			p.log.Info().Dur("after", p.cfg.RetryDelay).Msg("Restarting source")
		}
	}
}

func (p *Pipeline) report(err error) {
	select {
	case p.errs <- err:
	default:
		p.log.Debug().Err(err).Msg("Error backlog full")
	}
}

func (p *Pipeline) tickLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Pipeline) tick(ctx context.Context) {
	report := TickReport{
		RunID:   p.ID(),
		Tick:    p.ticks.Add(1),
		Started: time.Now(),
	}

	summary, ok, err := p.process(ctx)
	switch {
	case ctx.Err() != nil:
		report.Outcome = OutcomeCancelled
	case errors.HasCode(err, ErrInsufficientData):
		report.Outcome = OutcomeSkipped
		p.log.Debug().Uint64("tick", report.Tick).Err(err).Msg("Tick skipped")
	case err != nil:
		report.Outcome = OutcomeFailed
		report.Err = err
		p.log.Error().Uint64("tick", report.Tick).Err(err).Msg("Tick failed")
	case !ok:
		report.Outcome = OutcomeSkipped
	default:
		summary.Tick = report.Tick
		summary.At = report.Started
		p.results.Publish(summary)
		report.Outcome = OutcomePublished
	}

	report.Duration = time.Since(report.Started)
	report.BufferLen = p.buf.Len()
	for _, o := range p.cfg.Observers {
		o.ObserveTick(report)
	}
}

// process runs the stages once. A panicking stage fails only this tick.
func (p *Pipeline) process(ctx context.Context) (summary signal.Summary, ok bool, err error) {
	errFactory := errors.New()
	var current string
	defer func() {
		if r := recover(); r != nil {
			err = errFactory.WithData(ErrStageFailed, fmt.Sprintf("stage %s panicked: %v", current, r))
			ok = false
		}
	}()

	var target stage.Buffer = p.buf
	if p.cfg.Isolate {
		target = p.buf.Clone()
	}

	for _, s := range p.pre {
		if err := ctx.Err(); err != nil {
			return summary, false, err
		}
		current = s.Name()
		if err := s.Preprocess(ctx, target); err != nil {
			return summary, false, stageError(s.Name(), err)
		}
	}

	for _, s := range p.post {
		if err := ctx.Err(); err != nil {
			return summary, false, err
		}
		current = s.Name()
		out, err := s.Postprocess(ctx, target)
		if err != nil {
			return summary, false, stageError(s.Name(), err)
		}
		summary, ok = out, true
	}

	return summary, ok, nil
}

func stageError(name string, err error) error {
	if errors.HasCode(err, ErrInsufficientData) {
		return err
	}
	return errors.New().Wrap(errors.CodeOf(err), err).WithMessage(fmt.Sprintf("stage %s failed", name))
}

func (p *Pipeline) observeIngest(accepted, dropped int) {
	for _, o := range p.cfg.Observers {
		o.ObserveIngest(accepted, dropped)
	}
}
