package telemetry

import (
	"context"
	"sync/atomic"

	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/logger"
	"codeberg.org/mutker/eegpipe/internal/pipeline"
)

type service struct {
	repo Repository
	cfg  Config
}

type noopRecorder struct{}

// NewService returns a no-op recorder unless telemetry is enabled.
func NewService(cfg Config) (Recorder, error) {
	errFactory := errors.New()
	log := logger.Component("telemetry")

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		return nil, err
	}

	return &service{repo: repo, cfg: cfg}, nil
}

func (s *service) Record(ctx context.Context, stat *TickStat) error {
	errFactory := errors.New()

	if stat == nil || stat.RunID == "" {
		return errFactory.New(ErrInvalidStat)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(stat); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrStorageClose, err)
	}
	return nil
}

func (*noopRecorder) Record(context.Context, *TickStat) error {
	return nil
}

func (*noopRecorder) Close() error {
	return nil
}

// Observer turns pipeline reports into tick stats. Ingest counts are
// accumulated between ticks.
type Observer struct {
	rec      Recorder
	log      logger.Logger
	accepted atomic.Int64
	dropped  atomic.Int64
}

func NewObserver(rec Recorder) *Observer {
	return &Observer{rec: rec, log: logger.Component("telemetry")}
}

func (o *Observer) ObserveIngest(accepted, dropped int) {
	o.accepted.Add(int64(accepted))
	o.dropped.Add(int64(dropped))
}

func (o *Observer) ObserveTick(r pipeline.TickReport) {
	stat := &TickStat{
		RunID:           r.RunID,
		Tick:            r.Tick,
		StartedAt:       r.Started,
		Duration:        r.Duration,
		Outcome:         string(r.Outcome),
		BufferLen:       r.BufferLen,
		SamplesAccepted: int(o.accepted.Swap(0)),
		SamplesDropped:  int(o.dropped.Swap(0)),
	}
	if err := o.rec.Record(context.Background(), stat); err != nil {
		o.log.Debug().Err(err).Uint64("tick", r.Tick).Msg("Failed to record tick")
	}
}
