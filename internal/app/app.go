// Package app assembles a running eegpipe from its configuration.
package app

import (
	"context"
	"io"
	"sync"

	"codeberg.org/mutker/eegpipe/internal/buffer"
	"codeberg.org/mutker/eegpipe/internal/config"
	"codeberg.org/mutker/eegpipe/internal/device"
	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/logger"
	"codeberg.org/mutker/eegpipe/internal/monitoring"
	"codeberg.org/mutker/eegpipe/internal/pipeline"
	"codeberg.org/mutker/eegpipe/internal/render"
	"codeberg.org/mutker/eegpipe/internal/source"
	"codeberg.org/mutker/eegpipe/internal/stage"
	"codeberg.org/mutker/eegpipe/internal/telemetry"
)

type App struct {
	cfg      *config.Config
	buf      *buffer.Rolling
	src      source.Source
	pipeline *pipeline.Pipeline
	renderer *render.Renderer
	metrics  *monitoring.Metrics
	recorder telemetry.Recorder
	log      logger.Logger
}

// Build wires every component. Rendered frames go to out; a nil out
// disables rendering regardless of the configuration.
func Build(cfg *config.Config, out io.Writer) (*App, error) {
	bands, err := config.ParseBands(cfg.Bands)
	if err != nil {
		return nil, err
	}

	buf, err := buffer.New(cfg.Capacity, cfg.Channels)
	if err != nil {
		return nil, err
	}

	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}

	stages, err := stage.Build(cfg.Stages, stage.Params{
		SamplingRate: cfg.SamplingRate,
		KernelSize:   cfg.KernelSize,
		FreqMin:      cfg.FreqMin,
		FreqMax:      cfg.FreqMax,
		Bands:        bands,
		Policy:       stage.InsufficientPolicy(cfg.InsufficientData),
	})
	if err != nil {
		return nil, err
	}

	tcfg := telemetry.DefaultConfig()
	tcfg.Enabled = cfg.Telemetry
	tcfg.DBPath = cfg.TelemetryDB
	if cfg.TelemetryBatch > 0 {
		tcfg.BatchSize = cfg.TelemetryBatch
	}
	recorder, err := telemetry.NewService(tcfg)
	if err != nil {
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	p, err := pipeline.New(buf, src, pipeline.Config{
		Stages:     stages,
		Interval:   cfg.Interval,
		Shape:      pipeline.ShapePolicy(cfg.ShapePolicy),
		Isolate:    cfg.Isolate,
		RetryDelay: cfg.RetryDelay,
		Observers:  []pipeline.Observer{metrics, telemetry.NewObserver(recorder)},
	})
	if err != nil {
		recorder.Close()
		return nil, err
	}
	metrics.WatchResults(p.Results())

	a := &App{
		cfg:      cfg,
		buf:      buf,
		src:      src,
		pipeline: p,
		metrics:  metrics,
		recorder: recorder,
		log:      logger.Component("app"),
	}

	if cfg.Render && out != nil {
		a.renderer, err = render.New(out, p.Results(), render.Config{
			Interval: cfg.RenderInterval,
			Bands:    bands,
			Channels: cfg.ChannelNames,
			Width:    cfg.RenderWidth,
		})
		if err != nil {
			recorder.Close()
			return nil, err
		}
	}

	return a, nil
}

// NewSource creates the sample source selected by the configuration.
func NewSource(cfg *config.Config) (source.Source, error) {
	kind, err := device.ParseKind(cfg.Source)
	if err != nil {
		return nil, err
	}

	switch kind {
	case device.KindSimulated:
		return source.NewSimulated(source.SimulatedConfig{
			SamplingRate: cfg.SamplingRate,
			Channels:     cfg.Channels,
		})
	default:
		preset, err := device.Lookup(cfg.Device)
		if err != nil {
			return nil, err
		}
		return source.NewNetwork(source.NetworkConfig{
			Host:   cfg.Host,
			Port:   cfg.Port,
			Topic:  cfg.Topic,
			Layout: preset.Layout,
		})
	}
}

func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

func (a *App) Metrics() *monitoring.Metrics {
	return a.metrics
}

// Run starts the pipeline and its consumers and blocks until ctx is done
// or a component fails. Transport failures are fatal only when the source
// is not retried.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.pipeline.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	failures := make(chan error, 2)

	if a.cfg.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.metrics.Serve(ctx, a.cfg.MetricsAddr); err != nil {
				failures <- err
			}
		}()
	}
	if a.renderer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.renderer.Run(ctx)
		}()
	}

	a.log.Info().
		Str("run_id", a.pipeline.ID()).
		Str("device", a.cfg.Device).
		Str("source", a.cfg.Source).
		Int("sampling_rate", a.cfg.SamplingRate).
		Int("channels", a.cfg.Channels).
		Msg("eegpipe running")

	err := a.wait(ctx, failures)

	cancel()
	a.pipeline.Stop()
	wg.Wait()

	if cerr := a.recorder.Close(); cerr != nil {
		a.log.Error().Err(cerr).Msg("Failed to close telemetry")
		if err == nil {
			err = cerr
		}
	}

	return err
}

func (a *App) wait(ctx context.Context, failures <-chan error) error {
	transport := a.pipeline.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failures:
			return err
		case err, ok := <-transport:
			if !ok {
				transport = nil
				continue
			}
			if a.cfg.RetryDelay <= 0 {
				return errors.New().Wrap(errors.ErrTransport, err).WithMessage("Sample source failed")
			}
		}
	}
}
