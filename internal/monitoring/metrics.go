// Package monitoring exposes pipeline activity as Prometheus metrics.
package monitoring

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	apperrors "codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/logger"
	"codeberg.org/mutker/eegpipe/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Ingestion metrics
	SamplesIngested prometheus.Counter
	SamplesDropped  prometheus.Counter

	// Tick metrics
	Ticks        *prometheus.CounterVec
	TickDuration prometheus.Histogram
	BufferLen    prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics registers the pipeline metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SamplesIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "eegpipe_samples_ingested_total",
				Help: "Total number of samples stored in the rolling buffer",
			},
		),
		SamplesDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "eegpipe_samples_dropped_total",
				Help: "Total number of samples dropped on ingest",
			},
		),
		Ticks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eegpipe_ticks_total",
				Help: "Total number of processing ticks by outcome",
			},
			[]string{"outcome"},
		),
		TickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "eegpipe_tick_duration_seconds",
				Help:    "Processing tick duration in seconds",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		BufferLen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "eegpipe_buffer_samples",
				Help: "Number of samples currently held in the rolling buffer",
			},
		),
	}
}

func (m *Metrics) ObserveIngest(accepted, dropped int) {
	if accepted > 0 {
		m.SamplesIngested.Add(float64(accepted))
	}
	if dropped > 0 {
		m.SamplesDropped.Add(float64(dropped))
	}
}

func (m *Metrics) ObserveTick(r pipeline.TickReport) {
	m.Ticks.WithLabelValues(string(r.Outcome)).Inc()
	m.TickDuration.Observe(r.Duration.Seconds())
	m.BufferLen.Set(float64(r.BufferLen))
}

// WatchResults exports the mailbox counters, read at scrape time.
func (m *Metrics) WatchResults(results *pipeline.Results) {
	factory := promauto.With(m.registry)

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "eegpipe_results_published_total",
		Help: "Total number of summaries published",
	}, func() float64 { return float64(results.Stats().Published) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "eegpipe_results_overwritten_total",
		Help: "Total number of summaries replaced before being read",
	}, func() float64 { return float64(results.Stats().Overwritten) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "eegpipe_results_consumed_total",
		Help: "Total number of summaries read by the consumer",
	}, func() float64 { return float64(results.Stats().Consumed) })
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	errFactory := apperrors.New()
	log := logger.Component("monitoring")

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errFactory.Wrap(apperrors.ErrInitFailed, err).WithData(addr)
	}

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	log.Info().Str("address", ln.Addr().String()).Msg("Serving metrics")

	select {
	case err := <-done:
		return errFactory.Wrap(apperrors.ErrOperationFailed, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errFactory.Wrap(apperrors.ErrShutdownFailed, err)
	}
	if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errFactory.Wrap(apperrors.ErrOperationFailed, err)
	}

	return nil
}
