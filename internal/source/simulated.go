package source

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/logger"
	"codeberg.org/mutker/eegpipe/internal/signal"
)

// Tone adds a sine of the given frequency and amplitude to every channel.
type Tone struct {
	Freq      float64
	Amplitude float64
}

type SimulatedConfig struct {
	SamplingRate int
	Channels     int
	Period       time.Duration // default one second
	Noise        float64       // standard deviation, default 1
	Tones        []Tone
	Seed         uint64
}

// Simulated emits one period worth of samples at a time, the first batch
// immediately after Run starts.
type Simulated struct {
	cfg SimulatedConfig
	rng *rand.Rand
	seq uint64
	log logger.Logger

	received atomic.Uint64
	ingested atomic.Uint64
	rejected atomic.Uint64
}

func NewSimulated(cfg SimulatedConfig) (*Simulated, error) {
	errFactory := errors.New()

	if cfg.SamplingRate < 1 || cfg.Channels < 1 {
		return nil, errFactory.WithData(ErrInvalidConfig,
			fmt.Sprintf("simulated source needs positive rate and channels, got %d/%d", cfg.SamplingRate, cfg.Channels))
	}
	if cfg.Period < 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("period %s", cfg.Period))
	}
	if cfg.Period == 0 {
		cfg.Period = time.Second
	}
	if cfg.Noise == 0 {
		cfg.Noise = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	return &Simulated{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		log: logger.Component("simulated"),
	}, nil
}

func (s *Simulated) Run(ctx context.Context, sink Sink) error {
	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()

	s.log.Info().Int("rate", s.cfg.SamplingRate).Int("channels", s.cfg.Channels).Msg("Simulated source started")

	for {
		s.emit(sink)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Simulated) Stats() Stats {
	return Stats{
		Received: s.received.Load(),
		Ingested: s.ingested.Load(),
		Rejected: s.rejected.Load(),
	}
}

func (s *Simulated) emit(sink Sink) {
	batch := s.Generate()
	s.received.Add(1)

	if err := sink.IngestBatch(batch); err != nil {
		s.rejected.Add(uint64(len(batch)))
		s.log.Warn().Err(err).Int("samples", len(batch)).Msg("Batch rejected")
		return
	}
	s.ingested.Add(uint64(len(batch)))
}

// Generate returns the next SamplingRate samples. It is not safe for
// concurrent use with Run.
func (s *Simulated) Generate() []signal.Sample {
	batch := make([]signal.Sample, s.cfg.SamplingRate)
	rate := float64(s.cfg.SamplingRate)

	for i := range batch {
		t := float64(s.seq) / rate
		values := make([]float64, s.cfg.Channels)
		for c := range values {
			v := s.rng.NormFloat64() * s.cfg.Noise
			for _, tone := range s.cfg.Tones {
				v += tone.Amplitude * math.Sin(2*math.Pi*tone.Freq*t)
			}
			values[c] = v
		}
		batch[i] = signal.Sample{Seq: s.seq, Values: values}
		s.seq++
	}

	return batch
}
