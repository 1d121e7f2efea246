package stage

import (
	"context"
	"fmt"
	"math"

	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/signal"
	"gonum.org/v1/gonum/stat"
)

// InsufficientPolicy decides what a tick does before a full second of
// samples is buffered.
type InsufficientPolicy string

const (
	// PolicyDefer skips the tick.
	PolicyDefer InsufficientPolicy = "defer"
	// PolicyPartial computes over whatever is buffered, once the window
	// is long enough to give every band at least one frequency bin.
	PolicyPartial InsufficientPolicy = "partial"

	// minPartialSamples is the shortest window a partial estimate accepts.
	minPartialSamples = 4
)

// IsValid reports whether p is a known policy.
func (p InsufficientPolicy) IsValid() bool {
	return p == PolicyDefer || p == PolicyPartial
}

type BandPowerConfig struct {
	SamplingRate int
	FreqMin      float64
	FreqMax      float64
	Bands        []signal.Band
	Estimator    Estimator
	Policy       InsufficientPolicy
}

// BandPower is a post-stage reporting mean spectral power per band over the
// most recent second of data.
type BandPower struct {
	cfg BandPowerConfig
}

func NewBandPower(cfg BandPowerConfig) (*BandPower, error) {
	errFactory := errors.New()

	if cfg.SamplingRate < 1 {
		return nil, errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("sampling rate %d", cfg.SamplingRate))
	}
	if cfg.FreqMin < 0 || cfg.FreqMin >= cfg.FreqMax {
		return nil, errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("frequency range %g-%g", cfg.FreqMin, cfg.FreqMax))
	}
	if len(cfg.Bands) == 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, "no bands")
	}
	seen := make(map[string]bool, len(cfg.Bands))
	for _, b := range cfg.Bands {
		if b.Name == "" || seen[b.Name] || b.Low > b.High {
			return nil, errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("band %q %g-%g", b.Name, b.Low, b.High))
		}
		seen[b.Name] = true
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyDefer
	}
	if !cfg.Policy.IsValid() {
		return nil, errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("insufficient data policy %q", cfg.Policy))
	}
	if cfg.Estimator == nil {
		cfg.Estimator = Welch{}
	}

	return &BandPower{cfg: cfg}, nil
}

func (b *BandPower) Name() string {
	return "band_power"
}

// Bands returns the configured bands in order.
func (b *BandPower) Bands() []signal.Band {
	return append([]signal.Band(nil), b.cfg.Bands...)
}

// Postprocess snapshots the buffer, then estimates outside the buffer lock.
func (b *BandPower) Postprocess(ctx context.Context, buf Buffer) (signal.Summary, error) {
	errFactory := errors.New()
	sfreq := b.cfg.SamplingRate

	w, err := buf.Snapshot(sfreq)
	if err != nil {
		return signal.Summary{}, err
	}

	have := w.Len()
	if have < sfreq && (b.cfg.Policy == PolicyDefer || have < minPartialSamples) {
		return signal.Summary{}, errFactory.WithData(ErrInsufficientData, struct {
			Have int
			Need int
		}{have, sfreq})
	}

	if err := ctx.Err(); err != nil {
		return signal.Summary{}, err
	}

	spec, err := b.cfg.Estimator.Estimate(w.Data, float64(sfreq))
	if err != nil {
		return signal.Summary{}, err
	}

	spec = spec.Crop(b.cfg.FreqMin, b.cfg.FreqMax)
	if have < sfreq {
		// A short window has coarse bins; wait until every band has one.
		if band, ok := unresolved(spec, b.cfg.Bands); ok {
			return signal.Summary{}, errFactory.WithData(ErrInsufficientData, struct {
				Have int
				Band string
			}{have, band})
		}
	}

	return signal.Summary{
		LastSeq: w.LastSeq(),
		Bands:   AggregateBands(spec, b.cfg.Bands),
	}, nil
}

// unresolved returns the first band that contains none of spec's bins.
func unresolved(spec Spectrum, bands []signal.Band) (string, bool) {
	for _, band := range bands {
		found := false
		for _, f := range spec.Freqs {
			if band.Contains(f) {
				found = true
				break
			}
		}
		if !found {
			return band.Name, true
		}
	}
	return "", false
}

// AggregateBands averages, per channel, the density of the bins inside each
// band. A band without bins maps to NaN for every channel.
func AggregateBands(spec Spectrum, bands []signal.Band) map[string][]float64 {
	out := make(map[string][]float64, len(bands))
	values := make([]float64, 0, len(spec.Freqs))

	for _, band := range bands {
		powers := make([]float64, len(spec.Power))
		for c, power := range spec.Power {
			values = values[:0]
			for k, f := range spec.Freqs {
				if band.Contains(f) {
					values = append(values, power[k])
				}
			}
			if len(values) == 0 {
				powers[c] = math.NaN()
				continue
			}
			powers[c] = stat.Mean(values, nil)
		}
		out[band.Name] = powers
	}

	return out
}
