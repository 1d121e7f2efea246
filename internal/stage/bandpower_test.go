package stage_test

import (
	"context"
	"math"
	"testing"

	"codeberg.org/mutker/eegpipe/internal/buffer"
	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/signal"
	"codeberg.org/mutker/eegpipe/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sfreq = 256

func sineBuffer(t *testing.T, rows int, freqs ...float64) *buffer.Rolling {
	t.Helper()
	buf, err := buffer.New(sfreq*2, len(freqs))
	require.NoError(t, err)
	for i := 0; i < rows; i++ {
		values := make([]float64, len(freqs))
		for c, f := range freqs {
			values[c] = math.Sin(2 * math.Pi * f * float64(i) / sfreq)
		}
		require.NoError(t, buf.Append(signal.Sample{Seq: uint64(i), Values: values}))
	}
	return buf
}

func newBandPower(t *testing.T, policy stage.InsufficientPolicy) *stage.BandPower {
	t.Helper()
	bp, err := stage.NewBandPower(stage.BandPowerConfig{
		SamplingRate: sfreq,
		FreqMin:      1,
		FreqMax:      40,
		Bands:        signal.DefaultBands(),
		Policy:       policy,
	})
	require.NoError(t, err)
	return bp
}

func TestWelchFrequencyAxis(t *testing.T) {
	buf := sineBuffer(t, sfreq, 10)
	w, err := buf.Snapshot(sfreq)
	require.NoError(t, err)

	spec, err := stage.Welch{}.Estimate(w.Data, sfreq)
	require.NoError(t, err)
	require.Len(t, spec.Freqs, sfreq/2+1)
	assert.InDelta(t, 0, spec.Freqs[0], 1e-9)
	assert.InDelta(t, 10, spec.Freqs[10], 1e-9)
	assert.InDelta(t, 128, spec.Freqs[128], 1e-9)

	peak := 0
	for k, p := range spec.Power[0] {
		if p > spec.Power[0][peak] {
			peak = k
		}
	}
	assert.Equal(t, 10, peak)
}

func TestWelchSegments(t *testing.T) {
	buf := sineBuffer(t, sfreq, 20)
	w, err := buf.Snapshot(sfreq)
	require.NoError(t, err)

	spec, err := stage.Welch{Segment: 64, Overlap: 32}.Estimate(w.Data, sfreq)
	require.NoError(t, err)
	require.Len(t, spec.Freqs, 33)
	assert.InDelta(t, 4, spec.Freqs[1], 1e-9)

	peak := 0
	for k, p := range spec.Power[0] {
		if p > spec.Power[0][peak] {
			peak = k
		}
	}
	assert.InDelta(t, 20, spec.Freqs[peak], 1e-9)
}

func TestBandPowerSummaryShape(t *testing.T) {
	bp := newBandPower(t, stage.PolicyDefer)
	buf := sineBuffer(t, sfreq, 10, 20, 35, 5)

	summary, err := bp.Postprocess(context.Background(), buf)
	require.NoError(t, err)

	assert.Len(t, summary.Bands, 4)
	for _, band := range signal.DefaultBands() {
		require.Contains(t, summary.Bands, band.Name)
		assert.Len(t, summary.Bands[band.Name], 4)
	}
	assert.Equal(t, uint64(sfreq-1), summary.LastSeq)
	assert.True(t, summary.Valid(signal.DefaultBands(), 4))

	// Each channel's tone should land in its own band.
	assert.Greater(t, summary.Bands["alpha"][0], summary.Bands["beta"][0])
	assert.Greater(t, summary.Bands["beta"][1], summary.Bands["alpha"][1])
	assert.Greater(t, summary.Bands["gamma"][2], summary.Bands["beta"][2])
	assert.Greater(t, summary.Bands["theta"][3], summary.Bands["gamma"][3])
}

func TestBandPowerDefersUntilFull(t *testing.T) {
	bp := newBandPower(t, stage.PolicyDefer)
	buf := sineBuffer(t, sfreq-1, 10)

	_, err := bp.Postprocess(context.Background(), buf)
	assert.True(t, errors.HasCode(err, errors.ErrInsufficientData))
}

func TestBandPowerPartialWindow(t *testing.T) {
	bp := newBandPower(t, stage.PolicyPartial)

	summary, err := bp.Postprocess(context.Background(), sineBuffer(t, sfreq/2, 10))
	require.NoError(t, err)
	assert.Len(t, summary.Bands, 4)

	_, err = bp.Postprocess(context.Background(), sineBuffer(t, 2, 10))
	assert.True(t, errors.HasCode(err, errors.ErrInsufficientData))
}

func TestBandPowerPartialWaitsForEveryBand(t *testing.T) {
	bp := newBandPower(t, stage.PolicyPartial)

	// 16 samples at 256 Hz give 16 Hz bins, none of them inside theta.
	_, err := bp.Postprocess(context.Background(), sineBuffer(t, 16, 10))
	assert.True(t, errors.HasCode(err, errors.ErrInsufficientData))

	// 86 samples resolve to just under 3 Hz, enough to hit 4-7 Hz.
	summary, err := bp.Postprocess(context.Background(), sineBuffer(t, 86, 10))
	require.NoError(t, err)
	assert.True(t, summary.Valid(signal.DefaultBands(), 1))
}

func TestBandPowerRangeError(t *testing.T) {
	bp := newBandPower(t, stage.PolicyDefer)
	small, err := buffer.New(sfreq/2, 1)
	require.NoError(t, err)

	_, err = bp.Postprocess(context.Background(), small)
	assert.True(t, errors.HasCode(err, errors.ErrRange))
}

func TestAggregateBandsIsIdempotent(t *testing.T) {
	spec := stage.Spectrum{
		Freqs: []float64{1, 4, 5, 7, 8, 10, 12, 13, 30, 31, 40},
		Power: [][]float64{
			{9, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
			{1, 1, 1, 1, 2, 2, 2, 3, 3, 4, 4},
		},
	}

	first := stage.AggregateBands(spec, signal.DefaultBands())
	second := stage.AggregateBands(spec, signal.DefaultBands())
	assert.Equal(t, first, second)

	assert.InDeltaSlice(t, []float64{2, 1}, first["theta"], 1e-12)
	assert.InDeltaSlice(t, []float64{5, 2}, first["alpha"], 1e-12)
	assert.InDeltaSlice(t, []float64{7.5, 3}, first["beta"], 1e-12)
	assert.InDeltaSlice(t, []float64{9.5, 4}, first["gamma"], 1e-12)
}

func TestAggregateBandsWithoutBins(t *testing.T) {
	spec := stage.Spectrum{Freqs: []float64{1, 2}, Power: [][]float64{{1, 1}}}
	out := stage.AggregateBands(spec, []signal.Band{{Name: "alpha", Low: 8, High: 12}})
	require.Len(t, out["alpha"], 1)
	assert.True(t, math.IsNaN(out["alpha"][0]))
}

func TestNewBandPowerValidation(t *testing.T) {
	valid := stage.BandPowerConfig{SamplingRate: sfreq, FreqMin: 1, FreqMax: 40, Bands: signal.DefaultBands()}

	tests := map[string]func(c *stage.BandPowerConfig){
		"sampling rate": func(c *stage.BandPowerConfig) { c.SamplingRate = 0 },
		"range":         func(c *stage.BandPowerConfig) { c.FreqMin = 40 },
		"no bands":      func(c *stage.BandPowerConfig) { c.Bands = nil },
		"duplicate": func(c *stage.BandPowerConfig) {
			c.Bands = []signal.Band{{Name: "a", Low: 1, High: 2}, {Name: "a", Low: 3, High: 4}}
		},
		"policy": func(c *stage.BandPowerConfig) { c.Policy = "always" },
	}
	for name, mutate := range tests {
		cfg := valid
		mutate(&cfg)
		_, err := stage.NewBandPower(cfg)
		assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig), name)
	}

	_, err := stage.NewBandPower(valid)
	assert.NoError(t, err)
}
