package stage_test

import (
	"context"
	"testing"

	"codeberg.org/mutker/eegpipe/internal/buffer"
	"codeberg.org/mutker/eegpipe/internal/errors"
	"codeberg.org/mutker/eegpipe/internal/signal"
	"codeberg.org/mutker/eegpipe/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedOnly struct{}

func (namedOnly) Name() string { return "renderer" }

type both struct{}

func (both) Name() string                                   { return "both" }
func (both) Preprocess(context.Context, stage.Buffer) error { return nil }
func (both) Postprocess(context.Context, stage.Buffer) (signal.Summary, error) {
	return signal.Summary{}, nil
}

func TestClassifyKeepsOrder(t *testing.T) {
	ma1, err := stage.NewMovingAverage(3)
	require.NoError(t, err)
	ma2, err := stage.NewMovingAverage(5)
	require.NoError(t, err)
	bp, err := stage.NewBandPower(stage.BandPowerConfig{
		SamplingRate: 256, FreqMin: 1, FreqMax: 40, Bands: signal.DefaultBands(),
	})
	require.NoError(t, err)

	pre, post, err := stage.Classify(ma1, bp, ma2)
	require.NoError(t, err)
	require.Len(t, pre, 2)
	require.Len(t, post, 1)
	assert.Same(t, ma1, pre[0])
	assert.Same(t, ma2, pre[1])
	assert.Same(t, bp, post[0])
}

func TestClassifyRejectsUnknownStages(t *testing.T) {
	_, _, err := stage.Classify(namedOnly{})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	_, _, err = stage.Classify(both{})
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))

	_, _, err = stage.Classify(nil)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestMovingAverageSame(t *testing.T) {
	ma, err := stage.NewMovingAverage(3)
	require.NoError(t, err)

	out := ma.Smooth([]float64{0, 3, 0, 3, 0})
	require.Len(t, out, 5)
	assert.InDelta(t, 2.0, out[2], 1e-12)
	assert.InDeltaSlice(t, []float64{1, 1, 2, 1, 1}, out, 1e-12)
}

func TestMovingAverageEvenKernelAlignment(t *testing.T) {
	// numpy.convolve([1,2,3,4], [.5,.5], "same") == [0.5, 1.5, 2.5, 3.5]
	ma, err := stage.NewMovingAverage(2)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.5, 1.5, 2.5, 3.5}, ma.Smooth([]float64{1, 2, 3, 4}), 1e-12)
}

func TestMovingAverageKernelOneIsIdentity(t *testing.T) {
	ma, err := stage.NewMovingAverage(1)
	require.NoError(t, err)

	buf, err := buffer.New(6, 2)
	require.NoError(t, err)
	for seq := uint64(0); seq < 9; seq++ {
		require.NoError(t, buf.Append(signal.Sample{Seq: seq, Values: []float64{float64(seq), -float64(seq * seq)}}))
	}
	before, err := buf.Snapshot(6)
	require.NoError(t, err)

	require.NoError(t, ma.Preprocess(context.Background(), buf))

	after, err := buf.Snapshot(6)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMovingAverageRejectsKernel(t *testing.T) {
	_, err := stage.NewMovingAverage(0)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig))
}

func TestMovingAverageSmoothsBuffer(t *testing.T) {
	ma, err := stage.NewMovingAverage(3)
	require.NoError(t, err)

	buf, err := buffer.New(5, 1)
	require.NoError(t, err)
	for i, v := range []float64{0, 3, 0, 3, 0} {
		require.NoError(t, buf.Append(signal.Sample{Seq: uint64(i), Values: []float64{v}}))
	}

	require.NoError(t, ma.Preprocess(context.Background(), buf))

	w, err := buf.Snapshot(5)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 1, 2, 1, 1}, w.Data[0], 1e-12)
	assert.Equal(t, []uint64{0, 1, 2, 3, 4}, w.Seq)
}
