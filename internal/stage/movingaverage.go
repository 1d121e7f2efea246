package stage

import (
	"context"

	"codeberg.org/mutker/eegpipe/internal/errors"
)

// MovingAverage smooths every channel with a box kernel.
type MovingAverage struct {
	kernel int
}

// NewMovingAverage returns a smoothing pre-stage with the given kernel size.
func NewMovingAverage(kernel int) (*MovingAverage, error) {
	if kernel < 1 {
		return nil, errors.New().WithData(ErrInvalidConfig, struct {
			Kernel int
		}{kernel})
	}
	return &MovingAverage{kernel: kernel}, nil
}

func (m *MovingAverage) Name() string {
	return "moving_average"
}

// Kernel returns the kernel size.
func (m *MovingAverage) Kernel() int {
	return m.kernel
}

func (m *MovingAverage) Preprocess(ctx context.Context, buf Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return buf.TransformInPlace(m.Smooth)
}

// Smooth returns the "same"-length convolution of data with a box kernel of
// size k. Output i averages data[i-(k-1-(k-1)/2) .. i+(k-1)/2]; positions
// outside data count as zero, so edges are always divided by k.
func (m *MovingAverage) Smooth(data []float64) []float64 {
	n := len(data)
	out := make([]float64, n)
	if m.kernel == 1 {
		copy(out, data)
		return out
	}

	prefix := make([]float64, n+1)
	for i, v := range data {
		prefix[i+1] = prefix[i] + v
	}

	right := (m.kernel - 1) / 2
	left := m.kernel - 1 - right
	k := float64(m.kernel)
	for i := range out {
		lo := max(0, i-left)
		hi := min(n-1, i+right)
		out[i] = (prefix[hi+1] - prefix[lo]) / k
	}

	return out
}
