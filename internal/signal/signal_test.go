package signal_test

import (
	"math"
	"testing"

	"codeberg.org/mutker/eegpipe/internal/signal"
	"github.com/stretchr/testify/assert"
)

func TestBandContainsIsInclusive(t *testing.T) {
	alpha := signal.Band{Name: "alpha", Low: 8, High: 12}
	assert.True(t, alpha.Contains(8))
	assert.True(t, alpha.Contains(12))
	assert.False(t, alpha.Contains(7.99))
	assert.False(t, alpha.Contains(12.5))
}

func TestSummaryValid(t *testing.T) {
	bands := signal.DefaultBands()
	full := map[string][]float64{
		"theta": {1, 2},
		"alpha": {1, 2},
		"beta":  {1, 2},
		"gamma": {1, 2},
	}
	assert.True(t, signal.Summary{Bands: full}.Valid(bands, 2))
	assert.False(t, signal.Summary{Bands: full}.Valid(bands, 3))
	assert.False(t, signal.Summary{}.Valid(bands, 2))

	missing := map[string][]float64{"alpha": {1, 2}}
	assert.False(t, signal.Summary{Bands: missing}.Valid(bands, 2))

	full["gamma"] = []float64{1, math.NaN()}
	assert.False(t, signal.Summary{Bands: full}.Valid(bands, 2))

	full["gamma"] = []float64{1, -0.5}
	assert.False(t, signal.Summary{Bands: full}.Valid(bands, 2))
}

func TestWindowAccessors(t *testing.T) {
	w := signal.Window{Seq: []uint64{4, 5, 6}, Data: [][]float64{{1, 2, 3}, {4, 5, 6}}}
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 2, w.Channels())
	assert.Equal(t, uint64(6), w.LastSeq())
	assert.Equal(t, uint64(0), signal.Window{}.LastSeq())
}
