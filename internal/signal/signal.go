// Package signal holds the data model shared by the buffer, the sources and
// the processing stages.
package signal

import (
	"math"
	"time"
)

// Sample is one multi-channel reading.
type Sample struct {
	Seq    uint64
	Values []float64
}

// Window is a channel-major copy of consecutive buffer rows, oldest first.
// Data[c][i] is channel c of row i; Seq[i] is that row's sample id.
type Window struct {
	Seq  []uint64
	Data [][]float64
}

// Len returns the number of rows in the window.
func (w Window) Len() int {
	return len(w.Seq)
}

// Channels returns the number of channels in the window.
func (w Window) Channels() int {
	return len(w.Data)
}

// LastSeq returns the id of the newest row, or 0 for an empty window.
func (w Window) LastSeq() uint64 {
	if len(w.Seq) == 0 {
		return 0
	}
	return w.Seq[len(w.Seq)-1]
}

// Band is a named, inclusive frequency range in Hz.
type Band struct {
	Name string
	Low  float64
	High float64
}

// Contains reports whether freq lies within the band, bounds included.
func (b Band) Contains(freq float64) bool {
	return freq >= b.Low && freq <= b.High
}

// DefaultBands returns the usual EEG theta, alpha, beta and gamma ranges.
func DefaultBands() []Band {
	return []Band{
		{Name: "theta", Low: 4, High: 7},
		{Name: "alpha", Low: 8, High: 12},
		{Name: "beta", Low: 13, High: 30},
		{Name: "gamma", Low: 31, High: 40},
	}
}

// Summary is the result of one pipeline tick: per-channel power for each band.
// It must not be modified once published.
type Summary struct {
	Tick    uint64
	At      time.Time
	LastSeq uint64
	Bands   map[string][]float64
}

// Valid reports whether the summary carries every band in bands with a
// finite, non-negative vector of the given channel count.
func (s Summary) Valid(bands []Band, channels int) bool {
	if len(s.Bands) == 0 {
		return false
	}
	for _, band := range bands {
		powers, ok := s.Bands[band.Name]
		if !ok || len(powers) != channels {
			return false
		}
		for _, p := range powers {
			if p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
				return false
			}
		}
	}
	return true
}
