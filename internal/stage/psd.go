package stage

import (
	"math/cmplx"

	"codeberg.org/mutker/eegpipe/internal/errors"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/stat"
)

// Spectrum is a one-sided power spectral density: Power[c][k] is the
// density of channel c at Freqs[k].
type Spectrum struct {
	Freqs []float64
	Power [][]float64
}

// Estimator turns a channel-major time series sampled at sfreq Hz into a
// power spectral density.
type Estimator interface {
	Estimate(data [][]float64, sfreq float64) (Spectrum, error)
}

// Welch averages Hann-windowed periodograms over segments of Segment
// samples that overlap by Overlap samples. A zero Segment uses the whole
// window as a single segment.
type Welch struct {
	Segment int
	Overlap int
}

func (w Welch) Estimate(data [][]float64, sfreq float64) (Spectrum, error) {
	errFactory := errors.New()
	if len(data) == 0 || len(data[0]) == 0 || sfreq <= 0 {
		return Spectrum{}, errFactory.New(ErrInsufficientData)
	}

	n := len(data[0])
	seg := n
	if w.Segment > 0 && w.Segment < n {
		seg = w.Segment
	}
	step := seg
	if w.Overlap > 0 && w.Overlap < seg {
		step = seg - w.Overlap
	}

	taper := make([]float64, seg)
	for i := range taper {
		taper[i] = 1
	}
	taper = window.Hann(taper)
	var norm float64
	for _, v := range taper {
		norm += v * v
	}
	if norm == 0 {
		return Spectrum{}, errFactory.WithData(ErrInsufficientData, struct {
			Samples int
		}{n})
	}

	fft := fourier.NewFFT(seg)
	bins := seg/2 + 1
	spec := Spectrum{
		Freqs: make([]float64, bins),
		Power: make([][]float64, len(data)),
	}
	for k := range spec.Freqs {
		spec.Freqs[k] = fft.Freq(k) * sfreq
	}

	frame := make([]float64, seg)
	coeffs := make([]complex128, bins)
	for c, channel := range data {
		power := make([]float64, bins)
		segments := 0
		for start := 0; start+seg <= len(channel); start += step {
			part := channel[start : start+seg]
			mean := stat.Mean(part, nil)
			for i, v := range part {
				frame[i] = (v - mean) * taper[i]
			}
			coeffs = fft.Coefficients(coeffs, frame)
			for k, x := range coeffs {
				a := cmplx.Abs(x)
				power[k] += a * a
			}
			segments++
		}

		scale := 1 / (sfreq * norm * float64(segments))
		for k := range power {
			power[k] *= scale
			if k != 0 && !(seg%2 == 0 && k == bins-1) {
				power[k] *= 2
			}
		}
		spec.Power[c] = power
	}

	return spec, nil
}

// Crop keeps the bins whose frequency lies in [low, high].
func (s Spectrum) Crop(low, high float64) Spectrum {
	var idx []int
	for k, f := range s.Freqs {
		if f >= low && f <= high {
			idx = append(idx, k)
		}
	}

	out := Spectrum{
		Freqs: make([]float64, len(idx)),
		Power: make([][]float64, len(s.Power)),
	}
	for i, k := range idx {
		out.Freqs[i] = s.Freqs[k]
	}
	for c, power := range s.Power {
		out.Power[c] = make([]float64, len(idx))
		for i, k := range idx {
			out.Power[c][i] = power[k]
		}
	}

	return out
}
