package ephys

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"ephyspipe/internal/models"
)

const (
	upsampleFactor = 100
	// FSWidthMs is the trough-to-peak width below which a unit is fast spiking.
	FSWidthMs = 0.4
)

var ErrShortWaveform = errors.New("ephys: waveform too short for spline fit")

// WaveformWidth returns the trough-to-peak distance in ms after cubic spline
// upsampling by 100.
func WaveformWidth(wave []float64, samplingRate float64) (float64, error) {
	n := len(wave)
	if n < 4 {
		return 0, ErrShortWaveform
	}
	if samplingRate <= 0 {
		return 0, errors.New("ephys: sampling rate must be positive")
	}
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = float64(i)
	}
	var spline interp.NotAKnotCubic
	if err := spline.Fit(xs, wave); err != nil {
		return 0, err
	}

	m := n * upsampleFactor
	up := make([]float64, m)
	step := float64(n-1) / float64(m-1)
	for i := range up {
		up[i] = spline.Predict(float64(i) * step)
	}

	fs := samplingRate * upsampleFactor
	xMin := float64(floats.MinIdx(up)) / fs
	xMax := float64(floats.MaxIdx(up)) / fs
	return math.Abs(xMax-xMin) * 1000, nil
}

// ClassifyCellType labels a waveform FS or Pyr by its width.
func ClassifyCellType(wave []float64, samplingRate float64) (string, error) {
	w, err := WaveformWidth(wave, samplingRate)
	if err != nil {
		return "", err
	}
	if w < FSWidthMs {
		return models.CellTypeFS, nil
	}
	return models.CellTypePyr, nil
}

// PeakChannel returns the channel with the largest peak-to-peak amplitude of
// a channel × sample waveform.
func PeakChannel(wave []float64, channels, samples int) int {
	if samples <= 0 {
		return 0
	}
	best, bestPTP := 0, -1.0
	for ch := 0; ch < channels; ch++ {
		if (ch+1)*samples > len(wave) {
			break
		}
		row := wave[ch*samples : (ch+1)*samples]
		if ptp := floats.Max(row) - floats.Min(row); ptp > bestPTP {
			best, bestPTP = ch, ptp
		}
	}
	return best
}
