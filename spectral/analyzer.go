// Package spectral provides frequency-domain analysis for the audio pipeline.
//
// Every downstream stage measures quality the same way: through the magnitude
// spectrum of a frame. The analyzer computes that spectrum once and callers
// compare, subtract, or score against it. Bin ordering and normalization match
// a direct-summation DFT so that results are reproducible across backends.
package spectral

import (
	"math"

	"github.com/mjibson/go-dsp/fft"
)

// Analyzer computes magnitude spectra of real-valued audio frames.
//
// The zero value is usable; the struct exists so callers can hold a
// long-lived instance and to leave room for cached window tables.
// Analyzer methods are pure functions of their input and keep no state
// between calls, so a single instance may be shared freely.
type Analyzer struct{}

// NewAnalyzer creates a spectral analyzer.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Magnitudes returns the magnitude spectrum of frame as N/2 positive-frequency
// bins, where N is the frame length. Bin k holds |sum(x[n]*e^(-2πikn/N))|,
// i.e. the un-normalized DFT magnitude, ordered from DC upward.
//
// A frame shorter than 2 samples yields an empty spectrum.
func (a *Analyzer) Magnitudes(frame []float32) []float64 {
	n := len(frame)
	if n < 2 {
		return nil
	}

	input := make([]float64, n)
	for i, s := range frame {
		input[i] = float64(s)
	}

	spectrum := fft.FFTReal(input)

	bins := make([]float64, n/2)
	for k := range bins {
		bins[k] = cmplxAbs(spectrum[k])
	}
	return bins
}

// Energy returns the mean squared sample value of frame.
// Returns 0 for an empty frame.
func (a *Analyzer) Energy(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(frame))
}

// RMS returns the root-mean-square amplitude of frame.
func (a *Analyzer) RMS(frame []float32) float64 {
	return math.Sqrt(a.Energy(frame))
}

// HannWindow returns a Hann window of the given size.
// Callers that window frames before analysis apply it themselves; Magnitudes
// operates on the raw frame so encoded/decoded comparisons stay aligned.
func HannWindow(size int) []float64 {
	if size < 1 {
		return nil
	}
	w := make([]float64, size)
	if size == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(size-1)))
	}
	return w
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
