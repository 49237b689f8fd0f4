// Package denoise implements background noise reduction for the audio
// pipeline.
//
// The reducer classifies each frame as speech or noise with an energy-based
// voice activity detector, tracks the noise floor and per-bin noise spectrum
// from noise-only frames, and suppresses noise with one of three selectable
// algorithms: spectral subtraction, Wiener filtering, or a scalar Kalman
// smoother. Speech frames never feed the noise estimate, and a hangover
// period keeps the gate open across speech tails.
package denoise

import (
	"math"
	"sync"

	"github.com/mjibson/go-dsp/fft"
	"github.com/sirupsen/logrus"

	"github.com/bridgeline/audiopipe/spectral"
)

// statsAlpha is the smoothing factor for the per-frame stat snapshots.
const statsAlpha = 0.1

// Stats is a snapshot of recent reducer performance.
type Stats struct {
	// NoiseReduction is the smoothed attenuation applied to noise-only
	// frames, in dB.
	NoiseReduction float64

	// SignalDistortion is the smoothed relative RMS difference between the
	// input and output of speech frames.
	SignalDistortion float64

	// SNRImprovement estimates the effective signal-to-noise gain in dB.
	// Defined as 0 when no signal has been observed (including an entirely
	// silent input).
	SNRImprovement float64

	// Quality is a 0..1 score combining reduction and speech preservation.
	Quality float64

	// SpeechPreservation is the smoothed output/input amplitude ratio of
	// speech frames, 0..1.
	SpeechPreservation float64

	// Frame classification counters.
	VoiceFrames uint64
	NoiseFrames uint64
	TotalFrames uint64
}

// Reducer suppresses stationary and slowly varying background noise while
// preserving speech.
type Reducer struct {
	mu     sync.Mutex
	config Config

	analyzer *spectral.Analyzer

	// Noise tracking state.
	noiseFloor    float64   // energy-domain floor for the VAD gate
	noiseSpectrum []float64 // per-bin magnitude estimate
	hangover      int       // frames remaining before the gate may close

	// Kalman smoother state.
	kalmanEstimate float64
	kalmanErrCov   float64

	stats Stats
}

// NewReducer creates a noise reducer with the given configuration.
func NewReducer(config Config) (*Reducer, error) {
	if err := config.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewReducer",
			"error":    err.Error(),
		}).Error("Noise reducer configuration validation failed")
		return nil, err
	}

	r := &Reducer{
		config:       config,
		analyzer:     spectral.NewAnalyzer(),
		noiseFloor:   config.VoiceActivityDetection.NoiseFloor,
		kalmanErrCov: 1.0,
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewReducer",
		"algorithm": config.Algorithm,
		"threshold": config.VoiceActivityDetection.Threshold,
		"hangover":  config.VoiceActivityDetection.HangoverTime,
	}).Info("Noise reducer created")

	return r, nil
}

// Process applies the selected suppression algorithm using the current noise
// estimate and returns the cleaned frame.
func (r *Reducer) Process(frame []float32) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(frame) == 0 {
		return frame, nil
	}

	energy := r.analyzer.Energy(frame)
	isVoice := r.classify(energy)
	r.trackNoise(frame, energy, isVoice)

	var out []float32
	switch r.config.Algorithm {
	case AlgorithmWiener:
		out = r.applyWiener(frame)
	case AlgorithmKalman:
		out = r.applyKalman(frame)
	default:
		out = r.applySpectralSubtraction(frame)
	}

	r.updateStats(frame, out, energy, isVoice)

	logrus.WithFields(logrus.Fields{
		"function":  "Reducer.Process",
		"samples":   len(frame),
		"is_voice":  isVoice,
		"algorithm": r.config.Algorithm,
	}).Debug("Noise reduction applied")

	return out, nil
}

// classify gates the frame as speech or noise against the tracked floor.
// Frames within the hangover period count as speech so the gate does not
// close on speech tails.
func (r *Reducer) classify(energy float64) bool {
	threshold := r.noiseFloor * r.config.VoiceActivityDetection.Threshold
	if energy > threshold {
		r.hangover = r.config.VoiceActivityDetection.HangoverTime
		return true
	}
	if r.hangover > 0 {
		r.hangover--
		return true
	}
	return false
}

// trackNoise updates the energy floor and per-bin spectrum from noise-only
// frames, with a forgetting factor applied every frame so the tracker does
// not lock onto transient noise.
func (r *Reducer) trackNoise(frame []float32, energy float64, isVoice bool) {
	adaptive := r.config.AdaptiveProcessing
	if !adaptive.Enabled {
		return
	}

	r.noiseFloor *= adaptive.ForgettingFactor
	if !isVoice {
		r.noiseFloor = (1-adaptive.LearningRate)*r.noiseFloor + adaptive.LearningRate*energy
	}
	if r.noiseFloor < adaptive.MinimumNoiseLevel {
		r.noiseFloor = adaptive.MinimumNoiseLevel
	}

	if !isVoice {
		mags := r.analyzer.Magnitudes(frame)
		if len(r.noiseSpectrum) != len(mags) {
			r.noiseSpectrum = make([]float64, len(mags))
		}
		for k, m := range mags {
			r.noiseSpectrum[k] = (1-adaptive.LearningRate)*r.noiseSpectrum[k] + adaptive.LearningRate*m
		}
	}
}

// applySpectralSubtraction subtracts the estimated noise magnitude spectrum
// with over-subtraction and a spectral floor that prevents musical noise.
func (r *Reducer) applySpectralSubtraction(frame []float32) []float32 {
	const (
		overSubtraction = 2.0
		spectralFloor   = 0.1
	)
	return r.applySpectralGain(frame, func(mag, noiseMag float64) float64 {
		if mag <= 0 {
			return spectralFloor
		}
		gain := (mag - overSubtraction*noiseMag) / mag
		if gain < spectralFloor {
			return spectralFloor
		}
		return gain
	})
}

// applyWiener applies a per-bin Wiener gain derived from the noise power
// estimate.
func (r *Reducer) applyWiener(frame []float32) []float32 {
	const gainFloor = 0.05
	return r.applySpectralGain(frame, func(mag, noiseMag float64) float64 {
		power := mag * mag
		if power <= 0 {
			return gainFloor
		}
		gain := 1.0 - (noiseMag*noiseMag)/power
		if gain < gainFloor {
			return gainFloor
		}
		return gain
	})
}

// applySpectralGain transforms the frame, applies a per-bin gain computed
// from the frame and noise magnitudes, and reconstructs the time signal.
func (r *Reducer) applySpectralGain(frame []float32, gainFn func(mag, noiseMag float64) float64) []float32 {
	n := len(frame)
	input := make([]float64, n)
	for i, s := range frame {
		input[i] = float64(s)
	}

	spectrum := fft.FFTReal(input)
	half := n / 2
	for k := 0; k <= half && k < len(spectrum); k++ {
		mag := math.Hypot(real(spectrum[k]), imag(spectrum[k]))
		var noiseMag float64
		if k < len(r.noiseSpectrum) {
			noiseMag = r.noiseSpectrum[k]
		}
		gain := gainFn(mag, noiseMag)
		spectrum[k] = complex(real(spectrum[k])*gain, imag(spectrum[k])*gain)
		// Mirror the gain onto the negative-frequency bin.
		if k > 0 && n-k < len(spectrum) && n-k != k {
			spectrum[n-k] = complex(real(spectrum[n-k])*gain, imag(spectrum[n-k])*gain)
		}
	}

	restored := fft.IFFT(spectrum)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(real(restored[i]))
	}
	return out
}

// applyKalman runs a scalar Kalman smoother over the frame with measurement
// noise taken from the tracked floor.
func (r *Reducer) applyKalman(frame []float32) []float32 {
	const processNoise = 1e-3

	measurementNoise := r.noiseFloor
	if measurementNoise < r.config.AdaptiveProcessing.MinimumNoiseLevel {
		measurementNoise = r.config.AdaptiveProcessing.MinimumNoiseLevel
	}

	out := make([]float32, len(frame))
	for i, s := range frame {
		r.kalmanErrCov += processNoise
		gain := r.kalmanErrCov / (r.kalmanErrCov + measurementNoise)
		r.kalmanEstimate += gain * (float64(s) - r.kalmanEstimate)
		r.kalmanErrCov *= 1 - gain
		out[i] = float32(r.kalmanEstimate)
	}
	return out
}

// updateStats refreshes the per-frame statistics snapshot.
// An entirely silent input leaves SNRImprovement at 0 rather than
// producing NaN or Inf.
func (r *Reducer) updateStats(in, out []float32, inEnergy float64, isVoice bool) {
	r.stats.TotalFrames++
	if isVoice {
		r.stats.VoiceFrames++
	} else {
		r.stats.NoiseFrames++
	}

	if inEnergy <= 1e-12 {
		return
	}

	outEnergy := r.analyzer.Energy(out)
	if isVoice {
		preservation := math.Sqrt(outEnergy / inEnergy)
		if preservation > 1 {
			preservation = 1
		}
		var diffEnergy float64
		for i := range in {
			d := float64(in[i]) - float64(out[i])
			diffEnergy += d * d
		}
		distortion := math.Sqrt(diffEnergy/float64(len(in))) / math.Sqrt(inEnergy)

		r.stats.SpeechPreservation = (1-statsAlpha)*r.stats.SpeechPreservation + statsAlpha*preservation
		r.stats.SignalDistortion = (1-statsAlpha)*r.stats.SignalDistortion + statsAlpha*distortion
	} else {
		reduction := 10.0 * math.Log10((inEnergy+1e-12)/(outEnergy+1e-12))
		if reduction < 0 {
			reduction = 0
		}
		r.stats.NoiseReduction = (1-statsAlpha)*r.stats.NoiseReduction + statsAlpha*reduction
	}

	r.stats.SNRImprovement = r.stats.NoiseReduction * r.stats.SpeechPreservation
	r.stats.Quality = clamp01(0.5*r.stats.SpeechPreservation + 0.5*math.Min(1.0, r.stats.NoiseReduction/20.0))
}

// Stats returns a copy of the current statistics snapshot.
func (r *Reducer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// NoiseFloor returns the current energy-domain noise floor estimate.
func (r *Reducer) NoiseFloor() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.noiseFloor
}

// Reset discards adaptive state and statistics without touching the
// configuration.
func (r *Reducer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.noiseFloor = r.config.VoiceActivityDetection.NoiseFloor
	r.noiseSpectrum = nil
	r.hangover = 0
	r.kalmanEstimate = 0
	r.kalmanErrCov = 1.0
	r.stats = Stats{}

	logrus.WithFields(logrus.Fields{
		"function": "Reducer.Reset",
	}).Info("Noise reducer state reset")
}

// UpdateConfig replaces the configuration, taking effect on the next frame.
func (r *Reducer) UpdateConfig(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
