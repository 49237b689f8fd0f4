package denoise

import "fmt"

// Algorithm selects the suppression method. All variants share the same
// interface; the numeric method is an implementation detail.
type Algorithm string

const (
	// AlgorithmSpectralSubtraction subtracts the estimated noise magnitude
	// spectrum from each frame. The default.
	AlgorithmSpectralSubtraction Algorithm = "spectral_subtraction"

	// AlgorithmWiener applies a per-bin Wiener gain derived from the
	// estimated noise power.
	AlgorithmWiener Algorithm = "wiener"

	// AlgorithmKalman runs a scalar time-domain Kalman smoother with
	// measurement noise taken from the tracked noise floor.
	AlgorithmKalman Algorithm = "kalman"
)

// IsValid reports whether a is a recognised algorithm.
func (a Algorithm) IsValid() bool {
	switch a {
	case AlgorithmSpectralSubtraction, AlgorithmWiener, AlgorithmKalman:
		return true
	}
	return false
}

// VADConfig tunes the voice activity detection gate.
type VADConfig struct {
	// Threshold is the ratio of frame energy to the tracked noise floor
	// above which a frame is classified as speech.
	Threshold float64 `yaml:"threshold"`

	// HangoverTime is the number of frames the gate stays open after the
	// last speech frame, preventing premature closure at speech tails.
	HangoverTime int `yaml:"hangoverTime"`

	// NoiseFloor is the initial noise floor energy estimate.
	NoiseFloor float64 `yaml:"noiseFloor"`
}

// AdaptiveConfig tunes noise floor tracking.
type AdaptiveConfig struct {
	// Enabled controls whether the noise estimate follows noise-only frames.
	Enabled bool `yaml:"enabled"`

	// LearningRate is the per-frame decay of the noise estimate toward new
	// noise-only observations.
	LearningRate float64 `yaml:"learningRate"`

	// ForgettingFactor is applied to the estimate each frame so the tracker
	// does not lock onto transient noise.
	ForgettingFactor float64 `yaml:"forgettingFactor"`

	// MinimumNoiseLevel floors the noise estimate.
	MinimumNoiseLevel float64 `yaml:"minimumNoiseLevel"`
}

// Config tunes suppression behavior.
type Config struct {
	// Enabled controls whether the pipeline runs this stage at all.
	Enabled bool `yaml:"enabled"`

	// Algorithm selects the suppression method.
	Algorithm Algorithm `yaml:"algorithm"`

	// VoiceActivityDetection gates noise estimation on non-speech frames.
	VoiceActivityDetection VADConfig `yaml:"voiceActivityDetection"`

	// AdaptiveProcessing tunes the noise floor tracker.
	AdaptiveProcessing AdaptiveConfig `yaml:"adaptiveProcessing"`
}

// DefaultConfig returns noise reduction settings tuned for voice capture.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Algorithm: AlgorithmSpectralSubtraction,
		VoiceActivityDetection: VADConfig{
			Threshold:    2.5,
			HangoverTime: 8,
			NoiseFloor:   1e-4,
		},
		AdaptiveProcessing: AdaptiveConfig{
			Enabled:           true,
			LearningRate:      0.1,
			ForgettingFactor:  0.999,
			MinimumNoiseLevel: 1e-6,
		},
	}
}

// Validate checks the configuration for internal consistency.
// An unsupported algorithm is a configuration error, rejected here rather
// than silently substituted.
func (c Config) Validate() error {
	if !c.Algorithm.IsValid() {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidConfig, c.Algorithm)
	}
	if c.VoiceActivityDetection.Threshold <= 0 {
		return fmt.Errorf("%w: VAD threshold must be positive, got %f", ErrInvalidConfig, c.VoiceActivityDetection.Threshold)
	}
	if c.VoiceActivityDetection.HangoverTime < 0 {
		return fmt.Errorf("%w: hangover time cannot be negative, got %d", ErrInvalidConfig, c.VoiceActivityDetection.HangoverTime)
	}
	if c.VoiceActivityDetection.NoiseFloor < 0 {
		return fmt.Errorf("%w: initial noise floor cannot be negative, got %f", ErrInvalidConfig, c.VoiceActivityDetection.NoiseFloor)
	}
	if c.AdaptiveProcessing.LearningRate <= 0 || c.AdaptiveProcessing.LearningRate > 1 {
		return fmt.Errorf("%w: learning rate must be in (0, 1], got %f", ErrInvalidConfig, c.AdaptiveProcessing.LearningRate)
	}
	if c.AdaptiveProcessing.ForgettingFactor <= 0 || c.AdaptiveProcessing.ForgettingFactor > 1 {
		return fmt.Errorf("%w: forgetting factor must be in (0, 1], got %f", ErrInvalidConfig, c.AdaptiveProcessing.ForgettingFactor)
	}
	if c.AdaptiveProcessing.MinimumNoiseLevel < 0 {
		return fmt.Errorf("%w: minimum noise level cannot be negative, got %f", ErrInvalidConfig, c.AdaptiveProcessing.MinimumNoiseLevel)
	}
	return nil
}
