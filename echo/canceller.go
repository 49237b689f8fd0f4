// Package echo implements acoustic echo cancellation for the audio pipeline.
//
// The canceller removes the acoustic echo of a known reference signal (the
// locally rendered far-end audio) from the captured microphone signal using a
// normalized least-mean-squares adaptive filter. Adaptation is frozen during
// double-talk so the filter never diverges while both parties speak.
package echo

import (
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config tunes the adaptive filter behavior.
//
// Configs are immutable by convention: the pipeline replaces the whole struct
// on update, the canceller never mutates it.
type Config struct {
	// Enabled controls whether the pipeline runs this stage at all.
	Enabled bool `yaml:"enabled"`

	// SampleRate is the audio sample rate in Hz, used to convert
	// DelayCompensation from milliseconds to samples.
	SampleRate int `yaml:"sampleRate"`

	// DelayCompensation shifts the reference signal by the given number of
	// milliseconds to account for the playback-to-capture path delay.
	DelayCompensation int `yaml:"delayCompensation"`

	// FilterLength is the number of adaptive filter taps.
	FilterLength int `yaml:"filterLength"`

	// AdaptationRate is the NLMS step size (mu).
	AdaptationRate float64 `yaml:"adaptationRate"`

	// LeakageFactor is applied to coefficients each update to prevent
	// unbounded drift (1.0 = no leakage).
	LeakageFactor float64 `yaml:"leakageFactor"`

	// DoubleTalkDetection enables freezing adaptation during two-way speech.
	DoubleTalkDetection bool `yaml:"doubleTalkDetection"`

	// DoubleTalkThreshold is the RMS energy both signals must exceed for a
	// frame to count as double-talk.
	DoubleTalkThreshold float64 `yaml:"doubleTalkThreshold"`

	// NonlinearProcessing enables residual-echo suppression of small
	// post-subtraction samples outside double-talk.
	NonlinearProcessing bool `yaml:"nonlinearProcessing"`

	// ClippingThreshold hard-limits output samples.
	ClippingThreshold float64 `yaml:"clippingThreshold"`

	// ConvergenceThreshold is the echo suppression (dB) treated as full
	// convergence when reporting the 0..1 convergence statistic.
	ConvergenceThreshold float64 `yaml:"convergenceThreshold"`
}

// DefaultConfig returns echo cancellation settings tuned for VoIP capture.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		SampleRate:           48000,
		DelayCompensation:    0,
		FilterLength:         128,
		AdaptationRate:       0.5,
		LeakageFactor:        0.9999,
		DoubleTalkDetection:  true,
		DoubleTalkThreshold:  0.05,
		NonlinearProcessing:  true,
		ClippingThreshold:    0.95,
		ConvergenceThreshold: 18.0,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.FilterLength <= 0 {
		return fmt.Errorf("%w: filter length must be positive, got %d", ErrInvalidConfig, c.FilterLength)
	}
	if c.AdaptationRate <= 0 || c.AdaptationRate > 2.0 {
		return fmt.Errorf("%w: adaptation rate must be in (0, 2], got %f", ErrInvalidConfig, c.AdaptationRate)
	}
	if c.LeakageFactor <= 0 || c.LeakageFactor > 1.0 {
		return fmt.Errorf("%w: leakage factor must be in (0, 1], got %f", ErrInvalidConfig, c.LeakageFactor)
	}
	if c.DelayCompensation < 0 {
		return fmt.Errorf("%w: delay compensation cannot be negative, got %d", ErrInvalidConfig, c.DelayCompensation)
	}
	if c.ClippingThreshold <= 0 {
		return fmt.Errorf("%w: clipping threshold must be positive, got %f", ErrInvalidConfig, c.ClippingThreshold)
	}
	return nil
}

// Stats is a snapshot of recent canceller performance.
// Values are replaced each processed frame, never accumulated unboundedly.
type Stats struct {
	// Convergence estimates how close adaptation is to a stationary
	// solution, 0 (untrained) to 1 (fully converged).
	Convergence float64

	// ResidualEchoLevel is the smoothed RMS of the post-subtraction signal.
	ResidualEchoLevel float64

	// EchoSuppressionDB is the smoothed near-end to residual energy ratio.
	EchoSuppressionDB float64

	// SignalQuality is a 0..1 score combining convergence and suppression.
	SignalQuality float64

	// FramesProcessed counts frames since creation or the last Reset.
	FramesProcessed uint64

	// DoubleTalkFrames counts frames where adaptation was frozen.
	DoubleTalkFrames uint64
}

// Canceller subtracts an adaptively estimated echo of the far-end reference
// from the near-end microphone signal.
//
// All methods are safe for concurrent use, though the pipeline serializes
// Process calls to preserve filter state ordering.
type Canceller struct {
	mu     sync.Mutex
	config Config

	coeffs  []float64 // adaptive filter taps
	history []float64 // far-end delay line, newest at index 0
	stats   Stats
}

// NewCanceller creates an echo canceller with the given configuration.
//
// Returns:
//   - *Canceller: the new canceller instance
//   - error: validation error when the configuration is inconsistent
func NewCanceller(config Config) (*Canceller, error) {
	if err := config.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewCanceller",
			"error":    err.Error(),
		}).Error("Echo canceller configuration validation failed")
		return nil, err
	}

	c := &Canceller{
		config:  config,
		coeffs:  make([]float64, config.FilterLength),
		history: make([]float64, config.FilterLength+config.delaySamples()),
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewCanceller",
		"filter_length": config.FilterLength,
		"delay_samples": config.delaySamples(),
		"double_talk":   config.DoubleTalkDetection,
	}).Info("Echo canceller created")

	return c, nil
}

// delaySamples converts the configured delay compensation to samples.
func (c Config) delaySamples() int {
	return c.DelayCompensation * c.SampleRate / 1000
}

// Process runs one adaptation step over the frame and returns the near-end
// signal with the estimated echo removed.
//
// The near-end and reference frames must have equal length; a mismatch is
// rejected with ErrFrameLengthMismatch rather than silently truncated.
//
// Parameters:
//   - near: captured microphone frame
//   - far: far-end reference frame (locally rendered remote audio)
//
// Returns:
//   - []float32: echo-cancelled frame, same length as near
//   - error: ErrFrameLengthMismatch on malformed input
func (c *Canceller) Process(near, far []float32) ([]float32, error) {
	if len(near) != len(far) {
		logrus.WithFields(logrus.Fields{
			"function":    "Canceller.Process",
			"near_length": len(near),
			"far_length":  len(far),
		}).Error("Frame length mismatch")
		return nil, fmt.Errorf("%w: near=%d far=%d", ErrFrameLengthMismatch, len(near), len(far))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(near) == 0 {
		return near, nil
	}

	nearRMS := frameRMS(near)
	farRMS := frameRMS(far)
	doubleTalk := c.config.DoubleTalkDetection &&
		nearRMS > c.config.DoubleTalkThreshold &&
		farRMS > c.config.DoubleTalkThreshold

	if doubleTalk {
		c.stats.DoubleTalkFrames++
		logrus.WithFields(logrus.Fields{
			"function": "Canceller.Process",
			"near_rms": nearRMS,
			"far_rms":  farRMS,
		}).Debug("Double-talk detected, freezing adaptation")
	}

	out := make([]float32, len(near))
	taps := c.config.FilterLength
	delay := c.config.delaySamples()

	var residualEnergy float64
	for i := range near {
		c.pushReference(float64(far[i]))

		// Echo estimate from the delayed reference history.
		var estimate, refPower float64
		for j := 0; j < taps; j++ {
			ref := c.history[j+delay]
			estimate += c.coeffs[j] * ref
			refPower += ref * ref
		}

		residual := float64(near[i]) - estimate

		// NLMS coefficient update; frozen during double-talk.
		if !doubleTalk && refPower > 1e-8 {
			step := c.config.AdaptationRate / (refPower + 1e-8)
			for j := 0; j < taps; j++ {
				c.coeffs[j] = c.coeffs[j]*c.config.LeakageFactor +
					step*residual*c.history[j+delay]
			}
		}

		if c.config.NonlinearProcessing && !doubleTalk {
			residual = c.suppressResidual(residual)
		}

		residual = clip(residual, c.config.ClippingThreshold)
		residualEnergy += residual * residual
		out[i] = float32(residual)
	}

	c.updateStats(nearRMS, math.Sqrt(residualEnergy/float64(len(near))))

	return out, nil
}

// suppressResidual attenuates small post-subtraction samples, which are
// dominated by residual echo rather than near-end speech.
func (c *Canceller) suppressResidual(sample float64) float64 {
	const residualFloor = 0.01
	if math.Abs(sample) < residualFloor {
		return sample * 0.2
	}
	return sample
}

// clip hard-limits a sample to the configured threshold.
func clip(sample, threshold float64) float64 {
	if sample > threshold {
		return threshold
	}
	if sample < -threshold {
		return -threshold
	}
	return sample
}

// updateStats refreshes the per-frame statistics snapshot.
func (c *Canceller) updateStats(nearRMS, residualRMS float64) {
	const alpha = 0.1

	c.stats.FramesProcessed++
	c.stats.ResidualEchoLevel = (1-alpha)*c.stats.ResidualEchoLevel + alpha*residualRMS

	if nearRMS > 1e-9 && residualRMS > 1e-12 {
		suppression := 20.0 * math.Log10(nearRMS/residualRMS)
		if suppression < 0 {
			suppression = 0
		}
		c.stats.EchoSuppressionDB = (1-alpha)*c.stats.EchoSuppressionDB + alpha*suppression
	}

	convergence := 0.0
	if c.config.ConvergenceThreshold > 0 {
		convergence = c.stats.EchoSuppressionDB / c.config.ConvergenceThreshold
		if convergence > 1 {
			convergence = 1
		}
	}
	c.stats.Convergence = convergence
	c.stats.SignalQuality = 0.5*convergence + 0.5*(1.0-math.Min(1.0, c.stats.ResidualEchoLevel))
}

// pushReference shifts the far-end delay line and inserts a new sample at
// the newest position.
func (c *Canceller) pushReference(sample float64) {
	copy(c.history[1:], c.history)
	c.history[0] = sample
}

// Stats returns a copy of the current statistics snapshot.
func (c *Canceller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Coefficients returns a copy of the current adaptive filter taps.
// Exposed for diagnostics and adaptation-freeze verification.
func (c *Canceller) Coefficients() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]float64, len(c.coeffs))
	copy(out, c.coeffs)
	return out
}

// Reset zeroes filter coefficients and convergence state without discarding
// the configuration.
func (c *Canceller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.coeffs {
		c.coeffs[i] = 0
	}
	for i := range c.history {
		c.history[i] = 0
	}
	c.stats = Stats{}

	logrus.WithFields(logrus.Fields{
		"function": "Canceller.Reset",
	}).Info("Echo canceller state reset")
}

// UpdateConfig replaces the configuration, taking effect on the next frame.
// A change to the filter length or delay reallocates and zeroes filter state;
// other changes preserve adaptation progress.
func (c *Canceller) UpdateConfig(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	resized := config.FilterLength != c.config.FilterLength ||
		config.delaySamples() != c.config.delaySamples()
	c.config = config
	if resized {
		c.coeffs = make([]float64, config.FilterLength)
		c.history = make([]float64, config.FilterLength+config.delaySamples())
		c.stats.Convergence = 0

		logrus.WithFields(logrus.Fields{
			"function":      "Canceller.UpdateConfig",
			"filter_length": config.FilterLength,
			"delay_samples": config.delaySamples(),
		}).Info("Echo canceller filter reallocated for new geometry")
	}

	return nil
}

// frameRMS computes the root-mean-square amplitude of a frame.
func frameRMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
