package codec

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bridgeline/audiopipe/ringbuffer"
	"github.com/bridgeline/audiopipe/spectral"
)

const (
	// historySize is the length of the rolling quality/bitrate windows
	// driving the adaptive control loop.
	historySize = 20

	// adaptIntervalFrames is how many processed frames make up one
	// statistics interval. The adaptive step runs at most once per
	// interval.
	adaptIntervalFrames = 50

	// hysteresisMargin is added to the quality threshold before the loop
	// lowers bitrate, so narrow oscillation around the threshold never
	// causes thrashing.
	hysteresisMargin = 0.1
)

// AdaptiveConfig tunes the quality-feedback bitrate control loop.
type AdaptiveConfig struct {
	// Enabled turns the control loop on.
	Enabled bool `yaml:"enabled"`
	// QualityThreshold is the moving-average quality below which bitrate
	// is raised. Bitrate is lowered only above threshold plus the
	// hysteresis margin.
	QualityThreshold float64 `yaml:"qualityThreshold"`
	// BitrateAdjustment is the step size in kbps per adaptation.
	BitrateAdjustment int `yaml:"bitrateAdjustment"`
	// ComplexityAdjustment is the encoder effort step applied when
	// bitrate is already at a bound.
	ComplexityAdjustment int `yaml:"complexityAdjustment"`
}

// Config controls the audio compression engine.
type Config struct {
	// Enabled turns the compression stage on.
	Enabled bool `yaml:"enabled"`
	// Algorithm selects the encoder. Unsupported values fall back to
	// Opus with a logged warning.
	Algorithm Algorithm `yaml:"algorithm"`
	// Quality is the target perceptual quality, 0 to 1.
	Quality float64 `yaml:"quality"`
	// Bitrate is the nominal target bitrate in kbps. Adaptation stays
	// within 0.5x to 2x of this value.
	Bitrate int `yaml:"bitrate"`
	// VariableBitrate permits the encoder to deviate from the nominal
	// bitrate between adaptation steps.
	VariableBitrate bool `yaml:"variableBitrate"`

	Encoder  EncoderConfig  `yaml:"encoder"`
	Adaptive AdaptiveConfig `yaml:"adaptiveCompression"`
}

// DefaultConfig returns compression settings for 48kHz mono voice.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Algorithm:       AlgorithmOpus,
		Quality:         0.8,
		Bitrate:         64,
		VariableBitrate: true,
		Encoder:         DefaultEncoderConfig(),
		Adaptive: AdaptiveConfig{
			Enabled:              true,
			QualityThreshold:     0.8,
			BitrateAdjustment:    8,
			ComplexityAdjustment: 1,
		},
	}
}

// Validate checks configuration bounds. The algorithm is deliberately not
// validated here: unsupported algorithms degrade to Opus at encoder creation
// instead of rejecting the configuration.
func (c *Config) Validate() error {
	if c.Quality < 0 || c.Quality > 1 {
		return fmt.Errorf("%w: quality must be 0-1, got %f", ErrInvalidConfig, c.Quality)
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("%w: bitrate must be positive, got %d", ErrInvalidConfig, c.Bitrate)
	}
	if c.Encoder.FrameSize <= 0 {
		return fmt.Errorf("%w: encoder frame size must be positive, got %d", ErrInvalidConfig, c.Encoder.FrameSize)
	}
	if c.Encoder.SampleRate <= 0 {
		return fmt.Errorf("%w: encoder sample rate must be positive, got %d", ErrInvalidConfig, c.Encoder.SampleRate)
	}
	if c.Encoder.Channels <= 0 {
		return fmt.Errorf("%w: encoder channel count must be positive, got %d", ErrInvalidConfig, c.Encoder.Channels)
	}
	if c.Adaptive.QualityThreshold < 0 || c.Adaptive.QualityThreshold > 1 {
		return fmt.Errorf("%w: quality threshold must be 0-1, got %f", ErrInvalidConfig, c.Adaptive.QualityThreshold)
	}
	if c.Adaptive.BitrateAdjustment < 0 {
		return fmt.Errorf("%w: bitrate adjustment must not be negative, got %d", ErrInvalidConfig, c.Adaptive.BitrateAdjustment)
	}
	return nil
}

// Stats is a snapshot of compression engine metrics.
type Stats struct {
	// CompressionRatio is cumulative input bytes over output bytes.
	CompressionRatio float64
	// Bitrate is the current target bitrate in kbps.
	Bitrate int
	// QualityScore is the measured perceptual quality of the most recent
	// frame, 0 to 1.
	QualityScore float64
	// SpectralDistortion is the log-magnitude RMS difference between the
	// original and reconstructed spectra.
	SpectralDistortion float64
	// TemporalDistortion is the RMS time-domain difference.
	TemporalDistortion float64
	// EncodingTime is the wall-clock duration of the last Process call.
	EncodingTime time.Duration
	// FramesEncoded counts processed frames.
	FramesEncoded uint64
	// BytesIn and BytesOut count cumulative PCM and encoded bytes.
	BytesIn  uint64
	BytesOut uint64
	// Efficiency is CompressionRatio times QualityScore.
	Efficiency float64
	// Complexity is the current encoder effort level.
	Complexity int
}

// Compressor encodes cleaned PCM frames at an adaptively controlled bitrate.
// After each frame it reconstructs its own output and measures quality
// against the original, feeding a rolling history that steers bitrate and
// complexity once per statistics interval.
type Compressor struct {
	mu       sync.Mutex
	config   Config
	encoder  Encoder
	analyzer *spectral.Analyzer

	currentBitrate int
	qualityHist    *ringbuffer.Ring
	bitrateHist    *ringbuffer.Ring

	framesSinceAdapt int
	stats            Stats
}

// NewCompressor creates a compression engine from config.
func NewCompressor(config Config) (*Compressor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	enc, err := NewEncoder(config.Algorithm, config.Encoder, config.Bitrate*1000)
	if err != nil {
		return nil, err
	}

	c := &Compressor{
		config:         config,
		encoder:        enc,
		analyzer:       spectral.NewAnalyzer(),
		currentBitrate: config.Bitrate,
		qualityHist:    ringbuffer.New(historySize),
		bitrateHist:    ringbuffer.New(historySize),
	}
	c.stats.Bitrate = config.Bitrate
	c.stats.Complexity = enc.Complexity()

	logrus.WithFields(logrus.Fields{
		"function":  "NewCompressor",
		"algorithm": string(enc.Algorithm()),
		"bitrate":   config.Bitrate,
		"adaptive":  config.Adaptive.Enabled,
	}).Info("Compression engine created")

	return c, nil
}

// Process encodes one PCM frame and returns the compressed representation.
// The frame is segmented into encoder sub-frames; a trailing partial segment
// is encoded as-is.
func (c *Compressor) Process(frame []float32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(frame) == 0 {
		return nil, nil
	}

	start := time.Now()

	sub := c.config.Encoder.FrameSize
	encoded := make([]byte, 0, len(frame)/2)
	recon := make([]float32, 0, len(frame))
	for off := 0; off < len(frame); off += sub {
		end := off + sub
		if end > len(frame) {
			end = len(frame)
		}

		data, err := c.encoder.Encode(frame[off:end])
		if err != nil {
			return nil, fmt.Errorf("encoding sub-frame at %d: %w", off, err)
		}
		encoded = append(encoded, data...)

		dec, err := c.encoder.Decode(data)
		if err != nil {
			return nil, fmt.Errorf("reconstructing sub-frame at %d: %w", off, err)
		}
		recon = append(recon, dec...)
	}

	quality := c.measureQuality(frame, recon)
	c.qualityHist.Push(quality)
	c.bitrateHist.Push(float64(c.currentBitrate))

	c.stats.FramesEncoded++
	c.stats.BytesIn += uint64(len(frame) * 4)
	c.stats.BytesOut += uint64(len(encoded))
	if c.stats.BytesOut > 0 {
		c.stats.CompressionRatio = float64(c.stats.BytesIn) / float64(c.stats.BytesOut)
	}
	c.stats.QualityScore = quality
	c.stats.Bitrate = c.currentBitrate
	c.stats.EncodingTime = time.Since(start)
	c.stats.Efficiency = c.stats.CompressionRatio * c.stats.QualityScore
	c.stats.Complexity = c.encoder.Complexity()

	c.framesSinceAdapt++
	if c.config.Adaptive.Enabled && c.framesSinceAdapt >= adaptIntervalFrames {
		c.adapt()
		c.framesSinceAdapt = 0
	}

	logrus.WithFields(logrus.Fields{
		"function": "Process",
		"samples":  len(frame),
		"bytes":    len(encoded),
		"quality":  quality,
		"bitrate":  c.currentBitrate,
	}).Debug("Frame compressed")

	return encoded, nil
}

// measureQuality compares the original frame against the locally
// reconstructed one and updates distortion stats. Spectral distortion
// averages only bins where both spectra are positive; zero bins are excluded
// so a silent bin never contributes log(0).
func (c *Compressor) measureQuality(original, recon []float32) float64 {
	n := len(original)
	if len(recon) < n {
		n = len(recon)
	}
	if n == 0 {
		return 0
	}

	var sumSq, refSq float64
	for i := 0; i < n; i++ {
		d := float64(original[i]) - float64(recon[i])
		sumSq += d * d
		refSq += float64(original[i]) * float64(original[i])
	}
	temporal := math.Sqrt(sumSq / float64(n))
	refRMS := math.Sqrt(refSq / float64(n))

	spec := 0.0
	origMag := c.analyzer.Magnitudes(original[:n])
	reconMag := c.analyzer.Magnitudes(recon[:n])
	if origMag != nil && reconMag != nil {
		var logSum float64
		var bins int
		for k := range origMag {
			if origMag[k] > 0 && reconMag[k] > 0 {
				d := math.Log10(origMag[k]) - math.Log10(reconMag[k])
				logSum += d * d
				bins++
			}
		}
		if bins > 0 {
			spec = math.Sqrt(logSum / float64(bins))
		}
	}

	c.stats.SpectralDistortion = spec
	c.stats.TemporalDistortion = temporal

	specQuality := 1.0 / (1.0 + spec)
	tempQuality := 1.0
	if refRMS > 0 {
		rel := temporal / refRMS
		if rel > 1 {
			rel = 1
		}
		tempQuality = 1 - rel
	}

	return 0.7*specQuality + 0.3*tempQuality
}

// adapt runs one step of the quality-feedback loop. At most one bitrate
// change happens per statistics interval, and only outside the hysteresis
// band (threshold, threshold + margin).
func (c *Compressor) adapt() {
	if c.qualityHist.Len() == 0 {
		return
	}

	avg := c.qualityHist.Mean()
	threshold := c.config.Adaptive.QualityThreshold
	step := c.config.Adaptive.BitrateAdjustment
	minRate := c.config.Bitrate / 2
	maxRate := c.config.Bitrate * 2
	if minRate < 1 {
		minRate = 1
	}

	switch {
	case avg < threshold:
		if c.currentBitrate < maxRate {
			next := c.currentBitrate + step
			if next > maxRate {
				next = maxRate
			}
			c.setBitrate(next, avg)
		} else if lvl := c.encoder.Complexity() + c.config.Adaptive.ComplexityAdjustment; lvl <= 10 {
			if err := c.encoder.SetComplexity(lvl); err == nil {
				logrus.WithFields(logrus.Fields{
					"function":    "adapt",
					"complexity":  lvl,
					"avg_quality": avg,
				}).Info("Raised encoder complexity")
			}
		}
	case avg > threshold+hysteresisMargin:
		if c.currentBitrate > minRate {
			next := c.currentBitrate - step
			if next < minRate {
				next = minRate
			}
			c.setBitrate(next, avg)
		} else if lvl := c.encoder.Complexity() - c.config.Adaptive.ComplexityAdjustment; lvl >= 0 {
			if err := c.encoder.SetComplexity(lvl); err == nil {
				logrus.WithFields(logrus.Fields{
					"function":    "adapt",
					"complexity":  lvl,
					"avg_quality": avg,
				}).Info("Lowered encoder complexity")
			}
		}
	}
}

func (c *Compressor) setBitrate(kbps int, avgQuality float64) {
	if kbps == c.currentBitrate {
		return
	}
	if err := c.encoder.SetBitRate(kbps * 1000); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "setBitrate",
			"bitrate":  kbps,
			"error":    err,
		}).Warn("Failed to update encoder bitrate")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "setBitrate",
		"old_bitrate": c.currentBitrate,
		"new_bitrate": kbps,
		"avg_quality": avgQuality,
	}).Info("Adapted compression bitrate")
	c.currentBitrate = kbps
}

// Stats returns a snapshot of current compression metrics.
func (c *Compressor) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Bitrate returns the current target bitrate in kbps.
func (c *Compressor) Bitrate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentBitrate
}

// Reset clears adaptive state and statistics and restores the nominal
// bitrate.
func (c *Compressor) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.qualityHist.Reset()
	c.bitrateHist.Reset()
	c.framesSinceAdapt = 0
	c.currentBitrate = c.config.Bitrate
	if err := c.encoder.SetBitRate(c.config.Bitrate * 1000); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Reset",
			"error":    err,
		}).Warn("Failed to restore nominal bitrate")
	}
	c.stats = Stats{
		Bitrate:    c.currentBitrate,
		Complexity: c.encoder.Complexity(),
	}

	logrus.WithField("function", "Reset").Info("Compression engine reset")
}

// UpdateConfig replaces the configuration. A changed algorithm recreates the
// encoder; a changed nominal bitrate takes effect on the next frame.
func (c *Compressor) UpdateConfig(config Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	algorithmChanged := config.Algorithm != c.config.Algorithm ||
		config.Encoder != c.config.Encoder
	bitrateChanged := config.Bitrate != c.config.Bitrate

	c.config = config

	if algorithmChanged {
		if err := c.encoder.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "UpdateConfig",
				"error":    err,
			}).Warn("Failed to close previous encoder")
		}
		enc, err := NewEncoder(config.Algorithm, config.Encoder, config.Bitrate*1000)
		if err != nil {
			return err
		}
		c.encoder = enc
		c.currentBitrate = config.Bitrate
	} else if bitrateChanged {
		c.currentBitrate = config.Bitrate
		if err := c.encoder.SetBitRate(config.Bitrate * 1000); err != nil {
			return err
		}
	}
	c.stats.Bitrate = c.currentBitrate
	c.stats.Complexity = c.encoder.Complexity()

	logrus.WithFields(logrus.Fields{
		"function":  "UpdateConfig",
		"algorithm": string(c.encoder.Algorithm()),
		"bitrate":   c.currentBitrate,
	}).Info("Compression configuration updated")

	return nil
}
