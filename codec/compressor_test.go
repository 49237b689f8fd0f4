package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, AlgorithmOpus, cfg.Algorithm)
	assert.Equal(t, 64, cfg.Bitrate)
	assert.True(t, cfg.Adaptive.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative quality", func(c *Config) { c.Quality = -0.1 }},
		{"quality above one", func(c *Config) { c.Quality = 1.5 }},
		{"zero bitrate", func(c *Config) { c.Bitrate = 0 }},
		{"zero frame size", func(c *Config) { c.Encoder.FrameSize = 0 }},
		{"zero sample rate", func(c *Config) { c.Encoder.SampleRate = 0 }},
		{"bad threshold", func(c *Config) { c.Adaptive.QualityThreshold = 2 }},
		{"negative adjustment", func(c *Config) { c.Adaptive.BitrateAdjustment = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestCompressorProcessShrinksFrame(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adaptive.Enabled = false

	c, err := NewCompressor(cfg)
	require.NoError(t, err)

	frame := randFrame(1920, 3)
	data, err := c.Process(frame)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Less(t, len(data), len(frame)*4, "encoded frame must be smaller than PCM")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.FramesEncoded)
	assert.Greater(t, stats.CompressionRatio, 1.0)
	assert.Greater(t, stats.QualityScore, 0.0)
	assert.LessOrEqual(t, stats.QualityScore, 1.0)
	assert.InDelta(t, stats.CompressionRatio*stats.QualityScore, stats.Efficiency, 1e-9)
}

func TestCompressorEmptyFrame(t *testing.T) {
	c, err := NewCompressor(DefaultConfig())
	require.NoError(t, err)

	data, err := c.Process(nil)
	assert.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, uint64(0), c.Stats().FramesEncoded)
}

func TestCompressorRaisesBitrateOnLowQuality(t *testing.T) {
	cfg := DefaultConfig()
	// Measured quality is always below 1, so every interval wants more bits.
	cfg.Adaptive.QualityThreshold = 1.0

	c, err := NewCompressor(cfg)
	require.NoError(t, err)

	frame := randFrame(960, 5)
	for i := 0; i < adaptIntervalFrames; i++ {
		_, err := c.Process(frame)
		require.NoError(t, err)
	}
	assert.Equal(t, cfg.Bitrate+cfg.Adaptive.BitrateAdjustment, c.Bitrate())

	// Drive enough intervals to hit the ceiling and verify the bound holds.
	for i := 0; i < adaptIntervalFrames*20; i++ {
		_, err := c.Process(frame)
		require.NoError(t, err)
	}
	assert.Equal(t, cfg.Bitrate*2, c.Bitrate())
}

func TestCompressorLowersBitrateOnHighQuality(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bitrate = 768
	cfg.Adaptive.QualityThreshold = 0.2

	c, err := NewCompressor(cfg)
	require.NoError(t, err)

	frame := randFrame(960, 9)
	for i := 0; i < adaptIntervalFrames-1; i++ {
		_, err := c.Process(frame)
		require.NoError(t, err)
	}
	assert.Equal(t, cfg.Bitrate, c.Bitrate(), "no change before the interval elapses")

	_, err = c.Process(frame)
	require.NoError(t, err)
	assert.Equal(t, cfg.Bitrate-cfg.Adaptive.BitrateAdjustment, c.Bitrate())

	// A second change needs a full further interval.
	for i := 0; i < adaptIntervalFrames-1; i++ {
		_, err := c.Process(frame)
		require.NoError(t, err)
	}
	assert.Equal(t, cfg.Bitrate-cfg.Adaptive.BitrateAdjustment, c.Bitrate())
}

func TestCompressorHysteresisBandHoldsBitrate(t *testing.T) {
	cfg := DefaultConfig()
	// At 16 bits per sample reconstruction is near-transparent, so measured
	// quality lands between the threshold and threshold plus the margin.
	cfg.Bitrate = 768
	cfg.Adaptive.QualityThreshold = 0.95

	c, err := NewCompressor(cfg)
	require.NoError(t, err)

	frame := randFrame(960, 17)
	for i := 0; i < adaptIntervalFrames*4; i++ {
		_, err := c.Process(frame)
		require.NoError(t, err)
	}
	assert.Equal(t, cfg.Bitrate, c.Bitrate(), "quality inside the hysteresis band must not move bitrate")
}

func TestCompressorUpdateConfigBitrate(t *testing.T) {
	c, err := NewCompressor(DefaultConfig())
	require.NoError(t, err)

	frame := randFrame(960, 21)
	_, err = c.Process(frame)
	require.NoError(t, err)
	assert.Equal(t, 64, c.Stats().Bitrate)

	cfg := DefaultConfig()
	cfg.Bitrate = 32
	require.NoError(t, c.UpdateConfig(cfg))

	_, err = c.Process(frame)
	require.NoError(t, err)
	assert.Equal(t, 32, c.Stats().Bitrate)
}

func TestCompressorUpdateConfigRejectsInvalid(t *testing.T) {
	c, err := NewCompressor(DefaultConfig())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Bitrate = -5
	assert.ErrorIs(t, c.UpdateConfig(cfg), ErrInvalidConfig)
}

func TestCompressorUnsupportedAlgorithmFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Algorithm = Algorithm("flac")

	c, err := NewCompressor(cfg)
	require.NoError(t, err, "unsupported algorithms must degrade, not fail")

	data, err := c.Process(randFrame(960, 23))
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestCompressorReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Adaptive.QualityThreshold = 1.0

	c, err := NewCompressor(cfg)
	require.NoError(t, err)

	frame := randFrame(960, 27)
	for i := 0; i < adaptIntervalFrames; i++ {
		_, err := c.Process(frame)
		require.NoError(t, err)
	}
	require.NotEqual(t, cfg.Bitrate, c.Bitrate())

	c.Reset()
	assert.Equal(t, cfg.Bitrate, c.Bitrate())
	assert.Equal(t, uint64(0), c.Stats().FramesEncoded)
}
