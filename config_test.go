package audiopipe

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgeline/audiopipe/codec"
	"github.com/bridgeline/audiopipe/denoise"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.InDelta(t, 1.0, cfg.Aggregation.EchoWeight+cfg.Aggregation.NoiseWeight+cfg.Aggregation.CompressionWeight, 1e-9)
}

func TestAggregationWeightsMustSumToOne(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Aggregation.EchoWeight = 0.5
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg.Aggregation = AggregationConfig{EchoWeight: -0.2, NoiseWeight: 1.0, CompressionWeight: 0.2}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestLoadConfigFrom(t *testing.T) {
	yamlText := `
echoCancellation:
  enabled: false
noiseReduction:
  algorithm: wiener
audioCompression:
  bitrate: 32
`
	cfg, err := LoadConfigFrom(strings.NewReader(yamlText))
	require.NoError(t, err)

	assert.False(t, cfg.EchoCancellation.Enabled)
	assert.Equal(t, denoise.AlgorithmWiener, cfg.NoiseReduction.Algorithm)
	assert.Equal(t, 32, cfg.AudioCompression.Bitrate)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultConfig().EchoCancellation.FilterLength, cfg.EchoCancellation.FilterLength)
	assert.Equal(t, DefaultConfig().Aggregation, cfg.Aggregation)
}

func TestLoadConfigFromRejectsUnknownFields(t *testing.T) {
	_, err := LoadConfigFrom(strings.NewReader("videoCompression:\n  enabled: true\n"))
	assert.Error(t, err)
}

func TestLoadConfigFromRejectsInvalidValues(t *testing.T) {
	_, err := LoadConfigFrom(strings.NewReader("noiseReduction:\n  algorithm: rnnoise\n"))
	assert.Error(t, err)
}

func TestLoadConfigFromEmpty(t *testing.T) {
	cfg, err := LoadConfigFrom(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigUpdateMerged(t *testing.T) {
	base := DefaultConfig()

	compression := codec.DefaultConfig()
	compression.Bitrate = 32
	update := ConfigUpdate{AudioCompression: &compression}

	merged := update.merged(base)
	assert.Equal(t, 32, merged.AudioCompression.Bitrate)
	assert.Equal(t, base.EchoCancellation, merged.EchoCancellation)
	assert.Equal(t, base.NoiseReduction, merged.NoiseReduction)
}
