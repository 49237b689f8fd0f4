package audiopipe

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bridgeline/audiopipe/codec"
	"github.com/bridgeline/audiopipe/denoise"
)

func sine(n int, freq, sampleRate float64) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return frame
}

func enabledPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()

	p, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, p.Enable())
	t.Cleanup(func() { _ = p.Disable() })
	return p
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Aggregation.EchoWeight = 0.9
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEnableDisableLifecycle(t *testing.T) {
	p, err := New(DefaultConfig())
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	require.NoError(t, p.Enable())
	assert.True(t, p.Enabled())
	assert.ErrorIs(t, p.Enable(), ErrAlreadyEnabled)

	require.NoError(t, p.Disable())
	assert.False(t, p.Enabled())
	assert.ErrorIs(t, p.Disable(), ErrNotEnabled)
}

func TestProcessRequiresEnable(t *testing.T) {
	p, err := New(DefaultConfig())
	require.NoError(t, err)

	_, err = p.Process(context.Background(), sine(1024, 440, 48000), nil)
	assert.ErrorIs(t, err, ErrNotEnabled)
}

func TestProcessNeverFailsForValidConfigs(t *testing.T) {
	configs := map[string]func(*Config){
		"all enabled":     func(c *Config) {},
		"echo only":       func(c *Config) { c.NoiseReduction.Enabled = false; c.AudioCompression.Enabled = false },
		"noise only":      func(c *Config) { c.EchoCancellation.Enabled = false; c.AudioCompression.Enabled = false },
		"compress only":   func(c *Config) { c.EchoCancellation.Enabled = false; c.NoiseReduction.Enabled = false },
		"all disabled":    func(c *Config) { c.EchoCancellation.Enabled = false; c.NoiseReduction.Enabled = false; c.AudioCompression.Enabled = false },
		"wiener denoiser": func(c *Config) { c.NoiseReduction.Algorithm = denoise.AlgorithmWiener },
		"mp3 compressor":  func(c *Config) { c.AudioCompression.Algorithm = codec.AlgorithmMP3 },
	}

	input := sine(1024, 440, 48000)
	reference := sine(1024, 300, 48000)

	for name, mutate := range configs {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			p := enabledPipeline(t, cfg)

			for i := 0; i < 5; i++ {
				result, err := p.Process(context.Background(), input, reference)
				require.NoError(t, err)
				require.NotNil(t, result)
				assert.Len(t, result.PCM, len(input))
			}
		})
	}
}

func TestProcessOnlyNoiseReductionMatchesStandaloneReducer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EchoCancellation.Enabled = false
	cfg.AudioCompression.Enabled = false

	p := enabledPipeline(t, cfg)

	input := sine(1024, 440, 48000)
	result, err := p.Process(context.Background(), input, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Encoded, "disabled compression must produce no payload")

	reference, err := denoise.NewReducer(cfg.NoiseReduction)
	require.NoError(t, err)
	expected, err := reference.Process(input)
	require.NoError(t, err)

	require.Len(t, result.PCM, len(expected))
	for i := range expected {
		assert.InDelta(t, expected[i], result.PCM[i], 1e-9, "sample %d", i)
	}
}

func TestProcessEmptyFrame(t *testing.T) {
	p := enabledPipeline(t, DefaultConfig())

	result, err := p.Process(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, result.PCM)
	assert.Empty(t, result.Encoded)
}

func TestProcessCancelledContext(t *testing.T) {
	p := enabledPipeline(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Process(ctx, sine(1024, 440, 48000), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessRejectsOverlappingFrames(t *testing.T) {
	p := enabledPipeline(t, DefaultConfig())

	p.inFlight.Store(true)
	_, err := p.Process(context.Background(), sine(1024, 440, 48000), nil)
	assert.ErrorIs(t, err, ErrFrameInFlight)
	p.inFlight.Store(false)

	_, err = p.Process(context.Background(), sine(1024, 440, 48000), nil)
	assert.NoError(t, err)
}

func TestProcessBypassesFailingEngine(t *testing.T) {
	p := enabledPipeline(t, DefaultConfig())

	input := sine(1024, 440, 48000)
	// A mismatched reference makes the echo stage fail for this frame; the
	// frame itself must still succeed.
	result, err := p.Process(context.Background(), input, sine(512, 300, 48000))
	require.NoError(t, err)
	require.Len(t, result.PCM, len(input))

	require.Error(t, p.LastError())

	select {
	case ev := <-p.Events():
		assert.Equal(t, StageEchoCancellation, ev.Stage)
		assert.Error(t, ev.Err)
	default:
		t.Fatal("expected a bypass event")
	}

	p.ClearError()
	assert.NoError(t, p.LastError())
}

func TestUpdateConfigBitrateReflectedNextFrame(t *testing.T) {
	p := enabledPipeline(t, DefaultConfig())

	input := sine(1024, 440, 48000)
	_, err := p.Process(context.Background(), input, nil)
	require.NoError(t, err)
	require.Equal(t, 64, p.Stats().AudioCompression.Bitrate)

	compression := codec.DefaultConfig()
	compression.Bitrate = 32
	require.NoError(t, p.UpdateConfig(ConfigUpdate{AudioCompression: &compression}))

	_, err = p.Process(context.Background(), input, nil)
	require.NoError(t, err)
	assert.Equal(t, 32, p.Stats().AudioCompression.Bitrate)
}

func TestUpdateConfigInvalidKeepsPriorState(t *testing.T) {
	p := enabledPipeline(t, DefaultConfig())

	bad := AggregationConfig{EchoWeight: 1, NoiseWeight: 1, CompressionWeight: 1}
	err := p.UpdateConfig(ConfigUpdate{Aggregation: &bad})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, DefaultConfig().Aggregation, p.Config().Aggregation)
}

func TestStatsAggregation(t *testing.T) {
	p := enabledPipeline(t, DefaultConfig())

	input := sine(1024, 440, 48000)
	reference := sine(1024, 300, 48000)
	for i := 0; i < 10; i++ {
		_, err := p.Process(context.Background(), input, reference)
		require.NoError(t, err)
	}

	stats := p.Stats()
	assert.True(t, stats.Enabled)
	assert.Equal(t, uint64(10), stats.FramesProcessed)
	assert.GreaterOrEqual(t, stats.OverallQuality, 0.0)
	assert.LessOrEqual(t, stats.OverallQuality, 1.0)
	assert.Greater(t, stats.ProcessingLatency, time.Duration(0))
	assert.Greater(t, stats.MemoryUsage, uint64(0))
	assert.False(t, stats.LastUpdate.IsZero())
}

func TestResetZeroesStats(t *testing.T) {
	p := enabledPipeline(t, DefaultConfig())

	input := sine(1024, 440, 48000)
	for i := 0; i < 5; i++ {
		_, err := p.Process(context.Background(), input, nil)
		require.NoError(t, err)
	}
	require.NotZero(t, p.Stats().FramesProcessed)

	require.NoError(t, p.Reset())
	assert.Equal(t, Stats{Enabled: true}, p.Stats())

	// Still enabled and processing after the reset.
	_, err := p.Process(context.Background(), input, nil)
	assert.NoError(t, err)
}

func TestResetRequiresEnable(t *testing.T) {
	p, err := New(DefaultConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, p.Reset(), ErrNotEnabled)
}

func TestDecodeReferenceRejectsEmpty(t *testing.T) {
	p, err := New(DefaultConfig())
	require.NoError(t, err)

	_, _, err = p.DecodeReference(nil)
	assert.Error(t, err)
}
