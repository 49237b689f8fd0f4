package echo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.True(t, config.Enabled)
	assert.Greater(t, config.FilterLength, 0)
	assert.Greater(t, config.AdaptationRate, 0.0)
	assert.LessOrEqual(t, config.AdaptationRate, 2.0)
	assert.Greater(t, config.LeakageFactor, 0.0)
	assert.LessOrEqual(t, config.LeakageFactor, 1.0)
	assert.Greater(t, config.ClippingThreshold, 0.0)
	assert.NoError(t, config.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"zero filter length", func(c *Config) { c.FilterLength = 0 }, true},
		{"negative adaptation rate", func(c *Config) { c.AdaptationRate = -0.1 }, true},
		{"adaptation rate too high", func(c *Config) { c.AdaptationRate = 2.5 }, true},
		{"zero leakage", func(c *Config) { c.LeakageFactor = 0 }, true},
		{"leakage above one", func(c *Config) { c.LeakageFactor = 1.01 }, true},
		{"negative delay", func(c *Config) { c.DelayCompensation = -5 }, true},
		{"zero clipping threshold", func(c *Config) { c.ClippingThreshold = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			err := config.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCanceller_ProcessRejectsLengthMismatch(t *testing.T) {
	canceller, err := NewCanceller(DefaultConfig())
	require.NoError(t, err)

	_, err = canceller.Process(make([]float32, 160), make([]float32, 120))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameLengthMismatch))
}

func TestCanceller_DoubleTalkFreezesAdaptation(t *testing.T) {
	config := DefaultConfig()
	config.DoubleTalkThreshold = 0.3
	canceller, err := NewCanceller(config)
	require.NoError(t, err)

	// Warm the filter so coefficients are non-trivial: near-end is a weak
	// echo of the reference, below the double-talk threshold.
	far := sine(512, 440, 48000, 0.5)
	weakNear := make([]float32, len(far))
	for i := range far {
		weakNear[i] = 0.2 * far[i]
	}
	_, err = canceller.Process(weakNear, far)
	require.NoError(t, err)

	before := canceller.Coefficients()
	require.NotEqual(t, make([]float64, len(before)), before, "warm-up must train the filter")

	// Both signals well above the double-talk threshold.
	loudNear := sine(512, 300, 48000, 0.6)
	loudFar := sine(512, 440, 48000, 0.6)
	_, err = canceller.Process(loudNear, loudFar)
	require.NoError(t, err)

	after := canceller.Coefficients()
	assert.Equal(t, before, after, "filter must not adapt during double-talk")

	stats := canceller.Stats()
	assert.Equal(t, uint64(1), stats.DoubleTalkFrames)
}

func TestCanceller_AdaptsWithoutDoubleTalk(t *testing.T) {
	config := DefaultConfig()
	canceller, err := NewCanceller(config)
	require.NoError(t, err)

	// Near-end is a pure echo of the reference: the filter should learn it.
	far := sine(1024, 440, 48000, 0.02) // below double-talk threshold
	near := make([]float32, len(far))
	copy(near, far)

	before := canceller.Coefficients()
	_, err = canceller.Process(near, far)
	require.NoError(t, err)
	after := canceller.Coefficients()

	assert.NotEqual(t, before, after, "filter must adapt outside double-talk")
}

func TestCanceller_ConvergesOnSyntheticEcho(t *testing.T) {
	config := DefaultConfig()
	config.NonlinearProcessing = false
	config.DoubleTalkDetection = false
	canceller, err := NewCanceller(config)
	require.NoError(t, err)

	// Near-end is the reference scaled by 0.5 (a zero-delay echo path).
	var lastOut []float32
	var far []float32
	for i := 0; i < 40; i++ {
		far = sine(480, 440, 48000, 0.4)
		near := make([]float32, len(far))
		for j := range far {
			near[j] = 0.5 * far[j]
		}
		lastOut, err = canceller.Process(near, far)
		require.NoError(t, err)
	}

	inRMS := rms32(far) * 0.5
	outRMS := rms32(lastOut)
	assert.Less(t, outRMS, inRMS*0.2, "echo should be substantially suppressed after convergence")

	stats := canceller.Stats()
	assert.Greater(t, stats.EchoSuppressionDB, 6.0)
	assert.Greater(t, stats.Convergence, 0.0)
	assert.LessOrEqual(t, stats.Convergence, 1.0)
}

func TestCanceller_OutputClipped(t *testing.T) {
	config := DefaultConfig()
	config.ClippingThreshold = 0.5
	config.DoubleTalkDetection = false
	canceller, err := NewCanceller(config)
	require.NoError(t, err)

	near := []float32{2.0, -2.0, 0.25, -0.25}
	far := make([]float32, len(near))

	out, err := canceller.Process(near, far)
	require.NoError(t, err)

	for i, s := range out {
		assert.LessOrEqual(t, math.Abs(float64(s)), 0.5, "sample %d exceeds clipping threshold", i)
	}
}

func TestCanceller_ResetZeroesStats(t *testing.T) {
	canceller, err := NewCanceller(DefaultConfig())
	require.NoError(t, err)

	far := sine(480, 440, 48000, 0.3)
	near := sine(480, 300, 48000, 0.3)
	_, err = canceller.Process(near, far)
	require.NoError(t, err)

	canceller.Reset()

	assert.Equal(t, Stats{}, canceller.Stats())
	for _, coeff := range canceller.Coefficients() {
		assert.Zero(t, coeff)
	}

	// The canceller keeps working after a reset.
	_, err = canceller.Process(near, far)
	assert.NoError(t, err)
}

func TestCanceller_UpdateConfig(t *testing.T) {
	canceller, err := NewCanceller(DefaultConfig())
	require.NoError(t, err)

	t.Run("rejects invalid config", func(t *testing.T) {
		bad := DefaultConfig()
		bad.FilterLength = -1
		err := canceller.UpdateConfig(bad)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidConfig))
	})

	t.Run("resizes filter on length change", func(t *testing.T) {
		next := DefaultConfig()
		next.FilterLength = 64
		require.NoError(t, canceller.UpdateConfig(next))
		assert.Len(t, canceller.Coefficients(), 64)
	})
}

func TestCanceller_EmptyFrame(t *testing.T) {
	canceller, err := NewCanceller(DefaultConfig())
	require.NoError(t, err)

	out, err := canceller.Process(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

// sine generates a sine test signal.
func sine(length int, freq, sampleRate, amplitude float64) []float32 {
	out := make([]float32, length)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2.0*math.Pi*freq*float64(i)/sampleRate))
	}
	return out
}

// rms32 computes the RMS amplitude of a frame.
func rms32(frame []float32) float64 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	if len(frame) == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(len(frame)))
}
