package audiopipe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bridgeline/audiopipe/codec"
	"github.com/bridgeline/audiopipe/denoise"
	"github.com/bridgeline/audiopipe/echo"
	"github.com/bridgeline/audiopipe/metrics"
)

const (
	// teardownTimeout bounds how long Disable waits for an in-flight frame
	// before tearing engines down anyway.
	teardownTimeout = 500 * time.Millisecond

	// eventBufferSize is the capacity of the non-fatal error channel.
	// Events are dropped rather than blocking the audio path.
	eventBufferSize = 32
)

// Stage names used in events, logs and metrics.
const (
	StageEchoCancellation = "echo_cancellation"
	StageNoiseReduction   = "noise_reduction"
	StageAudioCompression = "audio_compression"
)

// Event reports a non-fatal per-frame engine failure. The affected engine
// was bypassed for that frame; the pipeline kept running.
type Event struct {
	Stage string
	Err   error
	Time  time.Time
}

// Result is the outcome of processing one frame.
type Result struct {
	// PCM is the cleaned frame after echo cancellation and noise
	// reduction.
	PCM []float32
	// Encoded is the compressed payload, nil when the compression stage is
	// disabled or was bypassed.
	Encoded []byte
}

// Pipeline chains the echo cancellation, noise reduction and compression
// engines over live microphone frames and aggregates their statistics into a
// single quality score.
//
// Frames must be submitted one at a time and in capture order; adaptive
// filter state depends on both. Overlapping Process calls are rejected with
// ErrFrameInFlight rather than interleaved.
type Pipeline struct {
	mu     sync.Mutex
	config Config

	enabled  bool
	inFlight atomic.Bool

	canceller  *echo.Canceller
	reducer    *denoise.Reducer
	compressor *codec.Compressor
	decoder    *codec.Decoder

	events  chan Event
	lastErr error

	stats Stats
}

// New creates a disabled pipeline with the given configuration. Engines are
// instantiated by Enable.
func New(config Config) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"echo":        config.EchoCancellation.Enabled,
		"noise":       config.NoiseReduction.Enabled,
		"compression": config.AudioCompression.Enabled,
	}).Info("Creating audio pipeline")

	return &Pipeline{
		config:  config,
		decoder: codec.NewDecoder(),
		events:  make(chan Event, eventBufferSize),
	}, nil
}

// Enable instantiates all three engines from the current configuration and
// starts accepting frames. All adaptive state starts fresh.
func (p *Pipeline) Enable() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.enabled {
		return ErrAlreadyEnabled
	}

	canceller, err := echo.NewCanceller(p.config.EchoCancellation)
	if err != nil {
		return fmt.Errorf("initializing echo canceller: %w", err)
	}
	reducer, err := denoise.NewReducer(p.config.NoiseReduction)
	if err != nil {
		return fmt.Errorf("initializing noise reducer: %w", err)
	}
	compressor, err := codec.NewCompressor(p.config.AudioCompression)
	if err != nil {
		return fmt.Errorf("initializing compressor: %w", err)
	}

	p.canceller = canceller
	p.reducer = reducer
	p.compressor = compressor
	p.enabled = true
	p.stats = Stats{Enabled: true}
	metrics.PipelineEnabled.Set(1)

	logrus.WithField("function", "Enable").Info("Audio pipeline enabled")
	return nil
}

// Disable waits for any in-flight frame, then releases the engines. The
// wait is bounded so a stuck caller cannot block teardown forever.
func (p *Pipeline) Disable() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return ErrNotEnabled
	}

	deadline := time.Now().Add(teardownTimeout)
	for p.inFlight.Load() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	p.canceller = nil
	p.reducer = nil
	p.compressor = nil
	p.enabled = false
	p.stats.Enabled = false
	metrics.PipelineEnabled.Set(0)

	logrus.WithField("function", "Disable").Info("Audio pipeline disabled")
	return nil
}

// Enabled reports whether the pipeline is accepting frames.
func (p *Pipeline) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Process runs one captured frame through the enabled stages in fixed order
// and returns the cleaned PCM plus, when compression is enabled, the encoded
// payload.
//
// reference is the locally rendered far-end audio used to cancel echo; pass
// nil when no far-end is playing, which skips the echo stage for that frame.
// A failure inside any one engine bypasses that engine for the frame and is
// surfaced through Events and LastError, never as a Process error.
func (p *Pipeline) Process(ctx context.Context, input, reference []float32) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		metrics.FramesRejectedTotal.Inc()
		return nil, ErrFrameInFlight
	}
	defer p.inFlight.Store(false)

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return nil, ErrNotEnabled
	}
	if len(input) == 0 {
		return &Result{}, nil
	}

	start := time.Now()
	pcm := input

	if p.config.EchoCancellation.Enabled && len(reference) > 0 {
		out, err := p.canceller.Process(pcm, reference)
		if err != nil {
			p.recordBypass(StageEchoCancellation, err)
		} else {
			pcm = out
		}
	}

	if p.config.NoiseReduction.Enabled {
		out, err := p.reducer.Process(pcm)
		if err != nil {
			p.recordBypass(StageNoiseReduction, err)
		} else {
			pcm = out
		}
	}

	var encoded []byte
	if p.config.AudioCompression.Enabled {
		out, err := p.compressor.Process(pcm)
		if err != nil {
			p.recordBypass(StageAudioCompression, err)
			metrics.EncodeErrorsTotal.Inc()
		} else {
			encoded = out
		}
	}

	// Keep the caller's buffer and pipeline state independent.
	if &pcm[0] == &input[0] {
		out := make([]float32, len(pcm))
		copy(out, pcm)
		pcm = out
	}

	p.aggregate(len(input), time.Since(start))

	logrus.WithFields(logrus.Fields{
		"function": "Process",
		"samples":  len(input),
		"encoded":  len(encoded),
		"quality":  p.stats.OverallQuality,
	}).Debug("Frame processed")

	return &Result{PCM: pcm, Encoded: encoded}, nil
}

// recordBypass notes a per-frame engine failure without failing the frame.
func (p *Pipeline) recordBypass(stage string, err error) {
	p.lastErr = fmt.Errorf("%s: %w", stage, err)
	metrics.StageBypassesTotal.WithLabelValues(stage).Inc()

	select {
	case p.events <- Event{Stage: stage, Err: err, Time: time.Now()}:
	default:
	}

	logrus.WithFields(logrus.Fields{
		"function": "Process",
		"stage":    stage,
		"error":    err.Error(),
	}).Warn("Engine failed, bypassing for this frame")
}

// aggregate merges per-engine stats into the pipeline snapshot. Callers hold
// p.mu.
func (p *Pipeline) aggregate(sampleCount int, latency time.Duration) {
	echoScore, noiseScore, compressionScore := 1.0, 1.0, 1.0

	if p.config.EchoCancellation.Enabled {
		p.stats.EchoCancellation = p.canceller.Stats()
		echoScore = p.stats.EchoCancellation.SignalQuality
	}
	if p.config.NoiseReduction.Enabled {
		p.stats.NoiseReduction = p.reducer.Stats()
		noiseScore = p.stats.NoiseReduction.Quality
	}
	if p.config.AudioCompression.Enabled {
		p.stats.AudioCompression = p.compressor.Stats()
		compressionScore = p.stats.AudioCompression.QualityScore
	}

	p.stats.OverallQuality = overallQuality(p.config.Aggregation, echoScore, noiseScore, compressionScore)
	p.stats.Level = levelFromScore(p.stats.OverallQuality)
	p.stats.ProcessingLatency = latency
	p.stats.FramesProcessed++
	p.stats.LastUpdate = time.Now()

	sampleRate := p.config.EchoCancellation.SampleRate
	if sampleRate > 0 && sampleCount > 0 {
		frameDuration := time.Duration(sampleCount) * time.Second / time.Duration(sampleRate)
		if frameDuration > 0 {
			p.stats.CPUUsage = float64(latency) / float64(frameDuration)
		}
	}
	p.stats.MemoryUsage = p.estimateMemory(sampleCount)

	metrics.FramesProcessedTotal.Inc()
	metrics.OverallQuality.Set(p.stats.OverallQuality)
	metrics.ProcessingLatency.Observe(float64(latency) / float64(time.Millisecond))
	metrics.CompressionBitrate.Set(float64(p.stats.AudioCompression.Bitrate))
	metrics.EchoConvergence.Set(p.stats.EchoCancellation.Convergence)
}

// estimateMemory gives a coarse working-set figure for the engines: filter
// coefficients and reference history, noise spectrum, and one frame of
// scratch per stage.
func (p *Pipeline) estimateMemory(sampleCount int) uint64 {
	filterLen := uint64(p.config.EchoCancellation.FilterLength)
	perFrame := uint64(sampleCount) * 8
	return filterLen*8*2 + perFrame*3
}

// Stats returns a copy of the aggregated pipeline statistics.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Events exposes the non-fatal error channel. Events are dropped when the
// buffer is full, so consumers should drain it promptly.
func (p *Pipeline) Events() <-chan Event {
	return p.events
}

// LastError returns the most recent non-fatal engine error, or nil.
func (p *Pipeline) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// ClearError discards the recorded non-fatal error state.
func (p *Pipeline) ClearError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastErr = nil
}

// UpdateConfig applies a partial configuration change and propagates each
// present section to its live engine. An invalid update is rejected whole
// and the pipeline keeps its prior configuration.
func (p *Pipeline) UpdateConfig(update ConfigUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	merged := update.merged(p.config)
	if err := merged.Validate(); err != nil {
		return err
	}

	if p.enabled {
		if update.EchoCancellation != nil {
			if err := p.canceller.UpdateConfig(*update.EchoCancellation); err != nil {
				return fmt.Errorf("echoCancellation: %w", err)
			}
		}
		if update.NoiseReduction != nil {
			if err := p.reducer.UpdateConfig(*update.NoiseReduction); err != nil {
				return fmt.Errorf("noiseReduction: %w", err)
			}
		}
		if update.AudioCompression != nil {
			if err := p.compressor.UpdateConfig(*update.AudioCompression); err != nil {
				return fmt.Errorf("audioCompression: %w", err)
			}
		}
	}
	p.config = merged

	logrus.WithField("function", "UpdateConfig").Info("Pipeline configuration updated")
	return nil
}

// Config returns a copy of the current configuration.
func (p *Pipeline) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

// Reset clears all three engines' adaptive state and zeroes the aggregated
// statistics without disabling the pipeline.
func (p *Pipeline) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return ErrNotEnabled
	}

	p.canceller.Reset()
	p.reducer.Reset()
	p.compressor.Reset()
	p.lastErr = nil
	p.stats = Stats{Enabled: true}

	logrus.WithField("function", "Reset").Info("Pipeline adaptive state reset")
	return nil
}

// DecodeReference converts a received Opus frame into PCM for use as the
// echo canceller's far-end reference. Returns the PCM and its sample rate.
func (p *Pipeline) DecodeReference(data []byte) ([]float32, uint32, error) {
	return p.decoder.Decode(data)
}
