// Package audiopipe implements the real-time audio optimization pipeline for
// Bridge Line voice chat.
//
// The pipeline chains three adaptive DSP engines over live microphone frames
// before they reach the peer-connection transport: acoustic echo cancellation,
// noise reduction, and adaptive-bitrate audio compression. Each engine
// publishes statistics that a per-frame aggregator merges into a single
// quality score, which feeds back into each engine's self-tuning controller.
//
// # Architecture
//
//   - Pipeline: orchestrates the three engines with a fixed stage order and a
//     single-frame-in-flight guarantee
//   - echo.Canceller: NLMS adaptive filter with double-talk detection
//   - denoise.Reducer: VAD-gated spectral noise suppression
//   - codec.Compressor: frame encoder with a quality-feedback bitrate loop
//   - transport: RTP session framing, Noise-encrypted channels, reconnection
//
// # Sub-Packages
//
//   - audiopipe/spectral: shared FFT magnitude analysis
//   - audiopipe/echo: echo cancellation engine
//   - audiopipe/denoise: noise reduction engine
//   - audiopipe/codec: compression engine and Opus reference decoding
//   - audiopipe/transport: sink abstraction over the peer-connection layer
//   - audiopipe/ringbuffer: fixed-size history windows with O(1) means
//   - audiopipe/metrics: Prometheus instrumentation
//
// # Usage
//
// Create a pipeline, enable it, and feed captured frames:
//
//	pipeline, err := audiopipe.New(audiopipe.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := pipeline.Enable(); err != nil {
//	    log.Fatal(err)
//	}
//	defer pipeline.Disable()
//
//	result, err := pipeline.Process(ctx, captured, reference)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sink.Send(ctx, result.Encoded, uint32(len(captured)))
//
// Per-frame engine failures never surface as Process errors; the failing
// engine is bypassed for that frame and the failure is reported through
// Events and LastError.
package audiopipe
