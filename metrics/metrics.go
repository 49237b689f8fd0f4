// Package metrics exposes Prometheus instrumentation for the audio pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	PipelineEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audiopipe_pipeline_enabled",
		Help: "Whether the pipeline is currently enabled (1) or disabled (0)",
	})
	OverallQuality = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audiopipe_overall_quality",
		Help: "Aggregated pipeline quality score, 0 to 1",
	})
	CompressionBitrate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audiopipe_compression_bitrate_kbps",
		Help: "Current adaptive compression bitrate in kbps",
	})
	EchoConvergence = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audiopipe_echo_convergence",
		Help: "Echo canceller convergence estimate, 0 to 1",
	})
)

// Counters
var (
	FramesProcessedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audiopipe_frames_processed_total",
		Help: "Total frames processed by the pipeline",
	})
	FramesRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audiopipe_frames_rejected_total",
		Help: "Frames rejected because another frame was in flight",
	})
	StageBypassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiopipe_stage_bypasses_total",
		Help: "Frames that bypassed a stage due to a processing error, by stage",
	}, []string{"stage"})
	EncodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audiopipe_encode_errors_total",
		Help: "Total compression encode failures",
	})
	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audiopipe_reconnects_total",
		Help: "Total transport reconnections",
	})
)

// Histograms
var (
	ProcessingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audiopipe_processing_latency_ms",
		Help:    "Per-frame processing latency in milliseconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 50},
	})
)
