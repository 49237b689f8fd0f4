package audiopipe

import (
	"time"

	"github.com/bridgeline/audiopipe/codec"
	"github.com/bridgeline/audiopipe/denoise"
	"github.com/bridgeline/audiopipe/echo"
)

// QualityLevel classifies the aggregated quality score into coarse bands for
// UI display.
type QualityLevel int

const (
	QualityBad QualityLevel = iota
	QualityPoor
	QualityFair
	QualityGood
	QualityExcellent
)

// String returns a human-readable quality level name.
func (l QualityLevel) String() string {
	switch l {
	case QualityExcellent:
		return "excellent"
	case QualityGood:
		return "good"
	case QualityFair:
		return "fair"
	case QualityPoor:
		return "poor"
	case QualityBad:
		return "bad"
	default:
		return "unknown"
	}
}

// levelFromScore maps a 0..1 quality score to a QualityLevel.
func levelFromScore(score float64) QualityLevel {
	switch {
	case score >= 0.8:
		return QualityExcellent
	case score >= 0.6:
		return QualityGood
	case score >= 0.4:
		return QualityFair
	case score >= 0.2:
		return QualityPoor
	default:
		return QualityBad
	}
}

// Stats is a snapshot of the whole pipeline's state, copied out on every
// call so callers never race with the next frame.
type Stats struct {
	Enabled bool

	EchoCancellation echo.Stats
	NoiseReduction   denoise.Stats
	AudioCompression codec.Stats

	// OverallQuality is the weighted combination of the per-engine quality
	// scores, 0 to 1. Disabled engines contribute a neutral 1.0.
	OverallQuality float64
	Level          QualityLevel

	// ProcessingLatency is the wall-clock duration of the last frame.
	ProcessingLatency time.Duration

	// CPUUsage is a coarse estimate: processing time over frame duration.
	CPUUsage float64

	// MemoryUsage is a coarse estimate of the engines' working-set bytes.
	MemoryUsage uint64

	FramesProcessed uint64
	LastUpdate      time.Time
}

// overallQuality combines per-engine scores using the configured weights.
func overallQuality(cfg AggregationConfig, echoScore, noiseScore, compressionScore float64) float64 {
	return cfg.EchoWeight*echoScore + cfg.NoiseWeight*noiseScore + cfg.CompressionWeight*compressionScore
}
