package audiopipe

import (
	"fmt"
	"io"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bridgeline/audiopipe/codec"
	"github.com/bridgeline/audiopipe/denoise"
	"github.com/bridgeline/audiopipe/echo"
)

// weightEpsilon is the tolerance when checking that aggregation weights sum
// to one.
const weightEpsilon = 1e-6

// AggregationConfig controls how per-engine quality scores combine into the
// overall pipeline quality. The weights must sum to 1.0.
type AggregationConfig struct {
	// EchoWeight scales the echo canceller's quality contribution.
	EchoWeight float64 `yaml:"echoWeight"`
	// NoiseWeight scales the noise reducer's quality contribution.
	NoiseWeight float64 `yaml:"noiseWeight"`
	// CompressionWeight scales the compression engine's quality
	// contribution.
	CompressionWeight float64 `yaml:"compressionWeight"`
}

// Config is the full pipeline configuration.
type Config struct {
	EchoCancellation echo.Config       `yaml:"echoCancellation"`
	NoiseReduction   denoise.Config    `yaml:"noiseReduction"`
	AudioCompression codec.Config      `yaml:"audioCompression"`
	Aggregation      AggregationConfig `yaml:"aggregation"`
}

// DefaultConfig returns the standard pipeline configuration for 48kHz mono
// voice. The aggregation weights are hand-tuned defaults, not derived
// constants.
func DefaultConfig() Config {
	return Config{
		EchoCancellation: echo.DefaultConfig(),
		NoiseReduction:   denoise.DefaultConfig(),
		AudioCompression: codec.DefaultConfig(),
		Aggregation: AggregationConfig{
			EchoWeight:        0.4,
			NoiseWeight:       0.4,
			CompressionWeight: 0.2,
		},
	}
}

// Validate checks the whole configuration, including each engine section.
func (c *Config) Validate() error {
	if err := c.EchoCancellation.Validate(); err != nil {
		return fmt.Errorf("echoCancellation: %w", err)
	}
	if err := c.NoiseReduction.Validate(); err != nil {
		return fmt.Errorf("noiseReduction: %w", err)
	}
	if err := c.AudioCompression.Validate(); err != nil {
		return fmt.Errorf("audioCompression: %w", err)
	}
	return c.Aggregation.Validate()
}

// Validate checks that the weights are non-negative and sum to 1.0.
func (a *AggregationConfig) Validate() error {
	if a.EchoWeight < 0 || a.NoiseWeight < 0 || a.CompressionWeight < 0 {
		return fmt.Errorf("%w: aggregation weights must not be negative", ErrInvalidConfig)
	}
	sum := a.EchoWeight + a.NoiseWeight + a.CompressionWeight
	if math.Abs(sum-1.0) > weightEpsilon {
		return fmt.Errorf("%w: aggregation weights must sum to 1.0, got %f", ErrInvalidConfig, sum)
	}
	return nil
}

// LoadConfig reads a YAML pipeline configuration from path. Missing sections
// keep their defaults; unknown fields are rejected.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg, err := LoadConfigFrom(f)
	if err != nil {
		return Config{}, fmt.Errorf("loading %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigFrom decodes a YAML pipeline configuration from r, starting from
// defaults.
func LoadConfigFrom(r io.Reader) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ConfigUpdate is a partial configuration change. Only non-nil sections are
// applied; each present section replaces its counterpart wholesale.
type ConfigUpdate struct {
	EchoCancellation *echo.Config
	NoiseReduction   *denoise.Config
	AudioCompression *codec.Config
	Aggregation      *AggregationConfig
}

// merged returns a copy of base with the update's sections applied.
func (u *ConfigUpdate) merged(base Config) Config {
	out := base
	if u.EchoCancellation != nil {
		out.EchoCancellation = *u.EchoCancellation
	}
	if u.NoiseReduction != nil {
		out.NoiseReduction = *u.NoiseReduction
	}
	if u.AudioCompression != nil {
		out.AudioCompression = *u.AudioCompression
	}
	if u.Aggregation != nil {
		out.Aggregation = *u.Aggregation
	}
	return out
}
