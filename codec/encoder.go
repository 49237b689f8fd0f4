package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// subFrameHeaderLen is the size of the self-describing sub-frame header:
// one byte of quantization depth and a little-endian uint16 sample count.
const subFrameHeaderLen = 3

// Algorithm identifies an encoding algorithm.
type Algorithm string

const (
	// AlgorithmOpus is the default algorithm and the fallback for any
	// unsupported selection.
	AlgorithmOpus Algorithm = "opus"
	// AlgorithmAAC selects power-law companded quantization.
	AlgorithmAAC Algorithm = "aac"
	// AlgorithmMP3 selects mu-law companded quantization.
	AlgorithmMP3 Algorithm = "mp3"
)

// IsValid reports whether a is a recognised algorithm.
func (a Algorithm) IsValid() bool {
	switch a {
	case AlgorithmOpus, AlgorithmAAC, AlgorithmMP3:
		return true
	}
	return false
}

// OpusConfig carries Opus-specific encoder options.
type OpusConfig struct {
	// Application is the Opus application profile (voip, audio, lowdelay).
	Application string `yaml:"application"`
	// MaxComplexity bounds the adaptive complexity control, 0-10.
	MaxComplexity int `yaml:"maxComplexity"`
}

// AACConfig carries AAC-specific encoder options.
type AACConfig struct {
	// Profile is the AAC object type label (lc, he).
	Profile string `yaml:"profile"`
}

// EncoderConfig describes the frame geometry shared by all algorithms.
type EncoderConfig struct {
	// FrameSize is the number of samples per encoded sub-frame.
	FrameSize int `yaml:"frameSize"`
	// Channels is the channel count (only mono is processed today).
	Channels int `yaml:"channels"`
	// SampleRate is the PCM sample rate in Hz.
	SampleRate int `yaml:"sampleRate"`

	Opus OpusConfig `yaml:"opus"`
	AAC  AACConfig  `yaml:"aac"`
}

// DefaultEncoderConfig returns encoder geometry for 20ms VoIP frames.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{
		FrameSize:  960,
		Channels:   1,
		SampleRate: 48000,
		Opus: OpusConfig{
			Application:   "voip",
			MaxComplexity: 10,
		},
		AAC: AACConfig{
			Profile: "lc",
		},
	}
}

// Encoder converts PCM sub-frames into a compressed representation at a
// target bitrate. Decode reconstructs the encoder's own output locally so the
// compression engine can measure quality against the original.
type Encoder interface {
	// Encode compresses one sub-frame of PCM samples.
	Encode(frame []float32) ([]byte, error)
	// Decode reconstructs PCM samples from this encoder's output.
	Decode(data []byte) ([]float32, error)
	// SetBitRate updates the target bitrate in bits per second.
	SetBitRate(bitsPerSecond int) error
	// BitRate returns the current target bitrate in bits per second.
	BitRate() int
	// SetComplexity updates the encoder effort level, 0-10.
	SetComplexity(level int) error
	// Complexity returns the current effort level.
	Complexity() int
	// Algorithm identifies the encoding algorithm in use.
	Algorithm() Algorithm
	// Close releases encoder resources.
	Close() error
}

// NewEncoder creates an encoder for the requested algorithm.
//
// An unsupported algorithm falls back to Opus with a logged warning rather
// than failing: encoder availability problems must degrade, not abort.
func NewEncoder(algorithm Algorithm, config EncoderConfig, bitsPerSecond int) (Encoder, error) {
	if !algorithm.IsValid() {
		logrus.WithFields(logrus.Fields{
			"function":  "NewEncoder",
			"requested": string(algorithm),
			"fallback":  string(AlgorithmOpus),
		}).Warn("Unsupported compression algorithm, falling back to Opus")
		algorithm = AlgorithmOpus
	}

	if config.FrameSize <= 0 {
		return nil, fmt.Errorf("%w: frame size must be positive, got %d", ErrInvalidConfig, config.FrameSize)
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidConfig, config.SampleRate)
	}
	if config.Channels <= 0 {
		return nil, fmt.Errorf("%w: channel count must be positive, got %d", ErrInvalidConfig, config.Channels)
	}
	if bitsPerSecond <= 0 {
		return nil, fmt.Errorf("%w: bitrate must be positive, got %d", ErrInvalidConfig, bitsPerSecond)
	}

	enc := &quantEncoder{
		algorithm:  algorithm,
		config:     config,
		bitRate:    bitsPerSecond,
		complexity: 5,
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewEncoder",
		"algorithm":   string(algorithm),
		"frame_size":  config.FrameSize,
		"sample_rate": config.SampleRate,
		"bit_rate":    bitsPerSecond,
	}).Info("Encoder created")

	return enc, nil
}

// quantEncoder is a pure-Go frame encoder that hits its target bitrate by
// requantizing samples to a reduced bit depth, with per-algorithm companding.
// Each encoded sub-frame is self-describing: a depth and sample-count header
// followed by bit-packed sample codes. The explicit count keeps Decode exact
// when the packed payload carries padding bits in its last byte.
type quantEncoder struct {
	mu         sync.Mutex
	algorithm  Algorithm
	config     EncoderConfig
	bitRate    int
	complexity int
	closed     bool
}

// bitsPerSample derives the quantization depth from the target bitrate.
func (e *quantEncoder) bitsPerSample() int {
	bits := e.bitRate / (e.config.SampleRate * e.config.Channels)
	if bits < 2 {
		bits = 2
	}
	if bits > 16 {
		bits = 16
	}
	return bits
}

func (e *quantEncoder) Encode(frame []float32) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEncoderClosed
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrInvalidConfig)
	}
	if len(frame) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: sub-frame of %d samples exceeds header capacity", ErrInvalidConfig, len(frame))
	}

	bits := e.bitsPerSample()
	levels := uint32(1)<<uint(bits) - 1

	out := make([]byte, subFrameHeaderLen, subFrameHeaderLen+(len(frame)*bits+7)/8)
	out[0] = byte(bits)
	binary.LittleEndian.PutUint16(out[1:], uint16(len(frame)))

	var acc uint64
	var accBits uint
	for _, s := range frame {
		v := e.compand(float64(s))
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		code := uint32(math.Round((v + 1) / 2 * float64(levels)))

		acc |= uint64(code) << accBits
		accBits += uint(bits)
		for accBits >= 8 {
			out = append(out, byte(acc))
			acc >>= 8
			accBits -= 8
		}
	}
	if accBits > 0 {
		out = append(out, byte(acc))
	}

	return out, nil
}

func (e *quantEncoder) Decode(data []byte) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEncoderClosed
	}
	if len(data) < subFrameHeaderLen+1 {
		return nil, fmt.Errorf("%w: sub-frame too short (%d bytes)", ErrMalformedData, len(data))
	}

	bits := int(data[0])
	if bits < 2 || bits > 16 {
		return nil, fmt.Errorf("%w: invalid bit depth %d", ErrMalformedData, bits)
	}
	levels := uint32(1)<<uint(bits) - 1

	count := int(binary.LittleEndian.Uint16(data[1:]))
	payload := data[subFrameHeaderLen:]
	if len(payload)*8 < count*bits {
		return nil, fmt.Errorf("%w: payload of %d bytes cannot hold %d samples at %d bits", ErrMalformedData, len(payload), count, bits)
	}
	out := make([]float32, 0, count)

	var acc uint64
	var accBits uint
	for _, b := range payload {
		acc |= uint64(b) << accBits
		accBits += 8
		for accBits >= uint(bits) && len(out) < count {
			code := uint32(acc) & levels
			acc >>= uint(bits)
			accBits -= uint(bits)

			v := float64(code)/float64(levels)*2 - 1
			out = append(out, float32(e.expand(v)))
		}
	}
	return out, nil
}

// compand applies the algorithm's amplitude mapping before quantization.
func (e *quantEncoder) compand(v float64) float64 {
	switch e.algorithm {
	case AlgorithmAAC:
		// Power-law companding concentrates codes near zero.
		return math.Copysign(math.Pow(math.Abs(v), 0.75), v)
	case AlgorithmMP3:
		// mu-law companding.
		const mu = 255.0
		return math.Copysign(math.Log(1+mu*math.Abs(v))/math.Log(1+mu), v)
	default:
		return v
	}
}

// expand inverts compand.
func (e *quantEncoder) expand(v float64) float64 {
	switch e.algorithm {
	case AlgorithmAAC:
		return math.Copysign(math.Pow(math.Abs(v), 1.0/0.75), v)
	case AlgorithmMP3:
		const mu = 255.0
		return math.Copysign((math.Pow(1+mu, math.Abs(v))-1)/mu, v)
	default:
		return v
	}
}

func (e *quantEncoder) SetBitRate(bitsPerSecond int) error {
	if bitsPerSecond <= 0 {
		return fmt.Errorf("%w: bitrate must be positive, got %d", ErrInvalidConfig, bitsPerSecond)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.bitRate = bitsPerSecond
	return nil
}

func (e *quantEncoder) BitRate() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bitRate
}

func (e *quantEncoder) SetComplexity(level int) error {
	if level < 0 || level > 10 {
		return fmt.Errorf("%w: complexity must be 0-10, got %d", ErrInvalidConfig, level)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.algorithm == AlgorithmOpus && e.config.Opus.MaxComplexity > 0 && level > e.config.Opus.MaxComplexity {
		level = e.config.Opus.MaxComplexity
	}
	e.complexity = level
	return nil
}

func (e *quantEncoder) Complexity() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complexity
}

func (e *quantEncoder) Algorithm() Algorithm {
	return e.algorithm
}

func (e *quantEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
