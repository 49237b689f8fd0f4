package codec

import (
	"fmt"
	"sync"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// maxDecodedSamples bounds the decode scratch buffer. Opus frames carry at
// most 120ms of audio, 5760 samples at 48kHz.
const maxDecodedSamples = 5760

// Decoder decodes incoming Opus frames into PCM suitable for use as the
// echo canceller's far-end reference. Uses pion/opus, which is pure Go.
type Decoder struct {
	mu      sync.Mutex
	decoder opus.Decoder
	scratch []byte
}

// NewDecoder creates a reference signal decoder.
func NewDecoder() *Decoder {
	logrus.WithField("function", "NewDecoder").Info("Opus reference decoder created")

	return &Decoder{
		decoder: opus.NewDecoder(),
		scratch: make([]byte, maxDecodedSamples*2*2),
	}
}

// Decode converts one Opus frame to mono float32 PCM and reports the sample
// rate indicated by the frame's bandwidth. Stereo frames are downmixed by
// averaging channels.
func (d *Decoder) Decode(data []byte) ([]float32, uint32, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("%w: empty opus frame", ErrMalformedData)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	bandwidth, isStereo, err := d.decoder.Decode(data, d.scratch)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Decode",
			"data_size": len(data),
			"error":     err.Error(),
		}).Error("Opus decode failed")
		return nil, 0, fmt.Errorf("opus decode failed: %w", err)
	}

	pcm16 := make([]int16, len(d.scratch)/2)
	for i := range pcm16 {
		pcm16[i] = int16(d.scratch[i*2]) | int16(d.scratch[i*2+1])<<8
	}

	var pcm []float32
	if isStereo {
		pcm = make([]float32, len(pcm16)/2)
		for i := range pcm {
			left := float32(pcm16[i*2]) / 32768.0
			right := float32(pcm16[i*2+1]) / 32768.0
			pcm[i] = (left + right) / 2
		}
	} else {
		pcm = Int16ToFloat32(pcm16)
	}

	sampleRate := uint32(bandwidth.SampleRate())

	logrus.WithFields(logrus.Fields{
		"function":    "Decode",
		"data_size":   len(data),
		"pcm_samples": len(pcm),
		"sample_rate": sampleRate,
		"is_stereo":   isStereo,
	}).Debug("Decoded reference frame")

	return pcm, sampleRate, nil
}
