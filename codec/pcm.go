package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PCM conversion helpers shared by the encoders and the transport boundary.
// Float32 frames travel through the processing stages; byte buffers cross the
// encoder and network boundaries.

// Float32ToBytes serializes samples as little-endian IEEE-754 float32 values.
// BytesToFloat32 reverses it; the round trip reproduces the original samples
// exactly.
func Float32ToBytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

// BytesToFloat32 deserializes little-endian IEEE-754 float32 samples.
// The byte length must be a multiple of 4.
func BytesToFloat32(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: byte length %d is not a multiple of 4", ErrMalformedData, len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out, nil
}

// Float32ToInt16 converts normalized samples to 16-bit PCM with clamping.
// The clamp is asymmetric like the int16 range itself: overloads map to
// [-32768, 32767].
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32767.0
		if v > 32767.0 {
			v = 32767.0
		} else if v < -32768.0 {
			v = -32768.0
		}
		out[i] = int16(v)
	}
	return out
}

// Int16ToFloat32 converts 16-bit PCM to normalized float samples.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
