package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDecoder(t *testing.T) {
	d := NewDecoder()
	require.NotNil(t, d)
}

func TestDecoderRejectsEmptyFrame(t *testing.T) {
	d := NewDecoder()

	_, _, err := d.Decode(nil)
	assert.ErrorIs(t, err, ErrMalformedData)

	_, _, err = d.Decode([]byte{})
	assert.ErrorIs(t, err, ErrMalformedData)
}

func TestDecoderRejectsGarbage(t *testing.T) {
	d := NewDecoder()

	// Not a valid Opus TOC/frame, the decoder must surface an error rather
	// than return silence.
	_, _, err := d.Decode([]byte{0xFF, 0xFE, 0xFD})
	assert.Error(t, err)
}
