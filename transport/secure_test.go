package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handshakePair(t *testing.T) (*SecureChannel, *SecureChannel) {
	t.Helper()

	initiatorKeys, err := GenerateKeyPair()
	require.NoError(t, err)
	responderKeys, err := GenerateKeyPair()
	require.NoError(t, err)

	initiator, err := NewSecureChannel(initiatorKeys, responderKeys.Public[:], Initiator)
	require.NoError(t, err)
	responder, err := NewSecureChannel(responderKeys, nil, Responder)
	require.NoError(t, err)

	msg1, done, err := initiator.WriteHandshake()
	require.NoError(t, err)
	require.False(t, done, "initiator is not complete until the response arrives")

	done, err = responder.ReadHandshake(msg1)
	require.NoError(t, err)
	require.False(t, done)

	msg2, done, err := responder.WriteHandshake()
	require.NoError(t, err)
	require.True(t, done, "responder completes after writing the response")

	done, err = initiator.ReadHandshake(msg2)
	require.NoError(t, err)
	require.True(t, done)

	return initiator, responder
}

func TestGenerateKeyPair(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)

	assert.NotEqual(t, a.Public, b.Public)
	assert.NotEqual(t, a.Private, a.Public)
}

func TestFromPrivateKey(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)

	b, err := FromPrivateKey(a.Private[:])
	require.NoError(t, err)
	assert.Equal(t, a.Public, b.Public)

	_, err = FromPrivateKey([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSecureChannelHandshakeAndTransport(t *testing.T) {
	initiator, responder := handshakePair(t)

	assert.True(t, initiator.Complete())
	assert.True(t, responder.Complete())

	plaintext := []byte("encoded audio frame")
	sealed, err := initiator.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, sealed)

	opened, err := responder.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)

	// And the reverse direction.
	sealed, err = responder.Encrypt(plaintext)
	require.NoError(t, err)
	opened, err = initiator.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSecureChannelBeforeHandshake(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)
	peer, err := GenerateKeyPair()
	require.NoError(t, err)

	sc, err := NewSecureChannel(keys, peer.Public[:], Initiator)
	require.NoError(t, err)

	_, err = sc.Encrypt([]byte("x"))
	assert.ErrorIs(t, err, ErrHandshakeIncomplete)
	_, err = sc.Decrypt([]byte("x"))
	assert.ErrorIs(t, err, ErrHandshakeIncomplete)
}

func TestSecureChannelInitiatorRequiresPeerKey(t *testing.T) {
	keys, err := GenerateKeyPair()
	require.NoError(t, err)

	_, err = NewSecureChannel(keys, nil, Initiator)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSecureChannelTamperedCiphertext(t *testing.T) {
	initiator, responder := handshakePair(t)

	sealed, err := initiator.Encrypt([]byte("frame"))
	require.NoError(t, err)

	sealed[0] ^= 0xFF
	_, err = responder.Decrypt(sealed)
	assert.Error(t, err)
}

func TestSecureChannelPeerStaticKey(t *testing.T) {
	initiatorKeys, err := GenerateKeyPair()
	require.NoError(t, err)
	responderKeys, err := GenerateKeyPair()
	require.NoError(t, err)

	initiator, err := NewSecureChannel(initiatorKeys, responderKeys.Public[:], Initiator)
	require.NoError(t, err)
	responder, err := NewSecureChannel(responderKeys, nil, Responder)
	require.NoError(t, err)

	msg1, _, err := initiator.WriteHandshake()
	require.NoError(t, err)
	_, err = responder.ReadHandshake(msg1)
	require.NoError(t, err)

	// IK transmits the initiator's static key in the first message.
	key, err := responder.PeerStaticKey()
	require.NoError(t, err)
	assert.Equal(t, initiatorKeys.Public[:], key)
}
