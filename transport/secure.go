package transport

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
)

// Role identifies which side of the handshake a channel plays.
type Role int

const (
	// Initiator starts the handshake and must know the peer's public key.
	Initiator Role = iota
	// Responder answers the handshake.
	Responder
)

// String returns a human-readable role name.
func (r Role) String() string {
	switch r {
	case Initiator:
		return "initiator"
	case Responder:
		return "responder"
	default:
		return "unknown"
	}
}

// SecureChannel encrypts audio payloads between peers using the Noise IK
// pattern over Curve25519, ChaCha20-Poly1305 and SHA-256. The initiator must
// know the responder's static public key up front, which matches a voice call
// to an already known peer.
type SecureChannel struct {
	mu         sync.Mutex
	role       Role
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
}

// NewSecureChannel creates a channel ready to perform the handshake.
// peerPublicKey is required for the initiator and ignored for the responder.
func NewSecureChannel(local *KeyPair, peerPublicKey []byte, role Role) (*SecureChannel, error) {
	if local == nil {
		return nil, fmt.Errorf("%w: nil local key pair", ErrInvalidKey)
	}
	if role == Initiator && len(peerPublicKey) != 32 {
		return nil, fmt.Errorf("%w: initiator requires peer public key, got %d bytes", ErrInvalidKey, len(peerPublicKey))
	}

	staticKey := noise.DHKey{
		Private: make([]byte, 32),
		Public:  make([]byte, 32),
	}
	copy(staticKey.Private, local.Private[:])
	copy(staticKey.Public, local.Public[:])

	cipherSuite := noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)
	config := noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     role == Initiator,
		StaticKeypair: staticKey,
	}
	if role == Initiator {
		config.PeerStatic = make([]byte, 32)
		copy(config.PeerStatic, peerPublicKey)
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewSecureChannel",
		"role":     role.String(),
	}).Info("Secure channel created")

	return &SecureChannel{
		role:  role,
		state: state,
	}, nil
}

// WriteHandshake produces the next handshake message to send to the peer.
// The initiator calls this first; the responder calls it after reading the
// initiator's message. Returns the message and whether the handshake is now
// complete on this side.
func (sc *SecureChannel) WriteHandshake() ([]byte, bool, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.complete {
		return nil, true, ErrHandshakeComplete
	}

	message, sendCipher, recvCipher, err := sc.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, false, fmt.Errorf("handshake write failed: %w", err)
	}
	if sendCipher != nil && recvCipher != nil {
		sc.sendCipher = sendCipher
		sc.recvCipher = recvCipher
		sc.complete = true

		logrus.WithFields(logrus.Fields{
			"function": "WriteHandshake",
			"role":     sc.role.String(),
		}).Info("Noise handshake complete")
	}

	return message, sc.complete, nil
}

// ReadHandshake consumes a handshake message from the peer. Returns whether
// the handshake is now complete on this side.
func (sc *SecureChannel) ReadHandshake(message []byte) (bool, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.complete {
		return true, ErrHandshakeComplete
	}

	_, recvCipher, sendCipher, err := sc.state.ReadMessage(nil, message)
	if err != nil {
		return false, fmt.Errorf("handshake read failed: %w", err)
	}
	if sendCipher != nil && recvCipher != nil {
		sc.sendCipher = sendCipher
		sc.recvCipher = recvCipher
		sc.complete = true

		logrus.WithFields(logrus.Fields{
			"function": "ReadHandshake",
			"role":     sc.role.String(),
		}).Info("Noise handshake complete")
	}

	return sc.complete, nil
}

// Complete reports whether transport keys have been established.
func (sc *SecureChannel) Complete() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.complete
}

// Encrypt seals a payload for the peer.
func (sc *SecureChannel) Encrypt(plaintext []byte) ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.complete {
		return nil, ErrHandshakeIncomplete
	}
	return sc.sendCipher.Encrypt(nil, nil, plaintext)
}

// Decrypt opens a payload received from the peer.
func (sc *SecureChannel) Decrypt(ciphertext []byte) ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.complete {
		return nil, ErrHandshakeIncomplete
	}
	plaintext, err := sc.recvCipher.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}

// PeerStaticKey returns the peer's static public key once known.
func (sc *SecureChannel) PeerStaticKey() ([]byte, error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	key := sc.state.PeerStatic()
	if len(key) != 32 {
		return nil, ErrHandshakeIncomplete
	}
	out := make([]byte, 32)
	copy(out, key)
	return out, nil
}
