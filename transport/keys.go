package transport

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair holds a Curve25519 key pair used as the static identity for the
// secure channel handshake.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random Curve25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	kp := &KeyPair{}
	copy(kp.Private[:], priv[:])
	copy(kp.Public[:], pub)
	return kp, nil
}

// FromPrivateKey derives the full key pair from an existing 32-byte private
// key.
func FromPrivateKey(privateKey []byte) (*KeyPair, error) {
	if len(privateKey) != 32 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidKey, len(privateKey))
	}

	pub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	kp := &KeyPair{}
	copy(kp.Private[:], privateKey)
	copy(kp.Public[:], pub)
	return kp, nil
}
