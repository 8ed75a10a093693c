package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the size in bytes of public and secret keys.
const KeySize = 32

// ErrInvalidKey indicates a key that cannot be used for sealing.
var ErrInvalidKey = errors.New("invalid key")

// KeyPair represents a NaCl crypto_box key pair identifying the local peer.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random NaCl key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		Public:  *publicKey,
		Private: *privateKey,
	}, nil
}

// FromSecretKey creates a key pair from an existing secret key, deriving the
// public key with Curve25519 base point multiplication.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, fmt.Errorf("%w: secret key is all zeros", ErrInvalidKey)
	}

	publicKey, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], publicKey)
	return kp, nil
}

// ParsePublicKey decodes a hex encoded public key.
func ParsePublicKey(s string) ([32]byte, error) {
	var key [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, KeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// ParseSecretKey decodes a hex encoded secret key and derives its key pair.
func ParseSecretKey(s string) (*KeyPair, error) {
	secret, err := ParsePublicKey(s)
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(secret[:])
	return FromSecretKey(secret)
}

// ShortKey returns the first 8 bytes of a key for log fields.
func ShortKey(key [32]byte) string {
	return hex.EncodeToString(key[:8])
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
