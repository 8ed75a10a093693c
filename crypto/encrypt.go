package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/opd-ai/peercall/limits"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/box"
)

// NonceSize is the size of the random nonce carried in every sealed message.
const NonceSize = 24

// Nonce is a 24-byte value used for encryption.
type Nonce [NonceSize]byte

// ErrEncryption indicates a message could not be sealed.
var ErrEncryption = errors.New("encryption failed")

// GenerateNonce creates a cryptographically secure random nonce.
func GenerateNonce() (Nonce, error) {
	var nonce Nonce
	if _, err := rand.Read(nonce[:]); err != nil {
		return Nonce{}, err
	}
	return nonce, nil
}

// Seal encrypts and authenticates plaintext for recipientPK using the local
// key pair.
//
// Sealed layout:
//
//	[SENDER_PK(32)][NONCE(24)][BOX(len(plaintext)+16)]
func Seal(plaintext []byte, recipientPK [32]byte, own *KeyPair) ([]byte, error) {
	if own == nil {
		return nil, fmt.Errorf("%w: nil key pair", ErrEncryption)
	}
	if err := limits.ValidatePlaintext(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
	}
	if isZeroKey(recipientPK) {
		return nil, fmt.Errorf("%w: %w: zero recipient key", ErrEncryption, ErrInvalidKey)
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrEncryption, err)
	}

	out := make([]byte, 0, limits.SealOverhead+len(plaintext))
	out = append(out, own.Public[:]...)
	out = append(out, nonce[:]...)
	out = box.Seal(out, plaintext, (*[24]byte)(&nonce), &recipientPK, &own.Private)

	logrus.WithFields(logrus.Fields{
		"function":   "Seal",
		"recipient":  ShortKey(recipientPK),
		"plain_size": len(plaintext),
		"sealed_len": len(out),
	}).Debug("Sealed message")

	return out, nil
}
