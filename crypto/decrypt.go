package crypto

import (
	"errors"
	"fmt"

	"github.com/opd-ai/peercall/limits"
	"golang.org/x/crypto/nacl/box"
)

// ErrDecryption indicates a sealed message could not be opened.
var ErrDecryption = errors.New("decryption failed")

// Open authenticates and decrypts a message produced by Seal. It returns the
// plaintext together with the sender public key the box was authenticated
// against. Callers must compare the sender key with the peer they expect.
func Open(sealed []byte, own *KeyPair) ([]byte, [32]byte, error) {
	var sender [32]byte

	if own == nil {
		return nil, sender, fmt.Errorf("%w: nil key pair", ErrDecryption)
	}
	if len(sealed) < limits.SealOverhead {
		return nil, sender, fmt.Errorf("%w: sealed message too short (%d bytes)", ErrDecryption, len(sealed))
	}

	copy(sender[:], sealed[:KeySize])
	var nonce [NonceSize]byte
	copy(nonce[:], sealed[KeySize:KeySize+NonceSize])

	plaintext, ok := box.Open(nil, sealed[KeySize+NonceSize:], &nonce, &sender, &own.Private)
	if !ok {
		return nil, [32]byte{}, fmt.Errorf("%w: message authentication failed", ErrDecryption)
	}
	if len(plaintext) == 0 {
		return nil, [32]byte{}, fmt.Errorf("%w: empty plaintext", ErrDecryption)
	}

	return plaintext, sender, nil
}
