package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPlaintext is the largest plaintext signaling envelope.
	MaxPlaintext = 64 * 1024

	// EncryptionOverhead is the Poly1305 tag added by box.Seal.
	EncryptionOverhead = 16 // golang.org/x/crypto/nacl/box.Overhead

	// SealOverhead is everything crypto.Seal adds around the plaintext:
	// the sender public key, the nonce and the box tag.
	SealOverhead = 32 + 24 + EncryptionOverhead

	// MaxFrame is the largest frame body a channel reader will accept.
	MaxFrame = MaxPlaintext + SealOverhead

	// FrameHeaderSize is the size of the big endian length prefix.
	FrameHeaderSize = 4
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidatePlaintext validates an envelope before it is sealed.
func ValidatePlaintext(message []byte) error {
	return ValidateMessageSize(message, MaxPlaintext)
}

// ValidateFrameLength checks a length prefix read from the wire.
func ValidateFrameLength(length uint32) error {
	if length == 0 {
		return ErrMessageEmpty
	}
	if length > MaxFrame {
		return fmt.Errorf("%w: frame length %d exceeds limit %d", ErrMessageTooLarge, length, MaxFrame)
	}
	if length < SealOverhead {
		return fmt.Errorf("frame length %d below seal overhead %d", length, SealOverhead)
	}
	return nil
}
