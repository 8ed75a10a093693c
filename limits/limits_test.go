package limits

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/nacl/box"
)

func TestEncryptionOverheadMatchesNaCl(t *testing.T) {
	assert.Equal(t, box.Overhead, EncryptionOverhead)
	assert.Equal(t, MaxPlaintext+SealOverhead, MaxFrame)
}

func TestValidatePlaintext(t *testing.T) {
	assert.ErrorIs(t, ValidatePlaintext(nil), ErrMessageEmpty)
	assert.NoError(t, ValidatePlaintext([]byte(`{"action":"ping"}`)))
	assert.NoError(t, ValidatePlaintext(make([]byte, MaxPlaintext)))

	err := ValidatePlaintext(make([]byte, MaxPlaintext+1))
	assert.True(t, errors.Is(err, ErrMessageTooLarge))
	assert.Contains(t, err.Error(), "exceeds limit")
}

func TestValidateFrameLength(t *testing.T) {
	tests := []struct {
		name    string
		length  uint32
		wantErr bool
	}{
		{"zero", 0, true},
		{"below overhead", SealOverhead - 1, true},
		{"minimum", SealOverhead + 1, false},
		{"maximum", MaxFrame, false},
		{"oversized", MaxFrame + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFrameLength(tt.length)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
