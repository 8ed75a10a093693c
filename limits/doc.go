// Package limits provides the size limits shared by the signaling codec, the
// sealing layer and the framed channel.
//
// # Size Hierarchy
//
//   - MaxPlaintext (64 KiB): the largest JSON envelope accepted. SDP offers and
//     answers with many candidates and codecs stay well below it.
//
//   - SealOverhead (72 bytes): sender public key (32) + nonce (24) + Poly1305
//     tag (16) added by crypto.Seal.
//
//   - MaxFrame: MaxPlaintext + SealOverhead, the largest length prefix a reader
//     accepts before treating the stream as corrupt.
//
// Validation functions return ErrMessageEmpty or a wrapped ErrMessageTooLarge:
//
//	if err := limits.ValidatePlaintext(payload); err != nil {
//	    return err
//	}
package limits
