package peercall

import "errors"

// Sentinel errors returned by Service.
var (
	// ErrNoKeys indicates New was called without a key pair.
	ErrNoKeys = errors.New("key pair is required")

	// ErrClosed indicates the service has been closed.
	ErrClosed = errors.New("service closed")

	// ErrAlreadyListening indicates Listen was called twice.
	ErrAlreadyListening = errors.New("already listening")

	// ErrEmptyOffer indicates Call without an SDP offer.
	ErrEmptyOffer = errors.New("offer is empty")

	// ErrNoReply indicates the peer did not answer a request in time.
	ErrNoReply = errors.New("no reply from peer")

	// ErrUnexpectedReply indicates the peer answered with the wrong action.
	ErrUnexpectedReply = errors.New("unexpected reply")

	// ErrIdentityMismatch indicates a reply signed by a different key.
	ErrIdentityMismatch = errors.New("reply from unexpected key")
)
