package call

import "errors"

// Sentinel errors for call operations.
var (
	// ErrCallInProgress indicates the registry slot is already taken.
	ErrCallInProgress = errors.New("call already in progress")

	// ErrNotIncoming indicates an incoming-only operation on an outgoing call.
	ErrNotIncoming = errors.New("not an incoming call")

	// ErrNotRinging indicates Accept outside of the ringing state.
	ErrNotRinging = errors.New("call is not ringing")

	// ErrEmptyAnswer indicates Accept without an SDP answer.
	ErrEmptyAnswer = errors.New("answer is empty")

	// ErrSendFailed indicates a message could not be delivered.
	ErrSendFailed = errors.New("message could not be sent")

	// ErrSessionNotFound indicates no current session has the given id.
	ErrSessionNotFound = errors.New("session not found")
)
