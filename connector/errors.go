package connector

import (
	"errors"
	"fmt"
)

// Reason classifies why no connection could be opened.
type Reason uint8

const (
	// ReasonNoNetwork means candidates existed but no attempt produced a
	// classifiable failure.
	ReasonNoNetwork Reason = iota
	// ReasonNoAddresses means the contact expanded to no candidates.
	ReasonNoAddresses
	// ReasonTimeout means attempts timed out.
	ReasonTimeout
	// ReasonOther means attempts failed with an unclassified error.
	ReasonOther
	// ReasonUnknownHost means a host name could not be resolved.
	ReasonUnknownHost
	// ReasonRefused means a peer actively refused the connection.
	ReasonRefused
)

// Sentinel errors matching each Reason, usable with errors.Is.
var (
	ErrNoNetwork   = errors.New("no network path to contact")
	ErrNoAddresses = errors.New("contact has no addresses")
	ErrTimeout     = errors.New("connection attempts timed out")
	ErrConnect     = errors.New("connection attempts failed")
	ErrUnknownHost = errors.New("contact host could not be resolved")
	ErrRefused     = errors.New("connection refused")
)

// Err returns the sentinel error for the reason.
func (r Reason) Err() error {
	switch r {
	case ReasonNoAddresses:
		return ErrNoAddresses
	case ReasonTimeout:
		return ErrTimeout
	case ReasonOther:
		return ErrConnect
	case ReasonUnknownHost:
		return ErrUnknownHost
	case ReasonRefused:
		return ErrRefused
	default:
		return ErrNoNetwork
	}
}

// String returns a short reason name for logs.
func (r Reason) String() string {
	switch r {
	case ReasonNoAddresses:
		return "no_addresses"
	case ReasonTimeout:
		return "timeout"
	case ReasonOther:
		return "other"
	case ReasonUnknownHost:
		return "unknown_host"
	case ReasonRefused:
		return "refused"
	default:
		return "no_network"
	}
}

// ConnectError reports a failed Connect with its classification.
type ConnectError struct {
	Contact  string // contact display string
	Reason   Reason // classification
	Attempts int    // dial attempts made
	Err      error  // last dial error, if any
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect %s: %v after %d attempts: %v", e.Contact, e.Reason.Err(), e.Attempts, e.Err)
	}
	return fmt.Sprintf("connect %s: %v", e.Contact, e.Reason.Err())
}

// Unwrap returns the last dial error.
func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the reason.
func (e *ConnectError) Is(target error) bool {
	return target == e.Reason.Err()
}
