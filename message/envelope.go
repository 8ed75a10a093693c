package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Action names carried in the "action" key.
const (
	ActionCall         = "call"
	ActionRinging      = "ringing"
	ActionConnected    = "connected"
	ActionDismissed    = "dismissed"
	ActionBusy         = "busy"
	ActionPing         = "ping"
	ActionPong         = "pong"
	ActionStatusChange = "status_change"
	ActionOnHold       = "on_hold"
	ActionResume       = "resume"
)

// Status values carried by status_change.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

var (
	// ErrMissingAction indicates an envelope without an action.
	ErrMissingAction = errors.New("envelope has no action")

	// ErrMalformed indicates bytes that are not a JSON envelope.
	ErrMalformed = errors.New("malformed envelope")
)

// Envelope is one signaling message.
type Envelope struct {
	Action string `json:"action"`
	Offer  string `json:"offer,omitempty"`
	Answer string `json:"answer,omitempty"`
	Status string `json:"status,omitempty"`
}

// NewCall builds the call request carrying the caller's SDP offer.
func NewCall(offer string) *Envelope {
	return &Envelope{Action: ActionCall, Offer: offer}
}

// NewConnected builds the acceptance reply carrying the callee's SDP answer.
func NewConnected(answer string) *Envelope {
	return &Envelope{Action: ActionConnected, Answer: answer}
}

// NewStatusChange builds a presence notification.
func NewStatusChange(status string) *Envelope {
	return &Envelope{Action: ActionStatusChange, Status: status}
}

// New builds an envelope that carries only an action.
func New(action string) *Envelope {
	return &Envelope{Action: action}
}

// Known reports whether the action is one this package defines.
func (e *Envelope) Known() bool {
	switch e.Action {
	case ActionCall, ActionRinging, ActionConnected, ActionDismissed, ActionBusy,
		ActionPing, ActionPong, ActionStatusChange, ActionOnHold, ActionResume:
		return true
	}
	return false
}

// Encode serializes the envelope to JSON.
func Encode(env *Envelope) ([]byte, error) {
	if env == nil || strings.TrimSpace(env.Action) == "" {
		return nil, ErrMissingAction
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Action, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Encode",
		"action":   env.Action,
		"size":     len(data),
	}).Debug("Encoded envelope")

	return data, nil
}

// Decode parses a JSON envelope. The action key is required.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	env.Action = strings.TrimSpace(env.Action)
	if env.Action == "" {
		return nil, ErrMissingAction
	}
	return &env, nil
}
