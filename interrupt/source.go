package interrupt

import (
	"errors"
	"strings"
	"sync"
)

// TelephonyState is the state of the device's telephony.
type TelephonyState uint8

const (
	// Idle means no cellular call
	Idle TelephonyState = iota
	// Ringing means a cellular call is alerting
	Ringing
	// OffHook means a cellular call is active
	OffHook
)

// String returns the state name.
func (s TelephonyState) String() string {
	switch s {
	case Ringing:
		return "ringing"
	case OffHook:
		return "offhook"
	default:
		return "idle"
	}
}

// ErrUnknownState indicates an unparseable telephony state.
var ErrUnknownState = errors.New("unknown telephony state")

// ParseState parses "idle", "ringing" or "offhook".
func ParseState(s string) (TelephonyState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return Idle, nil
	case "ringing":
		return Ringing, nil
	case "offhook", "off_hook":
		return OffHook, nil
	}
	return Idle, ErrUnknownState
}

// Handler receives telephony state changes.
type Handler func(TelephonyState)

// Source delivers telephony state changes to one subscriber.
type Source interface {
	Subscribe(Handler) error
	Unsubscribe()
}

// ManualSource is a Source driven by explicit Trigger calls.
type ManualSource struct {
	mu      sync.Mutex
	handler Handler
}

// NewManualSource creates an unsubscribed ManualSource.
func NewManualSource() *ManualSource {
	return &ManualSource{}
}

// Subscribe installs h, replacing any previous handler.
func (m *ManualSource) Subscribe(h Handler) error {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
	return nil
}

// Unsubscribe removes the handler.
func (m *ManualSource) Unsubscribe() {
	m.mu.Lock()
	m.handler = nil
	m.mu.Unlock()
}

// Subscribed reports whether a handler is installed.
func (m *ManualSource) Subscribed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}

// Trigger delivers state to the handler, if any, and reports whether it was
// delivered.
func (m *ManualSource) Trigger(state TelephonyState) bool {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(state)
	return true
}
