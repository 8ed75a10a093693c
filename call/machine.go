package call

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Listener receives every accepted state change of one session.
//
// It runs on the goroutine that reported the change and must not block.
type Listener func(State)

// Machine holds the lifecycle state of one session and enforces the
// transition rules. All state changes of a session go through it.
type Machine struct {
	mu       sync.RWMutex
	state    State
	listener Listener
	done     chan struct{}
	name     string
}

// NewMachine creates a machine in StateWaiting. name is only used in logs.
func NewMachine(name string) *Machine {
	return &Machine{
		state: StateWaiting,
		done:  make(chan struct{}),
		name:  name,
	}
}

// SetListener installs the single listener, replacing any previous one.
func (m *Machine) SetListener(l Listener) {
	m.mu.Lock()
	m.listener = l
	m.mu.Unlock()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Done is closed when the machine reaches a terminal state.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// ReportStateChange applies next if the transition is allowed and notifies
// the listener. It returns false when the change was rejected.
func (m *Machine) ReportStateChange(next State) bool {
	m.mu.Lock()
	cur := m.state
	if !canTransition(cur, next) {
		m.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "ReportStateChange",
			"session":  m.name,
			"from":     cur.String(),
			"to":       next.String(),
		}).Debug("Ignoring state change")
		return false
	}
	m.state = next
	listener := m.listener
	if next.IsTerminal() {
		close(m.done)
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "ReportStateChange",
		"session":  m.name,
		"from":     cur.String(),
		"to":       next.String(),
	}).Info("Call state changed")

	if listener != nil {
		listener(next)
	}
	return true
}

// Allows reports whether a change to next would be accepted now.
func (m *Machine) Allows(next State) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return canTransition(m.state, next)
}

// SocketClosed forces a session whose channel closed before it reached a
// terminal state into StateErrorCommunication.
func (m *Machine) SocketClosed() {
	if m.State().IsTerminal() {
		return
	}
	m.ReportStateChange(StateErrorCommunication)
}

// canTransition implements the monotonic transition rule: terminal states
// are final, hold and resume toggle only while established and everything
// else only moves forward.
func canTransition(cur, next State) bool {
	if cur.IsTerminal() || cur == next {
		return false
	}
	if next.IsTerminal() {
		return true
	}
	switch next {
	case StateOnHold:
		return cur == StateConnected || cur == StateResume
	case StateResume:
		return cur == StateOnHold
	case StateConnected:
		return cur.NotYetEstablished()
	case StateReConnecting:
		return cur == StateWaiting || cur == StateConnecting
	case StateConnecting:
		return cur == StateWaiting || cur == StateReConnecting
	}
	return next.rank() > cur.rank()
}
