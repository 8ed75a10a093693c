package interrupt

import (
	"sync"

	"github.com/opd-ai/peercall/call"
	"github.com/sirupsen/logrus"
)

// Sessions lists the calls a Bridge acts on.
type Sessions interface {
	Active() []*call.Session
}

// Bridge holds and resumes active calls on telephony changes.
type Bridge struct {
	source   Source
	sessions Sessions

	mu     sync.Mutex
	refs   int
	busy   bool
	onHold bool
}

// NewBridge creates a Bridge. It subscribes to source on the first Attach.
func NewBridge(source Source, sessions Sessions) *Bridge {
	return &Bridge{source: source, sessions: sessions}
}

// Attach registers interest of one session. The first attach subscribes.
func (b *Bridge) Attach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refs++
	if b.refs != 1 || b.source == nil {
		return
	}
	if err := b.source.Subscribe(b.handle); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Attach",
			"error":    err.Error(),
		}).Warn("Telephony source unavailable")
	}
}

// Detach drops the interest of one session. The last detach unsubscribes.
func (b *Bridge) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs == 0 {
		return
	}
	b.refs--
	if b.refs == 0 {
		if b.source != nil {
			b.source.Unsubscribe()
		}
		b.onHold = false
		b.busy = false
	}
}

// OnHold reports whether the bridge currently holds the calls.
func (b *Bridge) OnHold() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.onHold
}

// Established holds s if it connected while the telephony is busy.
func (b *Bridge) Established(s *call.Session) {
	b.mu.Lock()
	hold := b.busy && b.refs > 0
	if hold {
		b.onHold = true
	}
	b.mu.Unlock()
	if !hold {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Established",
		"session":  s.ID(),
	}).Info("Call connected during cellular call, holding")
	s.Go(func() { s.Hold() })
}

func (b *Bridge) handle(state TelephonyState) {
	busy := state == Ringing || state == OffHook

	// Only established calls can be held.
	var sessions []*call.Session
	for _, s := range b.sessions.Active() {
		if s.State().IsEstablished() {
			sessions = append(sessions, s)
		}
	}

	b.mu.Lock()
	b.busy = busy
	if len(sessions) == 0 {
		b.onHold = false
		b.mu.Unlock()
		return
	}
	if busy == b.onHold {
		b.mu.Unlock()
		return
	}
	b.onHold = busy
	b.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "handle",
		"telephony": state.String(),
		"sessions":  len(sessions),
		"hold":      busy,
	}).Info("Telephony state changed")

	for _, s := range sessions {
		s := s
		s.Go(func() {
			if busy {
				s.Hold()
			} else {
				s.Resume()
			}
		})
	}
}
