package call

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/peercall/channel"
	"github.com/opd-ai/peercall/connector"
	"github.com/opd-ai/peercall/contact"
	"github.com/opd-ai/peercall/crypto"
	"github.com/opd-ai/peercall/message"
	"github.com/sirupsen/logrus"
)

// Direction tells who placed a call.
type Direction uint8

const (
	// Outgoing calls were placed locally
	Outgoing Direction = iota
	// Incoming calls were placed by the peer
	Incoming
)

// String returns "outgoing" or "incoming".
func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// AddressListener is told when a session's peer address becomes known and
// when the session lets go of it.
type AddressListener func(addr net.Addr, connected bool)

// Session is one call with one contact.
type Session struct {
	id        string
	direction Direction
	contact   *contact.Contact
	offer     string
	createdAt time.Time
	settings  Settings

	machine *Machine
	disp    *Dispatcher
	media   Media
	tasks   *TaskGroup

	holdMu      sync.Mutex
	heldLocally bool

	mu        sync.Mutex
	addrFn    AddressListener
	hooks     []func(*Session)
	teardownO sync.Once
	finished  chan struct{}
}

func newSession(dir Direction, keys *crypto.KeyPair, c *contact.Contact, offer string, media Media, pool *Pool, cn Connector, settings Settings) *Session {
	if media == nil {
		media = NopMedia{}
	}
	id := uuid.NewString()
	s := &Session{
		id:        id,
		direction: dir,
		contact:   c,
		offer:     offer,
		createdAt: time.Now(),
		settings:  settings,
		machine:   NewMachine(id),
		media:     media,
		finished:  make(chan struct{}),
	}
	s.disp = NewDispatcher(keys, c, s.machine, media, cn, settings)
	s.tasks = pool.Group(func(any) {
		s.machine.ReportStateChange(StateErrorCommunication)
		s.disp.Close()
	})
	return s
}

// NewOutgoing creates a session for calling c. Start it with RunOutgoing.
func NewOutgoing(keys *crypto.KeyPair, c *contact.Contact, offer string, media Media, pool *Pool, cn Connector, settings Settings) *Session {
	return newSession(Outgoing, keys, c, offer, media, pool, cn, settings)
}

// NewIncoming creates a session for a call request from c that arrived on
// ch. Start it with Ring followed by RunIncoming.
func NewIncoming(keys *crypto.KeyPair, c *contact.Contact, offer string, ch *channel.Channel, media Media, pool *Pool, cn Connector, settings Settings) *Session {
	s := newSession(Incoming, keys, c, offer, media, pool, cn, settings)
	s.disp.Attach(ch)
	return s
}

// ID returns the unique session id.
func (s *Session) ID() string { return s.id }

// Direction returns who placed the call.
func (s *Session) Direction() Direction { return s.direction }

// Contact returns the peer.
func (s *Session) Contact() *contact.Contact { return s.contact }

// Offer returns the caller's SDP offer.
func (s *Session) Offer() string { return s.offer }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.machine.State() }

// Machine returns the session's state machine.
func (s *Session) Machine() *Machine { return s.machine }

// RemoteAddr returns the peer address once a channel is attached.
func (s *Session) RemoteAddr() net.Addr { return s.disp.RemoteAddr() }

// Finished is closed after teardown has completed.
func (s *Session) Finished() <-chan struct{} { return s.finished }

// SetAddressListener installs the address listener.
func (s *Session) SetAddressListener(fn AddressListener) {
	s.mu.Lock()
	s.addrFn = fn
	s.mu.Unlock()
}

// SetClock replaces the clock used by the session's polling loop.
func (s *Session) SetClock(c Clock) {
	s.disp.SetClock(c)
}

// OnTeardown registers fn to run once when the session is torn down.
func (s *Session) OnTeardown(fn func(*Session)) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Go runs fn on the worker pool as a task of this session. Teardown waits
// for such tasks.
func (s *Session) Go(fn func()) {
	s.tasks.Go(fn)
}

func (s *Session) notifyAddress(connected bool) {
	s.mu.Lock()
	fn := s.addrFn
	s.mu.Unlock()
	if fn == nil {
		return
	}
	if addr := s.disp.RemoteAddr(); addr != nil {
		fn(addr, connected)
	}
}

// RunOutgoing connects to the contact, sends the call request and follows
// the call until it ends. It blocks and tears the session down on return.
func (s *Session) RunOutgoing(ctx context.Context) {
	defer s.teardown()
	defer s.recoverPanic("RunOutgoing")

	s.machine.ReportStateChange(StateConnecting)

	conn, err := s.connect(ctx)
	if err != nil {
		s.machine.ReportStateChange(StateFromConnectError(err))
		return
	}
	s.disp.Attach(channel.New(conn, s.disp.keys, s.settings.SocketTimeout))

	if s.State().IsTerminal() {
		return
	}
	s.notifyAddress(true)

	if !s.disp.Call(s.offer) {
		return
	}
	if !s.disp.ReceiveOfferResponse() {
		return
	}
	s.disp.ConfirmConnected()
}

func (s *Session) connect(ctx context.Context) (net.Conn, error) {
	if s.disp.connector == nil {
		return nil, &connector.ConnectError{Contact: s.contact.String(), Reason: connector.ReasonNoNetwork}
	}
	onPass := func(int) {
		s.machine.ReportStateChange(StateReConnecting)
		s.machine.ReportStateChange(StateConnecting)
	}
	if observed, ok := s.disp.connector.(interface {
		ConnectObserved(context.Context, *contact.Contact, time.Duration, int, connector.PassFunc) (net.Conn, error)
	}); ok {
		return observed.ConnectObserved(ctx, s.contact, s.settings.ConnectTimeout, s.settings.ConnectRetries, onPass)
	}
	return s.disp.connector.Connect(ctx, s.contact, s.settings.ConnectTimeout, s.settings.ConnectRetries)
}

// Ring answers the call request with "ringing" and moves to RINGING.
func (s *Session) Ring() bool {
	if err := s.disp.write(message.New(message.ActionRinging)); err != nil {
		s.disp.fail(StateErrorCommunication, "ringing not sent")
		return false
	}
	s.notifyAddress(true)
	return s.machine.ReportStateChange(StateRinging)
}

// RunIncoming follows an incoming call until it ends. It blocks and tears
// the session down on return.
func (s *Session) RunIncoming() {
	defer s.teardown()
	defer s.recoverPanic("RunIncoming")

	if s.State().IsTerminal() {
		return
	}
	s.disp.ReceiveIncoming()
}

// Accept answers a ringing incoming call with an SDP answer.
func (s *Session) Accept(answer string) error {
	if s.direction != Incoming {
		return ErrNotIncoming
	}
	if answer == "" {
		return ErrEmptyAnswer
	}
	if s.State() != StateRinging {
		return ErrNotRinging
	}
	if !s.disp.AnswerCall(answer) {
		return ErrSendFailed
	}
	return nil
}

// Decline rejects a ringing incoming call.
func (s *Session) Decline() error {
	if s.direction != Incoming {
		return ErrNotIncoming
	}
	if !s.State().NotYetEstablished() {
		return ErrNotRinging
	}
	s.disp.Hangup()
	return nil
}

// Hangup ends the call from the local side.
func (s *Session) Hangup() {
	s.disp.Hangup()
}

// Hold puts an established call on hold and tells the peer. It reports
// whether the peer was told. A call the peer already holds is left alone.
func (s *Session) Hold() bool {
	return s.localHold(true)
}

// Resume takes a call this side put on hold off hold and tells the peer.
func (s *Session) Resume() bool {
	return s.localHold(false)
}

// HeldLocally reports whether this side currently holds the call.
func (s *Session) HeldLocally() bool {
	s.holdMu.Lock()
	defer s.holdMu.Unlock()
	return s.heldLocally
}

func (s *Session) localHold(hold bool) bool {
	s.holdMu.Lock()
	defer s.holdMu.Unlock()

	if hold == s.heldLocally {
		return false
	}
	target, action := StateResume, message.ActionResume
	if hold {
		target, action = StateOnHold, message.ActionOnHold
	}
	if !s.machine.Allows(target) {
		// Peer already resumed, or the call ended.
		if !hold {
			s.heldLocally = false
		}
		logrus.WithFields(logrus.Fields{
			"function": "localHold",
			"session":  s.id,
			"state":    s.State().String(),
			"hold":     hold,
		}).Debug("Hold change not applicable")
		return false
	}

	sent := s.disp.SendMessage(message.New(action))
	s.disp.ApplyHold(hold)
	s.heldLocally = hold
	return sent
}

// RemoteHold applies a hold or resume request that arrived out of band.
func (s *Session) RemoteHold(hold bool) bool {
	return s.disp.ApplyHold(hold)
}

func (s *Session) recoverPanic(function string) {
	if rec := recover(); rec != nil {
		logrus.WithFields(logrus.Fields{
			"function": function,
			"session":  s.id,
			"panic":    rec,
		}).Error("Session goroutine panicked")
		s.machine.ReportStateChange(StateErrorCommunication)
	}
}

// teardown releases the session once. It closes the channels, stops media,
// waits a bounded time for session tasks and runs the teardown hooks.
func (s *Session) teardown() {
	s.teardownO.Do(func() {
		s.machine.SocketClosed()
		s.disp.Close()
		s.media.Cleanup()

		if !s.tasks.Wait(s.settings.TeardownWait) {
			logrus.WithFields(logrus.Fields{
				"function": "teardown",
				"session":  s.id,
				"wait":     s.settings.TeardownWait.String(),
			}).Warn("Session tasks still running after teardown wait")
		}

		s.notifyAddress(false)

		s.mu.Lock()
		hooks := append([]func(*Session){}, s.hooks...)
		s.mu.Unlock()
		for _, fn := range hooks {
			fn(s)
		}

		logrus.WithFields(logrus.Fields{
			"function":  "teardown",
			"session":   s.id,
			"contact":   s.contact.String(),
			"direction": s.direction.String(),
			"state":     s.State().String(),
			"duration":  time.Since(s.createdAt).String(),
		}).Info("Session torn down")
		close(s.finished)
	})
}
