package call

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/peercall/channel"
	"github.com/opd-ai/peercall/contact"
	"github.com/opd-ai/peercall/crypto"
	"github.com/opd-ai/peercall/message"
	"github.com/sirupsen/logrus"
)

// Connector opens connections to contacts.
type Connector interface {
	Connect(ctx context.Context, c *contact.Contact, timeout time.Duration, maxRetryPasses int) (net.Conn, error)
}

type readResult uint8

const (
	readMessage readResult = iota
	readIdle
	readClosed
	readFailed
)

// Dispatcher drives the signaling exchange of one session over its channel.
//
// Exactly one goroutine reads. Writes from any goroutine are serialized by
// the dispatcher's lock.
type Dispatcher struct {
	mu     sync.Mutex
	ch     *channel.Channel
	closed bool

	reader    *channel.Channel
	keys      *crypto.KeyPair
	contact   *contact.Contact
	machine   *Machine
	media     Media
	connector Connector
	settings  Settings
	clock     Clock
}

// NewDispatcher creates a dispatcher for the call with c. The channel is
// attached later with Attach.
func NewDispatcher(keys *crypto.KeyPair, c *contact.Contact, m *Machine, media Media, cn Connector, settings Settings) *Dispatcher {
	if media == nil {
		media = NopMedia{}
	}
	return &Dispatcher{
		keys:      keys,
		contact:   c,
		machine:   m,
		media:     media,
		connector: cn,
		settings:  settings,
		clock:     SystemClock{},
	}
}

// SetClock replaces the clock used for polling and the ring timeout.
func (d *Dispatcher) SetClock(c Clock) {
	if c == nil {
		c = SystemClock{}
	}
	d.clock = c
}

// Attach makes ch the channel the dispatcher reads from and writes to. A
// channel attached after Close is closed right away.
func (d *Dispatcher) Attach(ch *channel.Channel) {
	d.mu.Lock()
	d.ch = ch
	d.reader = ch
	closed := d.closed
	d.mu.Unlock()
	if closed {
		ch.Close()
	}
}

// RemoteAddr returns the peer address of the attached channel.
func (d *Dispatcher) RemoteAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reader == nil {
		return nil
	}
	return d.reader.RemoteAddr()
}

// Close closes every channel the dispatcher holds. Later sends fail.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.ch != nil {
		d.ch.Close()
	}
	if d.reader != nil && d.reader != d.ch {
		d.reader.Close()
	}
}

// write encodes env and writes it on the held channel.
func (d *Dispatcher) write(env *message.Envelope) error {
	data, err := message.Encode(env)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ch == nil {
		return channel.ErrClosed
	}
	return d.ch.WriteMessage(data, d.contact.PublicKey())
}

// fail moves the session to state and closes the channel.
func (d *Dispatcher) fail(state State, reason string) {
	logrus.WithFields(logrus.Fields{
		"function": "fail",
		"contact":  d.contact.String(),
		"state":    state.String(),
		"reason":   reason,
	}).Warn("Call failed")
	d.machine.ReportStateChange(state)
	d.Close()
}

// read returns the next message. Authentication and decryption failures move
// the session to the matching error state before readFailed is returned.
func (d *Dispatcher) read() (*message.Envelope, readResult) {
	in, err := d.reader.ReadMessage()
	if err != nil {
		if errors.Is(err, crypto.ErrDecryption) {
			d.fail(StateErrorDecryption, err.Error())
		} else {
			d.fail(StateErrorCommunication, err.Error())
		}
		return nil, readFailed
	}
	if in == nil {
		if d.reader.IsClosed() {
			return nil, readClosed
		}
		return nil, readIdle
	}

	if in.Sender != d.contact.PublicKey() {
		logrus.WithFields(logrus.Fields{
			"function": "read",
			"contact":  d.contact.String(),
			"expected": crypto.ShortKey(d.contact.PublicKey()),
			"sender":   crypto.ShortKey(in.Sender),
		}).Warn("Message signed by unexpected key")
		d.fail(StateErrorAuthentication, "sender key mismatch")
		return nil, readFailed
	}

	env, err := message.Decode(in.Payload)
	if err != nil {
		d.fail(StateErrorCommunication, err.Error())
		return nil, readFailed
	}
	return env, readMessage
}

// Call sends the call request carrying offer.
func (d *Dispatcher) Call(offer string) bool {
	if err := d.write(message.NewCall(offer)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Call",
			"contact":  d.contact.String(),
			"error":    err.Error(),
		}).Warn("Failed to send call request")
		d.fail(StateErrorCommunication, "call request not sent")
		return false
	}
	return true
}

// ReceiveOfferResponse reads exactly one reply to the call request. It
// returns true when the callee is ringing.
func (d *Dispatcher) ReceiveOfferResponse() bool {
	env, res := d.read()
	switch res {
	case readFailed:
		return false
	case readIdle, readClosed:
		d.fail(StateErrorCommunication, "no reply to call request")
		return false
	}

	switch env.Action {
	case message.ActionRinging:
		d.machine.ReportStateChange(StateRinging)
		return true
	case message.ActionBusy:
		d.machine.ReportStateChange(StateBusy)
	case message.ActionDismissed:
		d.machine.ReportStateChange(StateDismissed)
	default:
		d.fail(StateErrorCommunication, "unexpected reply "+env.Action)
		return false
	}
	d.Close()
	return false
}

// ConfirmConnected waits for the callee to accept and then follows the call
// until it ends.
func (d *Dispatcher) ConfirmConnected() {
	d.loop(d.handleOutgoing)
}

// ReceiveIncoming follows an incoming call until it ends.
func (d *Dispatcher) ReceiveIncoming() {
	d.loop(d.handleIncoming)
}

// loop reads until the channel closes or handle reports the session is over.
// While the call is not established, RingTimeout caps the time without any
// message.
func (d *Dispatcher) loop(handle func(*message.Envelope) bool) {
	lastMessage := d.clock.Now()
	for {
		if d.machine.State().IsTerminal() {
			d.Close()
			return
		}

		env, res := d.read()
		switch res {
		case readFailed:
			return
		case readClosed:
			d.machine.SocketClosed()
			return
		case readIdle:
			if d.settings.RingTimeout > 0 && d.machine.State().NotYetEstablished() &&
				d.clock.Since(lastMessage) > d.settings.RingTimeout {
				d.fail(StateErrorCommunication, "ring timeout")
				return
			}
			d.clock.Sleep(d.settings.PollInterval)
			continue
		}

		lastMessage = d.clock.Now()
		if !handle(env) {
			d.Close()
			return
		}
	}
}

func (d *Dispatcher) handleOutgoing(env *message.Envelope) bool {
	switch env.Action {
	case message.ActionConnected:
		if d.machine.State().IsEstablished() {
			return true
		}
		if env.Answer == "" {
			d.fail(StateErrorCommunication, "connected without answer")
			return false
		}
		if d.settings.StrictSDP {
			if err := message.ValidateSDP(env.Answer); err != nil {
				d.fail(StateErrorCommunication, err.Error())
				return false
			}
		}
		if err := d.media.SetRemoteAnswer(env.Answer); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "handleOutgoing",
				"contact":  d.contact.String(),
				"error":    err.Error(),
			}).Error("Media engine rejected answer")
			d.fail(StateErrorCommunication, "answer rejected")
			return false
		}
		d.contact.SetStatus(contact.StatusOnline)
		d.machine.ReportStateChange(StateConnected)
		return true
	}
	return d.handleCommon(env)
}

func (d *Dispatcher) handleIncoming(env *message.Envelope) bool {
	return d.handleCommon(env)
}

// handleCommon handles the actions both directions accept once the call is
// set up. It returns false when the session is over.
func (d *Dispatcher) handleCommon(env *message.Envelope) bool {
	switch env.Action {
	case message.ActionDismissed:
		d.machine.ReportStateChange(StateDismissed)
		return false
	case message.ActionBusy:
		d.machine.ReportStateChange(StateBusy)
		return false
	case message.ActionOnHold:
		d.ApplyHold(true)
	case message.ActionResume:
		d.ApplyHold(false)
	default:
		entry := logrus.WithFields(logrus.Fields{
			"function": "handleCommon",
			"contact":  d.contact.String(),
			"action":   env.Action,
		})
		if env.Known() {
			entry.Debug("Ignoring message")
		} else {
			entry.Warn("Ignoring unknown action")
		}
	}
	return true
}

// ApplyHold moves the session into or out of hold and pauses or resumes
// media. It reports whether the state changed.
func (d *Dispatcher) ApplyHold(hold bool) bool {
	if hold {
		if !d.machine.ReportStateChange(StateOnHold) {
			return false
		}
		d.media.Pause()
		return true
	}
	if !d.machine.ReportStateChange(StateResume) {
		return false
	}
	d.media.Resume()
	return true
}

// AnswerCall accepts an incoming call with answer.
func (d *Dispatcher) AnswerCall(answer string) bool {
	if err := d.write(message.NewConnected(answer)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "AnswerCall",
			"contact":  d.contact.String(),
			"error":    err.Error(),
		}).Warn("Failed to send answer")
		d.fail(StateErrorCommunication, "answer not sent")
		return false
	}
	d.contact.SetStatus(contact.StatusOnline)
	return d.machine.ReportStateChange(StateConnected)
}

// SendMessage delivers env outside the main exchange, reconnecting when the
// held channel has closed. It makes at most MaxSendAttempts attempts and
// adopts a reconnected channel for later writes. Reconnecting does not hold
// the dispatcher lock.
func (d *Dispatcher) SendMessage(env *message.Envelope) bool {
	data, err := message.Encode(env)
	if err != nil {
		return false
	}

	attempts := d.settings.MaxSendAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		d.mu.Lock()
		ch, closed := d.ch, d.closed
		d.mu.Unlock()
		if closed {
			break
		}

		if ch == nil || ch.IsClosed() {
			if ch = d.reconnect(); ch == nil {
				continue
			}
		}

		d.mu.Lock()
		err := ch.WriteMessage(data, d.contact.PublicKey())
		d.mu.Unlock()
		if err == nil {
			return true
		}
		logrus.WithFields(logrus.Fields{
			"function": "SendMessage",
			"contact":  d.contact.String(),
			"action":   env.Action,
			"attempt":  attempt,
			"error":    err.Error(),
		}).Debug("Send attempt failed")
	}

	logrus.WithFields(logrus.Fields{
		"function": "SendMessage",
		"contact":  d.contact.String(),
		"action":   env.Action,
		"attempts": attempts,
	}).Warn("Giving up on message")
	return false
}

// reconnect dials the contact and adopts the new connection as the write
// channel. It returns nil when dialing fails or the dispatcher was closed
// meanwhile.
func (d *Dispatcher) reconnect() *channel.Channel {
	if d.connector == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.connectBudget())
	defer cancel()

	conn, err := d.connector.Connect(ctx, d.contact, d.settings.ConnectTimeout, d.settings.ConnectRetries)
	if err != nil {
		return nil
	}
	fresh := channel.New(conn, d.keys, d.settings.SocketTimeout)

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.closed:
		fresh.Close()
		return nil
	case d.ch != nil && !d.ch.IsClosed():
		// another sender reconnected first
		fresh.Close()
		return d.ch
	}
	if d.ch != nil && d.ch != d.reader {
		d.ch.Close()
	}
	d.ch = fresh
	return fresh
}

// connectBudget is an upper bound for one reconnect.
func (d *Dispatcher) connectBudget() time.Duration {
	timeout := d.settings.ConnectTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	passes := d.settings.ConnectRetries + 1
	budget := timeout * time.Duration(passes) * 8
	if budget < 5*time.Second {
		budget = 5 * time.Second
	}
	return budget
}

// Hangup ends the call: it tells the peer and moves to ENDED, or DISMISSED
// when the call never got established.
func (d *Dispatcher) Hangup() {
	if d.machine.State().IsTerminal() {
		d.Close()
		return
	}
	d.mu.Lock()
	attached := d.reader != nil
	d.mu.Unlock()
	if attached && !d.SendMessage(message.New(message.ActionDismissed)) {
		logrus.WithFields(logrus.Fields{
			"function": "Hangup",
			"contact":  d.contact.String(),
		}).Debug("Peer not told about hangup")
	}
	if d.machine.State().IsEstablished() {
		d.machine.ReportStateChange(StateEnded)
	} else {
		d.machine.ReportStateChange(StateDismissed)
	}
	d.Close()
}
