package inbound

import (
	"net"

	"github.com/opd-ai/peercall/call"
	"github.com/opd-ai/peercall/channel"
	"github.com/opd-ai/peercall/contact"
	"github.com/opd-ai/peercall/crypto"
	"github.com/opd-ai/peercall/message"
	"github.com/sirupsen/logrus"
)

// Config wires a Router to its collaborators.
type Config struct {
	Keys      *crypto.KeyPair
	Book      contact.Book
	Registry  *call.Registry
	Pool      *call.Pool
	Connector call.Connector
	Settings  call.Settings

	// BlockUnknown dismisses requests from keys not in the book.
	BlockUnknown bool
	// AutoAccept answers incoming calls with Media.CreateAnswer.
	AutoAccept bool

	// NewMedia returns the media hook for a new incoming session.
	NewMedia func(*contact.Contact) call.Media
	// Prepare runs on a new incoming session before it starts ringing.
	Prepare func(*call.Session)
	// OnIncomingCall is told about a ringing incoming session.
	OnIncomingCall func(*call.Session)
}

// Router dispatches inbound connections.
type Router struct {
	cfg Config
}

// New creates a Router.
func New(cfg Config) *Router {
	if cfg.Pool == nil {
		cfg.Pool = call.NewPool(call.DefaultPoolSize)
	}
	if cfg.Registry == nil {
		cfg.Registry = call.NewRegistry()
	}
	return &Router{cfg: cfg}
}

// Handle serves one accepted connection. It blocks until the request is
// done, which for an accepted call is when the call ends.
func (r *Router) Handle(conn net.Conn) {
	ch := channel.New(conn, r.cfg.Keys, r.cfg.Settings.SocketTimeout)
	remote := conn.RemoteAddr()

	in, err := ch.ReadMessage()
	if err != nil || in == nil {
		fields := logrus.Fields{
			"function": "Handle",
			"remote":   addrString(remote),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		logrus.WithFields(fields).Debug("No readable request, closing connection")
		ch.Close()
		return
	}

	sender := in.Sender
	known, found := r.lookup(sender)
	switch {
	case !found && r.cfg.BlockUnknown:
		r.reject(ch, sender, "unknown contact blocked")
		return
	case found && known.Blocked():
		r.reject(ch, sender, "contact blocked")
		return
	}

	c := known
	if !found {
		c = contact.NewUnknown(sender, remote)
	}
	// MemoryBook is keyed by public key, but a Book may resolve a sender
	// more loosely. The contact's stored key is the identity that counts.
	if c.PublicKey() != sender {
		r.reject(ch, sender, "sender key mismatch")
		return
	}

	env, err := message.Decode(in.Payload)
	if err != nil {
		r.reject(ch, sender, err.Error())
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Handle",
		"contact":  c.String(),
		"action":   env.Action,
		"remote":   addrString(remote),
	}).Debug("Inbound request")

	switch env.Action {
	case message.ActionCall:
		r.handleCall(ch, c, env)
	case message.ActionPing:
		if err := r.reply(ch, sender, message.New(message.ActionPong)); err == nil {
			c.SetStatus(contact.StatusOnline)
		}
		ch.Close()
	case message.ActionStatusChange:
		c.SetStatus(contact.ParseStatus(env.Status))
		ch.Close()
	case message.ActionOnHold, message.ActionResume:
		r.handleHold(ch, c, env.Action == message.ActionOnHold)
	default:
		entry := logrus.WithFields(logrus.Fields{
			"function": "Handle",
			"contact":  c.String(),
			"action":   env.Action,
		})
		if env.Known() {
			entry.Debug("Ignoring inbound request")
		} else {
			entry.Warn("Ignoring unknown inbound action")
		}
		ch.Close()
	}
}

func (r *Router) lookup(key [32]byte) (*contact.Contact, bool) {
	if r.cfg.Book == nil {
		return nil, false
	}
	return r.cfg.Book.Lookup(key)
}

func (r *Router) handleCall(ch *channel.Channel, c *contact.Contact, env *message.Envelope) {
	sender := c.PublicKey()

	if r.cfg.Registry.InProgress() {
		r.busy(ch, c)
		return
	}
	if env.Offer == "" {
		r.reject(ch, sender, "call without offer")
		return
	}
	if r.cfg.Settings.StrictSDP {
		if err := message.ValidateSDP(env.Offer); err != nil {
			r.reject(ch, sender, err.Error())
			return
		}
	}

	var media call.Media = call.NopMedia{}
	if r.cfg.NewMedia != nil {
		media = r.cfg.NewMedia(c)
	}

	s, ok := r.cfg.Registry.ClaimIncoming(func() *call.Session {
		return call.NewIncoming(r.cfg.Keys, c, env.Offer, ch, media, r.cfg.Pool, r.cfg.Connector, r.cfg.Settings)
	})
	if !ok {
		r.busy(ch, c)
		return
	}

	if r.cfg.Prepare != nil {
		r.cfg.Prepare(s)
	}

	if s.Ring() {
		if r.cfg.OnIncomingCall != nil {
			r.cfg.Pool.Go(func() { r.cfg.OnIncomingCall(s) })
		}
		if r.cfg.AutoAccept {
			s.Go(func() { autoAccept(s, media) })
		}
	}

	s.RunIncoming()
}

func autoAccept(s *call.Session, media call.Media) {
	answer, err := media.CreateAnswer(s.Offer())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "autoAccept",
			"session":  s.ID(),
			"error":    err.Error(),
		}).Warn("Media engine could not answer, declining")
		_ = s.Decline()
		return
	}
	if err := s.Accept(answer); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "autoAccept",
			"session":  s.ID(),
			"error":    err.Error(),
		}).Warn("Auto accept failed")
	}
}

func (r *Router) handleHold(ch *channel.Channel, c *contact.Contact, hold bool) {
	defer ch.Close()

	s, ok := r.cfg.Registry.Current(c.PublicKey())
	if !ok {
		r.reject(ch, c.PublicKey(), "hold request outside current call")
		return
	}
	s.RemoteHold(hold)
}

func (r *Router) busy(ch *channel.Channel, c *contact.Contact) {
	logrus.WithFields(logrus.Fields{
		"function": "busy",
		"contact":  c.String(),
	}).Info("Call in progress, answering busy")
	_ = r.reply(ch, c.PublicKey(), message.New(message.ActionBusy))
	ch.Close()
}

// reject answers "dismissed" and closes the connection.
func (r *Router) reject(ch *channel.Channel, to [32]byte, reason string) {
	logrus.WithFields(logrus.Fields{
		"function": "reject",
		"sender":   crypto.ShortKey(to),
		"reason":   reason,
	}).Info("Dismissing inbound request")
	_ = r.reply(ch, to, message.New(message.ActionDismissed))
	ch.Close()
}

func (r *Router) reply(ch *channel.Channel, to [32]byte, env *message.Envelope) error {
	data, err := message.Encode(env)
	if err != nil {
		return err
	}
	if err := ch.WriteMessage(data, to); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "reply",
			"action":   env.Action,
			"error":    err.Error(),
		}).Debug("Reply not delivered")
		return err
	}
	return nil
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
