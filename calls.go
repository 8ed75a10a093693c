package peercall

import (
	"context"
	"fmt"

	"github.com/opd-ai/peercall/call"
	"github.com/opd-ai/peercall/channel"
	"github.com/opd-ai/peercall/contact"
	"github.com/opd-ai/peercall/crypto"
	"github.com/opd-ai/peercall/message"
	"github.com/sirupsen/logrus"
)

// Call places an outgoing call to c with an SDP offer. The call runs in the
// background; follow it through OnStateChange or the returned session.
func (s *Service) Call(c *contact.Contact, offer string) (*call.Session, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if offer == "" {
		return nil, ErrEmptyOffer
	}
	if s.settings.StrictSDP {
		if err := message.ValidateSDP(offer); err != nil {
			return nil, err
		}
	}

	sess := call.NewOutgoing(s.keys, c, offer, s.newMedia(c), s.pool, s.connector, s.settings)
	if err := s.registry.ClaimOutgoing(sess); err != nil {
		return nil, err
	}
	s.prepare(sess)

	logrus.WithFields(logrus.Fields{
		"function": "Call",
		"contact":  c.String(),
		"session":  sess.ID(),
	}).Info("Placing call")

	go sess.RunOutgoing(s.ctx)
	return sess, nil
}

// Accept answers the ringing incoming session id.
func (s *Service) Accept(id, answer string) error {
	sess, ok := s.registry.Find(id)
	if !ok {
		return call.ErrSessionNotFound
	}
	return sess.Accept(answer)
}

// Decline rejects the ringing incoming session id.
func (s *Service) Decline(id string) error {
	sess, ok := s.registry.Find(id)
	if !ok {
		return call.ErrSessionNotFound
	}
	return sess.Decline()
}

// Hangup ends session id.
func (s *Service) Hangup(id string) error {
	sess, ok := s.registry.Find(id)
	if !ok {
		return call.ErrSessionNotFound
	}
	sess.Hangup()
	return nil
}

// Ping checks whether c is reachable and updates its status.
func (s *Service) Ping(ctx context.Context, c *contact.Contact) error {
	ch, err := s.open(ctx, c)
	if err != nil {
		c.SetStatus(contact.StatusUnreachable)
		return err
	}
	defer ch.Close()

	if err := s.send(ch, c, message.New(message.ActionPing)); err != nil {
		c.SetStatus(contact.StatusUnreachable)
		return err
	}

	reply, err := s.receive(ch, c)
	if err != nil {
		c.SetStatus(contact.StatusUnreachable)
		return err
	}
	if reply.Action != message.ActionPong {
		return fmt.Errorf("%w: %s", ErrUnexpectedReply, reply.Action)
	}

	c.SetStatus(contact.StatusOnline)
	return nil
}

// SendStatusChange tells c about our status, "online" or "offline".
func (s *Service) SendStatusChange(ctx context.Context, c *contact.Contact, status string) error {
	ch, err := s.open(ctx, c)
	if err != nil {
		return err
	}
	defer ch.Close()
	return s.send(ch, c, message.NewStatusChange(status))
}

func (s *Service) open(ctx context.Context, c *contact.Contact) (*channel.Channel, error) {
	conn, err := s.connector.Connect(ctx, c, s.settings.ConnectTimeout, s.settings.ConnectRetries)
	if err != nil {
		return nil, err
	}
	return channel.New(conn, s.keys, s.settings.SocketTimeout), nil
}

func (s *Service) send(ch *channel.Channel, c *contact.Contact, env *message.Envelope) error {
	data, err := message.Encode(env)
	if err != nil {
		return err
	}
	return ch.WriteMessage(data, c.PublicKey())
}

// receive reads one reply from c within the socket timeout.
func (s *Service) receive(ch *channel.Channel, c *contact.Contact) (*message.Envelope, error) {
	in, err := ch.ReadMessage()
	if err != nil {
		return nil, err
	}
	if in == nil {
		return nil, ErrNoReply
	}
	if in.Sender != c.PublicKey() {
		logrus.WithFields(logrus.Fields{
			"function": "receive",
			"contact":  c.String(),
			"sender":   crypto.ShortKey(in.Sender),
		}).Warn("Reply signed by unexpected key")
		return nil, ErrIdentityMismatch
	}
	return message.Decode(in.Payload)
}
