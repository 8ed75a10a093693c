package contact

import (
	"net"
	"sync"

	"github.com/opd-ai/peercall/crypto"
	"github.com/sirupsen/logrus"
)

// Status is the presentation-level liveness of a contact. It is unrelated
// to the state of any call.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusOnline
	StatusOffline
	StatusBusy
	StatusUnreachable
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusOffline:
		return "offline"
	case StatusBusy:
		return "busy"
	case StatusUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// ParseStatus maps a status_change payload to a Status.
func ParseStatus(s string) Status {
	switch s {
	case "online":
		return StatusOnline
	case "offline":
		return StatusOffline
	case "busy":
		return StatusBusy
	case "unreachable":
		return StatusUnreachable
	default:
		return StatusUnknown
	}
}

// Contact is one peer. Name, public key and addresses are fixed at creation;
// blocked, last working address and status may change while sessions borrow
// the contact, so they are guarded.
type Contact struct {
	name      string
	publicKey [32]byte
	addresses []string
	unknown   bool

	mu                 sync.RWMutex
	blocked            bool
	lastWorkingAddress string
	status             Status
}

// New creates a contact with the given identity and candidate addresses.
func New(name string, publicKey [32]byte, addresses []string) *Contact {
	c := &Contact{
		name:      name,
		publicKey: publicKey,
		addresses: append([]string(nil), addresses...),
	}

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"public_key": crypto.ShortKey(publicKey),
		"name":       name,
		"addresses":  len(addresses),
	}).Debug("Created contact")

	return c
}

// NewUnknown synthesizes a contact for a caller that is not in the address
// book. Its only address is the host of the connection it called from.
func NewUnknown(publicKey [32]byte, remote net.Addr) *Contact {
	var addresses []string
	if remote != nil {
		host := remote.String()
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		addresses = []string{host}
	}
	c := New("", publicKey, addresses)
	c.unknown = true
	return c
}

// Name returns the display name, empty for unknown callers.
func (c *Contact) Name() string { return c.name }

// PublicKey returns the identity key.
func (c *Contact) PublicKey() [32]byte { return c.publicKey }

// Addresses returns a copy of the configured candidate addresses.
func (c *Contact) Addresses() []string {
	return append([]string(nil), c.addresses...)
}

// IsUnknown reports whether the contact was synthesized for an unknown caller.
func (c *Contact) IsUnknown() bool { return c.unknown }

// Blocked reports whether calls from this contact are refused.
func (c *Contact) Blocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blocked
}

// SetBlocked updates the blocked flag.
func (c *Contact) SetBlocked(blocked bool) {
	c.mu.Lock()
	c.blocked = blocked
	c.mu.Unlock()
}

// LastWorkingAddress returns the socket address of the last successful
// exchange, or "".
func (c *Contact) LastWorkingAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastWorkingAddress
}

// SetLastWorkingAddress remembers a socket address that worked.
func (c *Contact) SetLastWorkingAddress(addr string) {
	c.mu.Lock()
	old := c.lastWorkingAddress
	c.lastWorkingAddress = addr
	c.mu.Unlock()

	if old != addr {
		logrus.WithFields(logrus.Fields{
			"function":   "SetLastWorkingAddress",
			"public_key": crypto.ShortKey(c.publicKey),
			"address":    addr,
		}).Debug("Updated last working address")
	}
}

// Status returns the presentation status.
func (c *Contact) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetStatus updates the presentation status.
func (c *Contact) SetStatus(status Status) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

// String returns the name or, for unknown callers, a short key.
func (c *Contact) String() string {
	if c.name != "" {
		return c.name
	}
	return crypto.ShortKey(c.publicKey)
}
