package connector

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/opd-ai/peercall/contact"
	"github.com/sirupsen/logrus"
)

// MaxRetryPasses caps the retry passes over the candidate list.
const MaxRetryPasses = 4

// DialFunc opens one TCP connection within timeout.
type DialFunc func(ctx context.Context, address string, timeout time.Duration) (net.Conn, error)

// Connector dials contacts.
type Connector struct {
	expander         contact.Expander
	dial             DialFunc
	useNeighborTable bool
}

// New creates a Connector using expander for candidate generation and TCP
// for dialing.
func New(expander contact.Expander, useNeighborTable bool) *Connector {
	return &Connector{
		expander:         expander,
		dial:             dialTCP,
		useNeighborTable: useNeighborTable,
	}
}

// NewWithDialer creates a Connector with a custom dial function.
func NewWithDialer(expander contact.Expander, useNeighborTable bool, dial DialFunc) *Connector {
	c := New(expander, useNeighborTable)
	if dial != nil {
		c.dial = dial
	}
	return c
}

func dialTCP(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", address)
}

// observed records which failure classes occurred across attempts.
type observed struct {
	refused, unknownHost, other, timeout bool
}

func (o *observed) record(err error) {
	switch classify(err) {
	case ReasonRefused:
		o.refused = true
	case ReasonUnknownHost:
		o.unknownHost = true
	case ReasonTimeout:
		o.timeout = true
	default:
		o.other = true
	}
}

func (o *observed) reason() Reason {
	switch {
	case o.refused:
		return ReasonRefused
	case o.unknownHost:
		return ReasonUnknownHost
	case o.other:
		return ReasonOther
	case o.timeout:
		return ReasonTimeout
	default:
		return ReasonNoNetwork
	}
}

// classify maps one dial error to a failure class.
func classify(err error) Reason {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ReasonRefused
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonUnknownHost
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return ReasonTimeout
	}
	return ReasonOther
}

// PassFunc is notified before every retry pass after the first.
type PassFunc func(pass int)

// Connect returns an open connection to the first candidate address of c that
// accepts, trying up to min(maxRetryPasses, MaxRetryPasses)+1 passes over the
// candidate list. On success the contact's last working address is updated.
func (cn *Connector) Connect(ctx context.Context, c *contact.Contact, timeout time.Duration, maxRetryPasses int) (net.Conn, error) {
	return cn.ConnectObserved(ctx, c, timeout, maxRetryPasses, nil)
}

// ConnectObserved is Connect with a callback for retry passes.
func (cn *Connector) ConnectObserved(ctx context.Context, c *contact.Contact, timeout time.Duration, maxRetryPasses int, onPass PassFunc) (net.Conn, error) {
	candidates := cn.expander.Expand(c, cn.useNeighborTable)
	if len(candidates) == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Connect",
			"contact":  c.String(),
		}).Warn("Contact has no candidate addresses")
		return nil, &ConnectError{Contact: c.String(), Reason: ReasonNoAddresses}
	}

	passes := maxRetryPasses
	if passes > MaxRetryPasses {
		passes = MaxRetryPasses
	}
	if passes < 0 {
		passes = 0
	}

	var seen observed
	var lastErr error
	attempts := 0

	for pass := 0; pass <= passes; pass++ {
		if pass > 0 && onPass != nil {
			onPass(pass)
		}
		for _, addr := range candidates {
			if ctx.Err() != nil {
				lastErr = ctx.Err()
				return nil, &ConnectError{Contact: c.String(), Reason: seen.reason(), Attempts: attempts, Err: lastErr}
			}

			attempts++
			conn, err := cn.dial(ctx, addr, timeout)
			if err == nil {
				logrus.WithFields(logrus.Fields{
					"function": "Connect",
					"contact":  c.String(),
					"address":  addr,
					"pass":     pass,
					"attempts": attempts,
				}).Info("Connected to contact")
				c.SetLastWorkingAddress(addr)
				return conn, nil
			}

			seen.record(err)
			lastErr = err

			logrus.WithFields(logrus.Fields{
				"function": "Connect",
				"contact":  c.String(),
				"address":  addr,
				"pass":     pass,
				"class":    classify(err).String(),
				"error":    err.Error(),
			}).Debug("Connection attempt failed")
		}
	}

	connErr := &ConnectError{Contact: c.String(), Reason: seen.reason(), Attempts: attempts, Err: lastErr}
	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"contact":  c.String(),
		"reason":   connErr.Reason.String(),
		"attempts": attempts,
	}).Warn("All connection attempts failed")

	return nil, connErr
}
