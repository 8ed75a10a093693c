package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/peercall/crypto"
	"github.com/opd-ai/peercall/limits"
	"github.com/sirupsen/logrus"
)

// DefaultWriteTimeout bounds a single frame write.
const DefaultWriteTimeout = 5 * time.Second

var (
	// ErrClosed indicates an operation on a closed channel.
	ErrClosed = errors.New("channel closed")

	// ErrFrame indicates a length prefix outside the accepted range.
	ErrFrame = errors.New("invalid frame")
)

// Inbound is one opened message together with its authenticated sender.
type Inbound struct {
	Payload []byte
	Sender  [32]byte
}

// Channel frames and seals messages over a net.Conn.
//
// ReadMessage must only be called from one goroutine. WriteMessage is not
// synchronized; callers that write from several goroutines hold their own
// lock around it.
type Channel struct {
	conn         net.Conn
	keys         *crypto.KeyPair
	readTimeout  time.Duration
	writeTimeout time.Duration

	// partial frame state, owned by the reading goroutine
	header  [limits.FrameHeaderSize]byte
	headerN int
	body    []byte
	bodyN   int

	closed    atomic.Bool
	closeOnce sync.Once
}

// New wraps conn. readTimeout bounds each ReadMessage call; zero blocks until
// a full frame arrives or the stream ends.
func New(conn net.Conn, keys *crypto.KeyPair, readTimeout time.Duration) *Channel {
	return &Channel{
		conn:         conn,
		keys:         keys,
		readTimeout:  readTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
}

// RemoteAddr returns the peer address of the underlying connection.
func (c *Channel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsClosed reports whether the underlying connection is known to be closed.
func (c *Channel) IsClosed() bool {
	return c.closed.Load()
}

// Close closes the underlying connection. It is safe to call repeatedly.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"remote":   addrString(c.conn.RemoteAddr()),
		}).Debug("Channel closed")
	})
	return err
}

// WriteMessage seals plaintext for recipient and writes it as one frame.
// A failed write closes the channel.
func (c *Channel) WriteMessage(plaintext []byte, recipient [32]byte) error {
	if c.IsClosed() {
		return ErrClosed
	}

	sealed, err := crypto.Seal(plaintext, recipient, c.keys)
	if err != nil {
		return err
	}

	frame := make([]byte, limits.FrameHeaderSize+len(sealed))
	binary.BigEndian.PutUint32(frame[:limits.FrameHeaderSize], uint32(len(sealed)))
	copy(frame[limits.FrameHeaderSize:], sealed)

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			c.Close()
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := c.conn.Write(frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "WriteMessage",
			"remote":   addrString(c.conn.RemoteAddr()),
			"error":    err.Error(),
		}).Warn("Frame write failed, closing channel")
		c.Close()
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

// ReadMessage reads and opens the next frame.
//
// It returns (nil, nil) when no message is available; see the package
// documentation for how to tell a closed stream from a timeout. A frame that
// fails to open is consumed and reported as an error wrapping
// crypto.ErrDecryption; the channel stays open.
func (c *Channel) ReadMessage() (*Inbound, error) {
	if c.IsClosed() {
		return nil, nil
	}

	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			c.Close()
			return nil, nil
		}
	}

	if c.body == nil {
		done, err := c.fill(c.header[:], &c.headerN)
		if !done {
			return nil, err
		}
		length := binary.BigEndian.Uint32(c.header[:])
		if err := limits.ValidateFrameLength(length); err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: %w", ErrFrame, err)
		}
		c.body = make([]byte, length)
		c.bodyN = 0
	}

	done, err := c.fill(c.body, &c.bodyN)
	if !done {
		return nil, err
	}

	sealed := c.body
	c.body = nil
	c.headerN = 0

	plaintext, sender, err := crypto.Open(sealed, c.keys)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ReadMessage",
			"remote":   addrString(c.conn.RemoteAddr()),
			"error":    err.Error(),
		}).Warn("Failed to open frame")
		return nil, err
	}

	return &Inbound{Payload: plaintext, Sender: sender}, nil
}

// fill reads into buf starting at *n until it is full. It reports false when
// the buffer is still incomplete, which happens on a timeout (channel stays
// open) or at end of stream (channel is closed).
func (c *Channel) fill(buf []byte, n *int) (bool, error) {
	for *n < len(buf) {
		read, err := c.conn.Read(buf[*n:])
		*n += read
		if err == nil {
			continue
		}
		if *n == len(buf) {
			break
		}

		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false, nil
		}

		if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "fill",
				"remote":   addrString(c.conn.RemoteAddr()),
				"error":    err.Error(),
			}).Debug("Read failed, treating stream as closed")
		}
		c.Close()
		return false, nil
	}
	return true, nil
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
