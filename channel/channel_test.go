package channel

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/opd-ai/peercall/crypto"
	"github.com/opd-ai/peercall/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T, readTimeout time.Duration) (*Channel, *Channel, *crypto.KeyPair, *crypto.KeyPair) {
	t.Helper()
	alice, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bob, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	a, b := net.Pipe()
	ca := New(a, alice, readTimeout)
	cb := New(b, bob, readTimeout)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	return ca, cb, alice, bob
}

func TestWriteReadRoundTrip(t *testing.T) {
	ca, cb, alice, bob := newPair(t, time.Second)

	errCh := make(chan error, 1)
	go func() {
		errCh <- ca.WriteMessage([]byte(`{"action":"ping"}`), bob.Public)
	}()

	msg, err := cb.ReadMessage()
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, `{"action":"ping"}`, string(msg.Payload))
	assert.Equal(t, alice.Public, msg.Sender)
	require.NoError(t, <-errCh)
}

func TestReadTimeoutKeepsChannelOpen(t *testing.T) {
	_, cb, _, _ := newPair(t, 20*time.Millisecond)

	msg, err := cb.ReadMessage()
	assert.NoError(t, err)
	assert.Nil(t, msg)
	assert.False(t, cb.IsClosed())
}

func TestPartialFrameSurvivesTimeout(t *testing.T) {
	alice, _ := crypto.GenerateKeyPair()
	bob, _ := crypto.GenerateKeyPair()

	raw, peer := net.Pipe()
	defer raw.Close()
	cb := New(peer, bob, 30*time.Millisecond)
	defer cb.Close()

	sealed, err := crypto.Seal([]byte(`{"action":"busy"}`), bob.Public, alice)
	require.NoError(t, err)
	frame := make([]byte, limits.FrameHeaderSize+len(sealed))
	binary.BigEndian.PutUint32(frame, uint32(len(sealed)))
	copy(frame[limits.FrameHeaderSize:], sealed)

	split := limits.FrameHeaderSize + 10
	go func() {
		_, _ = raw.Write(frame[:split])
	}()

	// First reads only see part of the frame and time out.
	for i := 0; i < 3; i++ {
		msg, err := cb.ReadMessage()
		require.NoError(t, err)
		assert.Nil(t, msg)
		assert.False(t, cb.IsClosed())
	}

	go func() {
		_, _ = raw.Write(frame[split:])
	}()

	var msg *Inbound
	require.Eventually(t, func() bool {
		msg, err = cb.ReadMessage()
		return msg != nil || err != nil
	}, time.Second, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, `{"action":"busy"}`, string(msg.Payload))
	assert.Equal(t, alice.Public, msg.Sender)
}

func TestPeerCloseReportsClosed(t *testing.T) {
	ca, cb, _, _ := newPair(t, time.Second)

	require.NoError(t, ca.Close())

	msg, err := cb.ReadMessage()
	assert.NoError(t, err)
	assert.Nil(t, msg)
	assert.True(t, cb.IsClosed())

	msg, err = cb.ReadMessage()
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestOversizedFrameClosesChannel(t *testing.T) {
	bob, _ := crypto.GenerateKeyPair()
	raw, peer := net.Pipe()
	defer raw.Close()
	cb := New(peer, bob, time.Second)

	go func() {
		header := make([]byte, limits.FrameHeaderSize)
		binary.BigEndian.PutUint32(header, limits.MaxFrame+1)
		_, _ = raw.Write(header)
	}()

	msg, err := cb.ReadMessage()
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, ErrFrame)
	assert.True(t, cb.IsClosed())
}

func TestUndecryptableFrameReportsError(t *testing.T) {
	ca, cb, _, _ := newPair(t, time.Second)
	stranger, _ := crypto.GenerateKeyPair()

	go func() {
		// Sealed for someone else: bob cannot open it.
		_ = ca.WriteMessage([]byte("hello"), stranger.Public)
	}()

	msg, err := cb.ReadMessage()
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, crypto.ErrDecryption)
	assert.False(t, cb.IsClosed())
}

func TestWriteAfterCloseFails(t *testing.T) {
	ca, _, _, bob := newPair(t, time.Second)
	require.NoError(t, ca.Close())
	assert.NoError(t, ca.Close())
	assert.ErrorIs(t, ca.WriteMessage([]byte("x"), bob.Public), ErrClosed)
}
