package call

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/peercall/channel"
	"github.com/opd-ai/peercall/connector"
	"github.com/opd-ai/peercall/contact"
	"github.com/opd-ai/peercall/crypto"
	"github.com/opd-ai/peercall/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAnswer = "v=0\r\no=- 2 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 RTP/AVP 0\r\n"

func testSettings() Settings {
	s := DefaultSettings()
	s.SocketTimeout = 500 * time.Millisecond
	s.PollInterval = 5 * time.Millisecond
	s.RingTimeout = 0
	s.TeardownWait = time.Second
	s.MaxSendAttempts = 2
	return s
}

type recordingMedia struct {
	mu      sync.Mutex
	answer  string
	paused  int
	resumed int
	cleaned int
}

func (m *recordingMedia) SetRemoteAnswer(answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answer = answer
	return nil
}

func (m *recordingMedia) CreateAnswer(offer string) (string, error) { return offer, nil }

func (m *recordingMedia) Pause() {
	m.mu.Lock()
	m.paused++
	m.mu.Unlock()
}

func (m *recordingMedia) Resume() {
	m.mu.Lock()
	m.resumed++
	m.mu.Unlock()
}

func (m *recordingMedia) Cleanup() {
	m.mu.Lock()
	m.cleaned++
	m.mu.Unlock()
}

func (m *recordingMedia) counts() (string, int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.answer, m.paused, m.resumed, m.cleaned
}

// fakeConnector hands out queued connections, then fails with err.
type fakeConnector struct {
	mu    sync.Mutex
	conns []net.Conn
	err   error
	calls int
}

func (f *fakeConnector) Connect(context.Context, *contact.Contact, time.Duration, int) (net.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.conns) > 0 {
		c := f.conns[0]
		f.conns = f.conns[1:]
		return c, nil
	}
	if f.err != nil {
		return nil, f.err
	}
	return nil, &connector.ConnectError{Contact: "test", Reason: connector.ReasonTimeout}
}

func (f *fakeConnector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testPeer is the far end of a session.
type testPeer struct {
	t    *testing.T
	ch   *channel.Channel
	keys *crypto.KeyPair
	to   [32]byte
}

func newTestPeer(t *testing.T, conn net.Conn, keys *crypto.KeyPair, to [32]byte) *testPeer {
	ch := channel.New(conn, keys, 20*time.Millisecond)
	t.Cleanup(func() { ch.Close() })
	return &testPeer{t: t, ch: ch, keys: keys, to: to}
}

func (p *testPeer) send(env *message.Envelope) error {
	data, err := message.Encode(env)
	if err != nil {
		return err
	}
	return p.ch.WriteMessage(data, p.to)
}

// recv waits up to two seconds for the next message.
func (p *testPeer) recv() (*message.Envelope, bool) {
	return p.recvWithin(2 * time.Second)
}

func (p *testPeer) recvWithin(wait time.Duration) (*message.Envelope, bool) {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		in, err := p.ch.ReadMessage()
		if err != nil || (in == nil && p.ch.IsClosed()) {
			return nil, false
		}
		if in == nil {
			continue
		}
		env, err := message.Decode(in.Payload)
		if err != nil {
			return nil, false
		}
		return env, true
	}
	return nil, false
}

type fixture struct {
	alice, bob *crypto.KeyPair
	bobContact *contact.Contact
	pool       *Pool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	alice, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	bob, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return &fixture{
		alice:      alice,
		bob:        bob,
		bobContact: contact.New("Bob", bob.Public, []string{"192.0.2.1"}),
		pool:       NewPool(4),
	}
}

func waitFinished(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Finished():
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not finish, state %s", s.State())
	}
}

func TestOutgoingCallConnects(t *testing.T) {
	f := newFixture(t)
	local, remote := net.Pipe()
	media := &recordingMedia{}
	s := NewOutgoing(f.alice, f.bobContact, "offer-sdp", media, f.pool, &fakeConnector{conns: []net.Conn{local}}, testSettings())
	rec := &stateRecorder{}
	s.Machine().SetListener(rec.listen)

	peer := newTestPeer(t, remote, f.bob, f.alice.Public)
	peerDone := make(chan struct{})
	go func() {
		defer close(peerDone)
		env, ok := peer.recv()
		if !assert.True(t, ok) {
			return
		}
		assert.Equal(t, message.ActionCall, env.Action)
		assert.Equal(t, "offer-sdp", env.Offer)
		assert.NoError(t, peer.send(message.New(message.ActionRinging)))
		assert.NoError(t, peer.send(message.NewConnected(testAnswer)))
		assert.NoError(t, peer.send(message.New(message.ActionDismissed)))
	}()

	s.RunOutgoing(context.Background())
	<-peerDone

	assert.Equal(t, []State{StateConnecting, StateRinging, StateConnected, StateDismissed}, rec.get())
	answer, _, _, cleaned := media.counts()
	assert.Equal(t, testAnswer, answer)
	assert.Equal(t, 1, cleaned)
	assert.Equal(t, contact.StatusOnline, f.bobContact.Status())
	waitFinished(t, s)
}

func TestOutgoingPeerClosesImmediately(t *testing.T) {
	f := newFixture(t)
	local, remote := net.Pipe()
	s := NewOutgoing(f.alice, f.bobContact, "offer", nil, f.pool, &fakeConnector{conns: []net.Conn{local}}, testSettings())

	go func() {
		buf := make([]byte, 4096)
		_, _ = remote.Read(buf)
		remote.Close()
	}()

	s.RunOutgoing(context.Background())
	assert.Equal(t, StateErrorCommunication, s.State())
}

func TestOutgoingIdentityMismatch(t *testing.T) {
	f := newFixture(t)
	mallory, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	local, remote := net.Pipe()
	s := NewOutgoing(f.alice, f.bobContact, "offer", nil, f.pool, &fakeConnector{conns: []net.Conn{local}}, testSettings())

	// The peer can open messages sealed for bob but signs with its own key.
	peer := newTestPeer(t, remote, f.bob, f.alice.Public)
	impostor := &testPeer{t: t, ch: channel.New(remote, mallory, 20*time.Millisecond), to: f.alice.Public}
	go func() {
		if _, ok := peer.recv(); ok {
			_ = impostor.send(message.New(message.ActionRinging))
		}
	}()

	s.RunOutgoing(context.Background())
	assert.Equal(t, StateErrorAuthentication, s.State())
}

func TestOutgoingUndecryptableReply(t *testing.T) {
	f := newFixture(t)
	other, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	local, remote := net.Pipe()
	s := NewOutgoing(f.alice, f.bobContact, "offer", nil, f.pool, &fakeConnector{conns: []net.Conn{local}}, testSettings())

	peer := newTestPeer(t, remote, f.bob, other.Public)
	go func() {
		if _, ok := peer.recv(); ok {
			_ = peer.send(message.New(message.ActionRinging))
		}
	}()

	s.RunOutgoing(context.Background())
	assert.Equal(t, StateErrorDecryption, s.State())
}

func TestOutgoingBusy(t *testing.T) {
	f := newFixture(t)
	local, remote := net.Pipe()
	s := NewOutgoing(f.alice, f.bobContact, "offer", nil, f.pool, &fakeConnector{conns: []net.Conn{local}}, testSettings())

	peer := newTestPeer(t, remote, f.bob, f.alice.Public)
	go func() {
		if _, ok := peer.recv(); ok {
			_ = peer.send(message.New(message.ActionBusy))
		}
	}()

	s.RunOutgoing(context.Background())
	assert.Equal(t, StateBusy, s.State())
}

func TestOutgoingRingTimeout(t *testing.T) {
	f := newFixture(t)
	local, remote := net.Pipe()
	settings := testSettings()
	settings.RingTimeout = 100 * time.Millisecond
	s := NewOutgoing(f.alice, f.bobContact, "offer", nil, f.pool, &fakeConnector{conns: []net.Conn{local}}, settings)

	peer := newTestPeer(t, remote, f.bob, f.alice.Public)
	go func() {
		if _, ok := peer.recv(); ok {
			_ = peer.send(message.New(message.ActionRinging))
		}
	}()

	start := time.Now()
	s.RunOutgoing(context.Background())
	assert.Equal(t, StateErrorCommunication, s.State())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestOutgoingConnectFailure(t *testing.T) {
	f := newFixture(t)
	cn := &fakeConnector{err: &connector.ConnectError{Contact: "Bob", Reason: connector.ReasonRefused}}
	s := NewOutgoing(f.alice, f.bobContact, "offer", nil, f.pool, cn, testSettings())

	s.RunOutgoing(context.Background())
	assert.Equal(t, StateErrorConnectPort, s.State())
	waitFinished(t, s)
}

func TestIncomingCallLifecycle(t *testing.T) {
	f := newFixture(t)
	local, remote := net.Pipe()
	media := &recordingMedia{}
	aliceContact := contact.New("Alice", f.alice.Public, nil)

	// bob receives a call from alice
	ch := channel.New(local, f.bob, 500*time.Millisecond)
	s := NewIncoming(f.bob, aliceContact, "offer", ch, media, f.pool, nil, testSettings())
	rec := &stateRecorder{}
	s.Machine().SetListener(rec.listen)

	var tornDown bool
	s.OnTeardown(func(*Session) { tornDown = true })

	caller := newTestPeer(t, remote, f.alice, f.bob.Public)

	ringErr := make(chan bool, 1)
	go func() { ringErr <- s.Ring() }()
	env, ok := caller.recv()
	require.True(t, ok)
	assert.Equal(t, message.ActionRinging, env.Action)
	require.True(t, <-ringErr)

	go s.RunIncoming()

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- s.Accept(testAnswer) }()
	env, ok = caller.recv()
	require.True(t, ok)
	assert.Equal(t, message.ActionConnected, env.Action)
	assert.Equal(t, testAnswer, env.Answer)
	require.NoError(t, <-acceptErr)

	require.NoError(t, caller.send(message.New(message.ActionOnHold)))
	require.Eventually(t, func() bool { return s.State() == StateOnHold }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, caller.send(message.New(message.ActionResume)))
	require.Eventually(t, func() bool { return s.State() == StateResume }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, caller.send(message.New(message.ActionDismissed)))

	waitFinished(t, s)
	assert.Equal(t, []State{StateRinging, StateConnected, StateOnHold, StateResume, StateDismissed}, rec.get())
	_, paused, resumed, cleaned := media.counts()
	assert.Equal(t, 1, paused)
	assert.Equal(t, 1, resumed)
	assert.Equal(t, 1, cleaned)
	assert.True(t, tornDown)
}

func TestIncomingCallerHangsUpBeforeAccept(t *testing.T) {
	f := newFixture(t)
	local, remote := net.Pipe()
	aliceContact := contact.New("Alice", f.alice.Public, nil)
	s := NewIncoming(f.bob, aliceContact, "offer", channel.New(local, f.bob, 500*time.Millisecond), nil, f.pool, nil, testSettings())
	caller := newTestPeer(t, remote, f.alice, f.bob.Public)

	go func() { s.Ring() }()
	_, ok := caller.recv()
	require.True(t, ok)

	go s.RunIncoming()
	require.NoError(t, caller.send(message.New(message.ActionDismissed)))

	waitFinished(t, s)
	assert.Equal(t, StateDismissed, s.State())
	assert.ErrorIs(t, s.Accept(testAnswer), ErrNotRinging)
}

func TestAcceptValidation(t *testing.T) {
	f := newFixture(t)
	out := NewOutgoing(f.alice, f.bobContact, "offer", nil, f.pool, nil, testSettings())
	assert.ErrorIs(t, out.Accept(testAnswer), ErrNotIncoming)
	assert.ErrorIs(t, out.Decline(), ErrNotIncoming)

	local, _ := net.Pipe()
	in := NewIncoming(f.bob, contact.New("Alice", f.alice.Public, nil), "offer", channel.New(local, f.bob, 0), nil, f.pool, nil, testSettings())
	assert.ErrorIs(t, in.Accept(""), ErrEmptyAnswer)
	assert.ErrorIs(t, in.Accept(testAnswer), ErrNotRinging)
}

func TestSendMessageReconnects(t *testing.T) {
	f := newFixture(t)
	first, _ := net.Pipe()
	fresh, remote := net.Pipe()
	cn := &fakeConnector{conns: []net.Conn{fresh}}

	m := NewMachine("test")
	d := NewDispatcher(f.alice, f.bobContact, m, nil, cn, testSettings())
	held := channel.New(first, f.alice, 0)
	d.Attach(held)
	held.Close()

	peer := newTestPeer(t, remote, f.bob, f.alice.Public)
	got := make(chan *message.Envelope, 1)
	go func() {
		env, _ := peer.recv()
		got <- env
	}()

	assert.True(t, d.SendMessage(message.New(message.ActionOnHold)))
	env := <-got
	require.NotNil(t, env)
	assert.Equal(t, message.ActionOnHold, env.Action)
	assert.Equal(t, 1, cn.callCount())
}

func TestSendMessageGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	cn := &fakeConnector{}
	settings := testSettings()
	settings.MaxSendAttempts = 3

	d := NewDispatcher(f.alice, f.bobContact, NewMachine("test"), nil, cn, settings)
	assert.False(t, d.SendMessage(message.New(message.ActionResume)))
	assert.Equal(t, 3, cn.callCount())
}

// gatedConnector blocks in Connect until release is closed.
type gatedConnector struct {
	entered chan struct{}
	release chan struct{}
	conn    net.Conn
}

func (g *gatedConnector) Connect(context.Context, *contact.Contact, time.Duration, int) (net.Conn, error) {
	close(g.entered)
	<-g.release
	return g.conn, nil
}

func TestSendMessageReconnectDoesNotBlockClose(t *testing.T) {
	f := newFixture(t)
	first, _ := net.Pipe()
	fresh, remote := net.Pipe()
	defer remote.Close()
	cn := &gatedConnector{entered: make(chan struct{}), release: make(chan struct{}), conn: fresh}

	settings := testSettings()
	settings.MaxSendAttempts = 1
	d := NewDispatcher(f.alice, f.bobContact, NewMachine("test"), nil, cn, settings)
	held := channel.New(first, f.alice, 0)
	d.Attach(held)
	held.Close()

	sent := make(chan bool, 1)
	go func() { sent <- d.SendMessage(message.New(message.ActionOnHold)) }()
	<-cn.entered

	closed := make(chan struct{})
	go func() {
		_ = d.RemoteAddr()
		d.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close blocked behind reconnect")
	}

	close(cn.release)
	assert.False(t, <-sent)

	// the late connection is dropped, not adopted
	require.NoError(t, fresh.SetWriteDeadline(time.Now().Add(100*time.Millisecond)))
	_, err := fresh.Write([]byte{0})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestLocalHoldNeedsEstablishedCall(t *testing.T) {
	f := newFixture(t)
	cn := &fakeConnector{}
	s := NewOutgoing(f.alice, f.bobContact, "offer", nil, f.pool, cn, testSettings())
	assert.False(t, s.Hold())
	assert.Equal(t, 0, cn.callCount())
}

// connectedIncoming returns an accepted incoming session from alice to bob
// and alice's end of the call.
func connectedIncoming(t *testing.T, f *fixture, media Media) (*Session, *testPeer) {
	t.Helper()
	local, remote := net.Pipe()
	aliceContact := contact.New("Alice", f.alice.Public, nil)
	s := NewIncoming(f.bob, aliceContact, "offer", channel.New(local, f.bob, 500*time.Millisecond), media, f.pool, nil, testSettings())
	caller := newTestPeer(t, remote, f.alice, f.bob.Public)

	go func() { s.Ring() }()
	_, ok := caller.recv()
	require.True(t, ok)
	go s.RunIncoming()

	acceptErr := make(chan error, 1)
	go func() { acceptErr <- s.Accept(testAnswer) }()
	env, ok := caller.recv()
	require.True(t, ok)
	require.Equal(t, message.ActionConnected, env.Action)
	require.NoError(t, <-acceptErr)
	return s, caller
}

func TestLocalHoldAndResume(t *testing.T) {
	f := newFixture(t)
	media := &recordingMedia{}
	s, caller := connectedIncoming(t, f, media)

	sent := make(chan bool, 1)
	go func() { sent <- s.Hold() }()
	env, ok := caller.recv()
	require.True(t, ok)
	assert.Equal(t, message.ActionOnHold, env.Action)
	assert.True(t, <-sent)
	assert.Equal(t, StateOnHold, s.State())
	assert.True(t, s.HeldLocally())

	// holding twice sends nothing
	assert.False(t, s.Hold())

	go func() { sent <- s.Resume() }()
	env, ok = caller.recv()
	require.True(t, ok)
	assert.Equal(t, message.ActionResume, env.Action)
	assert.True(t, <-sent)
	assert.Equal(t, StateResume, s.State())
	assert.False(t, s.HeldLocally())

	require.NoError(t, caller.send(message.New(message.ActionDismissed)))
	waitFinished(t, s)
	_, paused, resumed, _ := media.counts()
	assert.Equal(t, 1, paused)
	assert.Equal(t, 1, resumed)
}

func TestLocalHoldLeavesPeerHoldAlone(t *testing.T) {
	f := newFixture(t)
	s, caller := connectedIncoming(t, f, nil)

	require.NoError(t, caller.send(message.New(message.ActionOnHold)))
	require.Eventually(t, func() bool { return s.State() == StateOnHold }, 2*time.Second, 5*time.Millisecond)

	assert.False(t, s.Hold())
	assert.False(t, s.HeldLocally())
	_, ok := caller.recvWithin(100 * time.Millisecond)
	assert.False(t, ok, "no duplicate on_hold")

	assert.False(t, s.Resume())
	_, ok = caller.recvWithin(100 * time.Millisecond)
	assert.False(t, ok, "no resume for a hold the peer placed")
	assert.Equal(t, StateOnHold, s.State())

	require.NoError(t, caller.send(message.New(message.ActionDismissed)))
	waitFinished(t, s)
}

func TestLocalResumeAfterPeerResumed(t *testing.T) {
	f := newFixture(t)
	s, caller := connectedIncoming(t, f, nil)

	go func() { s.Hold() }()
	_, ok := caller.recv()
	require.True(t, ok)
	require.Eventually(t, s.HeldLocally, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, caller.send(message.New(message.ActionResume)))
	require.Eventually(t, func() bool { return s.State() == StateResume }, 2*time.Second, 5*time.Millisecond)

	assert.False(t, s.Resume())
	assert.False(t, s.HeldLocally())

	go func() { s.Hold() }()
	env, ok := caller.recv()
	require.True(t, ok)
	assert.Equal(t, message.ActionOnHold, env.Action)

	require.NoError(t, caller.send(message.New(message.ActionDismissed)))
	waitFinished(t, s)
}

// fakeClock advances only when the dispatcher sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *fakeClock) Sleep(time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(30 * time.Second)
	c.mu.Unlock()
}

func TestRingTimeoutFollowsClock(t *testing.T) {
	f := newFixture(t)
	local, remote := net.Pipe()
	settings := testSettings()
	settings.SocketTimeout = 100 * time.Millisecond
	settings.RingTimeout = time.Minute
	s := NewOutgoing(f.alice, f.bobContact, "offer", nil, f.pool, &fakeConnector{conns: []net.Conn{local}}, settings)
	s.SetClock(&fakeClock{now: time.Unix(1700000000, 0)})

	peer := newTestPeer(t, remote, f.bob, f.alice.Public)
	go func() {
		if _, ok := peer.recv(); ok {
			_ = peer.send(message.New(message.ActionRinging))
		}
	}()

	start := time.Now()
	s.RunOutgoing(context.Background())
	assert.Equal(t, StateErrorCommunication, s.State())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNoRingTimeoutOnceConnected(t *testing.T) {
	f := newFixture(t)
	local, remote := net.Pipe()
	settings := testSettings()
	settings.SocketTimeout = 100 * time.Millisecond
	settings.RingTimeout = time.Minute
	s := NewOutgoing(f.alice, f.bobContact, "offer", nil, f.pool, &fakeConnector{conns: []net.Conn{local}}, settings)
	s.SetClock(&fakeClock{now: time.Unix(1700000000, 0)})

	peer := newTestPeer(t, remote, f.bob, f.alice.Public)
	go func() {
		if _, ok := peer.recv(); ok {
			_ = peer.send(message.New(message.ActionRinging))
			_ = peer.send(message.NewConnected(testAnswer))
		}
		for {
			if _, ok := peer.recv(); !ok {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		s.RunOutgoing(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return s.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	// Many idle polls of virtual time pass without ending the call.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, StateConnected, s.State())

	s.Hangup()
	<-done
	assert.Equal(t, StateEnded, s.State())
}
