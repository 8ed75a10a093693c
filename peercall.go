package peercall

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/peercall/call"
	"github.com/opd-ai/peercall/connector"
	"github.com/opd-ai/peercall/contact"
	"github.com/opd-ai/peercall/crypto"
	"github.com/opd-ai/peercall/inbound"
	"github.com/opd-ai/peercall/interrupt"
	"github.com/sirupsen/logrus"
)

// DefaultPort is the signaling port contacts listen on.
const DefaultPort = 10001

// Options contains configuration options for creating a Service.
type Options struct {
	Port             int
	ConnectTimeout   time.Duration
	ConnectRetries   int
	SocketTimeout    time.Duration
	PollInterval     time.Duration
	RingTimeout      time.Duration
	MaxSendAttempts  int
	TeardownWait     time.Duration
	PoolSize         int
	BlockUnknown     bool
	AutoAccept       bool
	UseNeighborTable bool
	StrictSDP        bool

	// Expander overrides the default address expander.
	Expander contact.Expander
	// Interrupts, when set, holds calls while the device's telephony is busy.
	Interrupts interrupt.Source
	// NewMedia returns the media hook for a new session. Defaults to NopMedia.
	NewMedia func(*contact.Contact) call.Media
}

// NewOptions creates a new Options with sensible defaults.
func NewOptions() *Options {
	d := call.DefaultSettings()
	return &Options{
		Port:             DefaultPort,
		ConnectTimeout:   d.ConnectTimeout,
		ConnectRetries:   d.ConnectRetries,
		SocketTimeout:    d.SocketTimeout,
		PollInterval:     d.PollInterval,
		RingTimeout:      d.RingTimeout,
		MaxSendAttempts:  d.MaxSendAttempts,
		TeardownWait:     d.TeardownWait,
		PoolSize:         call.DefaultPoolSize,
		UseNeighborTable: true,
	}
}

// Settings returns the per-session settings derived from the options.
func (o *Options) Settings() call.Settings {
	return call.Settings{
		SocketTimeout:   o.SocketTimeout,
		PollInterval:    o.PollInterval,
		RingTimeout:     o.RingTimeout,
		ConnectTimeout:  o.ConnectTimeout,
		ConnectRetries:  o.ConnectRetries,
		MaxSendAttempts: o.MaxSendAttempts,
		TeardownWait:    o.TeardownWait,
		StrictSDP:       o.StrictSDP,
	}
}

// StateChangeCallback is called for every state change of every session.
type StateChangeCallback func(s *call.Session, state call.State)

// RemoteAddressCallback is called when a session takes or releases a peer
// address.
type RemoteAddressCallback func(addr net.Addr, connected bool)

// IncomingCallCallback is called when an incoming call starts ringing.
type IncomingCallCallback func(s *call.Session)

// Service places and receives calls for one identity.
type Service struct {
	options   *Options
	settings  call.Settings
	keys      *crypto.KeyPair
	book      contact.Book
	registry  *call.Registry
	pool      *call.Pool
	connector *connector.Connector
	router    *inbound.Router
	bridge    *interrupt.Bridge

	callbackMu    sync.RWMutex
	stateCallback StateChangeCallback
	addrCallback  RemoteAddressCallback
	callCallback  IncomingCallCallback

	listenMu sync.Mutex
	listener net.Listener
	handlers sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// New creates a Service for keys with the given contact book.
func New(keys *crypto.KeyPair, book contact.Book, options *Options) (*Service, error) {
	if keys == nil {
		return nil, ErrNoKeys
	}
	if options == nil {
		options = NewOptions()
	}
	if book == nil {
		book = contact.NewMemoryBook()
	}

	expander := options.Expander
	if expander == nil {
		expander = contact.NewExpander(options.Port)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		options:   options,
		settings:  options.Settings(),
		keys:      keys,
		book:      book,
		registry:  call.NewRegistry(),
		pool:      call.NewPool(options.PoolSize),
		connector: connector.New(expander, options.UseNeighborTable),
		ctx:       ctx,
		cancel:    cancel,
	}
	if options.Interrupts != nil {
		s.bridge = interrupt.NewBridge(options.Interrupts, s.registry)
	}

	s.router = inbound.New(inbound.Config{
		Keys:           keys,
		Book:           book,
		Registry:       s.registry,
		Pool:           s.pool,
		Connector:      s.connector,
		Settings:       s.settings,
		BlockUnknown:   options.BlockUnknown,
		AutoAccept:     options.AutoAccept,
		NewMedia:       s.newMedia,
		Prepare:        s.prepare,
		OnIncomingCall: s.incomingCall,
	})

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"public_key": crypto.ShortKey(keys.Public),
		"port":       options.Port,
	}).Info("Service created")

	return s, nil
}

// PublicKey returns the service's public key.
func (s *Service) PublicKey() [32]byte {
	return s.keys.Public
}

// Book returns the contact book.
func (s *Service) Book() contact.Book {
	return s.book
}

// OnStateChange sets the callback for session state changes.
func (s *Service) OnStateChange(cb StateChangeCallback) {
	s.callbackMu.Lock()
	s.stateCallback = cb
	s.callbackMu.Unlock()
}

// OnRemoteAddressChange sets the callback for peer address changes.
func (s *Service) OnRemoteAddressChange(cb RemoteAddressCallback) {
	s.callbackMu.Lock()
	s.addrCallback = cb
	s.callbackMu.Unlock()
}

// OnIncomingCall sets the callback for ringing incoming calls.
func (s *Service) OnIncomingCall(cb IncomingCallCallback) {
	s.callbackMu.Lock()
	s.callCallback = cb
	s.callbackMu.Unlock()
}

func (s *Service) newMedia(c *contact.Contact) call.Media {
	if s.options.NewMedia == nil {
		return call.NopMedia{}
	}
	if m := s.options.NewMedia(c); m != nil {
		return m
	}
	return call.NopMedia{}
}

// prepare wires a new session to the service callbacks, the interrupt
// bridge and the registry.
func (s *Service) prepare(sess *call.Session) {
	sess.Machine().SetListener(func(state call.State) {
		s.callbackMu.RLock()
		cb := s.stateCallback
		s.callbackMu.RUnlock()
		if cb != nil {
			cb(sess, state)
		}
		if state == call.StateConnected && s.bridge != nil {
			s.bridge.Established(sess)
		}
	})

	sess.SetAddressListener(func(addr net.Addr, connected bool) {
		s.callbackMu.RLock()
		cb := s.addrCallback
		s.callbackMu.RUnlock()
		if cb != nil {
			cb(addr, connected)
		}
	})

	if s.bridge != nil {
		s.bridge.Attach()
	}
	sess.OnTeardown(func(sess *call.Session) {
		if s.bridge != nil {
			s.bridge.Detach()
		}
		s.registry.Release(sess)
	})
}

func (s *Service) incomingCall(sess *call.Session) {
	s.callbackMu.RLock()
	cb := s.callCallback
	s.callbackMu.RUnlock()
	if cb != nil {
		cb(sess)
	}
}

// Listen accepts signaling connections on addr. An empty addr listens on
// all interfaces at the configured port.
func (s *Service) Listen(addr string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if addr == "" {
		addr = net.JoinHostPort("", strconv.Itoa(s.options.Port))
	}

	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if s.listener != nil {
		return ErrAlreadyListening
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"address":  ln.Addr().String(),
	}).Info("Listening for calls")

	s.handlers.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Addr returns the listening address, or nil before Listen.
func (s *Service) Addr() net.Addr {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Service) acceptLoop(ln net.Listener) {
	defer s.handlers.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logrus.WithFields(logrus.Fields{
				"function": "acceptLoop",
				"error":    err.Error(),
			}).Warn("Accept failed")
			time.Sleep(s.settings.PollInterval)
			continue
		}

		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.router.Handle(conn)
		}()
	}
}

// Sessions returns the calls currently in progress.
func (s *Service) Sessions() []*call.Session {
	return s.registry.Active()
}

// Session returns the tracked session with id.
func (s *Service) Session(id string) (*call.Session, bool) {
	return s.registry.Find(id)
}

// Close hangs up every call, stops listening and waits a bounded time for
// background work.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()

	s.listenMu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.listenMu.Unlock()

	for _, sess := range s.registry.Active() {
		sess.Hangup()
	}

	wait := 2 * s.settings.TeardownWait
	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
		logrus.WithFields(logrus.Fields{
			"function": "Close",
			"wait":     wait.String(),
		}).Warn("Connection handlers still running")
	}
	s.pool.Wait(s.settings.TeardownWait)

	logrus.WithFields(logrus.Fields{
		"function": "Close",
	}).Info("Service closed")
	return err
}
