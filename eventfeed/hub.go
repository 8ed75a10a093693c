package eventfeed

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/opd-ai/peercall/call"
	"github.com/opd-ai/peercall/interrupt"
	"github.com/sirupsen/logrus"
)

// Controller carries out commands received on the feed.
type Controller interface {
	Accept(sessionID, answer string) error
	Decline(sessionID string) error
	Hangup(sessionID string) error
	Telephony(state interrupt.TelephonyState)
}

// Hub fans events out to every connected client.
type Hub struct {
	controller Controller
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]bool
	seq     atomic.Int64
}

// NewHub creates a Hub. controller may be nil for a read-only feed.
func NewHub(controller Controller) *Hub {
	return &Hub{
		controller: controller,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*client]bool),
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ServeHTTP",
			"remote":   r.RemoteAddr,
			"error":    err.Error(),
		}).Warn("Websocket upgrade failed")
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.add(c)
	go c.writePump()
	c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "add",
		"remote":   c.conn.RemoteAddr().String(),
		"clients":  n,
	}).Info("Feed client connected")
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// Publish sends ev to every client. Clients whose buffer is full are dropped.
func (h *Hub) Publish(ev Event) {
	ev.Seq = h.seq.Add(1)
	data, err := json.Marshal(ev)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Publish",
			"op":       ev.Op,
			"error":    err.Error(),
		}).Error("Failed to encode event")
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.remove(c)
	}
}

// PublishState reports a session state change.
func (h *Hub) PublishState(s *call.Session, state call.State) {
	h.Publish(Event{
		Op:        OpState,
		Session:   s.ID(),
		Contact:   s.Contact().String(),
		Direction: s.Direction().String(),
		State:     state.String(),
		Category:  state.Category().String(),
	})
}

// PublishIncomingCall reports a ringing incoming call.
func (h *Hub) PublishIncomingCall(s *call.Session) {
	h.Publish(Event{
		Op:        OpIncomingCall,
		Session:   s.ID(),
		Contact:   s.Contact().String(),
		Direction: s.Direction().String(),
		Offer:     s.Offer(),
	})
}

// PublishRemoteAddress reports that a peer address was taken or released.
func (h *Hub) PublishRemoteAddress(addr net.Addr, connected bool) {
	ev := Event{Op: OpRemoteAddress, Connected: connected}
	if addr != nil {
		ev.Address = addr.String()
	}
	h.Publish(ev)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]bool)
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
	}
}
