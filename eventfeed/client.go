package eventfeed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opd-ai/peercall/interrupt"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{
					"function": "readPump",
					"error":    err.Error(),
				}).Debug("Feed client closed unexpectedly")
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			c.reply(Event{Op: OpError, Error: "invalid event"})
			continue
		}
		c.handle(ev)
	}
}

func (c *client) handle(ev Event) {
	if ev.Op == OpHeartbeat {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.reply(Event{Op: OpAck})
		return
	}

	ctl := c.hub.controller
	if ctl == nil {
		c.reply(Event{Op: OpError, Error: "feed is read-only"})
		return
	}

	var err error
	switch ev.Op {
	case OpAccept:
		err = ctl.Accept(ev.Session, ev.Answer)
	case OpDecline:
		err = ctl.Decline(ev.Session)
	case OpHangup:
		err = ctl.Hangup(ev.Session)
	case OpTelephony:
		var state interrupt.TelephonyState
		state, err = interrupt.ParseState(ev.Telephony)
		if err == nil {
			ctl.Telephony(state)
		}
	default:
		c.reply(Event{Op: OpError, Error: "unknown op " + ev.Op})
		return
	}

	if err != nil {
		c.reply(Event{Op: OpError, Session: ev.Session, Error: err.Error()})
		return
	}
	c.reply(Event{Op: OpAck, Session: ev.Session})
}

// reply queues ev for this client only.
func (c *client) reply(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.write(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.write(websocket.CloseMessage, nil)
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
