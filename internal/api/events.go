package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"samplecart/internal/devices"
	"samplecart/internal/events"
	"samplecart/internal/faults"
	"samplecart/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The listener is loopback by default and guarded by the API token.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient is one /api/events connection. Notifications are queued on send
// by the bus goroutine and written by writePump; a full queue disconnects
// the client.
type wsClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan Frame
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*events.Subscription
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}
	c := &wsClient{
		server: s,
		conn:   conn,
		send:   make(chan Frame, sendBuffer),
		done:   make(chan struct{}),
		logger: s.logger.With(logging.String("remote", r.RemoteAddr)),
		subs:   make(map[string]*events.Subscription),
	}
	s.track(c)
	c.logger.Debug("websocket client connected")
	go c.writePump()
	go c.readPump()
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		for name, sub := range c.subs {
			sub.Unsubscribe()
			delete(c.subs, name)
		}
		c.mu.Unlock()
		_ = c.conn.Close()
		c.server.untrack(c)
		c.logger.Debug("websocket client disconnected")
	})
}

// enqueue never blocks: the caller may be the watcher's delivery goroutine.
func (c *wsClient) enqueue(f Frame) {
	select {
	case <-c.done:
	case c.send <- f:
	default:
		logging.WarnWithContext(c.logger, "websocket client too slow; disconnecting", "websocket_overflow",
			logging.String(logging.FieldErrorHint, "reconnect and resubscribe"),
			logging.String(logging.FieldImpact, "client missed notifications"),
		)
		c.close()
	}
}

func (c *wsClient) handle(msg ClientMessage) {
	switch msg.Op {
	case OpSubscribe:
		c.mu.Lock()
		_, exists := c.subs[msg.Name]
		c.mu.Unlock()
		if exists {
			c.enqueue(Frame{Name: FrameSubscribed, Subject: msg.Name})
			return
		}
		sub, err := c.server.gateway.Subscribe(msg.Name, func(ev devices.Event) {
			c.enqueue(FrameFromEvent(ev))
		})
		if err != nil {
			c.enqueue(Frame{Name: FrameError, Subject: msg.Name, Error: err.Error(), Code: faults.Code(err)})
			return
		}
		c.mu.Lock()
		select {
		case <-c.done:
			c.mu.Unlock()
			sub.Unsubscribe()
			return
		default:
		}
		c.subs[msg.Name] = sub
		c.mu.Unlock()
		c.enqueue(Frame{Name: FrameSubscribed, Subject: msg.Name})
	case OpUnsubscribe:
		c.mu.Lock()
		sub := c.subs[msg.Name]
		delete(c.subs, msg.Name)
		c.mu.Unlock()
		sub.Unsubscribe()
		c.enqueue(Frame{Name: FrameUnsubscribed, Subject: msg.Name})
	default:
		c.enqueue(Frame{Name: FrameError, Subject: msg.Op, Error: "unknown op " + msg.Op, Code: faults.CodeInternal})
	}
}

func (c *wsClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", logging.Error(err))
			}
			return
		}
		c.handle(msg)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.Debug("websocket write failed", logging.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
