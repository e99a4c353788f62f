package transport

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/notifeed/notifeed/internal/services/push/feed"
	"github.com/notifeed/notifeed/internal/services/push/registry"
)

// conn is one live websocket connection. It implements registry.Handle.
//
// All network writes happen on the single writer goroutine draining out, so
// a stalled peer can only ever block its own writer, never the dispatcher.
type conn struct {
	id           string
	userID       string
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	out    chan wsFrame
}

func newConn(id string, userID string, ws *websocket.Conn, opts Options) *conn {
	return &conn{
		id:           id,
		userID:       userID,
		ws:           ws,
		writeTimeout: opts.WriteTimeout,
		out:          make(chan wsFrame, opts.QueueDepth),
	}
}

func (c *conn) ID() string {
	return c.id
}

func (c *conn) UserID() string {
	return c.userID
}

// TrySend enqueues one delivery event without blocking. A full queue means
// the peer is not keeping up; the event is dropped for this connection only.
func (c *conn) TrySend(event feed.Event) registry.SendOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return registry.SendGone
	}
	select {
	case c.out <- eventFrame(event):
		return registry.SendQueued
	default:
		return registry.SendDropped
	}
}

// Kick closes the connection proactively. The dropped client recovers via
// its own resynchronization request against the persistence store.
func (c *conn) Kick(reason string) {
	log.Printf("push: closing connection conn=%s user=%s: %s", c.id, c.userID, reason)
	c.close()
}

// enqueue is a best-effort internal send for protocol frames.
func (c *conn) enqueue(frame wsFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- frame:
	default:
	}
}

// close marks the connection closed and ends the writer's queue. Safe to
// call from any goroutine, any number of times.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.out)
	c.mu.Unlock()
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// writeLoop drains the outbound queue onto the wire. It owns the websocket
// teardown: once the queue ends or a write fails, the underlying connection
// is closed, which also unblocks the reader.
func (c *conn) writeLoop() {
	defer func() {
		_ = c.ws.Close()
	}()

	for frame := range c.out {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			c.close()
			return
		}
		if err := websocket.JSON.Send(c.ws, frame); err != nil {
			log.Printf("push: write frame conn=%s user=%s: %v", c.id, c.userID, err)
			c.close()
			return
		}
	}
}

type notificationPayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Read      bool            `json:"read"`
	Archived  bool            `json:"archived"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

type eventEnvelope struct {
	Notification notificationPayload `json:"notification"`
}

func eventFrame(event feed.Event) wsFrame {
	n := event.Notification
	return wsFrame{
		Type: "notification." + string(event.Op),
		Payload: mustJSON(eventEnvelope{
			Notification: notificationPayload{
				ID:        n.ID,
				Type:      n.Type,
				Title:     n.Title,
				Message:   n.Message,
				Payload:   n.Payload,
				Read:      n.Read,
				Archived:  n.Archived,
				CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
				UpdatedAt: n.UpdatedAt.UTC().Format(time.RFC3339),
			},
		}),
	}
}
