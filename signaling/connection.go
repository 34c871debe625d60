package signaling

import (
	"sync"
	"time"

	ws "github.com/fasthttp/websocket"
)

// ConnState is the lifecycle position of one push connection.
type ConnState int

const (
	// StateConnecting: transport open, identity unknown.
	StateConnecting ConnState = iota
	// StateAuthenticated: registered under its user's connection set.
	StateAuthenticated
	// StateClosed: transport closed normally, removed.
	StateClosed
	// StateTimedOut: liveness deadline exceeded, forcibly closed.
	StateTimedOut
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// transport is the byte-frame surface the hub needs from a websocket
// (or the SSE adapter). *websocket.Conn satisfies it.
type transport interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Connection is one live tab or device. Mutable fields are guarded by
// the hub's lock; the send channel decouples fan-out from slow writers.
type Connection struct {
	id          string
	userID      string
	state       ConnState
	transport   transport
	send        chan []byte
	done        chan struct{}
	connectedAt time.Time
	lastSeen    time.Time
	pushOnly    bool // SSE: no inbound messages, exempt from liveness

	closeOnce sync.Once
}

// ID returns the connection's identifier, for logs.
func (c *Connection) ID() string { return c.id }

// UserID returns the owning user, empty until authenticated.
func (c *Connection) UserID() string { return c.userID }

// Done closes when the connection is torn down; stream pumps select on
// it.
func (c *Connection) Done() <-chan struct{} { return c.done }

// trySend enqueues without blocking; a full buffer drops the frame for
// this connection only.
func (c *Connection) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close sends a close frame with the given code and tears the
// transport down, exactly once.
func (c *Connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(time.Second)
		c.transport.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(code, reason), deadline)
		c.transport.Close()
	})
}

// writeLoop drains the send buffer onto the transport until the
// connection dies. Runs in its own goroutine per connection.
func (c *Connection) writeLoop(onDead func(*Connection)) {
	for {
		select {
		case msg := <-c.send:
			if err := c.transport.WriteMessage(ws.TextMessage, msg); err != nil {
				onDead(c)
				return
			}
		case <-c.done:
			return
		}
	}
}
