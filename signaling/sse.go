package signaling

import (
	"io"
	"sync"
	"time"

	ws "github.com/fasthttp/websocket"
	"github.com/google/uuid"
)

// sseTransport adapts the hub's frame-oriented transport onto a
// server-sent-events stream. Inbound messages do not exist; the stream
// pump drains out and detects death on flush.
type sseTransport struct {
	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSSETransport(buffer int) *sseTransport {
	return &sseTransport{
		out:  make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (t *sseTransport) ReadMessage() (int, []byte, error) {
	<-t.done
	return 0, nil, io.EOF
}

func (t *sseTransport) WriteMessage(_ int, data []byte) error {
	select {
	case t.out <- data:
		return nil
	case <-t.done:
		return io.ErrClosedPipe
	}
}

func (t *sseTransport) WriteControl(_ int, _ []byte, _ time.Time) error {
	return nil
}

func (t *sseTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// RegisterSSE registers a push-only connection for a user whose
// identity was already established by the HTTP session. It counts
// against the same per-user cap as websockets and returns the frame
// stream the HTTP handler pumps to the client.
func (h *Hub) RegisterSSE(userID string) (*Connection, <-chan []byte, bool) {
	if !h.enabled || userID == "" {
		return nil, nil, false
	}

	t := newSSETransport(h.sendBuffer())
	now := time.Now()
	conn := &Connection{
		id:          uuid.New().String(),
		userID:      userID,
		state:       StateAuthenticated,
		transport:   t,
		send:        make(chan []byte, h.sendBuffer()),
		done:        make(chan struct{}),
		connectedAt: now,
		lastSeen:    now,
		pushOnly:    true,
	}

	var evicted *Connection
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, false
	}
	set := h.conns[userID]
	if set == nil {
		set = make(map[*Connection]struct{})
		h.conns[userID] = set
	}
	if len(set) >= h.maxConnections() {
		if evicted = oldestConnection(set); evicted != nil {
			delete(set, evicted)
			evicted.state = StateClosed
		}
	}
	set[conn] = struct{}{}
	h.mu.Unlock()

	if evicted != nil {
		evicted.close(ws.CloseNormalClosure, "connection replaced")
	}

	go conn.writeLoop(func(c *Connection) { h.drop(c, StateClosed, ws.CloseGoingAway, "write failed") })
	h.enqueueEvent(conn, ConnectedEvent{})

	return conn, t.out, true
}

// CloseSSE drops an SSE connection once its stream ends.
func (h *Hub) CloseSSE(conn *Connection) {
	h.drop(conn, StateClosed, ws.CloseNormalClosure, "")
}
