package signaling

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	ws "github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"tidemail/config"
	"tidemail/utils"
)

// TokenVerifier turns an auth token into a user ID.
type TokenVerifier func(token string) (string, error)

// pendingSignal aggregates debounced changes for one user: the union
// of changed tables and the earliest change time.
type pendingSignal struct {
	tables map[string]struct{}
	since  time.Time
}

// Hub owns every live push connection. All registry and pending-signal
// mutations are serialized under one mutex; fan-out happens on
// snapshots outside it. A disabled hub turns every call into a no-op
// so the rest of the system runs pull-only.
type Hub struct {
	cfg    config.SignalingConfig
	verify TokenVerifier

	mu         sync.Mutex
	conns      map[string]map[*Connection]struct{}
	connecting map[*Connection]struct{}
	pending    map[string]*pendingSignal
	closed     bool

	timers        timerSet
	enabled       bool
	heartbeatDone chan struct{}
}

// NewHub builds the hub. It is inert until Start; with cfg.Enabled
// false or a nil verifier it stays disabled and every signal call is a
// silent no-op.
func NewHub(cfg config.SignalingConfig, verify TokenVerifier) *Hub {
	h := &Hub{
		cfg:           cfg,
		verify:        verify,
		conns:         make(map[string]map[*Connection]struct{}),
		connecting:    make(map[*Connection]struct{}),
		pending:       make(map[string]*pendingSignal),
		heartbeatDone: make(chan struct{}),
	}
	h.enabled = cfg.Enabled && verify != nil
	return h
}

// Start launches the heartbeat loop. Returns false when the hub is
// disabled; callers keep running without push.
func (h *Hub) Start() bool {
	if !h.enabled {
		utils.Log.Warn("Signaling disabled, running pull-only")
		return false
	}
	go h.heartbeatLoop()
	utils.Log.Info("Signaling hub started (heartbeat %s, liveness %s, debounce %s, max %d conns/user)",
		h.cfg.HeartbeatInterval(), h.cfg.LivenessTimeout(), h.cfg.DebounceWindow(), h.cfg.MaxConnections)
	return true
}

// Enabled reports whether push is available.
func (h *Hub) Enabled() bool {
	return h.enabled
}

// HandleConnection runs the full lifecycle for one inbound transport:
// admission ack, auth handshake, read loop. It blocks until the
// connection dies, matching how websocket handlers are invoked.
func (h *Hub) HandleConnection(t transport) {
	if !h.enabled {
		t.Close()
		return
	}

	conn := h.admit(t)
	if conn == nil {
		t.Close()
		return
	}

	h.enqueueEvent(conn, ConnectedEvent{})
	h.readLoop(conn)
}

// admit registers a transport in the Connecting state and starts its
// writer.
func (h *Hub) admit(t transport) *Connection {
	now := time.Now()
	conn := &Connection{
		id:          uuid.New().String(),
		state:       StateConnecting,
		transport:   t,
		send:        make(chan []byte, h.sendBuffer()),
		done:        make(chan struct{}),
		connectedAt: now,
		lastSeen:    now,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.connecting[conn] = struct{}{}
	h.mu.Unlock()

	go conn.writeLoop(func(c *Connection) { h.drop(c, StateClosed, ws.CloseGoingAway, "write failed") })
	utils.Log.Debug("Connection %s admitted", conn.id)
	return conn
}

func (h *Hub) readLoop(conn *Connection) {
	for {
		_, data, err := conn.transport.ReadMessage()
		if err != nil {
			h.drop(conn, StateClosed, ws.CloseNormalClosure, "")
			return
		}
		h.handleMessage(conn, data)
	}
}

// handleMessage processes one client frame. Bad frames produce an
// error event; the connection stays open so the client can retry.
func (h *Hub) handleMessage(conn *Connection, data []byte) {
	h.mu.Lock()
	conn.lastSeen = time.Now()
	h.mu.Unlock()

	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.enqueueEvent(conn, ErrorEvent{Message: "malformed message"})
		return
	}

	switch msg.Type {
	case messageAuth:
		h.authenticate(conn, msg.Token)
	case messagePing:
		h.enqueueEvent(conn, PongEvent{})
	default:
		h.enqueueEvent(conn, ErrorEvent{Message: "unknown message type"})
	}
}

// authenticate moves a connection into its user's set, evicting the
// oldest connection when the per-user cap is hit.
func (h *Hub) authenticate(conn *Connection, token string) {
	userID, err := h.verify(token)
	if err != nil || userID == "" {
		utils.Log.Warn("Connection %s auth rejected: %v", conn.id, err)
		h.enqueueEvent(conn, ErrorEvent{Message: "authentication failed"})
		return
	}

	var evicted *Connection

	h.mu.Lock()
	if h.closed || conn.state != StateConnecting {
		h.mu.Unlock()
		return
	}
	delete(h.connecting, conn)
	conn.userID = userID
	conn.state = StateAuthenticated
	conn.lastSeen = time.Now()

	set := h.conns[userID]
	if set == nil {
		set = make(map[*Connection]struct{})
		h.conns[userID] = set
	}
	if len(set) >= h.maxConnections() {
		evicted = oldestConnection(set)
		if evicted != nil {
			delete(set, evicted)
			evicted.state = StateClosed
		}
	}
	set[conn] = struct{}{}
	h.mu.Unlock()

	if evicted != nil {
		evicted.close(ws.CloseNormalClosure, "connection replaced")
		utils.Log.Debug("Evicted oldest connection %s for user %s", evicted.id, userID)
	}
	utils.Log.Info("Connection %s authenticated for user %s", conn.id, userID)
}

// drop removes a connection from the registry and closes it. Removing
// a user's last connection discards any pending debounced signal.
func (h *Hub) drop(conn *Connection, terminal ConnState, code int, reason string) {
	h.mu.Lock()
	switch conn.state {
	case StateAuthenticated:
		set := h.conns[conn.userID]
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, conn.userID)
			delete(h.pending, conn.userID)
			h.timers.Cancel(conn.userID)
		}
	case StateConnecting:
		delete(h.connecting, conn)
	default:
		h.mu.Unlock()
		return
	}
	conn.state = terminal
	h.mu.Unlock()

	conn.close(code, reason)
	utils.Log.Debug("Connection %s dropped (%s)", conn.id, terminal)
}

// SignalUser aggregates a debounced change for the user: tables are
// unioned, since keeps the earliest value, and the window restarts.
// Exactly one sync_required frame is delivered per window.
func (h *Hub) SignalUser(userID string, tables []string, since time.Time) {
	if !h.enabled {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	p := h.pending[userID]
	if p == nil {
		p = &pendingSignal{tables: make(map[string]struct{}), since: since}
		h.pending[userID] = p
	} else if since.Before(p.since) {
		p.since = since
	}
	for _, t := range tables {
		p.tables[t] = struct{}{}
	}
	h.mu.Unlock()

	h.timers.Arm(userID, h.cfg.DebounceWindow(), func() { h.flushPending(userID) })
}

// flushPending delivers the aggregated sync_required event to every
// live connection of the user and clears the pending state.
func (h *Hub) flushPending(userID string) {
	h.mu.Lock()
	p := h.pending[userID]
	delete(h.pending, userID)
	if p == nil || h.closed {
		h.mu.Unlock()
		return
	}
	targets := h.userConnsLocked(userID)
	h.mu.Unlock()

	tables := make([]string, 0, len(p.tables))
	for t := range p.tables {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	h.deliver(targets, SyncRequiredEvent{Tables: tables, Since: p.since})
}

// SendToUser bypasses debouncing and delivers the event to every live
// connection of the user at once.
func (h *Hub) SendToUser(userID string, event Event) {
	if !h.enabled {
		return
	}
	h.mu.Lock()
	targets := h.userConnsLocked(userID)
	h.mu.Unlock()

	h.deliver(targets, event)
}

// Broadcast applies the debounced signal path to every currently
// connected user.
func (h *Hub) Broadcast(tables []string, since time.Time) {
	if !h.enabled {
		return
	}
	h.mu.Lock()
	users := make([]string, 0, len(h.conns))
	for userID := range h.conns {
		users = append(users, userID)
	}
	h.mu.Unlock()

	for _, userID := range users {
		h.SignalUser(userID, tables, since)
	}
}

// deliver fans an encoded event out to the targets; a dead or slow
// connection never blocks the rest.
func (h *Hub) deliver(targets []*Connection, event Event) {
	if len(targets) == 0 {
		return
	}
	data, err := encodeEvent(event)
	if err != nil {
		utils.Log.Error("Failed to encode %T event: %v", event, err)
		return
	}
	for _, conn := range targets {
		if !conn.trySend(data) {
			utils.Log.Warn("Send buffer full for connection %s, frame dropped", conn.id)
		}
	}
}

func (h *Hub) enqueueEvent(conn *Connection, event Event) {
	data, err := encodeEvent(event)
	if err != nil {
		utils.Log.Error("Failed to encode %T event: %v", event, err)
		return
	}
	conn.trySend(data)
}

func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-h.heartbeatDone:
			return
		case <-ticker.C:
			h.pushHeartbeat()
			h.reapStale(time.Now())
		}
	}
}

// pushHeartbeat sends a heartbeat frame to every open connection,
// authenticated or not.
func (h *Hub) pushHeartbeat() {
	h.mu.Lock()
	targets := h.allConnsLocked()
	h.mu.Unlock()

	h.deliver(targets, HeartbeatEvent{})
}

// reapStale force-closes connections whose last liveness mark is older
// than the timeout, regardless of state. SSE connections are exempt;
// their stream loop detects death on write.
func (h *Hub) reapStale(now time.Time) {
	deadline := h.cfg.LivenessTimeout()

	h.mu.Lock()
	var stale []*Connection
	for _, conn := range h.allConnsLocked() {
		if conn.pushOnly {
			continue
		}
		if now.Sub(conn.lastSeen) > deadline {
			stale = append(stale, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range stale {
		utils.Log.Info("Connection %s timed out (last seen %s ago)", conn.id, now.Sub(conn.lastSeen).Round(time.Second))
		h.drop(conn, StateTimedOut, ws.CloseGoingAway, "liveness timeout")
	}
}

// Shutdown tears the hub down deterministically: stop the heartbeat,
// cancel every debounce timer, then close all connections with a
// normal-closure code. The HTTP listener is closed by the server.
func (h *Hub) Shutdown() {
	if !h.enabled {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	close(h.heartbeatDone)
	h.timers.CancelAll()

	h.mu.Lock()
	targets := h.allConnsLocked()
	h.conns = make(map[string]map[*Connection]struct{})
	h.connecting = make(map[*Connection]struct{})
	h.pending = make(map[string]*pendingSignal)
	h.mu.Unlock()

	for _, conn := range targets {
		conn.close(ws.CloseNormalClosure, "server shutting down")
	}
	utils.Log.Info("Signaling hub shut down (%d connections closed)", len(targets))
}

// ConnectionCount returns how many live authenticated connections the
// user has.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns[userID])
}

// TotalConnections counts every open connection, including ones still
// authenticating.
func (h *Hub) TotalConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.connecting)
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

func (h *Hub) userConnsLocked(userID string) []*Connection {
	set := h.conns[userID]
	targets := make([]*Connection, 0, len(set))
	for conn := range set {
		targets = append(targets, conn)
	}
	return targets
}

func (h *Hub) allConnsLocked() []*Connection {
	var targets []*Connection
	for conn := range h.connecting {
		targets = append(targets, conn)
	}
	for _, set := range h.conns {
		for conn := range set {
			targets = append(targets, conn)
		}
	}
	return targets
}

func (h *Hub) maxConnections() int {
	if h.cfg.MaxConnections > 0 {
		return h.cfg.MaxConnections
	}
	return 5
}

func (h *Hub) sendBuffer() int {
	if h.cfg.SendBufferMessages > 0 {
		return h.cfg.SendBufferMessages
	}
	return 16
}

func oldestConnection(set map[*Connection]struct{}) *Connection {
	var oldest *Connection
	for conn := range set {
		if oldest == nil || conn.connectedAt.Before(oldest.connectedAt) {
			oldest = conn
		}
	}
	return oldest
}
