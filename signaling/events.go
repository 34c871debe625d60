// Package signaling delivers real-time change notifications to every
// open tab of a user over websockets, with an SSE fallback. The hub
// owns the connection registry, liveness heartbeats and per-user
// debounced signals; the dispatcher is the only place that builds wire
// payloads.
package signaling

import (
	"encoding/json"
	"time"

	"tidemail/models"
)

// Server-to-client frame types.
const (
	EventConnected         = "connected"
	EventPong              = "pong"
	EventHeartbeat         = "heartbeat"
	EventError             = "error"
	EventSyncRequired      = "sync_required"
	EventInboxSyncComplete = "inbox_sync_complete"
	EventSettingsUpdated   = "settings_updated"
	EventInboxNewMail      = "inbox_new_mail"
)

// Client-to-server message types.
const (
	messageAuth = "auth"
	messagePing = "ping"
)

// Event is one server-to-client frame. Each kind is its own variant so
// encoding is exhaustive instead of a bag of optional fields.
type Event interface {
	eventType() string
}

// ConnectedEvent acknowledges a fresh transport before it
// authenticates.
type ConnectedEvent struct{}

// PongEvent answers a client ping.
type PongEvent struct{}

// HeartbeatEvent is pushed on a fixed interval to every connection.
type HeartbeatEvent struct{}

// ErrorEvent reports a rejected client message without closing the
// connection.
type ErrorEvent struct {
	Message string
}

// SyncRequiredEvent tells tabs to refetch the named tables; it is the
// only debounced event.
type SyncRequiredEvent struct {
	Tables []string
	Since  time.Time
}

// InboxSyncCompleteEvent reports a finished sync with its counters.
type InboxSyncCompleteEvent struct {
	AccountCode string `json:"account_code"`
	Mailbox     string `json:"mailbox"`
	Fetched     int    `json:"fetched"`
	Cached      int    `json:"cached"`
	Total       uint32 `json:"total"`
}

// SettingsUpdatedEvent carries the settings as saved.
type SettingsUpdatedEvent struct {
	Settings models.InboxSettings
}

// InboxNewMailEvent announces newly arrived mail for one account.
type InboxNewMailEvent struct {
	AccountCode string `json:"account_code"`
	Count       int    `json:"count"`
}

func (ConnectedEvent) eventType() string         { return EventConnected }
func (PongEvent) eventType() string              { return EventPong }
func (HeartbeatEvent) eventType() string         { return EventHeartbeat }
func (ErrorEvent) eventType() string             { return EventError }
func (SyncRequiredEvent) eventType() string      { return EventSyncRequired }
func (InboxSyncCompleteEvent) eventType() string { return EventInboxSyncComplete }
func (SettingsUpdatedEvent) eventType() string   { return EventSettingsUpdated }
func (InboxNewMailEvent) eventType() string      { return EventInboxNewMail }

// frame is the wire shape shared by every event kind.
type frame struct {
	Type      string      `json:"type"`
	Tables    []string    `json:"tables,omitempty"`
	Since     *time.Time  `json:"since,omitempty"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// encodeEvent renders an event into its JSON frame.
func encodeEvent(e Event) ([]byte, error) {
	f := frame{Type: e.eventType(), Timestamp: time.Now().UTC()}

	switch ev := e.(type) {
	case ConnectedEvent, PongEvent, HeartbeatEvent:
	case ErrorEvent:
		f.Message = ev.Message
	case SyncRequiredEvent:
		f.Tables = ev.Tables
		since := ev.Since
		f.Since = &since
	case InboxSyncCompleteEvent:
		f.Data = ev
	case SettingsUpdatedEvent:
		f.Data = ev.Settings
	case InboxNewMailEvent:
		f.Data = ev
	}

	return json.Marshal(f)
}

// clientMessage is what tabs send us; only auth and ping exist.
type clientMessage struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
}
