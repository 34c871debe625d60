package signaling

import (
	"encoding/json"
	"testing"
	"time"
)

func decodeFrame(t *testing.T, e Event) map[string]interface{} {
	t.Helper()
	data, err := encodeEvent(e)
	if err != nil {
		t.Fatalf("encodeEvent(%T): %v", e, err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decoding %T frame: %v", e, err)
	}
	return m
}

func TestEncodeEventTypes(t *testing.T) {
	cases := []struct {
		event Event
		want  string
	}{
		{ConnectedEvent{}, "connected"},
		{PongEvent{}, "pong"},
		{HeartbeatEvent{}, "heartbeat"},
		{ErrorEvent{Message: "x"}, "error"},
		{SyncRequiredEvent{Tables: []string{"inbox_mails"}, Since: time.Now()}, "sync_required"},
		{InboxSyncCompleteEvent{}, "inbox_sync_complete"},
		{SettingsUpdatedEvent{}, "settings_updated"},
		{InboxNewMailEvent{}, "inbox_new_mail"},
	}
	for _, tc := range cases {
		frame := decodeFrame(t, tc.event)
		if frame["type"] != tc.want {
			t.Errorf("%T encodes as %v, want %s", tc.event, frame["type"], tc.want)
		}
		if _, ok := frame["timestamp"]; !ok {
			t.Errorf("%T frame has no timestamp", tc.event)
		}
	}
}

func TestEncodeSyncRequired(t *testing.T) {
	since := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	frame := decodeFrame(t, SyncRequiredEvent{Tables: []string{"inbox_mails", "settings"}, Since: since})

	tables, ok := frame["tables"].([]interface{})
	if !ok || len(tables) != 2 {
		t.Fatalf("tables = %v, want both entries", frame["tables"])
	}
	parsed, err := time.Parse(time.RFC3339Nano, frame["since"].(string))
	if err != nil {
		t.Fatalf("parsing since: %v", err)
	}
	if !parsed.Equal(since) {
		t.Errorf("since = %v, want %v", parsed, since)
	}
}

func TestEncodeSimpleEventsCarryNoPayload(t *testing.T) {
	for _, e := range []Event{ConnectedEvent{}, PongEvent{}, HeartbeatEvent{}} {
		frame := decodeFrame(t, e)
		for _, field := range []string{"tables", "since", "message", "data"} {
			if _, ok := frame[field]; ok {
				t.Errorf("%T frame carries unexpected field %s", e, field)
			}
		}
	}
}

func TestDecodeClientMessage(t *testing.T) {
	var msg clientMessage
	if err := json.Unmarshal([]byte(`{"type":"auth","token":"abc"}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != messageAuth || msg.Token != "abc" {
		t.Errorf("decoded %+v, want auth with token abc", msg)
	}
}
