package signaling

import (
	"time"

	"tidemail/models"
)

// Table names carried by sync_required frames.
const (
	TableInboxMails = "inbox_mails"
	TableSettings   = "settings"
)

// Dispatcher is the only producer of wire payloads: callers emit named
// domain events and the mapping to debounced vs immediate delivery
// lives here.
type Dispatcher struct {
	hub *Hub
}

// NewDispatcher wraps the hub.
func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{hub: hub}
}

// MailSynced reports a completed sync to all of the user's tabs
// immediately; batching a completion notice would be misleading.
func (d *Dispatcher) MailSynced(userID, accountCode, mailbox string, fetched, cached int, totalOnServer uint32) {
	d.hub.SendToUser(userID, InboxSyncCompleteEvent{
		AccountCode: accountCode,
		Mailbox:     mailbox,
		Fetched:     fetched,
		Cached:      cached,
		Total:       totalOnServer,
	})
}

// NewInboxMail announces freshly arrived mail immediately.
func (d *Dispatcher) NewInboxMail(userID, accountCode string, count int) {
	d.hub.SendToUser(userID, InboxNewMailEvent{
		AccountCode: accountCode,
		Count:       count,
	})
}

// InboxChanged queues a debounced resync hint; bursts within the
// window collapse into one sync_required frame.
func (d *Dispatcher) InboxChanged(userID string, tables []string, since time.Time) {
	if len(tables) == 0 {
		tables = []string{TableInboxMails}
	}
	if since.IsZero() {
		since = time.Now()
	}
	d.hub.SignalUser(userID, tables, since)
}

// SettingsChanged pushes the saved settings to every tab immediately
// so stale forms update at once.
func (d *Dispatcher) SettingsChanged(userID string, settings models.InboxSettings) {
	d.hub.SendToUser(userID, SettingsUpdatedEvent{Settings: settings})
}

// BroadcastChanged queues a debounced resync hint for every connected
// user; reserved for system-wide changes.
func (d *Dispatcher) BroadcastChanged(tables []string, since time.Time) {
	if len(tables) == 0 {
		tables = []string{TableInboxMails}
	}
	if since.IsZero() {
		since = time.Now()
	}
	d.hub.Broadcast(tables, since)
}
