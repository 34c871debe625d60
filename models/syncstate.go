package models

import (
	"fmt"
	"time"
)

// SyncKey identifies one synchronized mailbox window.
type SyncKey struct {
	UserID      string
	AccountCode string
	Mailbox     string
}

// String renders the key in a stable form usable as a lock key.
func (k SyncKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.UserID, k.AccountCode, k.Mailbox)
}

// SyncState is the durable high-water mark for one SyncKey. LastUID only
// moves forward, and only after a fully successful merge; TotalOnServer
// is the server's message count as of the last sync and may be stale.
type SyncState struct {
	UserID        string    `json:"user_id"`
	AccountCode   string    `json:"account_code"`
	Mailbox       string    `json:"mailbox"`
	LastUID       uint32    `json:"last_uid"`
	TotalOnServer uint32    `json:"total_on_server"`
	LastSyncedAt  time.Time `json:"last_synced_at"`
}

// Key returns the SyncKey this state belongs to.
func (s *SyncState) Key() SyncKey {
	return SyncKey{UserID: s.UserID, AccountCode: s.AccountCode, Mailbox: s.Mailbox}
}
