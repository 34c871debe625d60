package models

import "time"

// Email is one cached message from a remote mailbox. UID is the
// server-assigned per-mailbox identifier; together with the owning
// (user, account, mailbox) key it uniquely identifies the record.
type Email struct {
	UID       uint32   `json:"uid"`
	MessageID string   `json:"message_id,omitempty"`
	From      string   `json:"from"`
	FromName  string   `json:"from_name,omitempty"`
	To        []string `json:"to,omitempty"`
	Cc        []string `json:"cc,omitempty"`
	Bcc       []string `json:"bcc,omitempty"`
	Subject   string   `json:"subject"`

	// Body and HTML may both be empty for messages whose parts could
	// not be decoded; Preview is derived from whichever one exists.
	Body    string `json:"body,omitempty"`
	HTML    string `json:"html,omitempty"`
	Preview string `json:"preview,omitempty"`

	Date    time.Time `json:"date"`
	Seen    bool      `json:"seen"`
	Starred bool      `json:"starred"`

	Attachments []Attachment `json:"attachments,omitempty"`
	Labels      []string     `json:"labels,omitempty"`
}

// Attachment describes an email attachment. The inbox cache keeps
// metadata only, never the content itself.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// HasAttachments reports whether the message carries any attachments.
func (e *Email) HasAttachments() bool {
	return len(e.Attachments) > 0
}
