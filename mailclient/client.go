// Package mailclient wraps the IMAP connection for one mail account.
// Callers get a logged-in Session with the handful of read operations
// the sync engine needs; connection and login failures are reported
// with the error kinds the HTTP layer maps to status codes.
package mailclient

import (
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"tidemail/models"
	"tidemail/utils"
)

// Session is a logged-in IMAP connection bound to one account.
type Session struct {
	client   *client.Client
	username string
}

// MailboxStatus carries the counters from a SELECT.
type MailboxStatus struct {
	Name        string
	Messages    uint32
	UIDNext     uint32
	UIDValidity uint32
}

// MailboxInfo describes one mailbox from a LIST.
type MailboxInfo struct {
	Name       string   `json:"name"`
	Delimiter  string   `json:"delimiter"`
	Attributes []string `json:"attributes"`
}

// AttachmentData is one attachment's content, fetched on demand and
// never cached.
type AttachmentData struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Connect dials the account's IMAP server over TLS and logs in.
func Connect(creds models.AccountCredentials) (*Session, error) {
	if creds.Protocol != "" && creds.Protocol != models.ProtocolIMAP {
		return nil, utils.ValidationError(fmt.Sprintf("unsupported protocol %q", creds.Protocol), nil)
	}
	if creds.Server == "" || creds.Username == "" {
		return nil, utils.ValidationError("incomplete account credentials", nil)
	}
	port := creds.Port
	if port == 0 {
		port = 993
	}

	addr := fmt.Sprintf("%s:%d", creds.Server, port)
	c, err := client.DialTLS(addr, nil)
	if err != nil {
		utils.Log.Warn("IMAP dial %s failed: %v", addr, err)
		return nil, utils.ConnectionError("failed to connect to mail server", err)
	}

	if err := c.Login(creds.Username, creds.Password); err != nil {
		c.Logout()
		utils.Log.Warn("IMAP login for %s failed: %v", creds.Username, err)
		return nil, utils.AuthError("mail server rejected the credentials", err)
	}

	return &Session{client: c, username: creds.Username}, nil
}

// Close logs out and drops the connection.
func (s *Session) Close() error {
	return s.client.Logout()
}

// Mailbox selects the mailbox read-only and returns its counters.
func (s *Session) Mailbox(name string) (MailboxStatus, error) {
	mbox, err := s.client.Select(name, true)
	if err != nil {
		return MailboxStatus{}, utils.ConnectionError(fmt.Sprintf("failed to open mailbox %s", name), err)
	}
	return MailboxStatus{
		Name:        mbox.Name,
		Messages:    mbox.Messages,
		UIDNext:     mbox.UidNext,
		UIDValidity: mbox.UidValidity,
	}, nil
}

// Mailboxes lists every mailbox on the account.
func (s *Session) Mailboxes() ([]MailboxInfo, error) {
	mailboxChan := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- s.client.List("", "*", mailboxChan)
	}()

	var mailboxes []MailboxInfo
	for mb := range mailboxChan {
		mailboxes = append(mailboxes, MailboxInfo{
			Name:       mb.Name,
			Delimiter:  mb.Delimiter,
			Attributes: mb.Attributes,
		})
	}

	if err := <-done; err != nil {
		return nil, utils.ConnectionError("failed to list mailboxes", err)
	}
	return mailboxes, nil
}

var fetchItems = func() []imap.FetchItem {
	section := &imap.BodySectionName{Peek: true}
	return []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchBodyStructure,
		imap.FetchUid,
		section.FetchItem(),
	}
}()

// FetchWindow retrieves one page of messages, newest first. Page 1 is
// the most recent pageSize messages. The second return value is the
// total number of messages in the mailbox.
func (s *Session) FetchWindow(mailbox string, page, pageSize uint32) ([]models.Email, uint32, error) {
	if pageSize == 0 {
		pageSize = 50
	}
	mbox, err := s.client.Select(mailbox, true)
	if err != nil {
		return nil, 0, utils.ConnectionError(fmt.Sprintf("failed to open mailbox %s", mailbox), err)
	}
	if mbox.Messages == 0 {
		return []models.Email{}, 0, nil
	}

	total := mbox.Messages
	totalPages := (total + pageSize - 1) / pageSize
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	// IMAP sequence numbers grow with age of the mailbox, so the
	// newest page sits at the top of the range.
	end := total - (page-1)*pageSize
	start := uint32(1)
	if end > pageSize {
		start = end - pageSize + 1
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(start, end)

	emails, err := s.fetch(seqSet, false)
	if err != nil {
		return nil, 0, err
	}

	sortNewestFirst(emails)
	return emails, total, nil
}

// FetchSince retrieves every message with UID strictly greater than
// sinceUID, oldest first, plus the mailbox total. A sinceUID of 0
// returns the whole mailbox.
func (s *Session) FetchSince(mailbox string, sinceUID uint32) ([]models.Email, uint32, error) {
	mbox, err := s.client.Select(mailbox, true)
	if err != nil {
		return nil, 0, utils.ConnectionError(fmt.Sprintf("failed to open mailbox %s", mailbox), err)
	}
	if mbox.Messages == 0 {
		return []models.Email{}, 0, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(sinceUID+1, 0) // N:* reaches the newest message

	emails, err := s.fetchUID(seqSet)
	if err != nil {
		return nil, 0, err
	}

	// A UID range past the end of the mailbox still matches the last
	// message, so drop anything at or below the watermark.
	filtered := emails[:0]
	for _, e := range emails {
		if e.UID > sinceUID {
			filtered = append(filtered, e)
		}
	}
	emails = filtered

	sort.Slice(emails, func(i, j int) bool { return emails[i].UID < emails[j].UID })
	return emails, mbox.Messages, nil
}

// SearchSince runs a server-side text search, restricted to messages
// received after since when it is non-zero. It returns matching UIDs in
// ascending order.
func (s *Session) SearchSince(mailbox, query string, since time.Time) ([]uint32, error) {
	if _, err := s.client.Select(mailbox, true); err != nil {
		return nil, utils.ConnectionError(fmt.Sprintf("failed to open mailbox %s", mailbox), err)
	}

	criteria := imap.NewSearchCriteria()
	if query != "" {
		criteria.Text = []string{query}
	}
	if !since.IsZero() {
		criteria.Since = since
	}

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, utils.ProtocolError("mail server rejected the search", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// FetchByUIDs retrieves the given messages, newest first.
func (s *Session) FetchByUIDs(mailbox string, uids []uint32) ([]models.Email, error) {
	if len(uids) == 0 {
		return []models.Email{}, nil
	}
	if _, err := s.client.Select(mailbox, true); err != nil {
		return nil, utils.ConnectionError(fmt.Sprintf("failed to open mailbox %s", mailbox), err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	emails, err := s.fetchUID(seqSet)
	if err != nil {
		return nil, err
	}
	sortNewestFirst(emails)
	return emails, nil
}

// FetchAttachment downloads one attachment of a message by its index
// in the message's attachment list.
func (s *Session) FetchAttachment(mailbox string, uid uint32, index int) (*AttachmentData, error) {
	if index < 0 {
		return nil, utils.ValidationError("attachment index must not be negative", nil)
	}
	if _, err := s.client.Select(mailbox, true); err != nil {
		return nil, utils.ConnectionError(fmt.Sprintf("failed to open mailbox %s", mailbox), err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqSet, []imap.FetchItem{imap.FetchUid, section.FetchItem()}, messages)
	}()

	var msg *imap.Message
	for m := range messages {
		msg = m
	}
	if err := <-done; err != nil {
		return nil, utils.ConnectionError("fetch from mail server failed", err)
	}
	if msg == nil {
		return nil, utils.NotFoundError("message not found", nil)
	}

	var body imap.BodySectionName
	r := msg.GetBody(&body)
	if r == nil {
		return nil, utils.ProtocolError("mail server returned no message body", nil)
	}
	return extractAttachment(r, index)
}

func (s *Session) fetch(seqSet *imap.SeqSet, byUID bool) ([]models.Email, error) {
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		if byUID {
			done <- s.client.UidFetch(seqSet, fetchItems, messages)
		} else {
			done <- s.client.Fetch(seqSet, fetchItems, messages)
		}
	}()

	var emails []models.Email
	for msg := range messages {
		email, err := parseMessage(msg)
		if err != nil {
			// One broken message never fails the batch.
			utils.Log.Warn("Skipping unparseable message uid=%d: %v", msg.Uid, err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, utils.ConnectionError("fetch from mail server failed", err)
	}
	return emails, nil
}

func (s *Session) fetchUID(seqSet *imap.SeqSet) ([]models.Email, error) {
	return s.fetch(seqSet, true)
}

func sortNewestFirst(emails []models.Email) {
	sort.Slice(emails, func(i, j int) bool {
		if emails[i].Date.Equal(emails[j].Date) {
			return emails[i].UID > emails[j].UID
		}
		return emails[i].Date.After(emails[j].Date)
	})
}
