package api

import (
	"github.com/gofiber/fiber/v2"

	"tidemail/storage"
)

// MailboxHandler lists the mailboxes of an account so clients can sync
// something other than INBOX.
type MailboxHandler struct {
	accounts *storage.AccountStorage
	dial     remoteDial
}

// NewMailboxHandler creates the handler. A nil dialer connects to the
// real mail server.
func NewMailboxHandler(accounts *storage.AccountStorage, dial remoteDial) *MailboxHandler {
	if dial == nil {
		dial = defaultRemoteDial
	}
	return &MailboxHandler{accounts: accounts, dial: dial}
}

// HandleList serves GET /api/mailboxes?accountCode=...
func (h *MailboxHandler) HandleList(c *fiber.Ctx) error {
	creds, err := h.accounts.CredentialsByCode(CurrentUserID(c), c.Query("accountCode"))
	if err != nil {
		return err
	}
	session, err := h.dial(creds)
	if err != nil {
		return err
	}
	defer session.Close()

	mailboxes, err := session.Mailboxes()
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"mailboxes": mailboxes,
	})
}
