package api

import (
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"tidemail/mailclient"
	"tidemail/models"
	"tidemail/storage"
	"tidemail/utils"
)

// remoteSession is the slice of the mail client the live read-through
// handlers need. *mailclient.Session satisfies it.
type remoteSession interface {
	Mailboxes() ([]mailclient.MailboxInfo, error)
	FetchAttachment(mailbox string, uid uint32, index int) (*mailclient.AttachmentData, error)
	Close() error
}

type remoteDial func(creds models.AccountCredentials) (remoteSession, error)

func defaultRemoteDial(creds models.AccountCredentials) (remoteSession, error) {
	return mailclient.Connect(creds)
}

// AttachmentHandler serves attachment content straight from the mail
// server. The cache holds metadata only, so every download is live.
type AttachmentHandler struct {
	accounts *storage.AccountStorage
	dial     remoteDial
}

// NewAttachmentHandler creates the handler. A nil dialer connects to
// the real mail server.
func NewAttachmentHandler(accounts *storage.AccountStorage, dial remoteDial) *AttachmentHandler {
	if dial == nil {
		dial = defaultRemoteDial
	}
	return &AttachmentHandler{accounts: accounts, dial: dial}
}

// HandleDownload serves GET /api/attachment/:code/:uid/:index as a
// file download.
func (h *AttachmentHandler) HandleDownload(c *fiber.Ctx) error {
	return h.serve(c, "attachment")
}

// HandlePreview serves the same content inline, for images and PDFs
// the browser can render itself.
func (h *AttachmentHandler) HandlePreview(c *fiber.Ctx) error {
	return h.serve(c, "inline")
}

func (h *AttachmentHandler) serve(c *fiber.Ctx, disposition string) error {
	uid, err := strconv.ParseUint(c.Params("uid"), 10, 32)
	if err != nil {
		return utils.ValidationError("invalid message uid", err)
	}
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return utils.ValidationError("invalid attachment index", err)
	}
	mailbox := c.Query("mailbox")
	if mailbox == "" {
		mailbox = "INBOX"
	}

	creds, err := h.accounts.CredentialsByCode(CurrentUserID(c), c.Params("code"))
	if err != nil {
		return err
	}
	session, err := h.dial(creds)
	if err != nil {
		return err
	}
	defer session.Close()

	attachment, err := session.FetchAttachment(mailbox, uint32(uid), index)
	if err != nil {
		return err
	}

	c.Set("Content-Type", attachment.ContentType)
	c.Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, attachment.Filename))
	return c.Send(attachment.Content)
}
