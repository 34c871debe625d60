package web

import (
	"github.com/gofiber/fiber/v2"

	"tidemail/handlers/api"
	"tidemail/mailsync"
	"tidemail/models"
	"tidemail/storage"
	"tidemail/utils"
)

// InboxHandler renders the inbox page. The page paints from the local
// cache only; the client script then posts a sync and listens for push
// signals to refresh.
type InboxHandler struct {
	sync     *mailsync.Coordinator
	users    *storage.UserStorage
	accounts *storage.AccountStorage
}

// NewInboxHandler creates the handler.
func NewInboxHandler(sync *mailsync.Coordinator, users *storage.UserStorage, accounts *storage.AccountStorage) *InboxHandler {
	return &InboxHandler{sync: sync, users: users, accounts: accounts}
}

// HandleInbox renders the main inbox page
func (h *InboxHandler) HandleInbox(c *fiber.Ctx) error {
	userID := api.CurrentUserID(c)

	accounts, err := h.accounts.AccountsByUser(userID)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return c.Render("inbox", fiber.Map{
			"Username":  api.CurrentUsername(c),
			"Accounts":  accounts,
			"Token":     api.PushToken(c),
			"CSRFToken": c.Locals("csrf"),
		})
	}

	selected := h.selectAccount(accounts, c.Query("account"))

	cached, err := h.sync.CachedInbox(c.Context(), userID, selected.Code, mailsync.DefaultMailbox)
	if err != nil {
		utils.Log.Warn("Failed to load cached inbox for %s: %v", selected.Code, err)
		cached = &mailsync.CachedResult{}
	}

	settings, err := h.users.GetInboxSettings(userID)
	if err != nil {
		settings = models.DefaultInboxSettings(userID)
	}

	return c.Render("inbox", fiber.Map{
		"Username":     api.CurrentUsername(c),
		"Accounts":     accounts,
		"Account":      selected,
		"Mails":        cached.Mails,
		"Total":        cached.Total,
		"LastSyncedAt": cached.LastSyncedAt,
		"Settings":     settings,
		"Token":        api.PushToken(c),
		"CSRFToken":    c.Locals("csrf"),
	})
}

// selectAccount picks the account the page should show: the one named
// in the query, else the default, else the first.
func (h *InboxHandler) selectAccount(accounts []models.Account, code string) *models.Account {
	if code != "" {
		for i := range accounts {
			if accounts[i].Code == code {
				return &accounts[i]
			}
		}
	}
	for i := range accounts {
		if accounts[i].IsDefault {
			return &accounts[i]
		}
	}
	return &accounts[0]
}
