package web

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"tidemail/handlers/api"
	"tidemail/models"
	"tidemail/signaling"
	"tidemail/storage"
	"tidemail/utils"
)

// SettingsHandler renders and saves the settings page: profile
// language plus the inbox cache limit.
type SettingsHandler struct {
	users    *storage.UserStorage
	accounts *storage.AccountStorage
	signals  *signaling.Dispatcher
}

// NewSettingsHandler creates the handler.
func NewSettingsHandler(users *storage.UserStorage, accounts *storage.AccountStorage, signals *signaling.Dispatcher) *SettingsHandler {
	return &SettingsHandler{users: users, accounts: accounts, signals: signals}
}

// ShowSettings renders the settings page
func (h *SettingsHandler) ShowSettings(c *fiber.Ctx) error {
	userID := api.CurrentUserID(c)

	user, err := h.users.GetUser(userID)
	if err != nil {
		return err
	}
	if user.Language == "" {
		user.Language = "en"
	}

	accounts, err := h.accounts.AccountsByUser(userID)
	if err != nil {
		accounts = []models.Account{}
	}

	settings, err := h.users.GetInboxSettings(userID)
	if err != nil {
		settings = models.DefaultInboxSettings(userID)
	}

	return c.Render("settings", fiber.Map{
		"Username":  api.CurrentUsername(c),
		"User":      user,
		"Accounts":  accounts,
		"Settings":  settings,
		"Languages": utils.SupportedLanguages,
		"MinLimit":  models.MinCacheLimit,
		"MaxLimit":  models.MaxCacheLimit,
		"CSRFToken": c.Locals("csrf"),
	})
}

// HandleUpdate saves the settings form.
func (h *SettingsHandler) HandleUpdate(c *fiber.Ctx) error {
	userID := api.CurrentUserID(c)

	user, err := h.users.GetUser(userID)
	if err != nil {
		return err
	}

	if language := c.FormValue("language"); utils.IsSupportedLanguage(language) {
		user.Language = language
		if err := h.users.UpdateUser(user); err != nil {
			return err
		}
		c.Cookie(&fiber.Cookie{Name: "lang", Value: language, Path: "/"})
	}

	limit, err := strconv.Atoi(c.FormValue("inbox_cache_limit"))
	if err != nil {
		return utils.ValidationError("invalid cache limit", err)
	}
	saved, err := h.users.SaveInboxSettings(models.InboxSettings{
		UserID:          userID,
		InboxCacheLimit: limit,
	})
	if err != nil {
		return err
	}
	if h.signals != nil {
		h.signals.SettingsChanged(userID, saved)
	}

	return c.Redirect("/settings")
}
