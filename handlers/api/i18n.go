package api

import (
	"github.com/gofiber/fiber/v2"

	"tidemail/utils"
)

// I18nHandler serves translation strings to the client-side scripts.
type I18nHandler struct{}

// HandleTranslations returns the client-facing strings for a locale.
func (h *I18nHandler) HandleTranslations(c *fiber.Ctx) error {
	lang := c.Params("lang")
	if !utils.IsSupportedLanguage(lang) {
		lang = "en"
	}

	localizer := utils.GetLocalizer(lang)

	keys := []string{
		"inbox_syncing",
		"inbox_synced",
		"inbox_sync_failed",
		"inbox_new_mail",
		"inbox_no_messages",
		"inbox_loading",
		"search_no_results",
		"search_widened",
		"push_reconnecting",
		"push_offline",
		"settings_saved",
		"error_network",
		"error_auth",
		"error_server",
	}

	translations := make(map[string]string, len(keys))
	for _, key := range keys {
		translations[key] = utils.T(localizer, key)
	}

	return c.JSON(translations)
}
