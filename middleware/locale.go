package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"tidemail/utils"
)

// LocaleMiddleware detects the request language from the query string,
// a cookie, then the Accept-Language header, and stores a localizer in
// the request context. An explicit ?lang= choice is persisted in the
// cookie.
func LocaleMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		lang := c.Query("lang")
		fromQuery := lang != ""

		if lang == "" {
			lang = c.Cookies("lang")
		}
		if lang == "" {
			lang = matchAcceptLanguage(c.Get("Accept-Language"))
		}
		if !utils.IsSupportedLanguage(lang) {
			lang = "en"
			fromQuery = false
		}

		if fromQuery {
			c.Cookie(&fiber.Cookie{Name: "lang", Value: lang, MaxAge: 365 * 24 * 3600})
		}

		c.Locals("localizer", utils.GetLocalizer(lang))
		c.Locals("lang", lang)

		utils.Log.Debug("Locale detected: %s for path: %s", lang, c.Path())
		return c.Next()
	}
}

// matchAcceptLanguage returns the first supported language named in an
// Accept-Language header, or "en".
func matchAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		for _, lang := range utils.SupportedLanguages {
			if tag == lang || strings.HasPrefix(tag, lang+"-") {
				return lang
			}
		}
	}
	return "en"
}
