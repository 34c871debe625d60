package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"

	"github.com/gofiber/fiber/v2"

	"tidemail/utils"
)

// CSRFConfig holds CSRF protection configuration.
type CSRFConfig struct {
	TokenLength  int
	CookieName   string
	HeaderName   string
	FormField    string
	ContextKey   string
	CookieMaxAge int
	Skipper      func(*fiber.Ctx) bool
}

// DefaultCSRFConfig returns default CSRF configuration.
func DefaultCSRFConfig() CSRFConfig {
	return CSRFConfig{
		TokenLength:  32,
		CookieName:   "csrf_token",
		HeaderName:   "X-CSRF-Token",
		FormField:    "_csrf",
		ContextKey:   "csrf",
		CookieMaxAge: 3600,
		Skipper:      nil,
	}
}

// CSRFProtection issues a double-submit cookie on safe requests and
// verifies it on mutating ones. The token is exposed via Locals so
// page templates can embed it; API clients echo it in a header.
func CSRFProtection(config ...CSRFConfig) fiber.Handler {
	cfg := DefaultCSRFConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	return func(c *fiber.Ctx) error {
		if cfg.Skipper != nil && cfg.Skipper(c) {
			return c.Next()
		}

		cookieToken := c.Cookies(cfg.CookieName)

		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			if cookieToken == "" {
				cookieToken = issueToken(c, cfg)
			}
			c.Locals(cfg.ContextKey, cookieToken)
			return c.Next()
		}

		sent := c.Get(cfg.HeaderName)
		if sent == "" {
			sent = c.FormValue(cfg.FormField)
		}

		if cookieToken == "" || sent == "" {
			return utils.NewAppError(fiber.StatusForbidden, utils.KindAuth, "CSRF token missing", nil)
		}
		if subtle.ConstantTimeCompare([]byte(cookieToken), []byte(sent)) != 1 {
			return utils.NewAppError(fiber.StatusForbidden, utils.KindAuth, "CSRF token mismatch", nil)
		}

		c.Locals(cfg.ContextKey, cookieToken)
		return c.Next()
	}
}

// issueToken generates a fresh token and sets the cookie.
func issueToken(c *fiber.Ctx, cfg CSRFConfig) string {
	b := make([]byte, cfg.TokenLength)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	token := base64.URLEncoding.EncodeToString(b)

	c.Cookie(&fiber.Cookie{
		Name:     cfg.CookieName,
		Value:    token,
		MaxAge:   cfg.CookieMaxAge,
		HTTPOnly: true,
		SameSite: "Strict",
	})
	return token
}
