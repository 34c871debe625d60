package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"tidemail/utils"
)

// Locals keys populated by SessionMiddleware.
const (
	LocalsUserID   = "userId"
	LocalsUsername = "username"
	LocalsToken    = "pushToken"
)

// WantsJSON reports whether the client expects a JSON response rather
// than a rendered page.
func WantsJSON(c *fiber.Ctx) bool {
	if c == nil {
		return false
	}
	if c.Get("HX-Request") != "" {
		return true
	}
	if strings.Contains(c.Get(fiber.HeaderAccept), fiber.MIMEApplicationJSON) {
		return true
	}
	path := c.Path()
	return strings.HasPrefix(path, "/api") || strings.HasPrefix(path, "/inbox/")
}

// SessionMiddleware guards protected routes. The session carries a JWT
// issued at login; validating it here means a revoked or expired token
// cannot ride a stale cookie. The user identity lands in locals for
// downstream handlers.
func SessionMiddleware(store *session.Store, jwtSecret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := store.Get(c)
		if err != nil {
			return rejectUnauthenticated(c, "session unavailable")
		}

		authenticated, _ := sess.Get("authenticated").(bool)
		token, _ := sess.Get("token").(string)
		if !authenticated || token == "" {
			return rejectUnauthenticated(c, "not signed in")
		}

		claims, err := utils.ValidateToken(token, jwtSecret)
		if err != nil {
			sess.Destroy()
			return rejectUnauthenticated(c, "session expired")
		}

		c.Locals(LocalsUserID, claims.UserID)
		c.Locals(LocalsUsername, claims.Username)
		c.Locals(LocalsToken, token)
		return c.Next()
	}
}

func rejectUnauthenticated(c *fiber.Ctx, reason string) error {
	if WantsJSON(c) {
		return utils.AuthError(reason, nil)
	}
	return c.Redirect("/login")
}

// CurrentUserID returns the authenticated user's ID.
func CurrentUserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalsUserID).(string)
	return id
}

// CurrentUsername returns the authenticated user's name.
func CurrentUsername(c *fiber.Ctx) string {
	name, _ := c.Locals(LocalsUsername).(string)
	return name
}

// PushToken returns the JWT browser tabs use to authenticate their
// push connection.
func PushToken(c *fiber.Ctx) string {
	token, _ := c.Locals(LocalsToken).(string)
	return token
}
