package web

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"tidemail/config"
	"tidemail/storage"
	"tidemail/utils"
)

// AuthHandler serves the login and registration pages and manages the
// session lifecycle around them.
type AuthHandler struct {
	store  *session.Store
	config *config.Config
	users  *storage.UserStorage
}

// NewAuthHandler creates a new instance of AuthHandler
func NewAuthHandler(store *session.Store, cfg *config.Config, users *storage.UserStorage) *AuthHandler {
	return &AuthHandler{store: store, config: cfg, users: users}
}

// ShowLogin renders the login page
func (h *AuthHandler) ShowLogin(c *fiber.Ctx) error {
	if h.isAuthenticated(c) {
		return c.Redirect("/inbox")
	}
	return c.Render("login", fiber.Map{
		"CSRFToken": c.Locals("csrf"),
	})
}

// HandleLogin processes the login form
func (h *AuthHandler) HandleLogin(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return c.Status(500).SendString("Session error")
	}

	username := strings.TrimSpace(c.FormValue("username"))
	password := c.FormValue("password")

	if username == "" || password == "" {
		return c.Status(400).Render("login", fiber.Map{
			"Error":     "Username and password are required",
			"Username":  username,
			"CSRFToken": c.Locals("csrf"),
		})
	}

	user, err := h.users.Authenticate(username, password)
	if err != nil {
		return c.Status(401).Render("login", fiber.Map{
			"Error":     "Invalid username or password",
			"Username":  username,
			"CSRFToken": c.Locals("csrf"),
		})
	}

	token, err := utils.GenerateToken(user.ID, user.Username, h.config.JWT.Secret)
	if err != nil {
		return c.Status(500).Render("login", fiber.Map{
			"Error":     "Failed to create authentication token",
			"Username":  username,
			"CSRFToken": c.Locals("csrf"),
		})
	}

	sess.Set("authenticated", true)
	sess.Set("userId", user.ID)
	sess.Set("username", user.Username)
	sess.Set("token", token)
	sess.SetExpiry(24 * time.Hour)

	if err := sess.Save(); err != nil {
		return c.Status(500).Render("login", fiber.Map{
			"Error":     "Failed to create session",
			"Username":  username,
			"CSRFToken": c.Locals("csrf"),
		})
	}

	utils.Log.Info("User %s logged in", user.Username)
	return c.Redirect("/inbox")
}

// ShowRegister renders the registration page
func (h *AuthHandler) ShowRegister(c *fiber.Ctx) error {
	if h.isAuthenticated(c) {
		return c.Redirect("/inbox")
	}
	return c.Render("register", fiber.Map{
		"CSRFToken": c.Locals("csrf"),
	})
}

// HandleRegister processes the registration form and logs the new
// user straight in.
func (h *AuthHandler) HandleRegister(c *fiber.Ctx) error {
	username := strings.TrimSpace(c.FormValue("username"))
	email := strings.TrimSpace(c.FormValue("email"))
	password := c.FormValue("password")
	displayName := strings.TrimSpace(c.FormValue("display_name"))

	renderError := func(status int, message string) error {
		return c.Status(status).Render("register", fiber.Map{
			"Error":     message,
			"Username":  username,
			"Email":     email,
			"CSRFToken": c.Locals("csrf"),
		})
	}

	if username == "" || email == "" || password == "" {
		return renderError(400, "Username, email and password are required")
	}

	user, err := h.users.CreateUser(username, email, password, displayName)
	if err != nil {
		if utils.IsValidationError(err) {
			return renderError(400, err.Error())
		}
		return renderError(500, "Registration failed")
	}

	sess, err := h.store.Get(c)
	if err != nil {
		return c.Redirect("/login")
	}

	token, err := utils.GenerateToken(user.ID, user.Username, h.config.JWT.Secret)
	if err != nil {
		return c.Redirect("/login")
	}

	sess.Set("authenticated", true)
	sess.Set("userId", user.ID)
	sess.Set("username", user.Username)
	sess.Set("token", token)
	sess.SetExpiry(24 * time.Hour)

	if err := sess.Save(); err != nil {
		return c.Redirect("/login")
	}

	utils.Log.Info("User %s registered", user.Username)
	return c.Redirect("/inbox")
}

// HandleLogout processes user logout
func (h *AuthHandler) HandleLogout(c *fiber.Ctx) error {
	sess, err := h.store.Get(c)
	if err != nil {
		return c.Redirect("/login")
	}

	if err := sess.Destroy(); err != nil {
		return c.Status(500).SendString("Error during logout")
	}

	return c.Redirect("/login")
}

func (h *AuthHandler) isAuthenticated(c *fiber.Ctx) bool {
	sess, err := h.store.Get(c)
	if err != nil {
		return false
	}
	return sess.Get("authenticated") == true
}
