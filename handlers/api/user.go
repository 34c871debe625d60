package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"tidemail/mailsync"
	"tidemail/storage"
	"tidemail/utils"
)

// UserHandler manages the current user's own profile.
type UserHandler struct {
	store    *session.Store
	users    *storage.UserStorage
	accounts *storage.AccountStorage
	sync     *mailsync.Coordinator
}

// NewUserHandler creates the handler.
func NewUserHandler(store *session.Store, users *storage.UserStorage, accounts *storage.AccountStorage, sync *mailsync.Coordinator) *UserHandler {
	return &UserHandler{store: store, users: users, accounts: accounts, sync: sync}
}

// HandleGet retrieves the current user's profile.
func (h *UserHandler) HandleGet(c *fiber.Ctx) error {
	user, err := h.users.GetUser(CurrentUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"user":    user,
	})
}

type profileRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
}

// HandleUpdate updates the current user's profile fields.
func (h *UserHandler) HandleUpdate(c *fiber.Ctx) error {
	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("invalid request body", err)
	}

	user, err := h.users.GetUser(CurrentUserID(c))
	if err != nil {
		return err
	}

	if req.Email != "" {
		user.Email = req.Email
	}
	if req.DisplayName != "" {
		user.DisplayName = req.DisplayName
	}
	if req.Language != "" {
		if !utils.IsSupportedLanguage(req.Language) {
			return utils.ValidationError("unsupported language", nil)
		}
		user.Language = req.Language
	}

	if err := h.users.UpdateUser(user); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"user":    user,
	})
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// HandlePassword changes the current user's password after verifying
// the old one.
func (h *UserHandler) HandlePassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("invalid request body", err)
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return utils.ValidationError("current and new password are required", nil)
	}

	if err := h.users.UpdatePassword(CurrentUserID(c), req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Password updated",
	})
}

// HandleDelete removes the current user and everything they own:
// linked accounts, cached mail, sync state and the active session.
func (h *UserHandler) HandleDelete(c *fiber.Ctx) error {
	userID := CurrentUserID(c)

	codes, err := h.accounts.DeleteUserAccounts(userID)
	if err != nil {
		return err
	}
	if err := h.sync.DropUserData(c.Context(), userID); err != nil {
		utils.Log.Warn("Failed to drop sync data for user %s: %v", userID, err)
	}
	if err := h.users.DeleteUser(userID); err != nil {
		return err
	}
	utils.Log.Info("Deleted user %s with %d linked accounts", userID, len(codes))

	if sess, err := h.store.Get(c); err == nil {
		if err := sess.Destroy(); err != nil {
			utils.Log.Warn("Failed to destroy session for deleted user: %v", err)
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "User deleted",
	})
}
