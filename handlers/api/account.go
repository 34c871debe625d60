package api

import (
	"github.com/gofiber/fiber/v2"

	"tidemail/mailclient"
	"tidemail/mailsync"
	"tidemail/models"
	"tidemail/storage"
	"tidemail/utils"
)

// AccountHandler manages the mail accounts a user has linked.
type AccountHandler struct {
	accounts *storage.AccountStorage
	sync     *mailsync.Coordinator
	dial     mailsync.Dialer
}

// NewAccountHandler creates the handler. A nil dialer connects to the
// real mail server when verifying new credentials.
func NewAccountHandler(accounts *storage.AccountStorage, sync *mailsync.Coordinator, dial mailsync.Dialer) *AccountHandler {
	if dial == nil {
		dial = func(creds models.AccountCredentials) (mailsync.Session, error) {
			return mailclient.Connect(creds)
		}
	}
	return &AccountHandler{accounts: accounts, sync: sync, dial: dial}
}

type accountRequest struct {
	Email       string `json:"email"`
	Protocol    string `json:"protocol"`
	Server      string `json:"server"`
	Port        int    `json:"port"`
	UseSSL      *bool  `json:"use_ssl"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// HandleList retrieves all accounts for the current user.
func (h *AccountHandler) HandleList(c *fiber.Ctx) error {
	accounts, err := h.accounts.AccountsByUser(CurrentUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"accounts": accounts,
	})
}

// HandleCreate links a new account. The credentials are verified with
// a real login before anything is stored.
func (h *AccountHandler) HandleCreate(c *fiber.Ctx) error {
	var req accountRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("invalid request body", err)
	}
	if req.Email == "" || req.Server == "" || req.Username == "" || req.Password == "" {
		return utils.ValidationError("email, server, username and password are required", nil)
	}

	account := models.Account{
		UserID:      CurrentUserID(c),
		Email:       req.Email,
		Protocol:    req.Protocol,
		Server:      req.Server,
		Port:        req.Port,
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	}
	if req.UseSSL != nil {
		account.UseSSL = *req.UseSSL
	} else {
		account.UseSSL = true
	}
	normalizeAccount(&account)

	session, err := h.dial(account.Credentials())
	if err != nil {
		return err
	}
	session.Close()

	if err := h.accounts.CreateAccount(&account); err != nil {
		return err
	}

	account.Password = ""
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"account": account,
	})
}

// HandleGet retrieves a single account by code.
func (h *AccountHandler) HandleGet(c *fiber.Ctx) error {
	account, err := h.accounts.AccountByCode(CurrentUserID(c), c.Params("code"))
	if err != nil {
		return err
	}

	account.Password = ""
	return c.JSON(fiber.Map{
		"success": true,
		"account": account,
	})
}

// HandleUpdate updates an existing account. An empty password keeps
// the stored one; a new password is verified before it replaces it.
func (h *AccountHandler) HandleUpdate(c *fiber.Ctx) error {
	var req accountRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("invalid request body", err)
	}

	account, err := h.accounts.AccountByCode(CurrentUserID(c), c.Params("code"))
	if err != nil {
		return err
	}

	if req.Email != "" {
		account.Email = req.Email
	}
	if req.Protocol != "" {
		account.Protocol = req.Protocol
	}
	if req.Server != "" {
		account.Server = req.Server
	}
	if req.Port != 0 {
		account.Port = req.Port
	}
	if req.UseSSL != nil {
		account.UseSSL = *req.UseSSL
	}
	if req.Username != "" {
		account.Username = req.Username
	}
	if req.DisplayName != "" {
		account.DisplayName = req.DisplayName
	}
	account.Password = req.Password
	normalizeAccount(account)

	if req.Password != "" {
		session, err := h.dial(account.Credentials())
		if err != nil {
			return err
		}
		session.Close()
	}

	if err := h.accounts.UpdateAccount(account); err != nil {
		return err
	}

	account.Password = ""
	return c.JSON(fiber.Map{
		"success": true,
		"account": account,
	})
}

// HandleDelete removes an account together with its cached mail and
// sync state.
func (h *AccountHandler) HandleDelete(c *fiber.Ctx) error {
	userID := CurrentUserID(c)
	account, err := h.accounts.AccountByCode(userID, c.Params("code"))
	if err != nil {
		return err
	}

	code, err := h.accounts.DeleteAccount(userID, account.ID)
	if err != nil {
		return err
	}
	if err := h.sync.DropAccountData(c.Context(), userID, code); err != nil {
		utils.Log.Warn("Failed to drop sync data for account %s: %v", code, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Account deleted",
	})
}

// HandleSetDefault marks one account as the default and clears the
// flag on every other account the user owns.
func (h *AccountHandler) HandleSetDefault(c *fiber.Ctx) error {
	userID := CurrentUserID(c)
	code := c.Params("code")

	accounts, err := h.accounts.AccountsByUser(userID)
	if err != nil {
		return err
	}

	found := false
	for i := range accounts {
		isTarget := accounts[i].Code == code
		if isTarget {
			found = true
		}
		if accounts[i].IsDefault == isTarget {
			continue
		}
		accounts[i].IsDefault = isTarget
		if err := h.accounts.UpdateAccount(&accounts[i]); err != nil {
			return err
		}
	}
	if !found {
		return utils.NotFoundError("account not found", nil)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Default account updated",
	})
}

func normalizeAccount(account *models.Account) {
	if account.Protocol == "" {
		account.Protocol = models.ProtocolIMAP
	}
	if account.Port == 0 {
		account.Port = 993
	}
	if account.DisplayName == "" {
		account.DisplayName = account.Email
	}
}
