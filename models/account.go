package models

import "time"

// ProtocolIMAP is the only mail protocol the client currently speaks.
const ProtocolIMAP = "imap"

// Account references one remote mail account. Code is the opaque short
// identifier callers pass around; the account is owned by exactly one
// user. Password is held encrypted at rest and only decrypted by the
// storage layer when credentials are handed to the mail client.
type Account struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	Protocol    string    `json:"protocol"`
	Server      string    `json:"server"`
	Port        int       `json:"port"`
	UseSSL      bool      `json:"use_ssl"`
	Username    string    `json:"username"`
	Password    string    `json:"-"` // Never expose in JSON
	DisplayName string    `json:"display_name"`
	IsDefault   bool      `json:"is_default"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AccountCredentials is the decrypted connection material for one
// account, produced by the storage layer immediately before a connect.
type AccountCredentials struct {
	Code     string
	Email    string
	Protocol string
	Server   string
	Port     int
	UseSSL   bool
	Username string
	Password string
}

// Credentials returns the decrypted connection material for an account
// whose Password field has already been decrypted.
func (a *Account) Credentials() AccountCredentials {
	return AccountCredentials{
		Code:     a.Code,
		Email:    a.Email,
		Protocol: a.Protocol,
		Server:   a.Server,
		Port:     a.Port,
		UseSSL:   a.UseSSL,
		Username: a.Username,
		Password: a.Password,
	}
}
