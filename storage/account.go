package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"tidemail/models"
	"tidemail/utils"
)

// AccountStorage manages mail account records. Passwords are encrypted
// with AES-GCM before they touch the database and only decrypted when a
// caller asks for connection credentials.
type AccountStorage struct {
	db  *bbolt.DB
	key []byte
}

// storedAccount is the on-disk shape: the plaintext password is dropped
// by the models.Account json tag and the ciphertext is kept instead.
type storedAccount struct {
	models.Account
	EncryptedPassword string `json:"encrypted_password"`
}

// NewAccountStorage creates an account storage using the given 32-byte
// encryption key.
func NewAccountStorage(db *bbolt.DB, encryptionKey []byte) *AccountStorage {
	return &AccountStorage{db: db, key: encryptionKey}
}

// CreateAccount stores a new account for the user. The short code used
// in URLs and sync keys is generated here and is unique per user.
func (s *AccountStorage) CreateAccount(account *models.Account) error {
	if account.UserID == "" {
		return utils.ValidationError("account requires a user", nil)
	}
	if account.Email == "" || account.Server == "" || account.Username == "" {
		return utils.ValidationError("email, server and username are required", nil)
	}
	if account.Password == "" {
		return utils.ValidationError("password is required", nil)
	}
	if account.Protocol == "" {
		account.Protocol = models.ProtocolIMAP
	}
	if account.Port == 0 {
		account.Port = 993
	}

	encrypted, err := s.encryptSecret(account.Password)
	if err != nil {
		return utils.InternalError("failed to encrypt credentials", err)
	}

	now := time.Now()
	account.ID = uuid.New().String()
	account.CreatedAt = now
	account.UpdatedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		codes := tx.Bucket(bucketAccountCodes)

		for attempt := 0; ; attempt++ {
			code, err := GenerateSecureToken(4)
			if err != nil {
				return utils.InternalError("failed to generate account code", err)
			}
			if codes.Get(compositeKey(account.UserID, code)) == nil {
				account.Code = code
				break
			}
			if attempt >= 10 {
				return utils.InternalError("failed to allocate account code", nil)
			}
		}

		// First account for a user becomes the default.
		userIndex := tx.Bucket(bucketUserAccounts)
		prefix := compositeKey(account.UserID, "")
		c := userIndex.Cursor()
		k, _ := c.Seek(prefix)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			account.IsDefault = true
		}

		stored := storedAccount{Account: *account, EncryptedPassword: encrypted}
		data, err := json.Marshal(stored)
		if err != nil {
			return utils.InternalError("failed to encode account", err)
		}
		if err := tx.Bucket(bucketAccounts).Put([]byte(account.ID), data); err != nil {
			return err
		}
		if err := codes.Put(compositeKey(account.UserID, account.Code), []byte(account.ID)); err != nil {
			return err
		}
		return userIndex.Put(compositeKey(account.UserID, account.ID), []byte(account.ID))
	})
}

// AccountByCode loads an account by its per-user code with the password
// decrypted. Accounts owned by other users are reported as not found.
func (s *AccountStorage) AccountByCode(userID, code string) (*models.Account, error) {
	var stored storedAccount
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketAccountCodes).Get(compositeKey(userID, code))
		if id == nil {
			return utils.NotFoundError("account not found", nil)
		}
		data := tx.Bucket(bucketAccounts).Get(id)
		if data == nil {
			return utils.NotFoundError("account not found", nil)
		}
		return json.Unmarshal(data, &stored)
	})
	if err != nil {
		return nil, err
	}
	if stored.UserID != userID {
		return nil, utils.NotFoundError("account not found", nil)
	}

	password, err := s.decryptSecret(stored.EncryptedPassword)
	if err != nil {
		return nil, utils.InternalError("failed to decrypt credentials", err)
	}
	account := stored.Account
	account.Password = password
	return &account, nil
}

// CredentialsByCode returns just the connection parameters for an
// account, decrypted and ready to dial with.
func (s *AccountStorage) CredentialsByCode(userID, code string) (models.AccountCredentials, error) {
	account, err := s.AccountByCode(userID, code)
	if err != nil {
		return models.AccountCredentials{}, err
	}
	return account.Credentials(), nil
}

// AccountsByUser lists the user's accounts. Passwords stay encrypted at
// rest and are blanked in the result.
func (s *AccountStorage) AccountsByUser(userID string) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketAccounts)
		c := tx.Bucket(bucketUserAccounts).Cursor()
		prefix := compositeKey(userID, "")
		for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
			data := records.Get(id)
			if data == nil {
				continue
			}
			var stored storedAccount
			if err := json.Unmarshal(data, &stored); err != nil {
				return utils.InternalError("failed to decode account", err)
			}
			stored.Account.Password = ""
			accounts = append(accounts, stored.Account)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// DefaultAccount returns the user's default account, or the only one if
// no default flag is set.
func (s *AccountStorage) DefaultAccount(userID string) (*models.Account, error) {
	accounts, err := s.AccountsByUser(userID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, utils.NotFoundError("no mail accounts configured", nil)
	}
	for i := range accounts {
		if accounts[i].IsDefault {
			return &accounts[i], nil
		}
	}
	return &accounts[0], nil
}

// UpdateAccount persists changes to an account. An empty password keeps
// the stored credentials; a non-empty one replaces them.
func (s *AccountStorage) UpdateAccount(account *models.Account) error {
	account.UpdatedAt = time.Now()
	return s.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketAccounts)
		data := records.Get([]byte(account.ID))
		if data == nil {
			return utils.NotFoundError("account not found", nil)
		}
		var stored storedAccount
		if err := json.Unmarshal(data, &stored); err != nil {
			return utils.InternalError("failed to decode account", err)
		}
		if stored.UserID != account.UserID {
			return utils.NotFoundError("account not found", nil)
		}

		encrypted := stored.EncryptedPassword
		if account.Password != "" {
			var err error
			encrypted, err = s.encryptSecret(account.Password)
			if err != nil {
				return utils.InternalError("failed to encrypt credentials", err)
			}
		}

		// Code and creation time never change.
		account.Code = stored.Code
		account.CreatedAt = stored.CreatedAt
		next := storedAccount{Account: *account, EncryptedPassword: encrypted}
		out, err := json.Marshal(next)
		if err != nil {
			return utils.InternalError("failed to encode account", err)
		}
		return records.Put([]byte(account.ID), out)
	})
}

// DeleteAccount removes the account and its indexes, returning the code
// so the caller can cascade cached mail and sync state.
func (s *AccountStorage) DeleteAccount(userID, accountID string) (string, error) {
	var code string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketAccounts)
		data := records.Get([]byte(accountID))
		if data == nil {
			return utils.NotFoundError("account not found", nil)
		}
		var stored storedAccount
		if err := json.Unmarshal(data, &stored); err != nil {
			return utils.InternalError("failed to decode account", err)
		}
		if stored.UserID != userID {
			return utils.NotFoundError("account not found", nil)
		}
		code = stored.Code

		if err := tx.Bucket(bucketAccountCodes).Delete(compositeKey(userID, stored.Code)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketUserAccounts).Delete(compositeKey(userID, accountID)); err != nil {
			return err
		}
		return records.Delete([]byte(accountID))
	})
	if err != nil {
		return "", err
	}
	return code, nil
}

// DeleteUserAccounts removes every account owned by the user and
// returns their codes for cascading.
func (s *AccountStorage) DeleteUserAccounts(userID string) ([]string, error) {
	var codes []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketAccounts)
		codesBucket := tx.Bucket(bucketAccountCodes)
		userIndex := tx.Bucket(bucketUserAccounts)

		prefix := compositeKey(userID, "")
		var indexKeys [][]byte
		c := userIndex.Cursor()
		for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
			data := records.Get(id)
			if data != nil {
				var stored storedAccount
				if err := json.Unmarshal(data, &stored); err == nil {
					codes = append(codes, stored.Code)
					if err := codesBucket.Delete(compositeKey(userID, stored.Code)); err != nil {
						return err
					}
				}
				if err := records.Delete(id); err != nil {
					return err
				}
			}
			indexKeys = append(indexKeys, append([]byte(nil), k...))
		}
		for _, k := range indexKeys {
			if err := userIndex.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// encryptSecret seals the plaintext with AES-GCM under the storage key.
// The random nonce is prepended and the whole blob hex-encoded.
func (s *AccountStorage) encryptSecret(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// decryptSecret reverses encryptSecret.
func (s *AccountStorage) decryptSecret(encoded string) (string, error) {
	sealed, err := hex.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", utils.InternalError("credential blob too short", nil)
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
