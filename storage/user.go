package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"

	"tidemail/models"
	"tidemail/utils"
)

// UserStorage manages user records and their inbox settings.
type UserStorage struct {
	db *bbolt.DB
}

// NewUserStorage creates a user storage backed by the given database.
func NewUserStorage(db *bbolt.DB) *UserStorage {
	return &UserStorage{db: db}
}

// CreateUser registers a new user with a bcrypt-hashed password. Username
// and email must both be unused.
func (s *UserStorage) CreateUser(username, email, password, displayName string) (*models.User, error) {
	if username == "" || email == "" {
		return nil, utils.ValidationError("username and email are required", nil)
	}
	if len(password) < 8 {
		return nil, utils.ValidationError("password must be at least 8 characters", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, utils.InternalError("failed to hash password", err)
	}

	now := time.Now()
	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		DisplayName:  displayName,
		Language:     "en",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		names := tx.Bucket(bucketUsernames)
		emails := tx.Bucket(bucketUserEmails)
		if names.Get([]byte(username)) != nil {
			return utils.ValidationError("username already taken", nil)
		}
		if emails.Get([]byte(email)) != nil {
			return utils.ValidationError("email already registered", nil)
		}

		data, err := json.Marshal(user)
		if err != nil {
			return utils.InternalError("failed to encode user", err)
		}
		if err := tx.Bucket(bucketUsers).Put([]byte(user.ID), data); err != nil {
			return err
		}
		if err := names.Put([]byte(username), []byte(user.ID)); err != nil {
			return err
		}
		return emails.Put([]byte(email), []byte(user.ID))
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetUser fetches a user by ID.
func (s *UserStorage) GetUser(id string) (*models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return utils.NotFoundError("user not found", nil)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername resolves the username index and loads the record.
func (s *UserStorage) GetUserByUsername(username string) (*models.User, error) {
	return s.getByIndex(bucketUsernames, username)
}

// GetUserByEmail resolves the email index and loads the record.
func (s *UserStorage) GetUserByEmail(email string) (*models.User, error) {
	return s.getByIndex(bucketUserEmails, email)
}

func (s *UserStorage) getByIndex(index []byte, key string) (*models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(index).Get([]byte(key))
		if id == nil {
			return utils.NotFoundError("user not found", nil)
		}
		data := tx.Bucket(bucketUsers).Get(id)
		if data == nil {
			return utils.NotFoundError("user not found", nil)
		}
		return json.Unmarshal(data, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate verifies the password for the given username and records
// the login time. A bad username and a bad password return the same
// error.
func (s *UserStorage) Authenticate(username, password string) (*models.User, error) {
	user, err := s.GetUserByUsername(username)
	if err != nil {
		return nil, utils.AuthError("invalid username or password", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, utils.AuthError("invalid username or password", nil)
	}

	user.LastLoginAt = time.Now()
	if err := s.putUser(user); err != nil {
		utils.Log.Warn("Failed to record login time for %s: %v", username, err)
	}
	return user, nil
}

// UpdateUser persists changes to display name and language. Username and
// email are immutable once created.
func (s *UserStorage) UpdateUser(user *models.User) error {
	user.UpdatedAt = time.Now()
	return s.putUser(user)
}

// UpdatePassword re-hashes and stores a new password after verifying the
// current one.
func (s *UserStorage) UpdatePassword(userID, current, next string) error {
	user, err := s.GetUser(userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return utils.AuthError("current password is incorrect", nil)
	}
	if len(next) < 8 {
		return utils.ValidationError("password must be at least 8 characters", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return utils.InternalError("failed to hash password", err)
	}
	user.PasswordHash = string(hash)
	user.UpdatedAt = time.Now()
	return s.putUser(user)
}

func (s *UserStorage) putUser(user *models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(user)
		if err != nil {
			return utils.InternalError("failed to encode user", err)
		}
		return tx.Bucket(bucketUsers).Put([]byte(user.ID), data)
	})
}

// DeleteUser removes the user record, its indexes and its settings.
// Mail accounts and cached mail are cascaded by the caller.
func (s *UserStorage) DeleteUser(userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(userID))
		if data == nil {
			return utils.NotFoundError("user not found", nil)
		}
		var user models.User
		if err := json.Unmarshal(data, &user); err != nil {
			return utils.InternalError("failed to decode user", err)
		}

		if err := tx.Bucket(bucketUsernames).Delete([]byte(user.Username)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketUserEmails).Delete([]byte(user.Email)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketSettings).Delete([]byte(userID)); err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Delete([]byte(userID))
	})
}

// GetInboxSettings returns the stored settings for the user, falling
// back to defaults when none were saved yet.
func (s *UserStorage) GetInboxSettings(userID string) (models.InboxSettings, error) {
	settings := models.DefaultInboxSettings(userID)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get([]byte(userID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &settings)
	})
	if err != nil {
		return models.DefaultInboxSettings(userID), utils.InternalError("failed to load settings", err)
	}
	settings.UserID = userID
	settings.InboxCacheLimit = models.ClampCacheLimit(settings.InboxCacheLimit)
	return settings, nil
}

// SaveInboxSettings clamps and stores the settings, returning the value
// actually persisted.
func (s *UserStorage) SaveInboxSettings(settings models.InboxSettings) (models.InboxSettings, error) {
	settings.InboxCacheLimit = models.ClampCacheLimit(settings.InboxCacheLimit)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(settings)
		if err != nil {
			return utils.InternalError("failed to encode settings", err)
		}
		return tx.Bucket(bucketSettings).Put([]byte(settings.UserID), data)
	})
	if err != nil {
		return settings, err
	}
	return settings, nil
}

// GenerateSecureToken returns n random bytes hex-encoded, so the result
// is 2n characters long.
func GenerateSecureToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
