package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

// Bucket names for the key/value side of the storage layer. User and
// account records are small JSON blobs keyed by ID; the remaining
// buckets are lookup indexes kept in sync inside the same transaction
// as the record they point at.
var (
	bucketUsers        = []byte("users")
	bucketUsernames    = []byte("usernames")     // username -> user ID
	bucketUserEmails   = []byte("user_emails")   // email -> user ID
	bucketAccounts     = []byte("accounts")      // account ID -> record
	bucketAccountCodes = []byte("account_codes") // userID/code -> account ID
	bucketUserAccounts = []byte("user_accounts") // userID/accountID -> account ID
	bucketSettings     = []byte("settings")      // user ID -> inbox settings
	bucketSessions     = []byte("sessions")      // session ID -> session record
)

// InitDB opens (creating if needed) the bolt database under dataDir and
// makes sure every bucket exists.
func InitDB(dataDir string) (*bbolt.DB, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dataDir, "tidemail.db")
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			bucketUsers,
			bucketUsernames,
			bucketUserEmails,
			bucketAccounts,
			bucketAccountCodes,
			bucketUserAccounts,
			bucketSettings,
			bucketSessions,
		}
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// compositeKey joins key parts with "/" for the index buckets.
func compositeKey(parts ...string) []byte {
	key := parts[0]
	for _, p := range parts[1:] {
		key += "/" + p
	}
	return []byte(key)
}
