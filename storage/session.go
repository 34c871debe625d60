package storage

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

// SessionStorage implements fiber's session storage interface on top of
// the bolt database, so sessions survive restarts. Expired entries are
// dropped lazily on read and swept by a background loop.
type SessionStorage struct {
	db   *bbolt.DB
	done chan struct{}
}

type sessionRecord struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (r sessionRecord) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// NewSessionStorage creates the storage and starts its sweep loop.
func NewSessionStorage(db *bbolt.DB) *SessionStorage {
	s := &SessionStorage{db: db, done: make(chan struct{})}
	go s.sweepLoop(10 * time.Minute)
	return s
}

// Get returns the stored value, or nil when missing or expired.
func (s *SessionStorage) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSessions).Get([]byte(key))
		if data == nil {
			return nil
		}
		var rec sessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil
		}
		if rec.expired(time.Now()) {
			return nil
		}
		value = append([]byte(nil), rec.Value...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Set stores the value with the given lifetime. A zero expiry means the
// entry never expires.
func (s *SessionStorage) Set(key string, val []byte, exp time.Duration) error {
	rec := sessionRecord{Value: val}
	if exp > 0 {
		rec.ExpiresAt = time.Now().Add(exp)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(key), data)
	})
}

// Delete removes a single session.
func (s *SessionStorage) Delete(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(key))
	})
}

// Reset removes every session.
func (s *SessionStorage) Reset() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketSessions); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketSessions)
		return err
	})
}

// Close stops the sweep loop. The underlying database is shared and
// closed by its owner.
func (s *SessionStorage) Close() error {
	close(s.done)
	return nil
}

func (s *SessionStorage) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *SessionStorage) sweep(now time.Time) {
	var expired [][]byte
	s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			var rec sessionRecord
			if err := json.Unmarshal(v, &rec); err != nil || rec.expired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if len(expired) == 0 {
		return
	}
	s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		for _, k := range expired {
			b.Delete(k)
		}
		return nil
	})
}
