package storage

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migrations are applied in order inside one transaction each. The
// current version lives in schema_version; dates are stored as unix
// seconds so ordering in SQL is exact.
var migrations = []string{
	// v1: sync state and inbox cache.
	`
	CREATE TABLE IF NOT EXISTS sync_states (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id         TEXT    NOT NULL,
		account_code    TEXT    NOT NULL,
		mailbox         TEXT    NOT NULL,
		last_uid        INTEGER NOT NULL DEFAULT 0,
		total_on_server INTEGER NOT NULL DEFAULT 0,
		last_synced_at  INTEGER NOT NULL DEFAULT 0,
		UNIQUE (user_id, account_code, mailbox)
	);

	CREATE TABLE IF NOT EXISTS inbox_cache (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id      TEXT    NOT NULL,
		account_code TEXT    NOT NULL,
		mailbox      TEXT    NOT NULL,
		uid          INTEGER NOT NULL,
		message_id   TEXT    NOT NULL DEFAULT '',
		from_addr    TEXT    NOT NULL DEFAULT '',
		from_name    TEXT    NOT NULL DEFAULT '',
		to_addrs     TEXT    NOT NULL DEFAULT '[]',
		cc_addrs     TEXT    NOT NULL DEFAULT '[]',
		bcc_addrs    TEXT    NOT NULL DEFAULT '[]',
		subject      TEXT    NOT NULL DEFAULT '',
		body_text    TEXT,
		body_html    TEXT,
		preview      TEXT    NOT NULL DEFAULT '',
		date_unix    INTEGER NOT NULL DEFAULT 0,
		seen         INTEGER NOT NULL DEFAULT 0,
		starred      INTEGER NOT NULL DEFAULT 0,
		attachments  TEXT    NOT NULL DEFAULT '[]',
		labels       TEXT    NOT NULL DEFAULT '[]',
		cached_at    INTEGER NOT NULL DEFAULT 0,
		UNIQUE (user_id, account_code, mailbox, uid)
	);

	CREATE INDEX IF NOT EXISTS idx_inbox_cache_order
		ON inbox_cache (user_id, account_code, mailbox, date_unix DESC, uid DESC);
	`,
}

func runMigrations(db *sqlx.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	var version int
	if err := db.Get(&version, `SELECT COALESCE(MAX(version), 0) FROM schema_version`); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Beginx()
		if err != nil {
			return fmt.Errorf("starting migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", i+1, err)
		}
	}
	return nil
}
