package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"tidemail/models"
	"tidemail/utils"
)

// MailStore keeps per-mailbox sync state and the bounded inbox cache in
// SQLite. All writes for one sync batch go through a single transaction
// so state never advances past a partially stored batch.
type MailStore struct {
	db *sqlx.DB
}

// NewMailStore opens (or creates) the mail database at path and applies
// pending migrations. Pass ":memory:" for an ephemeral store.
func NewMailStore(path string) (*MailStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening mail database: %w", err)
	}
	// modernc's driver serializes concurrent writers per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &MailStore{db: db}, nil
}

// Close releases the database handle.
func (s *MailStore) Close() error {
	return s.db.Close()
}

type syncStateRow struct {
	UserID        string `db:"user_id"`
	AccountCode   string `db:"account_code"`
	Mailbox       string `db:"mailbox"`
	LastUID       uint32 `db:"last_uid"`
	TotalOnServer uint32 `db:"total_on_server"`
	LastSyncedAt  int64  `db:"last_synced_at"`
}

func (r syncStateRow) state() models.SyncState {
	st := models.SyncState{
		UserID:        r.UserID,
		AccountCode:   r.AccountCode,
		Mailbox:       r.Mailbox,
		LastUID:       r.LastUID,
		TotalOnServer: r.TotalOnServer,
	}
	if r.LastSyncedAt > 0 {
		st.LastSyncedAt = time.Unix(r.LastSyncedAt, 0).UTC()
	}
	return st
}

type mailRow struct {
	ID          int64          `db:"id"`
	UserID      string         `db:"user_id"`
	AccountCode string         `db:"account_code"`
	Mailbox     string         `db:"mailbox"`
	UID         uint32         `db:"uid"`
	MessageID   string         `db:"message_id"`
	FromAddr    string         `db:"from_addr"`
	FromName    string         `db:"from_name"`
	ToAddrs     string         `db:"to_addrs"`
	CcAddrs     string         `db:"cc_addrs"`
	BccAddrs    string         `db:"bcc_addrs"`
	Subject     string         `db:"subject"`
	BodyText    sql.NullString `db:"body_text"`
	BodyHTML    sql.NullString `db:"body_html"`
	Preview     string         `db:"preview"`
	DateUnix    int64          `db:"date_unix"`
	Seen        bool           `db:"seen"`
	Starred     bool           `db:"starred"`
	Attachments string         `db:"attachments"`
	Labels      string         `db:"labels"`
	CachedAt    int64          `db:"cached_at"`
}

func newMailRow(key models.SyncKey, e models.Email, now time.Time) mailRow {
	row := mailRow{
		UserID:      key.UserID,
		AccountCode: key.AccountCode,
		Mailbox:     key.Mailbox,
		UID:         e.UID,
		MessageID:   e.MessageID,
		FromAddr:    e.From,
		FromName:    e.FromName,
		ToAddrs:     encodeStrings(e.To),
		CcAddrs:     encodeStrings(e.Cc),
		BccAddrs:    encodeStrings(e.Bcc),
		Subject:     e.Subject,
		Preview:     e.Preview,
		DateUnix:    e.Date.Unix(),
		Seen:        e.Seen,
		Starred:     e.Starred,
		Attachments: encodeAttachments(e.Attachments),
		Labels:      encodeStrings(e.Labels),
		CachedAt:    now.Unix(),
	}
	if e.Body != "" {
		row.BodyText = sql.NullString{String: e.Body, Valid: true}
	}
	if e.HTML != "" {
		row.BodyHTML = sql.NullString{String: e.HTML, Valid: true}
	}
	return row
}

func (r mailRow) email() models.Email {
	return models.Email{
		UID:         r.UID,
		MessageID:   r.MessageID,
		From:        r.FromAddr,
		FromName:    r.FromName,
		To:          decodeStrings(r.ToAddrs),
		Cc:          decodeStrings(r.CcAddrs),
		Bcc:         decodeStrings(r.BccAddrs),
		Subject:     r.Subject,
		Body:        r.BodyText.String,
		HTML:        r.BodyHTML.String,
		Preview:     r.Preview,
		Date:        time.Unix(r.DateUnix, 0).UTC(),
		Seen:        r.Seen,
		Starred:     r.Starred,
		Attachments: decodeAttachments(r.Attachments),
		Labels:      decodeStrings(r.Labels),
	}
}

func encodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeStrings(data string) []string {
	if data == "" || data == "[]" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	return values
}

func encodeAttachments(values []models.Attachment) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeAttachments(data string) []models.Attachment {
	if data == "" || data == "[]" {
		return nil
	}
	var values []models.Attachment
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	return values
}

// SyncState returns the stored state for the key, or a zero state when
// the mailbox was never synced.
func (s *MailStore) SyncState(ctx context.Context, key models.SyncKey) (models.SyncState, error) {
	var row syncStateRow
	err := s.db.GetContext(ctx, &row, `
		SELECT user_id, account_code, mailbox, last_uid, total_on_server, last_synced_at
		FROM sync_states
		WHERE user_id = ? AND account_code = ? AND mailbox = ?`,
		key.UserID, key.AccountCode, key.Mailbox)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SyncState{UserID: key.UserID, AccountCode: key.AccountCode, Mailbox: key.Mailbox}, nil
	}
	if err != nil {
		return models.SyncState{}, utils.InternalError("failed to load sync state", err)
	}
	return row.state(), nil
}

const upsertMailSQL = `
	INSERT INTO inbox_cache (
		user_id, account_code, mailbox, uid, message_id,
		from_addr, from_name, to_addrs, cc_addrs, bcc_addrs,
		subject, body_text, body_html, preview, date_unix,
		seen, starred, attachments, labels, cached_at
	) VALUES (
		:user_id, :account_code, :mailbox, :uid, :message_id,
		:from_addr, :from_name, :to_addrs, :cc_addrs, :bcc_addrs,
		:subject, :body_text, :body_html, :preview, :date_unix,
		:seen, :starred, :attachments, :labels, :cached_at
	)
	ON CONFLICT (user_id, account_code, mailbox, uid) DO UPDATE SET
		message_id  = excluded.message_id,
		from_addr   = excluded.from_addr,
		from_name   = excluded.from_name,
		to_addrs    = excluded.to_addrs,
		cc_addrs    = excluded.cc_addrs,
		bcc_addrs   = excluded.bcc_addrs,
		subject     = excluded.subject,
		body_text   = excluded.body_text,
		body_html   = excluded.body_html,
		preview     = excluded.preview,
		date_unix   = excluded.date_unix,
		seen        = excluded.seen,
		starred     = excluded.starred,
		attachments = excluded.attachments,
		labels      = excluded.labels,
		cached_at   = excluded.cached_at`

// CommitSyncBatch merges fetched messages into the cache, advances the
// sync state and trims the cache to cacheLimit, all in one transaction.
// last_uid only ever moves forward; re-delivered messages replace their
// earlier rows. It returns the state after the commit and the number of
// cached messages left for the key.
func (s *MailStore) CommitSyncBatch(ctx context.Context, key models.SyncKey, messages []models.Email, reportedTotal uint32, cacheLimit int) (models.SyncState, int, error) {
	cacheLimit = models.ClampCacheLimit(cacheLimit)
	now := time.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.SyncState{}, 0, utils.InternalError("failed to start sync transaction", err)
	}
	defer tx.Rollback()

	var batchMax uint32
	for _, msg := range messages {
		if msg.UID > batchMax {
			batchMax = msg.UID
		}
		if _, err := tx.NamedExecContext(ctx, upsertMailSQL, newMailRow(key, msg, now)); err != nil {
			return models.SyncState{}, 0, utils.InternalError("failed to cache message", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_states (user_id, account_code, mailbox, last_uid, total_on_server, last_synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, account_code, mailbox) DO UPDATE SET
			last_uid        = MAX(last_uid, excluded.last_uid),
			total_on_server = excluded.total_on_server,
			last_synced_at  = excluded.last_synced_at`,
		key.UserID, key.AccountCode, key.Mailbox, batchMax, reportedTotal, now.Unix()); err != nil {
		return models.SyncState{}, 0, utils.InternalError("failed to advance sync state", err)
	}

	// Keep the newest cacheLimit messages; ties on date fall to the
	// higher UID.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM inbox_cache
		WHERE user_id = ? AND account_code = ? AND mailbox = ?
		AND id NOT IN (
			SELECT id FROM inbox_cache
			WHERE user_id = ? AND account_code = ? AND mailbox = ?
			ORDER BY date_unix DESC, uid DESC
			LIMIT ?
		)`,
		key.UserID, key.AccountCode, key.Mailbox,
		key.UserID, key.AccountCode, key.Mailbox, cacheLimit); err != nil {
		return models.SyncState{}, 0, utils.InternalError("failed to trim cache", err)
	}

	var row syncStateRow
	if err := tx.GetContext(ctx, &row, `
		SELECT user_id, account_code, mailbox, last_uid, total_on_server, last_synced_at
		FROM sync_states
		WHERE user_id = ? AND account_code = ? AND mailbox = ?`,
		key.UserID, key.AccountCode, key.Mailbox); err != nil {
		return models.SyncState{}, 0, utils.InternalError("failed to read back sync state", err)
	}

	var cached int
	if err := tx.GetContext(ctx, &cached, `
		SELECT COUNT(*) FROM inbox_cache
		WHERE user_id = ? AND account_code = ? AND mailbox = ?`,
		key.UserID, key.AccountCode, key.Mailbox); err != nil {
		return models.SyncState{}, 0, utils.InternalError("failed to count cache", err)
	}

	if err := tx.Commit(); err != nil {
		return models.SyncState{}, 0, utils.InternalError("failed to commit sync batch", err)
	}
	return row.state(), cached, nil
}

// CachedMessages returns up to limit cached messages for the key,
// newest first.
func (s *MailStore) CachedMessages(ctx context.Context, key models.SyncKey, limit int) ([]models.Email, error) {
	if limit <= 0 {
		limit = models.MaxCacheLimit
	}
	var rows []mailRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, account_code, mailbox, uid, message_id,
			from_addr, from_name, to_addrs, cc_addrs, bcc_addrs,
			subject, body_text, body_html, preview, date_unix,
			seen, starred, attachments, labels, cached_at
		FROM inbox_cache
		WHERE user_id = ? AND account_code = ? AND mailbox = ?
		ORDER BY date_unix DESC, uid DESC
		LIMIT ?`,
		key.UserID, key.AccountCode, key.Mailbox, limit)
	if err != nil {
		return nil, utils.InternalError("failed to load cached messages", err)
	}

	emails := make([]models.Email, 0, len(rows))
	for _, row := range rows {
		emails = append(emails, row.email())
	}
	return emails, nil
}

// CountCached returns how many messages are cached for the key.
func (s *MailStore) CountCached(ctx context.Context, key models.SyncKey) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM inbox_cache
		WHERE user_id = ? AND account_code = ? AND mailbox = ?`,
		key.UserID, key.AccountCode, key.Mailbox)
	if err != nil {
		return 0, utils.InternalError("failed to count cache", err)
	}
	return count, nil
}

// DeleteAccountData removes cached mail and sync state for one account.
func (s *MailStore) DeleteAccountData(ctx context.Context, userID, accountCode string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return utils.InternalError("failed to start delete transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM inbox_cache WHERE user_id = ? AND account_code = ?`, userID, accountCode); err != nil {
		return utils.InternalError("failed to delete cached mail", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_states WHERE user_id = ? AND account_code = ?`, userID, accountCode); err != nil {
		return utils.InternalError("failed to delete sync state", err)
	}
	return tx.Commit()
}

// DeleteUserData removes every cached message and sync state owned by
// the user.
func (s *MailStore) DeleteUserData(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return utils.InternalError("failed to start delete transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM inbox_cache WHERE user_id = ?`, userID); err != nil {
		return utils.InternalError("failed to delete cached mail", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_states WHERE user_id = ?`, userID); err != nil {
		return utils.InternalError("failed to delete sync state", err)
	}
	return tx.Commit()
}
