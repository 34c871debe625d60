// Package mailsync keeps the server-side inbox cache consistent with
// the remote mailbox. The Coordinator is the only writer of sync state
// and cached mail; it serializes syncs per (user, account, mailbox)
// key and fans domain events out through the signaling layer.
package mailsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"tidemail/config"
	"tidemail/mailclient"
	"tidemail/models"
	"tidemail/storage"
	"tidemail/utils"
)

// DefaultMailbox is used whenever a request does not name one.
const DefaultMailbox = "INBOX"

// Session is the slice of the mail client the coordinator needs.
// *mailclient.Session satisfies it; tests plug in a fake mailbox.
type Session interface {
	FetchWindow(mailbox string, page, pageSize uint32) ([]models.Email, uint32, error)
	FetchSince(mailbox string, sinceUID uint32) ([]models.Email, uint32, error)
	SearchSince(mailbox, query string, since time.Time) ([]uint32, error)
	FetchByUIDs(mailbox string, uids []uint32) ([]models.Email, error)
	Close() error
}

// Dialer opens a session for the given credentials.
type Dialer func(creds models.AccountCredentials) (Session, error)

func defaultDial(creds models.AccountCredentials) (Session, error) {
	return mailclient.Connect(creds)
}

// AccountSource resolves an account code to ready-to-dial credentials.
type AccountSource interface {
	CredentialsByCode(userID, code string) (models.AccountCredentials, error)
}

// SettingsSource supplies the per-user cache limit.
type SettingsSource interface {
	GetInboxSettings(userID string) (models.InboxSettings, error)
}

// Events receives domain notifications after successful syncs. The
// signaling dispatcher implements it; tests record the calls.
type Events interface {
	MailSynced(userID, accountCode, mailbox string, fetched, cached int, totalOnServer uint32)
	NewInboxMail(userID, accountCode string, count int)
	InboxChanged(userID string, tables []string, since time.Time)
}

// SyncOptions tune one sync or fetch request. A nil SinceUID selects
// window mode; a non-nil one fetches only UIDs above it.
type SyncOptions struct {
	Mailbox    string
	Limit      uint32
	Page       uint32
	SinceUID   *uint32
	CacheLimit int // 0 falls back to the user's stored setting
}

// SyncResult is the outcome of a sync: the merged cache contents plus
// the counters the UI shows.
type SyncResult struct {
	Mails         []models.Email `json:"mails"`
	TotalOnServer uint32         `json:"total"`
	Fetched       int            `json:"fetched"`
	Cached        int            `json:"cached"`
	LastUID       uint32         `json:"last_uid"`
}

// FetchResult is a read-through server view; nothing is cached.
type FetchResult struct {
	Mails   []models.Email `json:"mails"`
	Total   uint32         `json:"total"`
	Fetched int            `json:"fetched"`
	Page    uint32         `json:"page"`
	Limit   uint32         `json:"limit"`
}

// CachedResult is the stored inbox view for fast first render.
type CachedResult struct {
	Mails        []models.Email `json:"mails"`
	Total        uint32         `json:"total"`
	Cached       int            `json:"cached"`
	LastUID      uint32         `json:"last_uid"`
	LastSyncedAt time.Time      `json:"last_synced_at"`
}

// Coordinator orchestrates fetch, merge, trim and notification.
type Coordinator struct {
	store    *storage.MailStore
	accounts AccountSource
	settings SettingsSource
	dial     Dialer
	events   Events
	cfg      config.SyncConfig

	locks  keyedMutex
	flight singleflight.Group
}

// NewCoordinator wires the coordinator. A nil dial uses the real IMAP
// client; events may be nil to run without signaling.
func NewCoordinator(store *storage.MailStore, accounts AccountSource, settings SettingsSource, dial Dialer, events Events, cfg config.SyncConfig) *Coordinator {
	if dial == nil {
		dial = defaultDial
	}
	return &Coordinator{
		store:    store,
		accounts: accounts,
		settings: settings,
		dial:     dial,
		events:   events,
		cfg:      cfg,
	}
}

// SyncInbox fetches from the remote mailbox, merges into the cache,
// advances the high-water mark and trims, all under the per-key lock.
// A concurrent call for the same key waits and then runs against the
// committed state of the first. Connection and auth failures surface
// unchanged and leave both stores untouched.
func (c *Coordinator) SyncInbox(ctx context.Context, userID, accountCode string, opts SyncOptions) (*SyncResult, error) {
	if err := validateKey(userID, accountCode); err != nil {
		return nil, err
	}
	mailbox := mailboxOrDefault(opts.Mailbox)
	key := models.SyncKey{UserID: userID, AccountCode: accountCode, Mailbox: mailbox}

	unlock := c.locks.Lock(key.String())
	defer unlock()

	started := time.Now()

	cacheLimit := opts.CacheLimit
	if cacheLimit == 0 {
		if settings, err := c.settings.GetInboxSettings(userID); err == nil {
			cacheLimit = settings.InboxCacheLimit
		}
	}
	cacheLimit = models.ClampCacheLimit(cacheLimit)

	creds, err := c.accounts.CredentialsByCode(userID, accountCode)
	if err != nil {
		return nil, err
	}

	session, err := c.dial(creds)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	var (
		fetched []models.Email
		total   uint32
	)
	if opts.SinceUID != nil {
		fetched, total, err = session.FetchSince(mailbox, *opts.SinceUID)
	} else {
		fetched, total, err = session.FetchWindow(mailbox, pageOrFirst(opts.Page), c.fetchLimit(opts.Limit))
	}
	if err != nil {
		return nil, err
	}

	state, cached, err := c.store.CommitSyncBatch(ctx, key, fetched, total, cacheLimit)
	if err != nil {
		return nil, err
	}

	mails, err := c.store.CachedMessages(ctx, key, cacheLimit)
	if err != nil {
		return nil, err
	}

	utils.Log.Info("Synced %s: fetched=%d cached=%d lastUid=%d total=%d",
		key.String(), len(fetched), cached, state.LastUID, state.TotalOnServer)

	if c.events != nil {
		c.events.MailSynced(userID, accountCode, mailbox, len(fetched), cached, state.TotalOnServer)
		if len(fetched) > 0 {
			c.events.NewInboxMail(userID, accountCode, len(fetched))
			c.events.InboxChanged(userID, []string{"inbox_mails"}, started)
		}
	}

	return &SyncResult{
		Mails:         mails,
		TotalOnServer: state.TotalOnServer,
		Fetched:       len(fetched),
		Cached:        cached,
		LastUID:       state.LastUID,
	}, nil
}

// FetchFromServer queries the remote mailbox and returns the result
// without touching the cache or sync state. Identical concurrent
// requests are coalesced into one upstream fetch.
func (c *Coordinator) FetchFromServer(ctx context.Context, userID, accountCode string, opts SyncOptions) (*FetchResult, error) {
	if err := validateKey(userID, accountCode); err != nil {
		return nil, err
	}
	mailbox := mailboxOrDefault(opts.Mailbox)
	limit := c.fetchLimit(opts.Limit)
	page := pageOrFirst(opts.Page)

	since := "-"
	if opts.SinceUID != nil {
		since = fmt.Sprintf("%d", *opts.SinceUID)
	}
	flightKey := fmt.Sprintf("%s/%s/%s/%d/%d/%s", userID, accountCode, mailbox, limit, page, since)

	v, err, _ := c.flight.Do(flightKey, func() (interface{}, error) {
		creds, err := c.accounts.CredentialsByCode(userID, accountCode)
		if err != nil {
			return nil, err
		}
		session, err := c.dial(creds)
		if err != nil {
			return nil, err
		}
		defer session.Close()

		var (
			mails []models.Email
			total uint32
		)
		if opts.SinceUID != nil {
			mails, total, err = session.FetchSince(mailbox, *opts.SinceUID)
		} else {
			mails, total, err = session.FetchWindow(mailbox, page, limit)
		}
		if err != nil {
			return nil, err
		}

		return &FetchResult{
			Mails:   mails,
			Total:   total,
			Fetched: len(mails),
			Page:    page,
			Limit:   limit,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FetchResult), nil
}

// CachedInbox returns the stored inbox for the key without any network
// call.
func (c *Coordinator) CachedInbox(ctx context.Context, userID, accountCode, mailbox string) (*CachedResult, error) {
	if err := validateKey(userID, accountCode); err != nil {
		return nil, err
	}
	key := models.SyncKey{UserID: userID, AccountCode: accountCode, Mailbox: mailboxOrDefault(mailbox)}

	state, err := c.store.SyncState(ctx, key)
	if err != nil {
		return nil, err
	}
	mails, err := c.store.CachedMessages(ctx, key, 0)
	if err != nil {
		return nil, err
	}

	return &CachedResult{
		Mails:        mails,
		Total:        state.TotalOnServer,
		Cached:       len(mails),
		LastUID:      state.LastUID,
		LastSyncedAt: state.LastSyncedAt,
	}, nil
}

// DropAccountData removes cached mail and sync state after an account
// is deleted.
func (c *Coordinator) DropAccountData(ctx context.Context, userID, accountCode string) error {
	return c.store.DeleteAccountData(ctx, userID, accountCode)
}

// DropUserData removes everything the mail store holds for a user.
func (c *Coordinator) DropUserData(ctx context.Context, userID string) error {
	return c.store.DeleteUserData(ctx, userID)
}

func (c *Coordinator) fetchLimit(requested uint32) uint32 {
	if requested > 0 {
		return requested
	}
	if c.cfg.FetchLimit > 0 {
		return uint32(c.cfg.FetchLimit)
	}
	return 50
}

func validateKey(userID, accountCode string) error {
	if userID == "" {
		return utils.ValidationError("user is required", nil)
	}
	if strings.TrimSpace(accountCode) == "" {
		return utils.ValidationError("accountCode is required", nil)
	}
	return nil
}

func mailboxOrDefault(mailbox string) string {
	if strings.TrimSpace(mailbox) == "" {
		return DefaultMailbox
	}
	return mailbox
}

func pageOrFirst(page uint32) uint32 {
	if page < 1 {
		return 1
	}
	return page
}
