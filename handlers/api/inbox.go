package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"tidemail/mailsync"
	"tidemail/models"
	"tidemail/signaling"
	"tidemail/storage"
	"tidemail/utils"
)

// InboxHandler serves the inbox sync surface: cached reads, live
// fetches, syncs, remote search and the cache-limit settings.
type InboxHandler struct {
	sync    *mailsync.Coordinator
	users   *storage.UserStorage
	signals *signaling.Dispatcher
}

// NewInboxHandler creates the handler.
func NewInboxHandler(sync *mailsync.Coordinator, users *storage.UserStorage, signals *signaling.Dispatcher) *InboxHandler {
	return &InboxHandler{sync: sync, users: users, signals: signals}
}

// HandleCached serves GET /inbox/cached: the stored inbox with no
// network call, for fast first paint.
func (h *InboxHandler) HandleCached(c *fiber.Ctx) error {
	res, err := h.sync.CachedInbox(c.Context(), CurrentUserID(c), c.Query("accountCode"), c.Query("mailbox"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"mails":          res.Mails,
		"total":          res.Total,
		"cached":         res.Cached,
		"last_uid":       res.LastUID,
		"last_synced_at": res.LastSyncedAt,
		"source":         "cache",
	})
}

// HandleFetch serves GET /inbox/fetch: a read-through server view that
// leaves cache and sync state untouched.
func (h *InboxHandler) HandleFetch(c *fiber.Ctx) error {
	opts := mailsync.SyncOptions{
		Mailbox:  c.Query("mailbox"),
		Limit:    queryUint32(c, "limit"),
		Page:     queryUint32(c, "page"),
		SinceUID: queryUint32Ptr(c, "sinceUid"),
	}
	res, err := h.sync.FetchFromServer(c.Context(), CurrentUserID(c), c.Query("accountCode"), opts)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"mails":   res.Mails,
		"total":   res.Total,
		"fetched": res.Fetched,
		"page":    res.Page,
		"limit":   res.Limit,
		"source":  "server",
	})
}

type syncRequest struct {
	AccountCode string  `json:"accountCode"`
	Mailbox     string  `json:"mailbox"`
	Limit       uint32  `json:"limit"`
	SinceUID    *uint32 `json:"sinceUid"`
	Page        uint32  `json:"page"`
}

// HandleSync serves POST /inbox/sync: fetch, merge, trim, notify.
func (h *InboxHandler) HandleSync(c *fiber.Ctx) error {
	var req syncRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("invalid request body", err)
	}

	opts := mailsync.SyncOptions{
		Mailbox:  req.Mailbox,
		Limit:    req.Limit,
		Page:     req.Page,
		SinceUID: req.SinceUID,
	}
	res, err := h.sync.SyncInbox(c.Context(), CurrentUserID(c), req.AccountCode, opts)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"mails":    res.Mails,
		"total":    res.TotalOnServer,
		"fetched":  res.Fetched,
		"cached":   res.Cached,
		"last_uid": res.LastUID,
		"source":   "server",
	})
}

type searchRequest struct {
	AccountCode string `json:"accountCode"`
	Query       string `json:"query"`
	SinceMonths int    `json:"sinceMonths"`
	Mailbox     string `json:"mailbox"`
}

// HandleSearch serves POST /inbox/search: remote search over widening
// date windows; results are never cached server-side.
func (h *InboxHandler) HandleSearch(c *fiber.Ctx) error {
	var req searchRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("invalid request body", err)
	}

	opts := mailsync.SearchOptions{
		Mailbox:     req.Mailbox,
		SinceMonths: req.SinceMonths,
	}
	res, err := h.sync.SearchOnServer(c.Context(), CurrentUserID(c), req.AccountCode, req.Query, opts)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

// HandleGetSettings serves GET /inbox/settings.
func (h *InboxHandler) HandleGetSettings(c *fiber.Ctx) error {
	settings, err := h.users.GetInboxSettings(CurrentUserID(c))
	if err != nil {
		return err
	}
	return c.JSON(settings)
}

type settingsRequest struct {
	InboxCacheLimit int `json:"inboxCacheLimit"`
}

// HandleUpdateSettings serves PUT /inbox/settings. The limit is
// clamped to its legal range and the saved value is pushed to every
// open tab.
func (h *InboxHandler) HandleUpdateSettings(c *fiber.Ctx) error {
	var req settingsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ValidationError("invalid request body", err)
	}

	userID := CurrentUserID(c)
	saved, err := h.users.SaveInboxSettings(models.InboxSettings{
		UserID:          userID,
		InboxCacheLimit: req.InboxCacheLimit,
	})
	if err != nil {
		return err
	}

	if h.signals != nil {
		h.signals.SettingsChanged(userID, saved)
	}
	return c.JSON(saved)
}

func queryUint32(c *fiber.Ctx, name string) uint32 {
	v, err := strconv.ParseUint(c.Query(name), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func queryUint32Ptr(c *fiber.Ctx, name string) *uint32 {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil
	}
	u := uint32(v)
	return &u
}
