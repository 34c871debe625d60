package mailsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tidemail/models"
	"tidemail/utils"
)

// Protocol paths reported in search results.
const (
	SearchProtocolIMAP  = "imap_search"
	SearchProtocolLocal = "local_filter"
)

// searchScanLimit bounds how many recent messages the local fallback
// pulls when the server rejects TEXT searches.
const searchScanLimit = 500

// searchResultCap bounds how many matches are hydrated per request.
const searchResultCap = 100

// SearchOptions tune a remote search.
type SearchOptions struct {
	Mailbox     string
	SinceMonths int // 0 falls back to the configured default
}

// SearchResult carries the matches plus which date range and protocol
// path actually produced them.
type SearchResult struct {
	Mails     []models.Email `json:"mails"`
	Searched  int            `json:"searched"`
	DateRange string         `json:"dateRange"`
	Protocol  string         `json:"protocol"`
}

// SearchOnServer runs a remote search over progressively wider date
// windows: the requested range, double it, then unbounded, stopping at
// the first window with matches. Results are never cached. When the
// server rejects the search, recent messages are fetched once and
// filtered locally over the same windows.
func (c *Coordinator) SearchOnServer(ctx context.Context, userID, accountCode, query string, opts SearchOptions) (*SearchResult, error) {
	if err := validateKey(userID, accountCode); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, utils.ValidationError("search query is required", nil)
	}
	mailbox := mailboxOrDefault(opts.Mailbox)

	months := opts.SinceMonths
	if months == 0 {
		months = c.cfg.SearchMonths
	}
	windows := searchWindows(months)

	creds, err := c.accounts.CredentialsByCode(userID, accountCode)
	if err != nil {
		return nil, err
	}
	session, err := c.dial(creds)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	for _, window := range windows {
		uids, err := session.SearchSince(mailbox, query, monthsAgo(window))
		if err != nil {
			if utils.IsProtocolError(err) {
				utils.Log.Warn("Server search failed for %s/%s, filtering locally: %v", accountCode, mailbox, err)
				return c.searchLocal(session, mailbox, query, windows)
			}
			return nil, err
		}
		if len(uids) == 0 {
			continue
		}

		// Newest matches first; UIDs arrive ascending.
		if len(uids) > searchResultCap {
			uids = uids[len(uids)-searchResultCap:]
		}
		mails, err := session.FetchByUIDs(mailbox, uids)
		if err != nil {
			return nil, err
		}
		return &SearchResult{
			Mails:     mails,
			Searched:  len(mails),
			DateRange: rangeLabel(window),
			Protocol:  SearchProtocolIMAP,
		}, nil
	}

	return &SearchResult{
		Mails:     []models.Email{},
		Searched:  0,
		DateRange: rangeLabel(0),
		Protocol:  SearchProtocolIMAP,
	}, nil
}

// searchLocal is the fallback path: one bounded fetch of recent mail,
// then in-memory matching over the same widening windows.
func (c *Coordinator) searchLocal(session Session, mailbox, query string, windows []int) (*SearchResult, error) {
	mails, _, err := session.FetchWindow(mailbox, 1, searchScanLimit)
	if err != nil {
		return nil, err
	}

	for _, window := range windows {
		since := monthsAgo(window)
		var matched []models.Email
		for _, m := range mails {
			if !since.IsZero() && m.Date.Before(since) {
				continue
			}
			if matchesQuery(m, query) {
				matched = append(matched, m)
			}
		}
		if len(matched) > searchResultCap {
			matched = matched[:searchResultCap]
		}
		if len(matched) > 0 || window == 0 {
			if matched == nil {
				matched = []models.Email{}
			}
			return &SearchResult{
				Mails:     matched,
				Searched:  len(matched),
				DateRange: rangeLabel(window),
				Protocol:  SearchProtocolLocal,
			}, nil
		}
	}

	return &SearchResult{
		Mails:     []models.Email{},
		Searched:  0,
		DateRange: rangeLabel(0),
		Protocol:  SearchProtocolLocal,
	}, nil
}

// searchWindows returns the widening sequence ending in the unbounded
// window (0).
func searchWindows(months int) []int {
	if months <= 0 {
		return []int{0}
	}
	return []int{months, months * 2, 0}
}

func monthsAgo(months int) time.Time {
	if months <= 0 {
		return time.Time{}
	}
	return time.Now().AddDate(0, -months, 0)
}

func rangeLabel(months int) string {
	if months <= 0 {
		return "all"
	}
	return fmt.Sprintf("%d_months", months)
}

// matchesQuery checks the query against sender, recipients, subject and
// body, case-insensitively.
func matchesQuery(e models.Email, query string) bool {
	q := strings.ToLower(query)
	if strings.Contains(strings.ToLower(e.From), q) ||
		strings.Contains(strings.ToLower(e.FromName), q) ||
		strings.Contains(strings.ToLower(e.Subject), q) ||
		strings.Contains(strings.ToLower(e.Body), q) {
		return true
	}
	for _, to := range e.To {
		if strings.Contains(strings.ToLower(to), q) {
			return true
		}
	}
	return false
}
