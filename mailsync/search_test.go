package mailsync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"tidemail/models"
	"tidemail/utils"
)

func TestSearchFirstWindowHit(t *testing.T) {
	fx := newTestCoordinator(t)
	recent := time.Now().AddDate(0, -1, 0)
	fx.box.append(models.Email{UID: 5, Subject: "Invoice for March", Date: recent})

	res, err := fx.coord.SearchOnServer(context.Background(), "user-1", "acct-1", "invoice", SearchOptions{})
	if err != nil {
		t.Fatalf("SearchOnServer: %v", err)
	}
	if res.Protocol != SearchProtocolIMAP {
		t.Errorf("protocol = %q, want %q", res.Protocol, SearchProtocolIMAP)
	}
	if res.DateRange != "6_months" {
		t.Errorf("date range = %q, want 6_months", res.DateRange)
	}
	if res.Searched != 1 || len(res.Mails) != 1 || res.Mails[0].UID != 5 {
		t.Errorf("result = %+v, want the single match", res)
	}
	if len(fx.box.searches) != 1 {
		t.Errorf("server searched %d times, want 1 for a first-window hit", len(fx.box.searches))
	}
}

func TestSearchWidensToUnbounded(t *testing.T) {
	fx := newTestCoordinator(t)
	old := time.Now().AddDate(-2, 0, 0)
	fx.box.append(models.Email{UID: 9, Subject: "Old invoice", Date: old})

	res, err := fx.coord.SearchOnServer(context.Background(), "user-1", "acct-1", "invoice", SearchOptions{})
	if err != nil {
		t.Fatalf("SearchOnServer: %v", err)
	}
	if res.DateRange != "all" {
		t.Errorf("date range = %q, want all after widening", res.DateRange)
	}
	if res.Searched != 1 {
		t.Errorf("searched = %d, want 1", res.Searched)
	}

	// Three windows: the configured range, double it, then unbounded.
	if len(fx.box.searches) != 3 {
		t.Fatalf("server searched %d times, want 3", len(fx.box.searches))
	}
	first, second, third := fx.box.searches[0], fx.box.searches[1], fx.box.searches[2]
	if first.IsZero() || second.IsZero() {
		t.Error("bounded windows passed a zero since time")
	}
	if !second.Before(first) {
		t.Errorf("second window %v does not widen past first %v", second, first)
	}
	if !third.IsZero() {
		t.Errorf("final window since = %v, want unbounded", third)
	}
}

func TestSearchCustomMonths(t *testing.T) {
	fx := newTestCoordinator(t)
	fx.box.append(models.Email{UID: 1, Subject: "invoice", Date: time.Now().AddDate(0, 0, -1)})

	if _, err := fx.coord.SearchOnServer(context.Background(), "user-1", "acct-1", "invoice", SearchOptions{SinceMonths: 3}); err != nil {
		t.Fatalf("SearchOnServer: %v", err)
	}
	if len(fx.box.searches) != 1 {
		t.Fatalf("server searched %d times, want 1", len(fx.box.searches))
	}
	want := time.Now().AddDate(0, -3, 0)
	got := fx.box.searches[0]
	if got.Before(want.Add(-time.Minute)) || got.After(want.Add(time.Minute)) {
		t.Errorf("first window since = %v, want about %v", got, want)
	}
}

func TestSearchNoMatches(t *testing.T) {
	fx := newTestCoordinator(t)
	fx.box.append(models.Email{UID: 3, Subject: "Weekly digest", Date: time.Now()})

	res, err := fx.coord.SearchOnServer(context.Background(), "user-1", "acct-1", "nonexistent", SearchOptions{})
	if err != nil {
		t.Fatalf("SearchOnServer: %v", err)
	}
	if res.Searched != 0 || len(res.Mails) != 0 {
		t.Errorf("result = %+v, want empty", res)
	}
	if res.Mails == nil {
		t.Error("empty result must marshal as [], not null")
	}
	if res.DateRange != "all" {
		t.Errorf("date range = %q, want all after exhausting every window", res.DateRange)
	}
	if len(fx.box.searches) != 3 {
		t.Errorf("server searched %d times, want all 3 windows", len(fx.box.searches))
	}
}

func TestSearchFallsBackToLocalFilter(t *testing.T) {
	fx := newTestCoordinator(t)
	fx.box.searchErr = utils.ProtocolError("SEARCH command rejected", nil)
	fx.box.append(
		models.Email{UID: 1, Subject: "Invoice overdue", Date: time.Now().AddDate(0, 0, -3)},
		models.Email{UID: 2, Subject: "Lunch plans", Date: time.Now().AddDate(0, 0, -2)},
	)

	res, err := fx.coord.SearchOnServer(context.Background(), "user-1", "acct-1", "invoice", SearchOptions{})
	if err != nil {
		t.Fatalf("SearchOnServer: %v", err)
	}
	if res.Protocol != SearchProtocolLocal {
		t.Errorf("protocol = %q, want %q", res.Protocol, SearchProtocolLocal)
	}
	if res.Searched != 1 || len(res.Mails) != 1 || res.Mails[0].UID != 1 {
		t.Errorf("local filter result = %+v, want the single match", res)
	}
	if res.DateRange != "6_months" {
		t.Errorf("date range = %q, want 6_months", res.DateRange)
	}
	if fx.box.windowFetches != 1 {
		t.Errorf("local fallback fetched %d windows, want exactly 1", fx.box.windowFetches)
	}
}

func TestSearchConnectionErrorSurfaces(t *testing.T) {
	fx := newTestCoordinator(t)
	fx.box.searchErr = utils.ConnectionError("connection reset", nil)

	_, err := fx.coord.SearchOnServer(context.Background(), "user-1", "acct-1", "invoice", SearchOptions{})
	if !utils.IsConnectionError(err) {
		t.Fatalf("got %v, want connection error", err)
	}
	if fx.box.windowFetches != 0 {
		t.Error("connection failure must not trigger the local fallback")
	}
}

func TestSearchValidation(t *testing.T) {
	fx := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := fx.coord.SearchOnServer(ctx, "user-1", "acct-1", "   ", SearchOptions{}); !utils.IsValidationError(err) {
		t.Errorf("blank query: got %v, want validation error", err)
	}
	if _, err := fx.coord.SearchOnServer(ctx, "", "acct-1", "query", SearchOptions{}); !utils.IsValidationError(err) {
		t.Errorf("missing user: got %v, want validation error", err)
	}
	if fx.box.dials != 0 {
		t.Errorf("validation failures dialed the server %d times", fx.box.dials)
	}
}

func TestSearchCapsHydratedMatches(t *testing.T) {
	fx := newTestCoordinator(t)
	date := time.Now().AddDate(0, 0, -1)
	for uid := uint32(1); uid <= 150; uid++ {
		fx.box.append(models.Email{UID: uid, Subject: fmt.Sprintf("invoice %d", uid), Date: date})
	}

	res, err := fx.coord.SearchOnServer(context.Background(), "user-1", "acct-1", "invoice", SearchOptions{})
	if err != nil {
		t.Fatalf("SearchOnServer: %v", err)
	}
	if res.Searched != searchResultCap {
		t.Errorf("searched = %d, want capped at %d", res.Searched, searchResultCap)
	}
	if len(fx.box.fetchedUIDs) != 1 {
		t.Fatalf("hydration fetches = %d, want 1", len(fx.box.fetchedUIDs))
	}
	uids := fx.box.fetchedUIDs[0]
	if len(uids) != searchResultCap {
		t.Fatalf("hydrated %d uids, want %d", len(uids), searchResultCap)
	}
	// The newest matches survive the cap.
	if uids[0] != 51 || uids[len(uids)-1] != 150 {
		t.Errorf("hydrated uid range %d..%d, want 51..150", uids[0], uids[len(uids)-1])
	}
}

func TestSearchWindows(t *testing.T) {
	got := searchWindows(6)
	want := []int{6, 12, 0}
	if len(got) != len(want) {
		t.Fatalf("searchWindows(6) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("searchWindows(6) = %v, want %v", got, want)
		}
	}
	if got := searchWindows(0); len(got) != 1 || got[0] != 0 {
		t.Errorf("searchWindows(0) = %v, want [0]", got)
	}
}

func TestMatchesQuery(t *testing.T) {
	mail := models.Email{
		From:     "billing@vendor.example",
		FromName: "Vendor Billing",
		To:       []string{"me@example.com"},
		Subject:  "Your Invoice",
		Body:     "Amount due: 100",
	}
	cases := []struct {
		query string
		want  bool
	}{
		{"INVOICE", true},
		{"vendor", true},
		{"me@example.com", true},
		{"amount due", true},
		{"unrelated", false},
	}
	for _, tc := range cases {
		if got := matchesQuery(mail, tc.query); got != tc.want {
			t.Errorf("matchesQuery(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}
