package api

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"tidemail/mailclient"
	"tidemail/models"
	"tidemail/storage"
	"tidemail/utils"
)

type stubRemote struct {
	mailboxes  []mailclient.MailboxInfo
	attachment *mailclient.AttachmentData
	err        error
	closed     bool
	lastCreds  models.AccountCredentials
}

func (s *stubRemote) Mailboxes() ([]mailclient.MailboxInfo, error) {
	return s.mailboxes, s.err
}

func (s *stubRemote) FetchAttachment(mailbox string, uid uint32, index int) (*mailclient.AttachmentData, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.attachment, nil
}

func (s *stubRemote) Close() error {
	s.closed = true
	return nil
}

// newRemoteTestApp stores a real encrypted account and wires the live
// read-through handlers against a stub mail server.
func newRemoteTestApp(t *testing.T, remote *stubRemote) (*fiber.App, string) {
	t.Helper()

	db, err := storage.InitDB(t.TempDir())
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	accounts := storage.NewAccountStorage(db, []byte("0123456789abcdef0123456789abcdef"))
	account := &models.Account{
		UserID:   "user-1",
		Email:    "alice@example.com",
		Server:   "imap.example.com",
		UseSSL:   true,
		Username: "alice@example.com",
		Password: "app-secret",
	}
	if err := accounts.CreateAccount(account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	dial := func(creds models.AccountCredentials) (remoteSession, error) {
		remote.lastCreds = creds
		return remote, nil
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var appErr *utils.AppError
			if errors.As(err, &appErr) {
				code = appErr.Code
			}
			return c.Status(code).SendString(err.Error())
		},
	})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(LocalsUserID, "user-1")
		return c.Next()
	})

	mailboxAPI := NewMailboxHandler(accounts, dial)
	attachmentAPI := NewAttachmentHandler(accounts, dial)
	app.Get("/api/mailboxes", mailboxAPI.HandleList)
	app.Get("/api/attachment/:code/:uid/:index", attachmentAPI.HandleDownload)
	app.Get("/api/attachment/:code/:uid/:index/preview", attachmentAPI.HandlePreview)

	return app, account.Code
}

func TestMailboxListEndpoint(t *testing.T) {
	remote := &stubRemote{
		mailboxes: []mailclient.MailboxInfo{
			{Name: "INBOX", Delimiter: "/"},
			{Name: "Archive", Delimiter: "/"},
		},
	}
	app, code := newRemoteTestApp(t, remote)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/mailboxes?accountCode="+code, nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "INBOX") || !strings.Contains(string(body), "Archive") {
		t.Errorf("body = %s", body)
	}

	// The handler dialed with the decrypted credentials and hung up.
	if remote.lastCreds.Password != "app-secret" {
		t.Errorf("dial password = %q, want the decrypted secret", remote.lastCreds.Password)
	}
	if !remote.closed {
		t.Error("session left open")
	}
}

func TestAttachmentDownload(t *testing.T) {
	remote := &stubRemote{
		attachment: &mailclient.AttachmentData{
			Filename:    "report.pdf",
			ContentType: "application/pdf",
			Content:     []byte("%PDF-fake"),
		},
	}
	app, code := newRemoteTestApp(t, remote)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/attachment/"+code+"/42/0", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="report.pdf"` {
		t.Errorf("disposition = %q", cd)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "%PDF-fake" {
		t.Errorf("body = %q", body)
	}
}

func TestAttachmentPreviewInline(t *testing.T) {
	remote := &stubRemote{
		attachment: &mailclient.AttachmentData{
			Filename:    "logo.png",
			ContentType: "image/png",
			Content:     []byte("png-bytes"),
		},
	}
	app, code := newRemoteTestApp(t, remote)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/attachment/"+code+"/42/1/preview", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if cd := resp.Header.Get("Content-Disposition"); !strings.HasPrefix(cd, "inline;") {
		t.Errorf("disposition = %q, want inline", cd)
	}
}

func TestAttachmentBadParams(t *testing.T) {
	remote := &stubRemote{}
	app, code := newRemoteTestApp(t, remote)

	for _, path := range []string{
		"/api/attachment/" + code + "/not-a-uid/0",
		"/api/attachment/" + code + "/42/not-an-index",
	} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		if err != nil {
			t.Fatalf("request %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, resp.StatusCode)
		}
	}
}

func TestAttachmentUnknownAccount(t *testing.T) {
	remote := &stubRemote{}
	app, _ := newRemoteTestApp(t, remote)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/attachment/zzzzzzzz/42/0", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
