package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"tidemail/utils"
)

func newLocaleApp(t *testing.T) *fiber.App {
	t.Helper()
	// An empty locale dir still yields a usable bundle.
	if err := utils.InitI18n(t.TempDir()); err != nil {
		t.Fatalf("InitI18n: %v", err)
	}

	app := fiber.New()
	app.Use(LocaleMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		lang, _ := c.Locals("lang").(string)
		return c.SendString(lang)
	})
	return app
}

func requestLang(t *testing.T, app *fiber.App, mutate func(*http.Request)) (string, *http.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if mutate != nil {
		mutate(req)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body), resp
}

func langCookie(resp *http.Response) *http.Cookie {
	for _, ck := range resp.Cookies() {
		if ck.Name == "lang" {
			return ck
		}
	}
	return nil
}

func TestLocaleFromQuery(t *testing.T) {
	app := newLocaleApp(t)

	lang, resp := requestLang(t, app, func(req *http.Request) {
		req.URL.RawQuery = "lang=ja"
		req.RequestURI = req.URL.RequestURI()
	})
	if lang != "ja" {
		t.Errorf("lang = %q, want ja", lang)
	}
	cookie := langCookie(resp)
	if cookie == nil || cookie.Value != "ja" {
		t.Errorf("explicit choice not persisted: %v", cookie)
	}
}

func TestLocaleFromCookie(t *testing.T) {
	app := newLocaleApp(t)

	lang, resp := requestLang(t, app, func(req *http.Request) {
		req.AddCookie(&http.Cookie{Name: "lang", Value: "ja"})
	})
	if lang != "ja" {
		t.Errorf("lang = %q, want ja", lang)
	}
	if langCookie(resp) != nil {
		t.Error("cookie re-set without an explicit choice")
	}
}

func TestLocaleFromAcceptLanguage(t *testing.T) {
	app := newLocaleApp(t)

	lang, _ := requestLang(t, app, func(req *http.Request) {
		req.Header.Set("Accept-Language", "ja-JP,ja;q=0.9,en;q=0.8")
	})
	if lang != "ja" {
		t.Errorf("lang = %q, want ja", lang)
	}
}

func TestLocaleUnsupportedFallsBack(t *testing.T) {
	app := newLocaleApp(t)

	lang, resp := requestLang(t, app, func(req *http.Request) {
		req.URL.RawQuery = "lang=fr"
		req.RequestURI = req.URL.RequestURI()
	})
	if lang != "en" {
		t.Errorf("lang = %q, want en", lang)
	}
	if langCookie(resp) != nil {
		t.Error("unsupported choice was persisted")
	}
}

func TestMatchAcceptLanguage(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"", "en"},
		{"fr-FR", "en"},
		{"en-US,en;q=0.9", "en"},
		{"ja", "ja"},
		{"fr,ja;q=0.8", "ja"},
		{"ja-JP", "ja"},
	}
	for _, tc := range cases {
		if got := matchAcceptLanguage(tc.header); got != tc.want {
			t.Errorf("matchAcceptLanguage(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}
