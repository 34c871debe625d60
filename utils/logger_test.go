package utils

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want LogLevel
	}{
		{"debug", DEBUG},
		{"DEBUG", DEBUG},
		{"info", INFO},
		{"warn", WARN},
		{"warning", WARN},
		{"error", ERROR},
		{" error ", ERROR},
		{"", INFO},
		{"nonsense", INFO},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WARN)
	logger.SetOutput(&buf)

	logger.Debug("Debug line")
	logger.Info("Info line")
	logger.Warn("Warn line %d", 1)
	logger.Error("Error line")

	out := buf.String()
	if strings.Contains(out, "Debug line") || strings.Contains(out, "Info line") {
		t.Errorf("suppressed levels leaked into output:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] Warn line 1") {
		t.Errorf("missing formatted warn line:\n%s", out)
	}
	if !strings.Contains(out, "[ERROR] Error line") {
		t.Errorf("missing error line:\n%s", out)
	}
}

func TestLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(ERROR)
	logger.SetOutput(&buf)

	logger.Info("Before")
	logger.SetLevel(DEBUG)
	logger.Info("After")

	out := buf.String()
	if strings.Contains(out, "Before") {
		t.Errorf("line logged below level:\n%s", out)
	}
	if !strings.Contains(out, "After") {
		t.Errorf("line missing after level change:\n%s", out)
	}
}

func TestLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(INFO)
	logger.SetOutput(&buf)

	derived := logger.WithField("user", "u1").WithField("mailbox", "INBOX")
	derived.Info("Sync finished")

	out := buf.String()
	if !strings.Contains(out, "Sync finished user=u1 mailbox=INBOX") {
		t.Errorf("fields not appended to line:\n%s", out)
	}

	// The parent logger stays field-free.
	buf.Reset()
	logger.Info("Plain line")
	if strings.Contains(buf.String(), "user=u1") {
		t.Errorf("parent logger inherited fields:\n%s", buf.String())
	}
}

func TestLogLevelString(t *testing.T) {
	cases := []struct {
		level LogLevel
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.level.String(); got != tc.want {
			t.Errorf("String(%d) = %q, want %q", int(tc.level), got, tc.want)
		}
	}
}
