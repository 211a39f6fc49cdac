package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sample = `
log_level: debug
sender:
  host: smtp.example.com
  port: 587
identities:
  - address: sales@example.com
    default: true
mailboxes:
  - id: work
    host: imap.example.com
    port: 993
    username: me@example.com
    password: ${TEST_INBOXSYNC_PASS}
  - id: legacy
    protocol: pop3
    host: pop.example.com
    port: 995
    username: old@example.com
    use_tls: false
    mark_seen: false
    process_days: 7
`

func TestLoad(t *testing.T) {
	t.Setenv("TEST_INBOXSYNC_PASS", "hunter2")
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(sample), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level %q", cfg.LogLevel)
	}
	if cfg.RetryDelay() != 5*time.Second {
		t.Errorf("retry delay %v", cfg.RetryDelay())
	}
	if cfg.API.GetAddr() != ":4000" {
		t.Errorf("api addr %q", cfg.API.GetAddr())
	}

	work := cfg.Mailboxes[0].Model()
	if work.Password != "hunter2" {
		t.Errorf("password not expanded: %q", work.Password)
	}
	if work.Protocol != "imap" || !work.UseTLS || !work.MarkSeen || work.OwnerID != "work" {
		t.Errorf("unexpected defaults: %+v", work)
	}
	if got := cfg.Mailboxes[0].GetProcessDays(); got != 30 {
		t.Errorf("process days %d", got)
	}

	legacy, ok := cfg.Lookup("legacy")
	if !ok {
		t.Fatalf("legacy mailbox missing")
	}
	lm := legacy.Model()
	if lm.UseTLS || lm.MarkSeen || lm.Protocol != "pop3" {
		t.Errorf("unexpected overrides: %+v", lm)
	}
	if legacy.GetProcessDays() != 7 {
		t.Errorf("process days %d", legacy.GetProcessDays())
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"no mailboxes": `log_level: info`,
		"duplicate": `
mailboxes:
  - {id: a, host: h, port: 1, username: u}
  - {id: a, host: h, port: 1, username: u}`,
		"protocol": `
mailboxes:
  - {id: a, protocol: smtp, host: h, port: 1, username: u}`,
		"identity without sender": `
identities:
  - address: a@example.com
mailboxes:
  - {id: a, host: h, port: 1, username: u}`,
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Errorf("%s: expected error", name)
		} else if !strings.Contains(err.Error(), "validate config") {
			t.Errorf("%s: unexpected error %v", name, err)
		}
	}
}
