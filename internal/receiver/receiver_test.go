package receiver

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tracyhatemice/inboxsync/internal/testutil"
)

func TestDialUnsupported(t *testing.T) {
	mb := testutil.Mailbox("work", "owner1")
	mb.Protocol = "smtp"
	sess, err := NewDialer(testutil.Logger).Dial(context.Background(), mb)
	if err == nil || !strings.Contains(err.Error(), "unsupported protocol") {
		t.Fatalf("expected unsupported protocol error, got %v", err)
	}
	if sess != nil {
		t.Fatalf("got session %v with error", sess)
	}
}

func TestPOP3Wait(t *testing.T) {
	s := &pop3Session{interval: time.Hour, logger: testutil.Logger}

	start := time.Now()
	signaled, err := s.Wait(context.Background(), 10*time.Millisecond)
	if err != nil || signaled {
		t.Fatalf("wait = %v, %v", signaled, err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("wait ignored the timeout")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Wait(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestExtractDate(t *testing.T) {
	raw := testutil.RawEmail("a@example.com", "b@example.com", "hi", "body")
	want := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if got := extractDate(raw); !got.Equal(want) {
		t.Errorf("date %v, want %v", got, want)
	}
	if got := extractDate([]byte("not a message")); !got.IsZero() {
		t.Errorf("expected zero date, got %v", got)
	}
}
