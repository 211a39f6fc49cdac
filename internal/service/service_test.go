package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/sender"
	"github.com/tracyhatemice/inboxsync/internal/syncer"
	"github.com/tracyhatemice/inboxsync/internal/testutil"
)

type fakeSupervisor struct {
	mu      sync.Mutex
	running map[string]bool
	woken   []string
}

func (f *fakeSupervisor) StartSync(mb model.Mailbox) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running[mb.ID] {
		return false
	}
	f.running[mb.ID] = true
	return true
}

func (f *fakeSupervisor) StopSync(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.running[id]
	delete(f.running, id)
	return was
}

func (f *fakeSupervisor) Wake(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.woken = append(f.woken, id)
	return f.running[id]
}

func (f *fakeSupervisor) Statuses() []syncer.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []syncer.Status
	for id := range f.running {
		out = append(out, syncer.Status{MailboxID: id, State: "idle", Connected: true})
	}
	return out
}

type fakeReplier struct {
	calls int
}

func (f *fakeReplier) Generate(_ context.Context, doc model.EmailDocument) (string, error) {
	f.calls++
	return "Thanks for reaching out about " + doc.Subject, nil
}

type fakeMailer struct {
	sent []sender.Outgoing
}

func (f *fakeMailer) Send(_ context.Context, out sender.Outgoing) (string, error) {
	f.sent = append(f.sent, out)
	return "sales@example.com", nil
}

func newService(t *testing.T) (*Service, *fakeSupervisor, *fakeReplier, *fakeMailer) {
	t.Helper()
	store := testutil.NewTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 3; i++ {
		doc := model.EmailDocument{
			ID:        model.DocumentID("work", uint32(i)),
			MailboxID: "work",
			Sequence:  uint32(i),
			OwnerID:   "owner1",
			From:      "lead@acme.com, other@acme.com",
			Subject:   fmt.Sprintf("Deal %d", i),
			MessageID: fmt.Sprintf("deal.%d@acme.com", i),
			Date:      base,
			FetchedAt: base.Add(time.Duration(i) * time.Hour),
			Processed: true,
		}
		if err := store.Put(ctx, &doc); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	sup := &fakeSupervisor{running: map[string]bool{}}
	r := &fakeReplier{}
	m := &fakeMailer{}
	s := New(Deps{
		Mailboxes:  []model.Mailbox{testutil.Mailbox("work", "owner1"), testutil.Mailbox("home", "owner2")},
		Store:      store,
		Supervisor: sup,
		Replier:    r,
		Mailer:     m,
		Logger:     testutil.Logger,
	})
	return s, sup, r, m
}

func TestSyncControl(t *testing.T) {
	s, sup, _, _ := newService(t)

	if started, err := s.StartSync("work"); err != nil || !started {
		t.Fatalf("start = %v, %v", started, err)
	}
	if started, err := s.StartSync("work"); err != nil || started {
		t.Fatalf("second start = %v, %v", started, err)
	}
	if len(sup.woken) != 1 {
		t.Errorf("second start should wake the running sync")
	}
	if _, err := s.StartSync("nope"); !errors.Is(err, ErrUnknownMailbox) {
		t.Errorf("expected ErrUnknownMailbox, got %v", err)
	}

	boxes := s.Mailboxes()
	if len(boxes) != 2 || boxes[0].ID != "work" || boxes[0].Sync == nil || boxes[1].Sync != nil {
		t.Errorf("mailboxes %+v", boxes)
	}

	if stopped, err := s.StopSync("work"); err != nil || !stopped {
		t.Errorf("stop = %v, %v", stopped, err)
	}
	if stopped, _ := s.StopSync("work"); stopped {
		t.Errorf("stop of stopped mailbox reported running")
	}
}

func TestFetchRecent(t *testing.T) {
	s, _, _, _ := newService(t)
	ctx := context.Background()

	docs, err := s.FetchRecent(ctx, "owner1", 0)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(docs) != 3 || docs[0].ID != "work-3" || docs[2].ID != "work-1" {
		t.Errorf("order %v", docs)
	}

	docs, _ = s.FetchRecent(ctx, "owner1", 2)
	if len(docs) != 2 {
		t.Errorf("limit ignored: %d", len(docs))
	}
	docs, _ = s.FetchRecent(ctx, "owner2", 0)
	if len(docs) != 0 {
		t.Errorf("other owner's documents leaked: %v", docs)
	}
}

func TestReplyAndSend(t *testing.T) {
	s, _, r, m := newService(t)
	ctx := context.Background()

	sent, err := s.Send(ctx, "work-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if r.calls != 1 {
		t.Errorf("replier called %d times", r.calls)
	}
	if sent.To != "lead@acme.com" || sent.Subject != "Re: Deal 1" || sent.From != "sales@example.com" {
		t.Errorf("sent %+v", sent)
	}
	if len(m.sent) != 1 || m.sent[0].Body != "Thanks for reaching out about Deal 1" {
		t.Fatalf("mailer got %+v", m.sent)
	}
	if m.sent[0].InReplyTo != "deal.1@acme.com" {
		t.Errorf("reply not threaded: in-reply-to %q", m.sent[0].InReplyTo)
	}

	// The drafted reply is stored and reused.
	if _, err := s.Send(ctx, "work-1"); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if r.calls != 1 {
		t.Errorf("stored reply not reused")
	}

	if _, err := s.GenerateReply(ctx, "work-99"); !errors.Is(err, ErrUnknownDocument) {
		t.Errorf("expected ErrUnknownDocument, got %v", err)
	}
	if _, err := s.Send(ctx, "work-99"); !errors.Is(err, ErrUnknownDocument) {
		t.Errorf("expected ErrUnknownDocument, got %v", err)
	}
}

func TestReplySubject(t *testing.T) {
	for in, want := range map[string]string{
		"Hello":     "Re: Hello",
		"RE: Hello": "RE: Hello",
		"":          "Re: ",
	} {
		if got := replySubject(in); got != want {
			t.Errorf("replySubject(%q) = %q, want %q", in, got, want)
		}
	}
}
