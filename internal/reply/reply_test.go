package reply

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tracyhatemice/inboxsync/internal/classifier"
	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/testutil"
)

func TestSimilar(t *testing.T) {
	s := NewStatic(nil)

	got := s.Similar("Your interview: when is a good time for the technical round?", 3)
	if len(got) == 0 || !strings.Contains(got[0].Email, "technical interview") {
		t.Fatalf("best match %+v", got)
	}
	if len(got) > 3 {
		t.Errorf("got %d examples, want at most 3", len(got))
	}

	if got := s.Similar("zzz qqq", 3); len(got) != 0 {
		t.Errorf("unrelated text matched %+v", got)
	}
}

type fakeModel struct {
	out      string
	err      error
	messages []classifier.Message
}

func (f *fakeModel) Complete(_ context.Context, messages []classifier.Message) (string, error) {
	f.messages = messages
	return f.out, f.err
}

func TestGenerate(t *testing.T) {
	m := &fakeModel{out: "  Thanks, Tuesday works.\n"}
	g := New(m, NewStatic(nil), testutil.Logger)
	doc := model.EmailDocument{
		ID:      "work-1",
		From:    "lead@example.com",
		Subject: "Meeting",
		Body:    "We have booked your meeting for next Tuesday.",
	}

	out, err := g.Generate(context.Background(), doc)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "Thanks, Tuesday works." {
		t.Errorf("reply %q", out)
	}
	prompt := m.messages[len(m.messages)-1].Content
	if !strings.Contains(prompt, "Looking forward to it!") {
		t.Errorf("prompt lacks the closest example:\n%s", prompt)
	}
	if !strings.Contains(prompt, "lead@example.com") {
		t.Errorf("prompt lacks the sender:\n%s", prompt)
	}

	m.err = errors.New("boom")
	if _, err := g.Generate(context.Background(), doc); err == nil {
		t.Errorf("expected error")
	}
	m.err, m.out = nil, "   "
	if _, err := g.Generate(context.Background(), doc); err == nil {
		t.Errorf("expected error for empty reply")
	}
}
