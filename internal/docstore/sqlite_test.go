package docstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tracyhatemice/inboxsync/internal/docstore"
	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/testutil"
)

func tcheck(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %s", msg, err)
	}
}

func doc(mailbox, owner string, seq uint32, fetched time.Time, processed bool) *model.EmailDocument {
	return &model.EmailDocument{
		ID:        model.DocumentID(mailbox, seq),
		MailboxID: mailbox,
		Sequence:  seq,
		OwnerID:   owner,
		Account:   mailbox + "@example.com",
		Folder:    model.FolderInbox,
		From:      "alice@example.com",
		To:        []string{"bob@example.com"},
		Subject:   "hello",
		MessageID: mailbox + ".hello@example.com",
		Date:      fetched.Add(-time.Hour),
		Body:      "body",
		Snippet:   "body",
		Flags:     []string{`\Seen`},
		FetchedAt: fetched,
		Processed: processed,
	}
}

func TestGetPut(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	_, err := s.Get(ctx, "missing")
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("get missing: got %v, want ErrNotFound", err)
	}

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	d := doc("a", "o1", 7, now, false)
	tcheck(t, s.Put(ctx, d), "put")

	got, err := s.Get(ctx, d.ID)
	tcheck(t, err, "get")
	if got.Sequence != 7 || got.OwnerID != "o1" || !got.FetchedAt.Equal(now) {
		t.Fatalf("unexpected document %+v", got)
	}
	if got.MessageID != "a.hello@example.com" {
		t.Errorf("message id %q", got.MessageID)
	}
	if len(got.To) != 1 || got.To[0] != "bob@example.com" || len(got.Labels) != 0 {
		t.Fatalf("lists not round-tripped: %+v", got)
	}

	// Same id overwrites in place.
	d.Labels = []model.Label{model.LabelSpam}
	d.Processed = true
	tcheck(t, s.Put(ctx, d), "put again")
	got, err = s.Get(ctx, d.ID)
	tcheck(t, err, "get again")
	if !got.Processed || !got.HasLabel(model.LabelSpam) {
		t.Fatalf("update not applied: %+v", got)
	}

	all, err := s.Search(ctx, docstore.Query{})
	tcheck(t, err, "search")
	if len(all) != 1 {
		t.Fatalf("got %d documents, want 1", len(all))
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tcheck(t, s.Put(ctx, doc("a", "o1", 1, base, true)), "put")
	tcheck(t, s.Put(ctx, doc("a", "o1", 2, base.Add(time.Minute), false)), "put")
	tcheck(t, s.Put(ctx, doc("b", "o2", 1, base.Add(2*time.Minute), false)), "put")

	docs, err := s.Search(ctx, docstore.Query{})
	tcheck(t, err, "search all")
	if len(docs) != 3 || docs[0].ID != "b-1" || docs[2].ID != "a-1" {
		t.Fatalf("unexpected order: %v", ids(docs))
	}

	docs, err = s.Search(ctx, docstore.Query{OwnerID: "o1", Processed: docstore.Bool(false)})
	tcheck(t, err, "search unprocessed o1")
	if len(docs) != 1 || docs[0].ID != "a-2" {
		t.Fatalf("unexpected result: %v", ids(docs))
	}

	docs, err = s.Search(ctx, docstore.Query{Processed: docstore.Bool(false), Sort: docstore.SortSequenceAsc})
	tcheck(t, err, "search unprocessed")
	if len(docs) != 2 || docs[0].ID != "a-2" || docs[1].ID != "b-1" {
		t.Fatalf("unexpected result: %v", ids(docs))
	}

	docs, err = s.Search(ctx, docstore.Query{Limit: 2})
	tcheck(t, err, "search limit")
	if len(docs) != 2 {
		t.Fatalf("limit not applied: %v", ids(docs))
	}
}

func TestMaxSequence(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)

	seq, err := s.MaxSequence(ctx, "a")
	tcheck(t, err, "max empty")
	if seq != 0 {
		t.Fatalf("max of empty mailbox = %d", seq)
	}

	now := time.Now()
	for _, n := range []uint32{3, 11, 5} {
		tcheck(t, s.Put(ctx, doc("a", "o", n, now, true)), "put")
	}
	tcheck(t, s.Put(ctx, doc("b", "o", 99, now, true)), "put")

	seq, err = s.MaxSequence(ctx, "a")
	tcheck(t, err, "max")
	if seq != 11 {
		t.Fatalf("max = %d, want 11", seq)
	}
}

func ids(docs []model.EmailDocument) []string {
	var l []string
	for _, d := range docs {
		l = append(l, d.ID)
	}
	return l
}

func TestReopenAppliesMigrationsOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "docs.db")

	s, err := docstore.NewSQLiteStore(path)
	tcheck(t, err, "open")
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tcheck(t, s.Put(ctx, doc("a", "o1", 1, now, false)), "put")
	tcheck(t, s.Close(), "close")

	s, err = docstore.NewSQLiteStore(path)
	tcheck(t, err, "reopen")
	t.Cleanup(func() { s.Close() })
	got, err := s.Get(ctx, model.DocumentID("a", 1))
	tcheck(t, err, "get")
	if got.MessageID != "a.hello@example.com" {
		t.Errorf("message id %q after reopen", got.MessageID)
	}
}
