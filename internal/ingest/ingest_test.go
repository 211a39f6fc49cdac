package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tracyhatemice/inboxsync/internal/docstore"
	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/notify"
	"github.com/tracyhatemice/inboxsync/internal/parser"
	"github.com/tracyhatemice/inboxsync/internal/receiver"
	"github.com/tracyhatemice/inboxsync/internal/testutil"
)

var mb = testutil.Mailbox("work", "owner1")

func message(seq uint32, subject string) receiver.Message {
	return receiver.Message{
		Seq: seq,
		Raw: testutil.RawEmail("lead@example.com", "me@example.com", subject, "body of "+subject),
	}
}

func newPipeline(t *testing.T, c *testutil.Classifier, sink notify.Sink) (*Pipeline, *docstore.SQLiteStore) {
	t.Helper()
	store := testutil.NewTestStore(t)
	return New(store, parser.New(testutil.Logger), c, sink, testutil.Logger), store
}

func TestIdempotent(t *testing.T) {
	ctx := context.Background()
	c := &testutil.Classifier{}
	p, store := newPipeline(t, c, nil)

	if got := p.Ingest(ctx, mb, message(1, "hello")); got != Inserted {
		t.Fatalf("first ingest = %v", got)
	}
	if got := p.Ingest(ctx, mb, message(1, "hello")); got != SkippedAlreadyProcessed {
		t.Fatalf("second ingest = %v", got)
	}
	if c.Calls() != 1 {
		t.Fatalf("classifier called %d times, want 1", c.Calls())
	}

	docs, err := store.Search(ctx, docstore.Query{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(docs) != 1 || !docs[0].Processed || docs[0].Labels[0] != model.LabelNotInterested {
		t.Fatalf("documents %+v", docs)
	}
}

func TestConcurrentRedelivery(t *testing.T) {
	ctx := context.Background()
	c := &testutil.Classifier{}
	p, _ := newPipeline(t, c, nil)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 4)
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = p.Ingest(ctx, mb, message(2, "dup"))
		}()
	}
	wg.Wait()

	if c.Calls() != 1 {
		t.Fatalf("classifier called %d times, want 1", c.Calls())
	}
	for _, o := range outcomes {
		if !o.CaughtUp() {
			t.Fatalf("outcomes %v", outcomes)
		}
	}
}

func TestClassifierFailure(t *testing.T) {
	ctx := context.Background()
	c := &testutil.Classifier{}
	c.SetFail("flaky", true)
	p, store := newPipeline(t, c, nil)

	if got := p.Ingest(ctx, mb, message(4, "flaky")); got != Failed {
		t.Fatalf("ingest = %v, want Failed", got)
	}
	doc, err := store.Get(ctx, model.DocumentID(mb.ID, 4))
	if err != nil {
		t.Fatalf("draft not stored: %v", err)
	}
	if doc.Processed || len(doc.Labels) != 0 {
		t.Fatalf("draft %+v", doc)
	}

	// A redelivery retries classification.
	c.SetFail("flaky", false)
	if got := p.Ingest(ctx, mb, message(4, "flaky")); got != Inserted {
		t.Fatalf("retry = %v", got)
	}
	retried, err := store.Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !retried.Processed || !retried.FetchedAt.Equal(doc.FetchedAt) {
		t.Fatalf("retried document %+v", retried)
	}
}

func TestReclassify(t *testing.T) {
	ctx := context.Background()
	c := &testutil.Classifier{}
	c.SetFail("later", true)
	p, _ := newPipeline(t, c, nil)

	p.Ingest(ctx, mb, message(4, "later"))
	c.SetFail("later", false)

	ok, err := p.Reclassify(ctx, "work-4")
	if err != nil || !ok {
		t.Fatalf("reclassify: %v %v", ok, err)
	}
	ok, err = p.Reclassify(ctx, "work-4")
	if err != nil || ok {
		t.Fatalf("reclassify processed document: %v %v", ok, err)
	}
	if _, err := p.Reclassify(ctx, "work-99"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("reclassify missing: %v", err)
	}
	if c.Calls() != 2 {
		t.Fatalf("classifier called %d times, want 2", c.Calls())
	}
}

func TestInterestedNotifies(t *testing.T) {
	ctx := context.Background()
	c := &testutil.Classifier{Labels: map[string]model.Label{"deal": model.LabelInterested}}
	sink := &testutil.Sink{}
	p, _ := newPipeline(t, c, sink)

	p.Ingest(ctx, mb, message(6, "deal"))
	p.Ingest(ctx, mb, message(6, "deal"))
	p.Ingest(ctx, mb, message(7, "other"))

	docs := sink.Docs()
	if len(docs) != 1 || docs[0].ID != "work-6" || !docs[0].Processed {
		t.Fatalf("notifications %+v", docs)
	}
}

func TestNotifyFailureIgnored(t *testing.T) {
	ctx := context.Background()
	c := &testutil.Classifier{Default: model.LabelInterested}
	failing := &testutil.Sink{Err: errors.New("webhook down")}

	for _, sink := range []notify.Sink{failing, nil} {
		p, store := newPipeline(t, c, sink)
		if got := p.Ingest(ctx, mb, message(6, "deal")); got != Inserted {
			t.Fatalf("ingest = %v", got)
		}
		doc, err := store.Get(ctx, "work-6")
		if err != nil || !doc.Processed || !doc.HasLabel(model.LabelInterested) {
			t.Fatalf("document %+v, err %v", doc, err)
		}
	}
}

type brokenStore struct {
	docstore.Store
}

func (brokenStore) Get(context.Context, string) (*model.EmailDocument, error) {
	return nil, errors.New("store unreachable")
}

func TestStoreFailure(t *testing.T) {
	c := &testutil.Classifier{}
	p := New(brokenStore{}, parser.New(testutil.Logger), c, nil, testutil.Logger)
	if got := p.Ingest(context.Background(), mb, message(1, "x")); got != Failed {
		t.Fatalf("ingest = %v, want Failed", got)
	}
	if c.Calls() != 0 {
		t.Fatalf("classifier called with store down")
	}
}
