// Package ingest turns transport messages into classified documents, at
// most once per mailbox and sequence number.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tracyhatemice/inboxsync/internal/classifier"
	"github.com/tracyhatemice/inboxsync/internal/docstore"
	"github.com/tracyhatemice/inboxsync/internal/metrics"
	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/notify"
	"github.com/tracyhatemice/inboxsync/internal/parser"
	"github.com/tracyhatemice/inboxsync/internal/receiver"
)

// Outcome is the result of ingesting one message.
type Outcome int

const (
	// Inserted means the message was stored and classified.
	Inserted Outcome = iota
	// SkippedAlreadyProcessed means a classified document already existed.
	SkippedAlreadyProcessed
	// Failed means the message was not classified. If the draft was
	// stored it stays processed=false for the sweeper.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case SkippedAlreadyProcessed:
		return "skipped"
	default:
		return "failed"
	}
}

// CaughtUp reports whether the cursor may advance past the message.
func (o Outcome) CaughtUp() bool {
	return o == Inserted || o == SkippedAlreadyProcessed
}

const notifyTimeout = 10 * time.Second

// Pipeline ingests messages. Work for one document id is collapsed with a
// singleflight group, so concurrent redeliveries of the same message in
// this process share a single classification.
type Pipeline struct {
	store      docstore.Store
	parser     *parser.Parser
	classifier classifier.Classifier
	sink       notify.Sink
	group      singleflight.Group
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a Pipeline. sink may be nil.
func New(store docstore.Store, p *parser.Parser, c classifier.Classifier, sink notify.Sink, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:      store,
		parser:     p,
		classifier: c,
		sink:       sink,
		now:        time.Now,
		logger:     logger,
	}
}

// Ingest stores, classifies and, for interested mail, notifies about msg.
// It never returns an error; failures are logged and reported as Failed.
func (p *Pipeline) Ingest(ctx context.Context, mb model.Mailbox, msg receiver.Message) Outcome {
	id := model.DocumentID(mb.ID, msg.Seq)
	v, _, _ := p.group.Do(id, func() (interface{}, error) {
		return p.ingest(ctx, mb, msg, id), nil
	})
	outcome := v.(Outcome)
	metrics.Ingest.WithLabelValues(outcome.String()).Inc()
	return outcome
}

func (p *Pipeline) ingest(ctx context.Context, mb model.Mailbox, msg receiver.Message, id string) Outcome {
	logger := p.logger.With("mailbox", mb.ID, "uid", msg.Seq, "doc_id", id)

	existing, err := p.store.Get(ctx, id)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		existing = nil
	case err != nil:
		logger.Error("document lookup failed", "error", err)
		return Failed
	case existing.Processed:
		logger.Debug("already processed")
		return SkippedAlreadyProcessed
	}

	doc := p.parser.Parse(mb, msg, p.now())
	if existing != nil {
		doc.FetchedAt = existing.FetchedAt
	}

	// Checkpoint before the slow classifier call; a crash from here on
	// leaves a processed=false document for the sweeper.
	if err := p.store.Put(ctx, &doc); err != nil {
		logger.Error("storing draft failed", "error", err)
		return Failed
	}

	if err := p.classify(ctx, &doc); err != nil {
		logger.Warn("classification failed, left for sweeper", "error", err)
		return Failed
	}
	logger.Info("ingested", "label", doc.Labels[0], "subject", doc.Subject)
	return Inserted
}

// Reclassify classifies a stored, unprocessed document. It reports false
// without calling the classifier when the document was processed in the
// meantime. Reclassify and Ingest share one in-flight call per document id.
func (p *Pipeline) Reclassify(ctx context.Context, id string) (bool, error) {
	v, err, _ := p.group.Do(id, func() (interface{}, error) {
		doc, err := p.store.Get(ctx, id)
		if err != nil {
			return Failed, err
		}
		if doc.Processed {
			return SkippedAlreadyProcessed, nil
		}
		if err := p.classify(ctx, doc); err != nil {
			return Failed, err
		}
		return Inserted, nil
	})
	if err != nil {
		return false, err
	}
	return v.(Outcome) == Inserted, nil
}

// classify labels doc, persists it as processed and sends the
// notification side effect.
func (p *Pipeline) classify(ctx context.Context, doc *model.EmailDocument) error {
	res, err := p.classifier.Classify(ctx, doc.Body, doc.Subject, doc.From)
	if err != nil {
		return err
	}

	labeled := *doc
	labeled.Labels = []model.Label{res.Label}
	labeled.Processed = true
	if err := p.store.Put(ctx, &labeled); err != nil {
		return fmt.Errorf("storing labeled document: %w", err)
	}
	*doc = labeled

	if res.Label == model.LabelInterested {
		p.notify(ctx, labeled)
	}
	return nil
}

func (p *Pipeline) notify(ctx context.Context, doc model.EmailDocument) {
	if p.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	err := p.sink.Notify(ctx, doc)
	metrics.Notifications.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		p.logger.Warn("notification failed", "doc_id", doc.ID, "error", err)
	}
}
