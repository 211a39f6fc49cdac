// Package sweeper finishes documents that were stored but never classified.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tracyhatemice/inboxsync/internal/docstore"
	"github.com/tracyhatemice/inboxsync/internal/metrics"
)

// Reclassifier classifies one stored document, reporting whether it did
// the work.
type Reclassifier interface {
	Reclassify(ctx context.Context, id string) (bool, error)
}

// Sweeper runs catch-up passes over unprocessed documents.
type Sweeper struct {
	store    docstore.Store
	pipeline Reclassifier
	logger   *slog.Logger
}

// New creates a Sweeper.
func New(store docstore.Store, pipeline Reclassifier, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, pipeline: pipeline, logger: logger}
}

// Sweep classifies every unprocessed document belonging to owner and
// returns how many it completed. A document that fails is left for the next
// sweep. An empty owner sweeps all owners.
func (s *Sweeper) Sweep(ctx context.Context, owner string) (int, error) {
	logger := s.logger.With("run_id", uuid.NewString(), "owner", owner)
	start := time.Now()

	docs, err := s.store.Search(ctx, docstore.Query{
		OwnerID:   owner,
		Processed: docstore.Bool(false),
		Sort:      docstore.SortSequenceAsc,
	})
	if err != nil {
		return 0, fmt.Errorf("listing unprocessed documents: %w", err)
	}
	if len(docs) == 0 {
		logger.Debug("nothing to sweep")
		return 0, nil
	}
	logger.Info(fmt.Sprintf("sweeping %d unprocessed document(s)", len(docs)))

	done, failed := 0, 0
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		ok, err := s.pipeline.Reclassify(ctx, doc.ID)
		if err != nil {
			failed++
			logger.Warn("reclassify failed", "doc_id", doc.ID, "error", err)
			continue
		}
		if ok {
			done++
			metrics.SweepDocuments.Inc()
		}
	}

	logger.Info("sweep finished",
		"classified", done,
		"failed", failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return done, nil
}
