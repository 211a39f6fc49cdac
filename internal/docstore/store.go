// Package docstore holds one canonical document per ingested message, keyed
// by the deterministic document id.
package docstore

import (
	"context"
	"errors"

	"github.com/tracyhatemice/inboxsync/internal/model"
)

// ErrNotFound is returned by Get when no document has the given id.
var ErrNotFound = errors.New("document not found")

// Sort selects the result order of a search.
type Sort int

const (
	// SortFetchedDesc orders by ingestion timestamp, newest first.
	SortFetchedDesc Sort = iota
	// SortSequenceAsc orders by mailbox then sequence number, oldest first.
	SortSequenceAsc
)

// Query controls filtering, sorting, and the result limit of a search.
type Query struct {
	OwnerID   string // empty means all owners
	MailboxID string // empty means all mailboxes
	Processed *bool  // nil means both
	Sort      Sort
	Limit     int // <= 0 means no limit
}

// Store is the document store contract used by the ingestion path, the
// sweeper and the read path.
type Store interface {
	Get(ctx context.Context, id string) (*model.EmailDocument, error)
	Put(ctx context.Context, doc *model.EmailDocument) error
	Search(ctx context.Context, q Query) ([]model.EmailDocument, error)

	// MaxSequence returns the highest sequence number stored for a mailbox,
	// or 0 when the mailbox has no documents.
	MaxSequence(ctx context.Context, mailboxID string) (uint32, error)
}

// Bool returns a pointer to b, for Query.Processed.
func Bool(b bool) *bool {
	return &b
}
