package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tracyhatemice/inboxsync/internal/model"
)

// SQLiteStore implements Store using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// documentRow is the on-disk shape of a document. List fields are stored
// as JSON arrays, timestamps as unix nanoseconds.
type documentRow struct {
	ID             string `db:"id"`
	MailboxID      string `db:"mailbox_id"`
	Sequence       int64  `db:"sequence"`
	OwnerID        string `db:"owner_id"`
	Account        string `db:"account"`
	Folder         string `db:"folder"`
	From           string `db:"from_addr"`
	To             string `db:"to_addrs"`
	Subject        string `db:"subject"`
	MessageID      string `db:"message_id"`
	Date           int64  `db:"date"`
	Body           string `db:"body"`
	Snippet        string `db:"snippet"`
	Labels         string `db:"labels"`
	SuggestedReply string `db:"suggested_reply"`
	Flags          string `db:"flags"`
	FetchedAt      int64  `db:"fetched_at"`
	Processed      bool   `db:"processed"`
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, enables
// WAL mode, and runs any pending schema migrations. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Get retrieves a single document by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.EmailDocument, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM documents WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	doc, err := row.document()
	if err != nil {
		return nil, fmt.Errorf("decoding document %s: %w", id, err)
	}
	return doc, nil
}

// Put inserts or replaces the document stored under doc.ID.
func (s *SQLiteStore) Put(ctx context.Context, doc *model.EmailDocument) error {
	if doc.ID == "" {
		return fmt.Errorf("document has no id")
	}
	row, err := newDocumentRow(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", doc.ID, err)
	}

	const query = `
		INSERT OR REPLACE INTO documents (
			id, mailbox_id, sequence, owner_id,
			account, folder, from_addr, to_addrs,
			subject, message_id, date, body, snippet,
			labels, suggested_reply, flags,
			fetched_at, processed
		) VALUES (
			:id, :mailbox_id, :sequence, :owner_id,
			:account, :folder, :from_addr, :to_addrs,
			:subject, :message_id, :date, :body, :snippet,
			:labels, :suggested_reply, :flags,
			:fetched_at, :processed
		)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.ID, err)
	}
	return nil
}

// Search retrieves documents matching q.
func (s *SQLiteStore) Search(ctx context.Context, q Query) ([]model.EmailDocument, error) {
	var conditions []string
	var args []interface{}

	if q.OwnerID != "" {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, q.OwnerID)
	}
	if q.MailboxID != "" {
		conditions = append(conditions, "mailbox_id = ?")
		args = append(args, q.MailboxID)
	}
	if q.Processed != nil {
		conditions = append(conditions, "processed = ?")
		args = append(args, *q.Processed)
	}

	query := "SELECT * FROM documents"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	switch q.Sort {
	case SortSequenceAsc:
		query += " ORDER BY mailbox_id ASC, sequence ASC"
	default:
		query += " ORDER BY fetched_at DESC, sequence DESC"
	}

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}

	docs := make([]model.EmailDocument, 0, len(rows))
	for _, r := range rows {
		doc, err := r.document()
		if err != nil {
			return nil, fmt.Errorf("decoding document %s: %w", r.ID, err)
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// MaxSequence returns the highest stored sequence number for mailboxID.
func (s *SQLiteStore) MaxSequence(ctx context.Context, mailboxID string) (uint32, error) {
	var seq int64
	err := s.db.GetContext(ctx, &seq,
		"SELECT COALESCE(MAX(sequence), 0) FROM documents WHERE mailbox_id = ?", mailboxID)
	if err != nil {
		return 0, fmt.Errorf("reading max sequence for %s: %w", mailboxID, err)
	}
	return uint32(seq), nil
}

func newDocumentRow(doc *model.EmailDocument) (documentRow, error) {
	to, err := marshalList(doc.To)
	if err != nil {
		return documentRow{}, err
	}
	labels, err := marshalList(doc.Labels)
	if err != nil {
		return documentRow{}, err
	}
	flags, err := marshalList(doc.Flags)
	if err != nil {
		return documentRow{}, err
	}
	return documentRow{
		ID:             doc.ID,
		MailboxID:      doc.MailboxID,
		Sequence:       int64(doc.Sequence),
		OwnerID:        doc.OwnerID,
		Account:        doc.Account,
		Folder:         doc.Folder,
		From:           doc.From,
		To:             to,
		Subject:        doc.Subject,
		MessageID:      doc.MessageID,
		Date:           doc.Date.UTC().UnixNano(),
		Body:           doc.Body,
		Snippet:        doc.Snippet,
		Labels:         labels,
		SuggestedReply: doc.SuggestedReply,
		Flags:          flags,
		FetchedAt:      doc.FetchedAt.UTC().UnixNano(),
		Processed:      doc.Processed,
	}, nil
}

func (r documentRow) document() (*model.EmailDocument, error) {
	doc := &model.EmailDocument{
		ID:             r.ID,
		MailboxID:      r.MailboxID,
		Sequence:       uint32(r.Sequence),
		OwnerID:        r.OwnerID,
		Account:        r.Account,
		Folder:         r.Folder,
		From:           r.From,
		Subject:        r.Subject,
		MessageID:      r.MessageID,
		Date:           time.Unix(0, r.Date).UTC(),
		Body:           r.Body,
		Snippet:        r.Snippet,
		SuggestedReply: r.SuggestedReply,
		FetchedAt:      time.Unix(0, r.FetchedAt).UTC(),
		Processed:      r.Processed,
	}
	if err := json.Unmarshal([]byte(r.To), &doc.To); err != nil {
		return nil, fmt.Errorf("to_addrs: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Labels), &doc.Labels); err != nil {
		return nil, fmt.Errorf("labels: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Flags), &doc.Flags); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	return doc, nil
}

// marshalList encodes a slice as a JSON array, never "null".
func marshalList[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
