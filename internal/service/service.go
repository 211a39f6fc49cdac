// Package service is the application facade used by the HTTP API and the
// command line: mailbox sync control, sweeps, listing and replies.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tracyhatemice/inboxsync/internal/docstore"
	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/sender"
	"github.com/tracyhatemice/inboxsync/internal/syncer"
)

// DefaultLimit is the page size of FetchRecent when none is given.
const DefaultLimit = 50

var (
	ErrUnknownMailbox  = errors.New("unknown mailbox")
	ErrUnknownDocument = errors.New("unknown document")
	ErrNoReplier       = errors.New("reply generation is not configured")
	ErrNoSender        = errors.New("sending is not configured")
)

// Supervisor controls the connection managers.
type Supervisor interface {
	StartSync(mb model.Mailbox) bool
	StopSync(mailboxID string) bool
	Wake(mailboxID string) bool
	Statuses() []syncer.Status
}

// Sweeper runs catch-up classification.
type Sweeper interface {
	Sweep(ctx context.Context, owner string) (int, error)
}

// Replier drafts replies.
type Replier interface {
	Generate(ctx context.Context, doc model.EmailDocument) (string, error)
}

// Mailer delivers replies.
type Mailer interface {
	Send(ctx context.Context, out sender.Outgoing) (string, error)
}

// Deps are the collaborators of a Service. Replier and Mailer are optional.
type Deps struct {
	Mailboxes  []model.Mailbox
	Store      docstore.Store
	Supervisor Supervisor
	Sweeper    Sweeper
	Replier    Replier
	Mailer     Mailer
	Logger     *slog.Logger
}

// Service implements the operations exposed to clients.
type Service struct {
	mailboxes map[string]model.Mailbox
	order     []string
	deps      Deps
	logger    *slog.Logger
}

// New creates a Service.
func New(deps Deps) *Service {
	s := &Service{
		mailboxes: make(map[string]model.Mailbox, len(deps.Mailboxes)),
		deps:      deps,
		logger:    deps.Logger,
	}
	for _, mb := range deps.Mailboxes {
		s.mailboxes[mb.ID] = mb
		s.order = append(s.order, mb.ID)
	}
	return s
}

// MailboxInfo describes a configured mailbox without its credentials.
type MailboxInfo struct {
	ID       string         `json:"id"`
	Protocol string         `json:"protocol"`
	Host     string         `json:"host"`
	Username string         `json:"username"`
	OwnerID  string         `json:"ownerId"`
	Demo     bool           `json:"demo"`
	Sync     *syncer.Status `json:"sync,omitempty"`
}

// StartSync starts syncing a configured mailbox. If a sync is already
// running it is asked to drain instead, and started is false.
func (s *Service) StartSync(mailboxID string) (started bool, err error) {
	mb, ok := s.mailboxes[mailboxID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownMailbox, mailboxID)
	}
	if s.deps.Supervisor.StartSync(mb) {
		return true, nil
	}
	s.deps.Supervisor.Wake(mailboxID)
	return false, nil
}

// StartAll starts every configured mailbox.
func (s *Service) StartAll() {
	for _, id := range s.order {
		s.deps.Supervisor.StartSync(s.mailboxes[id])
	}
}

// StopSync stops syncing a mailbox. It reports whether a sync was running.
func (s *Service) StopSync(mailboxID string) (bool, error) {
	if _, ok := s.mailboxes[mailboxID]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownMailbox, mailboxID)
	}
	return s.deps.Supervisor.StopSync(mailboxID), nil
}

// Mailboxes lists the configured mailboxes with their sync state.
func (s *Service) Mailboxes() []MailboxInfo {
	status := make(map[string]syncer.Status)
	for _, st := range s.deps.Supervisor.Statuses() {
		status[st.MailboxID] = st
	}
	out := make([]MailboxInfo, 0, len(s.order))
	for _, id := range s.order {
		mb := s.mailboxes[id]
		info := MailboxInfo{
			ID:       mb.ID,
			Protocol: mb.Protocol,
			Host:     mb.Host,
			Username: mb.Username,
			OwnerID:  mb.OwnerID,
			Demo:     mb.Demo,
		}
		if st, ok := status[id]; ok {
			info.Sync = &st
		}
		out = append(out, info)
	}
	return out
}

// Sweep classifies the owner's unprocessed documents.
func (s *Service) Sweep(ctx context.Context, owner string) (int, error) {
	return s.deps.Sweeper.Sweep(ctx, owner)
}

// FetchRecent returns the owner's most recently fetched documents, newest
// first. A non-positive limit means DefaultLimit.
func (s *Service) FetchRecent(ctx context.Context, owner string, limit int) ([]model.EmailDocument, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return s.deps.Store.Search(ctx, docstore.Query{
		OwnerID: owner,
		Sort:    docstore.SortFetchedDesc,
		Limit:   limit,
	})
}

// GenerateReply drafts a reply to a stored document and saves it as the
// document's suggested reply.
func (s *Service) GenerateReply(ctx context.Context, docID string) (string, error) {
	if s.deps.Replier == nil {
		return "", ErrNoReplier
	}
	doc, err := s.document(ctx, docID)
	if err != nil {
		return "", err
	}
	text, err := s.deps.Replier.Generate(ctx, *doc)
	if err != nil {
		return "", err
	}

	// Re-read so a concurrent classification is not overwritten.
	doc, err = s.document(ctx, docID)
	if err != nil {
		return "", err
	}
	doc.SuggestedReply = text
	if err := s.deps.Store.Put(ctx, doc); err != nil {
		return "", fmt.Errorf("storing suggested reply: %w", err)
	}
	return text, nil
}

// Sent describes a delivered reply.
type Sent struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Send replies to the sender of a stored document with its suggested
// reply, drafting one first when there is none.
func (s *Service) Send(ctx context.Context, docID string) (Sent, error) {
	if s.deps.Mailer == nil {
		return Sent{}, ErrNoSender
	}
	doc, err := s.document(ctx, docID)
	if err != nil {
		return Sent{}, err
	}
	body := doc.SuggestedReply
	if body == "" {
		if body, err = s.GenerateReply(ctx, docID); err != nil {
			return Sent{}, err
		}
	}

	to, _, _ := strings.Cut(doc.From, ",")
	to = strings.TrimSpace(to)
	if to == "" {
		return Sent{}, fmt.Errorf("document %s has no sender to reply to", docID)
	}
	out := sender.Outgoing{
		To:        to,
		Subject:   replySubject(doc.Subject),
		Body:      body,
		InReplyTo: doc.MessageID,
	}
	from, err := s.deps.Mailer.Send(ctx, out)
	if err != nil {
		return Sent{}, fmt.Errorf("sending reply to %s: %w", to, err)
	}
	return Sent{From: from, To: to, Subject: out.Subject, Body: body}, nil
}

func (s *Service) document(ctx context.Context, id string) (*model.EmailDocument, error) {
	doc, err := s.deps.Store.Get(ctx, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, id)
	}
	return doc, err
}

func replySubject(subject string) string {
	if len(subject) >= 3 && strings.EqualFold(subject[:3], "re:") {
		return subject
	}
	return "Re: " + subject
}
