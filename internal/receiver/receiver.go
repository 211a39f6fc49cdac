package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracyhatemice/inboxsync/internal/model"
)

// ErrSessionClosed is returned by a session whose connection went away.
var ErrSessionClosed = errors.New("session closed")

// Envelope is the transport-level summary of a message. Every field is
// optional.
type Envelope struct {
	MessageID string
	Subject   string
	From      []string
	To        []string
	Date      time.Time
}

// Message is one message as delivered by the transport.
type Message struct {
	Seq          uint32 // IMAP UID or POP3 message number
	Flags        []string
	Envelope     *Envelope
	InternalDate time.Time
	Raw          []byte // RFC 5322 bytes, possibly empty
}

// Session is a long-lived, authenticated connection to one mailbox's inbox.
type Session interface {
	// Fetch returns messages with sequence greater than after that arrived
	// on or after since, in ascending sequence order.
	Fetch(ctx context.Context, after uint32, since time.Time) ([]Message, error)

	// Wait blocks until the server signals new mail (true), timeout
	// elapses (false), or the session fails.
	Wait(ctx context.Context, timeout time.Duration) (bool, error)

	// MarkSeen flags a message as read where the transport supports it.
	MarkSeen(ctx context.Context, seq uint32) error

	// Close tears the session down. It is safe to call more than once.
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, mb model.Mailbox) (Session, error)
}

// NetDialer opens IMAP or POP3 sessions depending on the mailbox protocol.
type NetDialer struct {
	logger *slog.Logger
}

// NewDialer creates a NetDialer.
func NewDialer(logger *slog.Logger) *NetDialer {
	return &NetDialer{logger: logger}
}

// Dial connects and authenticates. The session is closed when ctx ends.
func (d *NetDialer) Dial(ctx context.Context, mb model.Mailbox) (Session, error) {
	logger := d.logger.With("mailbox", mb.ID, "protocol", mb.Protocol)
	var (
		sess Session
		err  error
	)
	switch mb.Protocol {
	case "pop3":
		sess, err = dialPOP3(ctx, mb, logger)
	case "imap", "":
		sess, err = dialIMAP(ctx, mb, logger)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", mb.Protocol)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}
