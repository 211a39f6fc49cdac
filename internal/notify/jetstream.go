package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tracyhatemice/inboxsync/internal/model"
)

// StreamName is the JetStream stream holding inbox events.
const StreamName = "INBOX_EVENTS"

// JetStream publishes interested-mail events to NATS JetStream. The
// document id is the message id, so the stream's duplicate window absorbs
// repeated notifications for the same message.
type JetStream struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewJetStream connects to NATS and ensures the stream exists.
func NewJetStream(url string) (*JetStream, error) {
	nc, err := nats.Connect(url, nats.Name("inboxsync"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	p := &JetStream{nc: nc, js: js}
	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

func (p *JetStream) ensureStream() error {
	if info, err := p.js.StreamInfo(StreamName); err == nil && info != nil {
		return nil
	}

	_, err := p.js.AddStream(&nats.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{"inbox.*.>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: 10 * time.Minute,
		MaxAge:     30 * 24 * time.Hour,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("create stream: %w", err)
	}
	return nil
}

// Subject returns the subject interested-mail events for owner go to.
func Subject(ownerID string) string {
	return fmt.Sprintf("inbox.%s.email.interested", ownerID)
}

type event struct {
	EventID    string   `json:"event_id"`
	TS         int64    `json:"ts"`
	DocumentID string   `json:"document_id"`
	OwnerID    string   `json:"owner_id"`
	MailboxID  string   `json:"mailbox_id"`
	Sequence   uint32   `json:"sequence"`
	Subject    string   `json:"subject"`
	From       string   `json:"from"`
	To         []string `json:"to"`
	Snippet    string   `json:"snippet"`
}

func (p *JetStream) Notify(ctx context.Context, doc model.EmailDocument) error {
	payload, err := json.Marshal(event{
		EventID:    uuid.NewString(),
		TS:         time.Now().Unix(),
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		MailboxID:  doc.MailboxID,
		Sequence:   doc.Sequence,
		Subject:    doc.Subject,
		From:       doc.From,
		To:         doc.To,
		Snippet:    doc.Snippet,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := p.js.Publish(Subject(doc.OwnerID), payload, nats.MsgId(doc.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *JetStream) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
