// Package parser converts transport messages into canonical documents.
package parser

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message"
	// Register charset decoders (windows-1252, iso-8859-*, koi8-r, etc.)
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/receiver"
)

// NoSubject replaces a missing subject.
const NoSubject = "(No Subject)"

// SnippetLength is the snippet size in characters.
const SnippetLength = 200

// Parser builds unlabeled, unprocessed document drafts.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger}
}

// Parse converts msg into a document draft for mailbox mb. It never fails:
// whatever cannot be decoded is left empty or filled from the envelope,
// and the anomaly is logged.
func (p *Parser) Parse(mb model.Mailbox, msg receiver.Message, now time.Time) (doc model.EmailDocument) {
	doc = model.EmailDocument{
		ID:        model.DocumentID(mb.ID, msg.Seq),
		MailboxID: mb.ID,
		Sequence:  msg.Seq,
		OwnerID:   mb.OwnerID,
		Account:   mb.Username,
		Folder:    model.FolderInbox,
		Labels:    []model.Label{},
		Flags:     append([]string{}, msg.Flags...),
		FetchedAt: now,
	}

	logger := p.logger.With("mailbox", mb.ID, "uid", msg.Seq)
	defer func() {
		if x := recover(); x != nil {
			logger.Error("message parser panicked, keeping partial document", "panic", x)
		}
		finish(&doc, msg.Envelope, now)
	}()

	if len(msg.Raw) == 0 {
		logger.Warn("message has no content, using envelope only")
		return doc
	}

	mr, err := mail.CreateReader(bytes.NewReader(msg.Raw))
	if err != nil && !message.IsUnknownCharset(err) {
		logger.Warn("malformed message, using envelope only", "error", err)
		return doc
	}
	if err != nil {
		logger.Warn("unknown charset in message header", "error", err)
	}
	defer mr.Close()

	readHeader(&doc, &mr.Header)

	var text, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			logger.Warn("malformed mime part, keeping what was read", "error", err)
			break
		}
		if part == nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if contentType == "" {
			contentType = "text/plain"
		}
		if !strings.HasPrefix(contentType, "text/") {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			logger.Warn("reading mime part", "content_type", contentType, "error", err)
			continue
		}
		switch {
		case contentType == "text/plain" && text == "":
			text = string(body)
		case contentType == "text/html" && html == "":
			html = string(body)
		}
	}

	doc.Body = text
	if strings.TrimSpace(doc.Body) == "" {
		doc.Body = html
	}
	return doc
}

func readHeader(doc *model.EmailDocument, h *mail.Header) {
	if subject, err := h.Subject(); err == nil {
		doc.Subject = strings.TrimSpace(subject)
	}
	if from, err := h.AddressList("From"); err == nil {
		doc.From = strings.Join(flatten(from), ", ")
	}
	if to, err := h.AddressList("To"); err == nil {
		doc.To = flatten(to)
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		doc.Date = date
	}
	if id, err := h.MessageID(); err == nil {
		doc.MessageID = id
	}
}

// finish fills gaps from the envelope and applies defaults.
func finish(doc *model.EmailDocument, env *receiver.Envelope, now time.Time) {
	if env != nil {
		if doc.Subject == "" {
			doc.Subject = strings.TrimSpace(env.Subject)
		}
		if doc.From == "" {
			doc.From = strings.Join(dedupe(env.From), ", ")
		}
		if len(doc.To) == 0 {
			doc.To = dedupe(env.To)
		}
		if doc.Date.IsZero() {
			doc.Date = env.Date
		}
		if doc.MessageID == "" {
			doc.MessageID = env.MessageID
		}
	}
	if doc.Subject == "" {
		doc.Subject = NoSubject
	}
	if doc.Date.IsZero() {
		doc.Date = now
	}
	if doc.To == nil {
		doc.To = []string{}
	}
	doc.Snippet = Snippet(doc.Body)
}

// Snippet returns the first SnippetLength characters of body.
func Snippet(body string) string {
	n := 0
	for i := range body {
		if n == SnippetLength {
			return body[:i]
		}
		n++
	}
	return body
}

func flatten(addrs []*mail.Address) []string {
	l := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a != nil {
			l = append(l, a.Address)
		}
	}
	return dedupe(l)
}

// dedupe drops empty and repeated addresses, keeping first-seen order.
func dedupe(l []string) []string {
	seen := make(map[string]struct{}, len(l))
	out := make([]string, 0, len(l))
	for _, s := range l {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
