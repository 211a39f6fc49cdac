// Package sender composes and delivers outbound replies over SMTP.
package sender

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// ErrNoIdentity is returned when no sending identity fits the recipient.
var ErrNoIdentity = errors.New("no sending identity for recipient")

// Identity is an address replies can be sent from. Match lists the
// recipient domains it is chosen for.
type Identity struct {
	Address string
	Name    string
	Match   []string
	Default bool
}

// Outgoing is a message to send.
type Outgoing struct {
	To        string
	Subject   string
	Body      string
	InReplyTo string // Message-ID of the message being answered, optional
}

// SMTP holds the outgoing server settings.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

// Sender sends messages through one SMTP server on behalf of a set of
// identities.
type Sender struct {
	server     SMTP
	identities []Identity
	logger     *slog.Logger
	now        func() time.Time
	deliver    func(ctx context.Context, from, to string, msg []byte) error
}

// New creates a new SMTP sender.
func New(server SMTP, identities []Identity, logger *slog.Logger) *Sender {
	s := &Sender{
		server:     server,
		identities: identities,
		logger:     logger,
		now:        time.Now,
	}
	s.deliver = s.smtpDeliver
	return s
}

// Identity picks the identity whose Match list contains the recipient's
// domain, falling back to the default identity.
func (s *Sender) Identity(to string) (Identity, error) {
	domain := ""
	if at := strings.LastIndexByte(to, '@'); at >= 0 {
		domain = strings.ToLower(to[at+1:])
	}
	var fallback *Identity
	for i := range s.identities {
		id := &s.identities[i]
		for _, d := range id.Match {
			if strings.EqualFold(strings.TrimPrefix(d, "@"), domain) {
				return *id, nil
			}
		}
		if id.Default && fallback == nil {
			fallback = id
		}
	}
	if fallback == nil {
		return Identity{}, fmt.Errorf("%w: %s", ErrNoIdentity, to)
	}
	return *fallback, nil
}

// Send composes out and delivers it. It returns the address used as sender.
func (s *Sender) Send(ctx context.Context, out Outgoing) (string, error) {
	rcpt, err := mail.ParseAddress(out.To)
	if err != nil {
		return "", fmt.Errorf("recipient %q: %w", out.To, err)
	}
	from, err := s.Identity(rcpt.Address)
	if err != nil {
		return "", err
	}

	msg, err := compose(from, rcpt, out, s.now())
	if err != nil {
		return "", fmt.Errorf("compose: %w", err)
	}
	if err := s.deliver(ctx, from.Address, rcpt.Address, msg); err != nil {
		return "", err
	}
	s.logger.Info("reply sent", "from", from.Address, "to", rcpt.Address, "subject", out.Subject)
	return from.Address, nil
}

func compose(from Identity, to *mail.Address, out Outgoing, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Name: from.Name, Address: from.Address}})
	h.SetAddressList("To", []*mail.Address{to})
	h.SetSubject(out.Subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, err
	}
	if out.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{out.InReplyTo})
		h.SetMsgIDList("References", []string{out.InReplyTo})
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, out.Body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Sender) smtpDeliver(ctx context.Context, from, to string, message []byte) error {
	addr := net.JoinHostPort(s.server.Host, strconv.Itoa(s.server.Port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if s.server.UseTLS {
		conn = tls.Client(conn, &tls.Config{ServerName: s.server.Host})
	}

	client, err := smtp.NewClient(conn, s.server.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp new client: %w", err)
	}
	defer client.Close()

	if !s.server.UseTLS {
		// Try STARTTLS if available.
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.server.Host}); err != nil {
				s.logger.Warn("STARTTLS failed, continuing without TLS", "error", err)
			}
		}
	}

	if s.server.Username != "" && s.server.Password != "" {
		auth := smtp.PlainAuth("", s.server.Username, s.server.Password, s.server.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp RCPT TO: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}

	return client.Quit()
}
