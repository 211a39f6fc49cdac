package receiver

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	pop3client "github.com/knadh/go-pop3"

	"github.com/tracyhatemice/inboxsync/internal/model"
)

// pop3Session polls a POP3 maildrop. POP3 shows a snapshot of the maildrop
// per connection, so every Fetch opens a fresh connection. Message numbers
// serve as sequence numbers; they are stable as long as nothing deletes
// from the maildrop, which this subsystem never does.
type pop3Session struct {
	client   *pop3client.Client
	mb       model.Mailbox
	interval time.Duration
	logger   *slog.Logger
}

func dialPOP3(ctx context.Context, mb model.Mailbox, logger *slog.Logger) (*pop3Session, error) {
	interval := mb.CheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	s := &pop3Session{
		client: pop3client.New(pop3client.Opt{
			Host:       mb.Host,
			Port:       mb.Port,
			TLSEnabled: mb.UseTLS,
		}),
		mb:       mb,
		interval: interval,
		logger:   logger,
	}

	// Check credentials up front so auth failures surface as connect failures.
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	_ = conn.Quit()
	return s, nil
}

func (s *pop3Session) connect(ctx context.Context) (*pop3client.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(s.mb.Host, strconv.Itoa(s.mb.Port))
	conn, err := s.client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("pop3 connect %s: %w", addr, err)
	}
	if err := conn.Auth(s.mb.Username, s.mb.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("pop3 auth %s: %w", s.mb.Username, err)
	}
	return conn, nil
}

func (s *pop3Session) Fetch(ctx context.Context, after uint32, since time.Time) ([]Message, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	list, err := conn.List(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 list: %w", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	var msgs []Message
	for _, item := range list {
		if item.ID <= int(after) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return msgs, err
		}
		// Headers alone decide the date window; bodies outside it are never
		// downloaded.
		date := s.headerDate(conn, item.ID)
		if !date.IsZero() && date.Before(since) {
			continue
		}
		rawBuf, err := conn.RetrRaw(item.ID)
		if err != nil {
			return msgs, fmt.Errorf("pop3 retrieve %d: %w", item.ID, err)
		}
		raw := rawBuf.Bytes()
		if date.IsZero() {
			date = extractDate(raw)
			if !date.IsZero() && date.Before(since) {
				continue
			}
		}
		msgs = append(msgs, Message{
			Seq:          uint32(item.ID),
			InternalDate: date,
			Raw:          raw,
		})
	}
	s.logger.Debug("pop3 fetched", "listed", len(list), "new", len(msgs))
	return msgs, nil
}

// headerDate reads the Date header with TOP. TOP is optional in POP3, so a
// failure yields the zero time and the caller falls back to the full message.
func (s *pop3Session) headerDate(conn *pop3client.Conn, id int) time.Time {
	e, err := conn.Top(id, 0)
	if err != nil {
		s.logger.Debug("pop3 top failed", "id", id, "error", err)
		return time.Time{}
	}
	h := mail.Header{Header: e.Header}
	date, err := h.Date()
	if err != nil {
		return time.Time{}
	}
	return date
}

// Wait has no push mechanism to block on; it sleeps for the poll interval.
func (s *pop3Session) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	d := s.interval
	if timeout > 0 && timeout < d {
		d = timeout
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return false, nil
	}
}

// MarkSeen is a no-op: POP3 has no flags.
func (s *pop3Session) MarkSeen(context.Context, uint32) error {
	return nil
}

func (s *pop3Session) Close() error {
	return nil
}

// extractDate parses the Date header from raw email bytes.
func extractDate(raw []byte) time.Time {
	reader, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return time.Time{}
	}
	defer reader.Close()
	date, err := reader.Header.Date()
	if err != nil {
		return time.Time{}
	}
	return date
}
