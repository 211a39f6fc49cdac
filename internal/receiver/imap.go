package receiver

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/tracyhatemice/inboxsync/internal/model"
)

const inboxFolder = "INBOX"

// imapSession keeps one IMAP connection with INBOX selected. New-mail
// signals arrive as unilateral EXISTS updates and are coalesced into a
// single pending wake-up.
type imapSession struct {
	client  *imapclient.Client
	newMail chan struct{}
	stop    func() bool
	once    sync.Once
	logger  *slog.Logger
}

func dialIMAP(ctx context.Context, mb model.Mailbox, logger *slog.Logger) (*imapSession, error) {
	addr := net.JoinHostPort(mb.Host, strconv.Itoa(mb.Port))

	s := &imapSession{
		newMail: make(chan struct{}, 1),
		logger:  logger,
	}
	options := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					s.signal()
				}
			},
		},
	}

	var client *imapclient.Client
	var err error
	if mb.UseTLS {
		options.TLSConfig = &tls.Config{ServerName: mb.Host}
		client, err = imapclient.DialTLS(addr, options)
	} else {
		client, err = imapclient.DialInsecure(addr, options)
	}
	if err != nil {
		return nil, fmt.Errorf("imap connect %s: %w", addr, err)
	}
	s.client = client
	s.stop = context.AfterFunc(ctx, func() { _ = client.Close() })

	if err := client.Login(mb.Username, mb.Password).Wait(); err != nil {
		s.Close()
		return nil, fmt.Errorf("imap login %s: %w", mb.Username, err)
	}

	sel, err := client.Select(inboxFolder, nil).Wait()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("imap select %s: %w", inboxFolder, err)
	}
	logger.Debug("imap inbox selected", "messages", sel.NumMessages, "uid_next", sel.UIDNext)
	return s, nil
}

func (s *imapSession) signal() {
	select {
	case s.newMail <- struct{}{}:
	default:
	}
}

func (s *imapSession) Fetch(ctx context.Context, after uint32, since time.Time) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		Since: since,
		UID: []imap.UIDSet{
			{imap.UIDRange{Start: imap.UID(after + 1), Stop: 0}},
		},
	}
	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}

	// "n:*" always matches the highest UID, even when it is below n.
	var uids []imap.UID
	for _, uid := range searchData.AllUIDs() {
		if uint32(uid) > after {
			uids = append(uids, uid)
		}
	}
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOptions := &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}
	buffers, err := s.client.Fetch(imap.UIDSetNum(uids...), fetchOptions).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	msgs := make([]Message, 0, len(buffers))
	for _, buf := range buffers {
		msg := Message{
			Seq:          uint32(buf.UID),
			InternalDate: buf.InternalDate,
			Raw:          buf.FindBodySection(bodySection),
		}
		for _, f := range buf.Flags {
			msg.Flags = append(msg.Flags, string(f))
		}
		if env := buf.Envelope; env != nil {
			msg.Envelope = &Envelope{
				MessageID: env.MessageID,
				Subject:   env.Subject,
				From:      addrs(env.From),
				To:        addrs(env.To),
				Date:      env.Date,
			}
		}
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	return msgs, nil
}

func (s *imapSession) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	select {
	case <-s.newMail:
		return true, nil
	default:
	}

	idle, err := s.client.Idle()
	if err != nil {
		return false, fmt.Errorf("imap idle: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var signaled bool
	var waitErr error
	select {
	case <-s.newMail:
		signaled = true
	case <-timer.C:
	case <-ctx.Done():
		waitErr = ctx.Err()
	case <-s.client.Closed():
		waitErr = ErrSessionClosed
	}

	if err := idle.Close(); err != nil && waitErr == nil {
		waitErr = fmt.Errorf("imap idle done: %w", err)
	}
	if err := idle.Wait(); err != nil && waitErr == nil {
		waitErr = fmt.Errorf("imap idle: %w", err)
	}
	return signaled, waitErr
}

func (s *imapSession) MarkSeen(ctx context.Context, seq uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	storeCmd := s.client.Store(imap.UIDSetNum(imap.UID(seq)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("imap store \\Seen uid %d: %w", seq, err)
	}
	return nil
}

func (s *imapSession) Close() error {
	var err error
	s.once.Do(func() {
		s.stop()
		if lerr := s.client.Logout().Wait(); lerr != nil {
			s.logger.Debug("imap logout", "error", lerr)
		}
		err = s.client.Close()
	})
	return err
}

func addrs(l []imap.Address) []string {
	var out []string
	for _, a := range l {
		if addr := a.Addr(); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
