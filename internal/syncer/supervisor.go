package syncer

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/tracyhatemice/inboxsync/internal/cursor"
	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/receiver"
)

type running struct {
	manager  *Manager
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

// Supervisor owns the set of running connection managers, at most one per
// mailbox.
type Supervisor struct {
	ctx      context.Context
	dialer   receiver.Dialer
	cursors  cursor.Store
	pipeline Ingester
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	managers map[string]*running
}

// NewSupervisor creates a Supervisor. Managers it starts stop when ctx is
// cancelled.
func NewSupervisor(ctx context.Context, dialer receiver.Dialer, cursors cursor.Store, pipeline Ingester, opts Options, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		ctx:      ctx,
		dialer:   dialer,
		cursors:  cursors,
		pipeline: pipeline,
		opts:     opts,
		logger:   logger,
		managers: make(map[string]*running),
	}
}

// StartSync starts a connection manager for mb. It reports false, and does
// nothing, when one is already running for that mailbox. A manager that is
// still stopping is waited for, so its session is closed before a new one
// is dialed.
func (s *Supervisor) StartSync(mb model.Mailbox) bool {
	for {
		s.mu.Lock()
		r, ok := s.managers[mb.ID]
		if !ok {
			s.start(mb)
			s.mu.Unlock()
			return true
		}
		if !r.stopping {
			s.mu.Unlock()
			s.logger.Debug("sync already running", "mailbox", mb.ID)
			return false
		}
		s.mu.Unlock()
		<-r.done
	}
}

// start registers and launches a manager. Caller holds s.mu. The entry is
// removed only after Run has returned and the session is closed.
func (s *Supervisor) start(mb model.Mailbox) {
	ctx, cancel := context.WithCancel(s.ctx)
	r := &running{
		manager: NewManager(mb, s.dialer, s.cursors, s.pipeline, s.opts, s.logger),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.managers[mb.ID] = r

	go func() {
		r.manager.Run(ctx)
		cancel()

		s.mu.Lock()
		if s.managers[mb.ID] == r {
			delete(s.managers, mb.ID)
		}
		s.mu.Unlock()
		close(r.done)
	}()
}

// StopSync stops the manager for mailboxID and waits for its session to
// close. It reports false when nothing was running.
func (s *Supervisor) StopSync(mailboxID string) bool {
	s.mu.Lock()
	r, ok := s.managers[mailboxID]
	if ok {
		r.stopping = true
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	r.cancel()
	<-r.done
	return true
}

// Wake asks a running manager to drain now.
func (s *Supervisor) Wake(mailboxID string) bool {
	s.mu.Lock()
	r, ok := s.managers[mailboxID]
	s.mu.Unlock()
	if ok {
		r.manager.Wake()
	}
	return ok
}

// Statuses returns the state of every running manager, ordered by mailbox.
func (s *Supervisor) Statuses() []Status {
	s.mu.Lock()
	out := make([]Status, 0, len(s.managers))
	for _, r := range s.managers {
		out = append(out, r.manager.Status())
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b Status) int {
		return strings.Compare(a.MailboxID, b.MailboxID)
	})
	return out
}

// StopAll stops every running manager and waits for them to exit.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	all := make(map[string]*running, len(s.managers))
	for id, r := range s.managers {
		r.stopping = true
		all[id] = r
	}
	s.mu.Unlock()

	for _, r := range all {
		r.cancel()
	}
	for id, r := range all {
		<-r.done
		s.logger.Debug("sync stopped", "mailbox", id)
	}
}
