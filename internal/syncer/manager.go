// Package syncer keeps one long-lived transport session per mailbox and
// feeds newly discovered messages to the ingestion pipeline.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/tracyhatemice/inboxsync/internal/cursor"
	"github.com/tracyhatemice/inboxsync/internal/ingest"
	"github.com/tracyhatemice/inboxsync/internal/metrics"
	"github.com/tracyhatemice/inboxsync/internal/model"
	"github.com/tracyhatemice/inboxsync/internal/receiver"
)

// State is a connection manager state.
type State int

const (
	Disconnected State = iota
	Connecting
	Backfilling
	Idle
	Draining
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Backfilling:
		return "backfilling"
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	default:
		return "disconnected"
	}
}

// Ingester is the part of the ingestion pipeline the manager drives.
type Ingester interface {
	Ingest(ctx context.Context, mb model.Mailbox, msg receiver.Message) ingest.Outcome
}

// Options tune a Manager.
type Options struct {
	RetryDelay  time.Duration // fixed delay before reconnecting
	IdleTimeout time.Duration // upper bound on one wait for new mail
}

func (o Options) withDefaults() Options {
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	return o
}

// Status is a snapshot of a manager's in-memory connection state.
type Status struct {
	MailboxID string    `json:"mailboxId"`
	State     string    `json:"state"`
	Connected bool      `json:"connected"`
	LastSeq   uint32    `json:"lastSeq"`
	LastError string    `json:"lastError,omitempty"`
	Since     time.Time `json:"since"`
}

var errWake = errors.New("wake requested")

// Manager runs the connection state machine for one mailbox:
//
//	Disconnected -> Connecting -> Backfilling -> Idle <-> Draining
//
// Any transport error tears the session down and schedules a reconnect
// after a fixed delay. The cursor survives; the next backfill resumes from
// it.
type Manager struct {
	mb       model.Mailbox
	dialer   receiver.Dialer
	cursors  cursor.Store
	pipeline Ingester
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     State
	since     time.Time
	session   receiver.Session
	lastSeq   uint32
	lastError string
	wake      context.CancelCauseFunc
}

// NewManager creates a Manager for mb.
func NewManager(mb model.Mailbox, dialer receiver.Dialer, cursors cursor.Store, pipeline Ingester, opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		mb:       mb,
		dialer:   dialer,
		cursors:  cursors,
		pipeline: pipeline,
		opts:     opts.withDefaults(),
		logger:   logger.With("mailbox", mb.ID),
		now:      time.Now,
		since:    time.Now(),
	}
}

// Run drives the state machine until ctx is cancelled. Cancelling ctx
// closes the session, which unblocks any pending wait.
func (m *Manager) Run(ctx context.Context) {
	m.logger.Info("starting connection manager",
		"protocol", m.mb.Protocol,
		"host", m.mb.Host,
		"demo", m.mb.Demo,
	)

	for {
		err := m.runSession(ctx)
		m.teardown(err)
		if ctx.Err() != nil {
			m.logger.Info("connection manager stopped")
			return
		}

		m.logger.Warn("session ended, reconnecting", "error", err, "delay", m.opts.RetryDelay)
		timer := time.NewTimer(m.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("connection manager stopped")
			return
		case <-timer.C:
		}
	}
}

// Wake interrupts an idle wait so the manager drains immediately. It is a
// no-op unless the manager is idle.
func (m *Manager) Wake() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wake != nil {
		m.wake(errWake)
	}
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		MailboxID: m.mb.ID,
		State:     m.state.String(),
		Connected: m.session != nil,
		LastSeq:   m.lastSeq,
		LastError: m.lastError,
		Since:     m.since,
	}
}

func (m *Manager) runSession(ctx context.Context) error {
	m.setState(Connecting)
	sess, err := m.dialer.Dial(ctx, m.mb)
	metrics.Sessions.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	m.session = sess
	m.lastError = ""
	m.mu.Unlock()
	m.logger.Info("session established")

	m.setState(Backfilling)
	if err := m.drain(ctx, sess, "backfill"); err != nil {
		return err
	}

	for {
		m.setState(Idle)
		signaled, err := m.wait(ctx, sess)
		if err != nil {
			return err
		}

		trigger := "timer"
		if signaled {
			trigger = "push"
		}
		m.setState(Draining)
		if err := m.drain(ctx, sess, trigger); err != nil {
			return err
		}
	}
}

// wait blocks in the transport's wait primitive. A Wake counts as a timed
// wake-up.
func (m *Manager) wait(ctx context.Context, sess receiver.Session) (bool, error) {
	waitCtx, cancel := context.WithCancelCause(ctx)
	m.mu.Lock()
	m.wake = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.wake = nil
		m.mu.Unlock()
		cancel(nil)
	}()

	signaled, err := sess.Wait(waitCtx, m.opts.IdleTimeout)
	if err != nil && ctx.Err() == nil && errors.Is(context.Cause(waitCtx), errWake) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("wait: %w", err)
	}
	return signaled, nil
}

// drain fetches everything above the cursor and ingests it in ascending
// order. It is only called from the Run goroutine, so drains of one
// mailbox never overlap.
func (m *Manager) drain(ctx context.Context, sess receiver.Session, trigger string) error {
	metrics.Drains.WithLabelValues(trigger).Inc()

	cur, err := m.cursors.Get(ctx, m.mb.ID)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	m.setLastSeq(cur)

	days := m.mb.ProcessDays
	if days <= 0 {
		days = 30
	}
	since := m.now().AddDate(0, 0, -days)

	msgs, err := sess.Fetch(ctx, cur, since)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	slices.SortFunc(msgs, func(a, b receiver.Message) int {
		return int(int64(a.Seq) - int64(b.Seq))
	})
	if len(msgs) > 0 {
		m.logger.Info(fmt.Sprintf("found %d new message(s)", len(msgs)), "trigger", trigger, "cursor", cur)
	} else {
		m.logger.Debug("no new messages", "trigger", trigger, "cursor", cur)
	}

	// The cursor advances only across an unbroken run of caught-up
	// messages; after the first failure later messages are still ingested
	// but the next pass re-reads from the failed one.
	advancing := true
	for _, msg := range msgs {
		if msg.Seq <= cur {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome := m.pipeline.Ingest(ctx, m.mb, msg)
		if !outcome.CaughtUp() {
			if advancing {
				m.logger.Warn("ingestion failed, holding cursor", "uid", msg.Seq, "cursor", cur)
			}
			advancing = false
			continue
		}

		if trigger != "backfill" && m.mb.MarkSeen && outcome == ingest.Inserted {
			if err := sess.MarkSeen(ctx, msg.Seq); err != nil {
				m.logger.Warn("marking message seen failed", "uid", msg.Seq, "error", err)
			}
		}

		if !advancing {
			continue
		}
		if err := m.cursors.Set(ctx, m.mb.ID, msg.Seq); err != nil {
			m.logger.Error("cursor update failed", "uid", msg.Seq, "error", err)
			advancing = false
			continue
		}
		cur = msg.Seq
		m.setLastSeq(cur)
	}
	return nil
}

func (m *Manager) teardown(cause error) {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.state = Disconnected
	m.since = m.now()
	if cause != nil {
		m.lastError = cause.Error()
	}
	m.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			m.logger.Debug("closing session", "error", err)
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != s {
		m.logger.Debug("state change", "from", m.state.String(), "to", s.String())
		m.state = s
		m.since = m.now()
	}
}

func (m *Manager) setLastSeq(seq uint32) {
	m.mu.Lock()
	m.lastSeq = seq
	m.mu.Unlock()
}
