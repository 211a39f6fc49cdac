// Package cursor persists, per mailbox, the highest message sequence number
// already ingested.
package cursor

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// ErrRegression is returned when a caller tries to move a cursor backwards.
var ErrRegression = errors.New("cursor regression")

// compactAfter is the number of log lines after which a cursor file is
// rewritten to hold only its current value.
const compactAfter = 1000

// Bootstrapper recovers a cursor when no persisted value exists, typically
// from the highest sequence number in the document store.
type Bootstrapper interface {
	MaxSequence(ctx context.Context, mailboxID string) (uint32, error)
}

// Store is the cursor contract used by the connection manager.
type Store interface {
	// Get returns the last ingested sequence for a mailbox, 0 if never synced.
	Get(ctx context.Context, mailboxID string) (uint32, error)
	// Set advances the cursor. Values below the current one are rejected
	// with ErrRegression.
	Set(ctx context.Context, mailboxID string, seq uint32) error
}

// FileStore keeps one append-only log file per mailbox under dir. The last
// line of a file is the current value, so a crash mid-write loses at most
// the newest advance.
type FileStore struct {
	mu     sync.Mutex
	dir    string
	values map[string]uint32
	boot   Bootstrapper
	logger *slog.Logger
}

// NewFileStore creates a cursor store in dir. boot may be nil.
func NewFileStore(dir string, boot Bootstrapper, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cursor dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		values: make(map[string]uint32),
		boot:   boot,
		logger: logger,
	}, nil
}

// Get returns the cursor for mailboxID.
func (s *FileStore) Get(ctx context.Context, mailboxID string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(ctx, mailboxID)
}

// Set appends seq to the mailbox's cursor log.
func (s *FileStore) Set(ctx context.Context, mailboxID string, seq uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.current(ctx, mailboxID)
	if err != nil {
		return err
	}
	if seq < cur {
		s.logger.Error("rejected cursor regression",
			"mailbox", mailboxID,
			"current", cur,
			"requested", seq,
		)
		return fmt.Errorf("%w: mailbox %s at %d, requested %d", ErrRegression, mailboxID, cur, seq)
	}
	if seq == cur {
		return nil
	}

	f, err := os.OpenFile(s.path(mailboxID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open cursor file for append: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, seq); err != nil {
		return fmt.Errorf("write cursor: %w", err)
	}
	s.values[mailboxID] = seq
	return nil
}

// current returns the cached value, loading it from disk or the
// bootstrapper on first use. Caller holds s.mu.
func (s *FileStore) current(ctx context.Context, mailboxID string) (uint32, error) {
	if v, ok := s.values[mailboxID]; ok {
		return v, nil
	}

	v, found, err := s.load(mailboxID)
	if err != nil {
		return 0, err
	}
	if !found && s.boot != nil {
		v, err = s.boot.MaxSequence(ctx, mailboxID)
		if err != nil {
			return 0, fmt.Errorf("bootstrap cursor for %s: %w", mailboxID, err)
		}
		s.logger.Info("bootstrapped cursor from document store", "mailbox", mailboxID, "cursor", v)
	}
	s.values[mailboxID] = v
	return v, nil
}

func (s *FileStore) load(mailboxID string) (uint32, bool, error) {
	f, err := os.Open(s.path(mailboxID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("open cursor file: %w", err)
	}
	defer f.Close()

	var v uint32
	var found bool
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		n, err := strconv.ParseUint(line, 10, 32)
		if err != nil {
			// A torn final write; earlier lines still hold valid values.
			s.logger.Warn("skipping malformed cursor line", "mailbox", mailboxID, "line", line)
			continue
		}
		lines++
		if uint32(n) >= v {
			v = uint32(n)
		}
		found = true
	}
	if err := scanner.Err(); err != nil {
		return 0, false, fmt.Errorf("read cursor file: %w", err)
	}

	if lines > compactAfter {
		if err := s.compact(mailboxID, v); err != nil {
			s.logger.Warn("cursor compaction failed", "mailbox", mailboxID, "error", err)
		}
	}
	return v, found, nil
}

func (s *FileStore) compact(mailboxID string, v uint32) error {
	tmp := s.path(mailboxID) + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.FormatUint(uint64(v), 10)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(mailboxID))
}

func (s *FileStore) path(mailboxID string) string {
	return filepath.Join(s.dir, fileName(mailboxID))
}

// fileName maps a mailbox id to its cursor file name. The encoding is
// injective, so distinct ids never share a file.
func fileName(mailboxID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(mailboxID)) + ".cursor"
}
