// Package lock provides per-mailing-list mutual exclusion backed by lock
// files. Runner instances may be separate processes, so the lock has to
// live on the filesystem next to the list state it protects: creation with
// O_EXCL is the atomic claim, and a stale claim left by a dead process is
// broken after its lifetime expires.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrTimeout is returned by Acquire when another holder remains active
	// for the whole timeout.
	ErrTimeout = errors.New("lock: acquisition timed out")
)

const (
	// pollInterval is how often Acquire re-attempts the claim.
	pollInterval = 100 * time.Millisecond

	// DefaultLifetime is how long a claim is honored before it is
	// considered abandoned by a crashed holder.
	DefaultLifetime = 5 * time.Minute
)

type claim struct {
	Host     string    `json:"host"`
	PID      int       `json:"pid"`
	Acquired time.Time `json:"acquired"`
}

// Lock is a named, timeout-bounded mutual exclusion scoped to one mailing
// list's on-disk state. It is not re-entrant.
type Lock struct {
	name     string
	path     string
	lifetime time.Duration
	held     bool
	logger   *slog.Logger
}

// New returns an unlocked lock for name, kept under dir.
func New(dir, name string) *Lock {
	return &Lock{
		name:     name,
		path:     filepath.Join(dir, name+".lock"),
		lifetime: DefaultLifetime,
		logger:   slog.Default().With("component", "lock", "list", name),
	}
}

// Acquire claims the lock, retrying until timeout elapses. A claim file
// older than the lock lifetime is treated as abandoned and broken.
func (l *Lock) Acquire(timeout time.Duration) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.tryClaim()
		if err != nil {
			return err
		}
		if ok {
			l.held = true
			return nil
		}
		if l.breakStale() {
			continue
		}
		if !time.Now().Before(deadline) {
			return ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}

// Release drops the lock. Releasing a lock that is not held is a no-op.
func (l *Lock) Release() {
	if !l.held {
		return
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		l.logger.Error("failed to remove lock file", "error", err)
	}
}

// Held reports whether this instance currently holds the lock.
func (l *Lock) Held() bool { return l.held }

func (l *Lock) tryClaim() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()
	host, _ := os.Hostname()
	data, err := json.Marshal(claim{Host: host, PID: os.Getpid(), Acquired: time.Now()})
	if err != nil {
		return false, err
	}
	if _, err := f.Write(data); err != nil {
		os.Remove(l.path)
		return false, fmt.Errorf("failed to write lock claim: %w", err)
	}
	return true, nil
}

// breakStale breaks an abandoned claim file. Returns true when a stale
// claim was broken and acquisition should be retried immediately.
//
// Breaking never removes the lock path directly: between reading the claim
// and removing it, the observed holder can release and a live process can
// acquire, and the remove would then destroy the live claim. Instead the
// suspect file is renamed aside, which is atomic, and inspected again at
// its new name before being discarded.
func (l *Lock) breakStale() bool {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	var c claim
	if err := json.Unmarshal(data, &c); err == nil && time.Since(c.Acquired) < l.lifetime {
		return false
	}
	breakPath := fmt.Sprintf("%s.break.%d", l.path, os.Getpid())
	if err := os.Rename(l.path, breakPath); err != nil {
		// Gone or replaced since the read; let the claim loop retry.
		return errors.Is(err, fs.ErrNotExist)
	}
	return l.reapClaim(breakPath)
}

// reapClaim disposes of a claim file that was renamed out of the lock path
// on suspicion of being abandoned. A claim that turns out to belong to a
// live holder was refreshed between the staleness read and the rename: it
// is put back and the break fails. Anything else is removed for good.
func (l *Lock) reapClaim(breakPath string) bool {
	data, err := os.ReadFile(breakPath)
	if err == nil {
		var c claim
		if json.Unmarshal(data, &c) == nil {
			if time.Since(c.Acquired) < l.lifetime {
				// Restore via link: unlike rename it cannot clobber a
				// claim created at the lock path in the meantime.
				if err := os.Link(breakPath, l.path); err != nil && !errors.Is(err, fs.ErrExist) {
					l.logger.Error("failed to restore live lock claim", "error", err)
				}
				os.Remove(breakPath)
				return false
			}
			l.logger.Warn("breaking stale lock claim", "holder_host", c.Host, "holder_pid", c.PID,
				"age", time.Since(c.Acquired).Round(time.Second))
		} else {
			l.logger.Warn("breaking unreadable lock claim")
		}
	}
	return os.Remove(breakPath) == nil
}
