// Package writerguard enforces that exactly one ingestd process writes to a
// given database file at a time, using an exclusive lock file next to the
// database. A second process attempting to start against the same lock file
// fails fast instead of risking SQLite corruption from concurrent writers.
package writerguard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrAlreadyHeld is returned by Acquire when another process holds the lock.
var ErrAlreadyHeld = errors.New("writerguard: lock is held by another process")

// Holder describes the process currently holding a lock, parsed from the
// lock file's contents, for inclusion in the error message shown to an
// operator who just tried to start a second instance.
type Holder struct {
	PID      int
	Hostname string
}

// Guard is a host-wide mutual-exclusion lock backed by a lock file. The
// zero value is not usable; construct with New.
type Guard struct {
	path string
	file *os.File
}

// New returns a Guard for the lock file at path. The file is not created or
// locked until Acquire is called.
func New(path string) *Guard {
	return &Guard{path: path}
}

// Acquire creates and locks the guard's lock file, writing this process's
// PID and hostname into it for diagnostics. If the file already exists (or
// is already locked on platforms that support advisory locking), Acquire
// returns an error wrapping ErrAlreadyHeld; callers should treat this as
// fatal and exit rather than retry, mirroring the original tool's
// fail-fast behavior.
func (g *Guard) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return fmt.Errorf("writerguard: create lock directory: %w", err)
	}

	if holder, err := readHolder(g.path); err == nil {
		return fmt.Errorf("%w (pid=%d host=%s, lock file=%s)", ErrAlreadyHeld, holder.PID, holder.Hostname, g.path)
	}

	f, err := os.OpenFile(g.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w (lock file=%s)", ErrAlreadyHeld, g.path)
		}

		return fmt.Errorf("writerguard: create lock file: %w", err)
	}

	if err := platformLock(f); err != nil {
		_ = f.Close()
		_ = os.Remove(g.path)

		return fmt.Errorf("%w: %v", ErrAlreadyHeld, err)
	}

	hostname, _ := os.Hostname()
	if _, err := fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), hostname); err != nil {
		_ = f.Close()
		_ = os.Remove(g.path)

		return fmt.Errorf("writerguard: write lock metadata: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(g.path)

		return fmt.Errorf("writerguard: sync lock file: %w", err)
	}

	g.file = f

	return nil
}

// Release unlocks and removes the lock file. Safe to call multiple times
// and safe to call on a Guard that never successfully acquired.
func (g *Guard) Release() error {
	if g.file == nil {
		return nil
	}

	platformUnlock(g.file) //nolint:errcheck // best-effort, file is about to be closed anyway

	path := g.path
	f := g.file
	g.file = nil

	if err := f.Close(); err != nil {
		return fmt.Errorf("writerguard: close lock file: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("writerguard: remove lock file: %w", err)
	}

	return nil
}

func readHolder(path string) (Holder, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator-configured, not request input
	if err != nil {
		return Holder{}, err
	}

	lines := strings.SplitN(string(data), "\n", 3)

	var h Holder

	if len(lines) > 0 {
		h.PID, _ = strconv.Atoi(strings.TrimSpace(lines[0]))
	}

	if len(lines) > 1 {
		h.Hostname = strings.TrimSpace(lines[1])
	}

	return h, nil
}
