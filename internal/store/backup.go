package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// BackupNamePrefix is the filename prefix every backup created by Backup
// carries, used by rotation and discovery to recognize backup files.
const BackupNamePrefix = "telemetry.backup."

// Backup performs an online copy of the live database into dir using
// SQLite's VACUUM INTO (the modernc/database-sql equivalent of the
// sqlite3.Connection.backup() API used by the original Python tooling),
// verifies the copy's integrity, and deletes it if verification fails.
//
// The backup filename carries the current date; a second backup on the same
// day gets a time-qualified name instead of overwriting the first.
func (s *Store) Backup(ctx context.Context, dir string, now time.Time) (string, error) {
	if ok, detail, err := IntegrityCheck(ctx, s.write, Quick); err != nil {
		return "", fmt.Errorf("store: pre-backup integrity check: %w", err)
	} else if !ok {
		return "", fmt.Errorf("store: refusing to back up unhealthy database: %s", detail)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create backup dir: %w", err)
	}

	name := fmt.Sprintf("%s%s.sqlite", BackupNamePrefix, now.Format("20060102"))
	dest := filepath.Join(dir, name)

	if _, err := os.Stat(dest); err == nil {
		name = fmt.Sprintf("%s%s.sqlite", BackupNamePrefix, now.Format("20060102_150405"))
		dest = filepath.Join(dir, name)
	}

	// VACUUM INTO requires a clean literal path; it does not accept
	// placeholder parameters.
	if _, err := s.write.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dest)); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("store: vacuum into %s: %w", dest, err)
	}

	ok, detail, err := CheckFile(ctx, dest, Quick)
	if err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("store: verify backup: %w", err)
	}

	if !ok {
		_ = os.Remove(dest)
		return "", fmt.Errorf("store: backup verification failed: %s", detail)
	}

	return dest, nil
}

// RotateBackups deletes backups beyond the keep most recent (by modtime) in
// dir, returning the paths it removed.
func RotateBackups(dir string, keep int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: list backup dir: %w", err)
	}

	type backup struct {
		path    string
		modTime time.Time
	}

	var backups []backup

	for _, e := range entries {
		if e.IsDir() || !isBackupFile(e.Name()) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		backups = append(backups, backup{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].modTime.After(backups[j].modTime) })

	var deleted []string

	for _, b := range backups[min(keep, len(backups)):] {
		if err := os.Remove(b.path); err != nil {
			return deleted, fmt.Errorf("store: delete old backup %s: %w", b.path, err)
		}
		deleted = append(deleted, b.path)
	}

	return deleted, nil
}

func isBackupFile(name string) bool {
	return len(name) > len(BackupNamePrefix) && name[:len(BackupNamePrefix)] == BackupNamePrefix
}
