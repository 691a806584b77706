package store

import (
	"context"
	"database/sql"
	"fmt"
)

// IntegrityLevel selects how thorough an integrity check is.
type IntegrityLevel int

const (
	// Quick runs PRAGMA quick_check: structural checks only, fast.
	Quick IntegrityLevel = iota

	// Full runs PRAGMA integrity_check: structural and content checks,
	// slower, suitable for scheduled maintenance windows rather than
	// request-path health checks.
	Full
)

// IntegrityCheck runs the selected PRAGMA check against db and reports
// whether the result was "ok". A non-ok result includes the first reported
// problem line.
func IntegrityCheck(ctx context.Context, db *sql.DB, level IntegrityLevel) (ok bool, detail string, err error) {
	pragma := "PRAGMA quick_check"
	if level == Full {
		pragma = "PRAGMA integrity_check"
	}

	rows, err := db.QueryContext(ctx, pragma)
	if err != nil {
		return false, "", fmt.Errorf("store: run %s: %w", pragma, err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return false, "", fmt.Errorf("store: scan %s result: %w", pragma, err)
		}
		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return false, "", fmt.Errorf("store: iterate %s results: %w", pragma, err)
	}

	if len(lines) == 1 && lines[0] == "ok" {
		return true, "ok", nil
	}

	if len(lines) == 0 {
		return false, "no result returned", nil
	}

	return false, lines[0], nil
}

// CheckFile runs an integrity check of the given level against the database file at path
// without going through an existing Store, used by maintenance tooling that
// inspects a database the current process doesn't have open.
func CheckFile(ctx context.Context, path string, level IntegrityLevel) (ok bool, detail string, err error) {
	db, err := sql.Open(driverName, "file:"+path+"?mode=ro")
	if err != nil {
		return false, "", fmt.Errorf("store: open %s for integrity check: %w", path, err)
	}
	defer db.Close()

	return IntegrityCheck(ctx, db, level)
}
