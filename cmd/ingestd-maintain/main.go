// Package main provides the ingestd-maintain operator CLI: online backup,
// backup rotation, integrity checks, and retention sweeps against a live or
// stopped ingestd database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/localtelemetry/ingestd/internal/maintenance"
	"github.com/localtelemetry/ingestd/internal/store"
)

const (
	version = "0.1.0-dev"
	name    = "ingestd-maintain"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	command := os.Args[1]

	if command == "--version" {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	cfg := store.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid database configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()

	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close() //nolint:errcheck // best-effort on exit

	m := maintenance.New(st, logger)

	fs := flag.NewFlagSet(command, flag.ExitOnError)

	switch command {
	case "backup":
		runBackup(ctx, m, fs, os.Args[2:])
	case "integrity":
		runIntegrity(ctx, m, fs, os.Args[2:])
	case "retain":
		runRetain(ctx, m, fs, os.Args[2:])
	case "diagnose":
		runDiagnose(ctx, m)
	default:
		printUsage()
		os.Exit(1)
	}
}

func runBackup(ctx context.Context, m *maintenance.Maintainer, fs *flag.FlagSet, args []string) {
	dir := fs.String("dir", "./backups", "destination directory for the backup file")
	keep := fs.Int("keep", 7, "number of backups to retain after rotation (0 disables rotation)")
	_ = fs.Parse(args)

	report, err := m.Backup(ctx, *dir, *keep, time.Now().UTC())
	if err != nil {
		log.Fatalf("backup failed: %v", err)
	}

	fmt.Printf("backup written to %s (took %s)\n", report.Path, report.Duration)

	if len(report.Rotated) > 0 {
		fmt.Printf("rotated %d old backups\n", len(report.Rotated))
	}
}

func runIntegrity(ctx context.Context, m *maintenance.Maintainer, fs *flag.FlagSet, args []string) {
	full := fs.Bool("full", false, "run the full integrity_check instead of quick_check")
	_ = fs.Parse(args)

	level := store.Quick
	if *full {
		level = store.Full
	}

	report, err := m.CheckIntegrity(ctx, level)
	if err != nil {
		log.Fatalf("integrity check failed: %v", err)
	}

	if !report.OK {
		fmt.Printf("integrity check FAILED: %s\n", report.Detail)
		os.Exit(1)
	}

	fmt.Println("integrity check ok")
}

func runRetain(ctx context.Context, m *maintenance.Maintainer, fs *flag.FlagSet, args []string) {
	olderThanDays := fs.Int("older-than-days", 90, "delete runs created before this many days ago")
	batchSize := fs.Int("batch-size", 10000, "rows deleted per commit")
	dryRun := fs.Bool("dry-run", false, "report what would be deleted without deleting")
	vacuum := fs.Bool("vacuum", false, "run VACUUM after deleting to reclaim disk space")
	_ = fs.Parse(args)

	opts := maintenance.RetentionOptions{
		OlderThan: time.Now().UTC().AddDate(0, 0, -*olderThanDays),
		BatchSize: *batchSize,
		DryRun:    *dryRun,
		Vacuum:    *vacuum,
	}

	report, err := m.Retain(ctx, opts)
	if err != nil {
		log.Fatalf("retention sweep failed: %v", err)
	}

	if report.DryRun {
		fmt.Printf("would delete %d runs older than %s\n", report.WouldDelete, report.CutoffBefore.Format(time.RFC3339))
		return
	}

	fmt.Printf("deleted %d runs older than %s in %d batches\n",
		report.Deleted, report.CutoffBefore.Format(time.RFC3339), report.Batches)

	if report.Vacuumed {
		fmt.Println("ran VACUUM to reclaim disk space")
	}
}

func runDiagnose(ctx context.Context, m *maintenance.Maintainer) {
	snapshot, err := m.Diagnose(ctx)
	if err != nil {
		log.Fatalf("diagnose failed: %v", err)
	}

	fmt.Printf("journal_mode=%s synchronous=%d busy_timeout=%dms wal_autocheckpoint=%d\n",
		snapshot.JournalMode, snapshot.Synchronous, snapshot.BusyTimeoutMs, snapshot.WALAutocheckpoint)
}

func printUsage() {
	fmt.Printf(`%s v%s - operator maintenance tool for ingestd

USAGE:
    %s COMMAND [OPTIONS]

COMMANDS:
    backup     Take an online backup and rotate old ones
                 -dir string   destination directory (default "./backups")
                 -keep int     backups to retain (default 7, 0 disables rotation)

    integrity  Run a PRAGMA integrity check
                 -full  run the slower integrity_check instead of quick_check

    retain     Delete runs older than a cutoff, in batches
                 -older-than-days int  cutoff in days (default 90)
                 -batch-size int       rows per commit (default 10000)
                 -dry-run              report without deleting
                 -vacuum               reclaim disk space after deleting

    diagnose   Print the live pragma configuration

OPTIONS:
    --version  Show version information

ENVIRONMENT VARIABLES:
    INGESTD_DB_PATH  Path to the SQLite database file (default: ./data/telemetry.sqlite)
`, name, version, name)
}
