// Package main provides the ingestd-migrate schema migration CLI.
//
// It drives the same embedded migration set the server applies at startup,
// exposing up/down/status/version commands for operators who want explicit
// control over schema changes instead of relying on implicit apply-on-boot.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/localtelemetry/ingestd/internal/store"
	"github.com/localtelemetry/ingestd/internal/store/migrations"
)

const (
	version = "0.1.0-dev"
	name    = "ingestd-migrate"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	command := os.Args[1]

	cfg := store.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid database configuration: %v", err)
	}

	st, err := store.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close() //nolint:errcheck // best-effort on exit

	runner, err := migrations.NewRunner(st.WriteDB(), nil)
	if err != nil {
		log.Fatalf("failed to build migration runner: %v", err)
	}
	defer runner.Close() //nolint:errcheck // best-effort on exit

	if err := executeCommand(command, runner); err != nil {
		log.Fatalf("migration command %q failed: %v", command, err)
	}
}

func executeCommand(command string, runner *migrations.Runner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status", "version":
		return printVersion(runner)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printVersion(runner *migrations.Runner) error {
	v, dirty, err := runner.Version()
	if err != nil {
		return err
	}

	if v == 0 && !dirty {
		fmt.Println("schema version: none (no migrations applied)")
		return nil
	}

	fmt.Printf("schema version: %d (dirty: %t)\n", v, dirty)

	return nil
}

func printUsage() {
	fmt.Printf(`%s v%s - schema migration tool for ingestd

USAGE:
    %s COMMAND

COMMANDS:
    up       Apply all pending migrations
    down     Roll back every applied migration
    status   Show current migration version
    version  Alias for status

OPTIONS:
    --version  Show version information

ENVIRONMENT VARIABLES:
    INGESTD_DB_PATH  Path to the SQLite database file (default: ./data/telemetry.sqlite)

EXAMPLES:
    %s up
    %s status
`, name, version, name, name, name)
}
