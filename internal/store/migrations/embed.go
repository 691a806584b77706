// Package migrations embeds and validates the SQL migration files that bring
// a freshly created database up to the current schema.
package migrations

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

// migrationFilenameRegex matches 001_name.up.sql / 001_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// Set provides a validated view over the embedded migration files, with an
// injectable filesystem for tests.
type Set struct {
	fs fs.FS
}

// info is the parsed shape of a migration filename.
type info struct {
	sequence  int
	name      string
	direction string
	filename  string
}

// New returns a Set backed by the embedded migration files. Passing nil uses
// the production go:embed filesystem.
func New(filesystem fs.FS) *Set {
	if filesystem == nil {
		sub, err := fs.Sub(embeddedFS, "sql")
		if err != nil {
			panic("migrations: embedded sql directory missing: " + err.Error())
		}

		filesystem = sub
	}

	return &Set{fs: filesystem}
}

// FS returns the underlying filesystem, for handing to golang-migrate's iofs
// source driver.
func (s *Set) FS() fs.FS { return s.fs }

// List returns the names of migration files that match the naming standard,
// lexicographically sorted.
func (s *Set) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("migrations: read embedded dir: %w", err)
	}

	var files []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		if filepath.Ext(e.Name()) == ".sql" && migrationFilenameRegex.MatchString(e.Name()) {
			files = append(files, e.Name())
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks that every embedded file is readable, up/down migrations
// are paired, and sequence numbers form a gapless run starting at 1.
func (s *Set) Validate() error {
	files, err := s.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("migrations: no embedded migration files found")
	}

	parsed := make([]info, 0, len(files))

	for _, f := range files {
		m, err := parseFilename(f)
		if err != nil {
			return err
		}

		if _, err := fs.ReadFile(s.fs, f); err != nil {
			return fmt.Errorf("migrations: read %s: %w", f, err)
		}

		parsed = append(parsed, m)
	}

	if err := validatePairing(parsed); err != nil {
		return err
	}

	return validateSequence(parsed)
}

// Checksum returns the SHA-256 of filename's contents, used by maintenance
// tooling to detect a migration file edited after release.
func (s *Set) Checksum(filename string) (string, error) {
	content, err := fs.ReadFile(s.fs, filename)
	if err != nil {
		return "", fmt.Errorf("migrations: read %s: %w", filename, err)
	}

	sum := sha256.Sum256(content)

	return fmt.Sprintf("%x", sum), nil
}

func parseFilename(filename string) (info, error) {
	m := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(m) != 4 {
		return info{}, fmt.Errorf(
			"migrations: invalid filename %q, expected 001_name.up.sql or 001_name.down.sql", filename)
	}

	seq, err := strconv.Atoi(m[1])
	if err != nil {
		return info{}, fmt.Errorf("migrations: invalid sequence in %q: %w", filename, err)
	}

	return info{sequence: seq, name: m[2], direction: m[3], filename: filename}, nil
}

func validatePairing(files []info) error {
	byKey := make(map[string]map[string]bool)

	for _, f := range files {
		key := fmt.Sprintf("%03d_%s", f.sequence, f.name)
		if byKey[key] == nil {
			byKey[key] = make(map[string]bool)
		}

		byKey[key][f.direction] = true
	}

	for key, dirs := range byKey {
		if !dirs["up"] {
			return fmt.Errorf("migrations: missing up migration for %s", key)
		}

		if !dirs["down"] {
			return fmt.Errorf("migrations: missing down migration for %s", key)
		}
	}

	return nil
}

func validateSequence(files []info) error {
	seen := make(map[int]bool)
	for _, f := range files {
		seen[f.sequence] = true
	}

	var seqs []int
	for s := range seen {
		seqs = append(seqs, s)
	}

	sort.Ints(seqs)

	if len(seqs) == 0 {
		return nil
	}

	if seqs[0] != 1 {
		return fmt.Errorf("migrations: sequence must start at 001, found %03d", seqs[0])
	}

	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			return fmt.Errorf("migrations: gap in sequence: expected %03d, found %03d", seqs[i-1]+1, seqs[i])
		}
	}

	return nil
}
