// Package gitinfo best-effort detects git provenance fields (git_repo,
// git_branch, git_run_tag) from a client's working directory, per spec.md
// §4.F. Detection never raises: an unknown field is simply left unset.
package gitinfo

import (
	"os/exec"
	"strings"
	"sync"
)

// Info holds the provenance fields read from the local git checkout. Fields
// are nil when detection failed or the repository doesn't have one (e.g. no
// tags reachable from HEAD).
type Info struct {
	Repo    *string
	Branch  *string
	RunTag  *string
}

// Detector caches the result of its last detection, since running several
// git subprocesses on every Run start is wasteful for a long-lived agent
// process working in the same checkout.
type Detector struct {
	dir string

	mu    sync.Mutex
	cache *Info
}

// NewDetector returns a Detector that runs git in dir (the empty string
// means the process's current working directory).
func NewDetector(dir string) *Detector {
	return &Detector{dir: dir}
}

// Detect returns the cached Info, computing it on first use.
func (d *Detector) Detect() Info {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cache != nil {
		return *d.cache
	}

	info := d.detect()
	d.cache = &info

	return info
}

// Refresh forces re-detection on the next Detect call, for long-running
// processes whose checkout may change (e.g. a new commit landing mid-run).
func (d *Detector) Refresh() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = nil
}

func (d *Detector) detect() Info {
	return Info{
		Repo:   d.runGit("remote", "get-url", "origin"),
		Branch: d.runGit("rev-parse", "--abbrev-ref", "HEAD"),
		RunTag: d.runGit("describe", "--tags", "--always"),
	}
}

func (d *Detector) runGit(args ...string) *string {
	cmd := exec.Command("git", args...)
	if d.dir != "" {
		cmd.Dir = d.dir
	}

	out, err := cmd.Output()
	if err != nil {
		return nil
	}

	v := strings.TrimSpace(string(out))
	if v == "" {
		return nil
	}

	return &v
}
