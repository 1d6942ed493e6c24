package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

// sessionFileName is the basename written under dataDir (spec.md §6).
const sessionFileName = "watch-session.json"

// sessionDocument is the on-disk shape of watch-session.json. It mirrors
// WatchSession plus the flag/cwd fingerprint spec.md §4.4's resumption
// predicate compares against.
type sessionDocument struct {
	violation.WatchSession
	LastUpdate time.Time `json:"lastUpdate"`
	WorkingDir string    `json:"workingDir"`
	TargetPath string    `json:"targetPath"`
	Strict     bool      `json:"strict"`
	ESLintOnly bool      `json:"eslintOnly"`

	// GitBranch/GitCommit are diagnostic fingerprints, not part of the
	// resumption predicate itself (spec.md §4.4 names exactly four
	// criteria, and VCS state is not one of them).
	GitBranch string `json:"gitBranch,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// sessionFilePath returns <dataDir>/watch-session.json.
func sessionFilePath(dataDir string) string {
	return filepath.Join(dataDir, sessionFileName)
}

// readSessionFile loads the session document, returning nil if it
// does not exist or cannot be parsed — a corrupt or absent session file
// simply means "start fresh", it is never fatal.
func readSessionFile(dataDir string) *sessionDocument {
	b, err := os.ReadFile(sessionFilePath(dataDir))
	if err != nil {
		return nil
	}
	var doc sessionDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil
	}
	return &doc
}

// writeSessionFile rewrites watch-session.json via a temp-file-then-rename,
// the atomic-write requirement of spec.md §9 ("accept eventual-consistency
// semantics but write to a temp file and rename atomically").
func writeSessionFile(dataDir string, doc sessionDocument) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("watch: mkdir dataDir: %w", err)
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("watch: marshal session file: %w", err)
	}

	target := sessionFilePath(dataDir)
	tmp, err := os.CreateTemp(dataDir, ".watch-session-*.json.tmp")
	if err != nil {
		return fmt.Errorf("watch: create temp session file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("watch: write temp session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("watch: close temp session file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("watch: rename temp session file: %w", err)
	}
	return nil
}

// clearSessionFile truncates watch-session.json to zero bytes, per
// spec.md §6's "file is truncated on clean shutdown if explicit session
// clearing was requested". An empty file reads back as no session. A
// missing file is left missing.
func clearSessionFile(dataDir string) error {
	if err := os.Truncate(sessionFilePath(dataDir), 0); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("watch: clear session file: %w", err)
	}
	return nil
}

// resumable implements spec.md §4.4's session-resumption predicate: the
// saved session's lastUpdate must be ≤24h old, its working directory must
// match cwd, its critical flags {targetPath, strict, eslintOnly} must match
// current, and it must have had fewer than 4 errors in the last 5 minutes.
func resumable(doc *sessionDocument, cwd, targetPath string, strict, eslintOnly bool, now time.Time) bool {
	if doc == nil {
		return false
	}
	if now.Sub(doc.LastUpdate) > 24*time.Hour {
		return false
	}
	if doc.WorkingDir != cwd {
		return false
	}
	if doc.TargetPath != targetPath || doc.Strict != strict || doc.ESLintOnly != eslintOnly {
		return false
	}

	recentCutoff := now.Add(-5 * time.Minute)
	recentErrors := 0
	for _, e := range doc.Errors {
		if e.Timestamp.After(recentCutoff) {
			recentErrors++
		}
	}
	return recentErrors < 4
}
