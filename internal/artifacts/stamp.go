// Package artifacts manipulates the repository-owned, human-facing
// completion artifacts named in spec.md §6: the `<WU-N>.done` stamp files
// and the `backlog.md`/`status.md` section markdown. It generalizes the
// per-station JSON status file in internal/engine/state.go (WriteStatus)
// into the plain-text artifacts this spec's completion and consistency
// subsystems read and rewrite.
package artifacts

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hellmai/lumenflow/internal/paths"
)

// StampContent renders the canonical stamp file body (spec.md §3:
// "WU <id> — <title>\nCompleted: <YYYY-MM-DD>\n").
func StampContent(id, title string, completed time.Time) string {
	return fmt.Sprintf("WU %s — %s\nCompleted: %s\n", id, title, completed.Format("2006-01-02"))
}

// StampExists reports whether a WU's stamp file is present on disk.
// Presence on disk is what the consistency detector calls "tracked" —
// spec.md §4.9's "tracked" qualifier exists to avoid acting on local-only
// artifacts that were never committed, which this package cannot see from
// a working tree alone; callers that need the origin/main-tracked
// distinction use gitops.LsTree against the stamp's relative path.
func StampExists(layout paths.Layout, id string) bool {
	_, err := os.Stat(layout.StampFile(id))
	return err == nil
}

// WriteStamp creates a WU's stamp file with the canonical content.
func WriteStamp(layout paths.Layout, id, title string, completed time.Time) error {
	if err := paths.EnsureDir(layout.StampsDirPath()); err != nil {
		return fmt.Errorf("creating stamps dir: %w", err)
	}
	return os.WriteFile(layout.StampFile(id), []byte(StampContent(id, title, completed)), 0o644)
}

// ReadStamp returns a stamp file's raw content, or ("", false) if absent.
func ReadStamp(layout paths.Layout, id string) (string, bool) {
	data, err := os.ReadFile(layout.StampFile(id))
	if err != nil {
		return "", false
	}
	return strings.TrimRight(string(data), "\n") + "\n", true
}
