package completion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hellmai/lumenflow/internal/gitops"
	"github.com/hellmai/lumenflow/internal/lferr"
	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/retry"
	"github.com/hellmai/lumenflow/internal/wu"
)

// maxRecoveryAttempts bounds zombie recovery (spec.md §4.11 Phase 1: "≥2
// and ≤10, from configurable retry preset"), sourced from retry's recovery
// preset rather than duplicated here.
func maxRecoveryAttempts() int {
	return retry.RecoveryPreset().MaxAttempts
}

// RecoveryCounter is the `<stateDir>/recovery/<WU-N>.recovery` marker
// (spec.md §6).
type RecoveryCounter struct {
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"lastAttempt"`
}

func loadRecoveryCounter(layout paths.Layout, wuID string) (RecoveryCounter, error) {
	data, err := os.ReadFile(layout.RecoveryFile(wuID))
	if err != nil {
		if os.IsNotExist(err) {
			return RecoveryCounter{}, nil
		}
		return RecoveryCounter{}, fmt.Errorf("reading recovery marker for %s: %w", wuID, err)
	}
	var rc RecoveryCounter
	if err := json.Unmarshal(data, &rc); err != nil {
		return RecoveryCounter{}, fmt.Errorf("parsing recovery marker for %s: %w", wuID, err)
	}
	return rc, nil
}

func saveRecoveryCounter(layout paths.Layout, wuID string, rc RecoveryCounter) error {
	if err := paths.EnsureDir(layout.RecoveryDirPath()); err != nil {
		return fmt.Errorf("creating recovery dir: %w", err)
	}
	data, err := json.Marshal(rc)
	if err != nil {
		return err
	}
	return os.WriteFile(layout.RecoveryFile(wuID), data, 0o644)
}

// clearRecoveryAttempts implements Phase 9's `clearRecoveryAttempts`.
func clearRecoveryAttempts(layout paths.Layout, wuID string) error {
	err := os.Remove(layout.RecoveryFile(wuID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// isZombie detects the condition named in spec.md §4.11 Phase 1: worktree
// YAML says done, but origin/main carries no stamp for it. Fetch failure
// (no remote configured) is treated as "not a zombie" rather than an
// error, matching the main-sync guard's own fail-open posture.
func isZombie(repo *gitops.Repo, layout paths.Layout, w *wu.WU) (bool, error) {
	if w.Status != wu.StatusDone {
		return false, nil
	}
	if err := repo.Fetch("origin", "main"); err != nil {
		return false, nil
	}
	relStamp, err := filepath.Rel(layout.RepoDir, layout.StampFile(w.ID))
	if err != nil {
		return false, err
	}
	tracked, err := repo.LsTree("origin/main", filepath.ToSlash(relStamp))
	if err != nil {
		return false, err
	}
	return !tracked, nil
}

// recoverZombie implements Phase 1 (b)/(c): bump the repeatable-attempt
// counter, refusing once it reaches maxRecoveryAttempts, then squash the
// lane branch's previous completion attempts and reset the worktree YAML
// to in_progress so the rest of the pipeline re-runs cleanly.
func recoverZombie(repo *gitops.Repo, layout paths.Layout, w *wu.WU) error {
	rc, err := loadRecoveryCounter(layout, w.ID)
	if err != nil {
		return err
	}
	limit := maxRecoveryAttempts()
	if rc.Attempts >= limit {
		return lferr.New(lferr.KindRecoveryLoop, fmt.Sprintf(
			"zombie recovery for %s exceeded %d attempts; manual intervention required", w.ID, limit,
		)).WithWuID(w.ID).WithTryNext("inspect " + layout.RecoveryFile(w.ID) + " and the lane branch by hand")
	}

	rc.Attempts++
	rc.LastAttempt = time.Now().UTC()
	if err := saveRecoveryCounter(layout, w.ID, rc); err != nil {
		return err
	}

	if err := prepareRecoveryWithSquash(repo, w); err != nil {
		return fmt.Errorf("preparing zombie recovery for %s: %w", w.ID, err)
	}

	w.Status = wu.StatusInProgress
	return wu.Save(layout.WUFile(w.ID), w)
}

// prepareRecoveryWithSquash collapses every commit the lane branch carries
// beyond its merge-base with origin/main into a single completion commit
// (spec.md §4.11 Phase 1 (c)): a soft reset followed immediately by a
// fresh commit, used standalone during zombie recovery, before any new
// metadata has been staged.
func prepareRecoveryWithSquash(repo *gitops.Repo, w *wu.WU) error {
	squashed, err := squashPreviousCompletionAttempts(repo)
	if err != nil {
		return err
	}
	if !squashed {
		return nil
	}
	if err := repo.Commit(commitSubject(w)); err != nil {
		return fmt.Errorf("recommitting squashed completion attempts: %w", err)
	}
	return nil
}

// squashPreviousCompletionAttempts soft-resets HEAD to its merge-base with
// origin/main when more than one commit separates them, leaving the
// combined diff staged but uncommitted (spec.md §4.11 Phase 7.3). Used
// during Phase 7 so the caller's own commit absorbs both the squashed
// history and the newly staged metadata in one commit.
func squashPreviousCompletionAttempts(repo *gitops.Repo) (squashed bool, err error) {
	base, err := repo.Raw("merge-base", "HEAD", "origin/main")
	if err != nil {
		return false, fmt.Errorf("finding merge-base with origin/main: %w", err)
	}
	count, err := repo.RevListCount(base + "..HEAD")
	if err != nil {
		return false, fmt.Errorf("counting commits ahead of origin/main: %w", err)
	}
	if count <= 1 {
		return false, nil
	}
	if err := repo.ResetSoft(base); err != nil {
		return false, fmt.Errorf("soft-resetting to merge-base for squash: %w", err)
	}
	return true, nil
}
