// Package completion implements the `wu:done` engine (spec.md §4.11): the
// nine-phase pipeline that validates a Work Unit, writes its completion
// metadata through an atomic transaction, and integrates its lane branch
// into main. It generalizes the end-to-end processConcern pipeline in
// internal/engine/engine.go — per-phase status writes, rebase-then-commit,
// commitChanges — into the full done pipeline, with its single mutable
// worktree replaced by scoped micro-worktree acquisition for every
// repo-wide write.
package completion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hellmai/lumenflow/internal/artifacts"
	"github.com/hellmai/lumenflow/internal/consistency"
	"github.com/hellmai/lumenflow/internal/event"
	"github.com/hellmai/lumenflow/internal/gitops"
	"github.com/hellmai/lumenflow/internal/lferr"
	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/signalbus"
	"github.com/hellmai/lumenflow/internal/statemachine"
	"github.com/hellmai/lumenflow/internal/statestore"
	"github.com/hellmai/lumenflow/internal/txn"
	"github.com/hellmai/lumenflow/internal/wu"
)

// MaxCommitSubject is COMMIT_FORMATS' subject length cap (spec.md §6).
const MaxCommitSubject = 100

// CreatePRFunc opens a pull request for a lane branch (branch-pr mode).
// warning is non-empty, with err nil, when the PR could not be opened but
// wu:done should still succeed (spec.md §4.11 Phase 8, Open Question a).
type CreatePRFunc func(branch, wuID string) (prURL, warning string, err error)

// Request configures a single CompleteWorktree invocation.
type Request struct {
	Layout       paths.Layout
	Repo         *gitops.Repo // rooted at the WU's claimed worktree (or the main checkout for branch-only/branch-pr)
	Store        *statestore.Store
	WuID         string
	NoAutoRebase bool
	CreatePR     CreatePRFunc
}

// Result mirrors spec.md §4.11 Phase 9's return shape.
type Result struct {
	Success     bool
	Committed   bool
	Pushed      bool
	Merged      bool
	PRUrl       *string
	CleanupSafe bool
	Warning     string
}

// CompleteWorktree runs the full wu:done pipeline.
func CompleteWorktree(req Request) (Result, error) {
	layout, repo := req.Layout, req.Repo

	// Phase 0 — guards.
	w, err := wu.Load(layout.WUFile(req.WuID))
	if err != nil {
		return Result{}, lferr.Wrap(lferr.KindNotFound, err, "loading WU YAML").WithWuID(req.WuID)
	}
	consistency.Middleware{}.Run(layout, repo, req.WuID)

	// Phase 1 — zombie recovery.
	zombie, err := isZombie(repo, layout, w)
	if err != nil {
		return Result{}, fmt.Errorf("checking zombie state for %s: %w", w.ID, err)
	}
	if zombie {
		if err := recoverZombie(repo, layout, w); err != nil {
			return Result{}, err
		}
		if w, err = wu.Load(layout.WUFile(req.WuID)); err != nil {
			return Result{}, fmt.Errorf("reloading %s after zombie recovery: %w", req.WuID, err)
		}
	}

	// Phase 2 — transition check.
	if err := statemachine.AssertTransition(w.Status, wu.StatusDone, w.ID); err != nil {
		return Result{}, err
	}

	// Phase 3 — main-sync guard, before any file write.
	if err := validateMainNotBehindOrigin(repo); err != nil {
		return Result{}, err
	}

	// Phase 4 — atomic metadata transaction: validate everything first.
	wu.ValidateAndNormalize(w)
	if errs := wu.ValidateDone(w); len(errs) > 0 {
		return Result{}, lferr.Wrap(lferr.KindValidation, joinErrs(errs), "WU fails done-completeness checks").WithWuID(w.ID)
	}
	if errs := validateCodePathsCommittedBeforeDone(repo, w); len(errs) > 0 {
		return Result{}, lferr.Wrap(lferr.KindValidation, joinErrs(errs), "code_paths not fully committed").WithWuID(w.ID)
	}

	now := time.Now().UTC()
	w.MarkDone(now)

	// Phase 5 — collect writes.
	tx := txn.New()
	allowlist, err := collectMetadataToTransaction(tx, layout, w, now)
	if err != nil {
		return Result{}, fmt.Errorf("collecting metadata writes for %s: %w", w.ID, err)
	}

	// Phase 6 — snapshot + commit + post-mutation validation.
	snap, err := txn.CreateSnapshot(tx.Pending())
	if err != nil {
		return Result{}, fmt.Errorf("snapshotting pending writes: %w", err)
	}
	if _, err := tx.Commit(); err != nil {
		return Result{}, lferr.Wrap(lferr.KindTransaction, err, "committing WU metadata transaction").WithWuID(w.ID)
	}
	if err := req.Store.Append(event.New(event.TypeComplete, w.ID, now)); err != nil {
		_ = txn.RestoreSnapshot(snap)
		return Result{}, fmt.Errorf("appending complete event: %w", err)
	}
	if err := validatePostMutation(layout, w.ID); err != nil {
		if restoreErr := txn.RestoreSnapshot(snap); restoreErr != nil {
			return Result{}, fmt.Errorf("post-mutation validation failed (%w) and restore also failed: %v", err, restoreErr)
		}
		return Result{}, lferr.Wrap(lferr.KindTransaction, err, "post-mutation validation failed, transaction restored").WithWuID(w.ID)
	}

	// Phase 7 — git mutation.
	laneBranch := w.ClaimedBranch
	if laneBranch == "" {
		laneBranch = w.LaneBranch()
	}

	if err := stageAndFormatMetadata(repo, allowlist); err != nil {
		_ = txn.RestoreSnapshot(snap)
		return Result{}, err
	}
	if err := assertNoConflictArtifactsInIndex(repo); err != nil {
		_ = txn.RestoreSnapshot(snap)
		return Result{}, err
	}

	preCommitSha, err := repo.GetCommitHash("HEAD")
	if err != nil {
		_ = txn.RestoreSnapshot(snap)
		return Result{}, fmt.Errorf("recording pre-commit SHA: %w", err)
	}

	if count, cErr := countPreviousCompletionAttempts(repo); cErr == nil && count > 0 {
		if _, sErr := squashPreviousCompletionAttempts(repo); sErr != nil {
			_ = txn.RestoreSnapshot(snap)
			return Result{}, fmt.Errorf("squashing %d previous completion attempts: %w", count, sErr)
		}
	}

	if err := repo.Commit(commitSubject(w)); err != nil {
		_ = txn.RestoreSnapshot(snap)
		return Result{}, lferr.Wrap(lferr.KindGit, err, "committing WU completion").WithWuID(w.ID)
	}

	// Phase 8 — merge.
	mergeResult, mergeErr := executeMergePhase(layout, repo, laneBranch, w, req.NoAutoRebase, req.CreatePR)
	if mergeErr != nil {
		return handleCompletionError(mergeErr, preCommitSha, snap, w.ID)
	}

	// Phase 9 — post-success.
	if err := clearRecoveryAttempts(layout, w.ID); err != nil {
		return Result{}, fmt.Errorf("clearing recovery marker for %s: %w", w.ID, err)
	}
	_, _ = signalbus.CreateSignal(layout, signalbus.Signal{
		WuID:    w.ID,
		Lane:    w.Lane,
		Type:    "wu_done",
		Message: fmt.Sprintf("%s completed", w.ID),
	})

	return Result{
		Success:     true,
		Committed:   true,
		Pushed:      mergeResult.Pushed,
		Merged:      mergeResult.Merged,
		PRUrl:       mergeResult.PRUrl,
		CleanupSafe: true,
		Warning:     mergeResult.Warning,
	}, nil
}

// commitSubject renders `wu(WU-N): done - <title>`, truncated to
// MaxCommitSubject (spec.md §4.11 Phase 7.6).
func commitSubject(w *wu.WU) string {
	msg := fmt.Sprintf("wu(%s): done - %s", w.ID, w.Title)
	if len(msg) > MaxCommitSubject {
		return msg[:MaxCommitSubject]
	}
	return msg
}

func joinErrs(errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

// validateMainNotBehindOrigin implements Phase 3 (spec.md §4.11): fail-open
// when there is no remote to compare against, fail-closed with a GIT_ERROR
// when local main trails origin/main by one or more commits.
func validateMainNotBehindOrigin(repo *gitops.Repo) error {
	if err := repo.Fetch("origin", "main"); err != nil {
		return nil
	}
	behind, err := repo.RevListCount("main..origin/main")
	if err != nil {
		return nil
	}
	if behind > 0 {
		return lferr.New(lferr.KindGit, fmt.Sprintf(
			"Local main is %d commit(s) behind origin/main. Run `git pull origin main` and retry.", behind,
		))
	}
	return nil
}

// collectMetadataToTransaction implements Phase 5: enqueues every metadata
// write and returns the repo-relative allowlist stageAndFormatMetadata will
// later enforce.
func collectMetadataToTransaction(tx *txn.Transaction, layout paths.Layout, w *wu.WU, now time.Time) ([]string, error) {
	var allowlist []string

	yamlBytes, err := wu.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", w.ID, err)
	}
	wuPath := layout.WUFile(w.ID)
	if err := tx.AddWrite(wuPath, yamlBytes, "WU YAML -> done"); err != nil {
		return nil, err
	}
	allowlist = append(allowlist, relPath(layout.RepoDir, wuPath))

	entryLine := fmt.Sprintf("- %s: %s (wu/%s.yaml)", w.ID, w.Title, w.ID)

	statusMD, err := artifacts.ReadOrEmpty(layout.StatusFile())
	if err != nil {
		return nil, err
	}
	updatedStatus := artifacts.MoveToSection(statusMD, "## 🔧 In progress", "## ✅ Done", w.ID, entryLine)
	if err := tx.AddWrite(layout.StatusFile(), []byte(updatedStatus), "status.md: move WU to Done"); err != nil {
		return nil, err
	}
	allowlist = append(allowlist, relPath(layout.RepoDir, layout.StatusFile()))

	backlogMD, err := artifacts.ReadOrEmpty(layout.BacklogFile())
	if err != nil {
		return nil, err
	}
	updatedBacklog := artifacts.MoveToSection(backlogMD, "## 🔧 In progress", "## ✅ Done", w.ID, entryLine)
	if err := tx.AddWrite(layout.BacklogFile(), []byte(updatedBacklog), "backlog.md: move WU to Done"); err != nil {
		return nil, err
	}
	allowlist = append(allowlist, relPath(layout.RepoDir, layout.BacklogFile()))

	if err := tx.AddWrite(layout.StampFile(w.ID), []byte(artifacts.StampContent(w.ID, w.Title, now)), "completion stamp"); err != nil {
		return nil, err
	}
	allowlist = append(allowlist, relPath(layout.RepoDir, layout.StampFile(w.ID)))

	// The initiative file, when present, was already edited by the agent in
	// the worktree; wu:done stages it alongside metadata but does not
	// mutate its content itself (spec.md §4.11 Phase 5/7).
	if w.Initiative != "" {
		initPath := layout.InitiativeFile(w.Initiative)
		if _, err := os.Stat(initPath); err == nil {
			allowlist = append(allowlist, relPath(layout.RepoDir, initPath))
		}
	}

	return allowlist, nil
}

func relPath(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// validatePostMutation implements Phase 6's post-write check.
func validatePostMutation(layout paths.Layout, wuID string) error {
	w, err := wu.Load(layout.WUFile(wuID))
	if err != nil {
		return fmt.Errorf("re-parsing WU YAML: %w", err)
	}
	if w.Status != wu.StatusDone || !w.Locked {
		return fmt.Errorf("WU YAML does not reflect done status after commit")
	}
	if !artifacts.StampExists(layout, wuID) {
		return fmt.Errorf("stamp file missing after commit")
	}
	if _, err := os.Stat(layout.EventLogFile()); err != nil {
		return fmt.Errorf("event log missing after commit: %w", err)
	}
	return nil
}

// stageAndFormatMetadata implements Phase 7.2: stage exactly the allowlisted
// files, then refuse if anything else ended up in the index.
func stageAndFormatMetadata(repo *gitops.Repo, allowlist []string) error {
	if err := repo.AddWithDeletions(allowlist); err != nil {
		return fmt.Errorf("staging metadata: %w", err)
	}
	return validateStagedFiles(repo, allowlist)
}

func validateStagedFiles(repo *gitops.Repo, allowlist []string) error {
	out, err := repo.Raw("diff", "--cached", "--name-only")
	if err != nil {
		return fmt.Errorf("listing staged files: %w", err)
	}
	allowed := make(map[string]bool, len(allowlist))
	for _, p := range allowlist {
		allowed[p] = true
	}
	var outside []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || allowed[line] {
			continue
		}
		outside = append(outside, line)
	}
	if len(outside) > 0 {
		return lferr.New(lferr.KindScopeViolation, "staged files outside the metadata allowlist: "+strings.Join(outside, ", "))
	}
	return nil
}

// assertNoConflictArtifactsInIndex implements Phase 7.5.
func assertNoConflictArtifactsInIndex(repo *gitops.Repo) error {
	out, err := repo.Raw("diff", "--cached", "--name-only")
	if err != nil {
		return fmt.Errorf("listing staged files: %w", err)
	}
	for _, path := range strings.Split(out, "\n") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		content, err := repo.Raw("show", ":"+path)
		if err != nil {
			continue
		}
		if strings.Contains(content, "<<<<<<<") || strings.Contains(content, ">>>>>>>") {
			return lferr.New(lferr.KindGit, "staged file "+path+" contains unresolved conflict markers")
		}
	}
	return nil
}

// countPreviousCompletionAttempts implements Phase 7.3: how many prior
// "wu(<id>): done" commits already sit on the current branch ahead of
// origin/main.
func countPreviousCompletionAttempts(repo *gitops.Repo) (int, error) {
	base, err := repo.Raw("merge-base", "HEAD", "origin/main")
	if err != nil {
		return 0, err
	}
	hashes, err := repo.RevList(base + "..HEAD")
	if err != nil {
		return 0, err
	}
	count := 0
	for _, h := range hashes {
		msg, err := repo.CommitMessage(h)
		if err != nil {
			continue
		}
		if strings.HasPrefix(msg, "wu(") && strings.Contains(msg, "): done") {
			count++
		}
	}
	return count, nil
}
