// Package consistency implements the drift detector and repairer of
// spec.md §4.9-4.10: six independent predicates comparing a WU's YAML
// against its stamp, backlog/status markdown, and worktree/branch
// presence. Grounded on the stale-state reconciliation in
// internal/engine/state.go (ResetActiveStatuses/writeStaleFailedStatus),
// generalized from "the process died mid-run" to the six drift
// predicates this spec names.
package consistency

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hellmai/lumenflow/internal/artifacts"
	"github.com/hellmai/lumenflow/internal/event"
	"github.com/hellmai/lumenflow/internal/gitops"
	"github.com/hellmai/lumenflow/internal/microwt"
	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/statestore"
	"github.com/hellmai/lumenflow/internal/wu"
)

// Kind is the closed enum of drift predicates (spec.md §4.9).
type Kind string

const (
	KindYAMLDoneStatusInProgress Kind = "YAML_DONE_STATUS_IN_PROGRESS"
	KindBacklogDualSection       Kind = "BACKLOG_DUAL_SECTION"
	KindYAMLDoneNoStamp          Kind = "YAML_DONE_NO_STAMP"
	KindOrphanWorktreeDone       Kind = "ORPHAN_WORKTREE_DONE"
	KindStampExistsYAMLNotDone   Kind = "STAMP_EXISTS_YAML_NOT_DONE"
	KindMissingWorktreeClaimed   Kind = "MISSING_WORKTREE_CLAIMED"
)

// AutoRepairable reports whether Repair can fix the kind without human
// input (spec.md §4.9: all but MISSING_WORKTREE_CLAIMED are auto-repaired).
func (k Kind) AutoRepairable() bool {
	return k != KindMissingWorktreeClaimed
}

// Issue is one detected drift for a WU.
type Issue struct {
	Kind   Kind
	WuID   string
	Detail string
}

const (
	sectionInProgress = "## 🔧 In progress"
	sectionDone       = "## ✅ Done"
)

// Detect loads the YAML of the one WU named by id, checks it against
// backlog.md, status.md, its stamp and its worktree/branch, and reports
// every drift it finds. A single WU may produce more than one Issue.
func Detect(layout paths.Layout, repo *gitops.Repo, id string) ([]Issue, error) {
	w, err := wu.Load(layout.WUFile(id))
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", id, err)
	}

	statusMD, _ := artifacts.ReadOrEmpty(layout.StatusFile())
	backlogMD, _ := artifacts.ReadOrEmpty(layout.BacklogFile())

	var issues []Issue

	if w.Status == wu.StatusDone {
		if sectionsHas(statusMD, sectionInProgress, id) {
			issues = append(issues, Issue{Kind: KindYAMLDoneStatusInProgress, WuID: id, Detail: "status.md still lists WU in In progress"})
		}
		if !artifacts.StampExists(layout, id) {
			issues = append(issues, Issue{Kind: KindYAMLDoneNoStamp, WuID: id, Detail: "status=done but no stamp file"})
		}

		branch := w.ClaimedBranch
		if branch == "" {
			branch = w.LaneBranch()
		}
		worktreeThere := w.WorktreePath != "" && dirExists(w.WorktreePath)
		branchThere := repo.BranchExists(branch)
		if worktreeThere || branchThere {
			issues = append(issues, Issue{Kind: KindOrphanWorktreeDone, WuID: id, Detail: "worktree or branch still exists for a done WU"})
		}
	}

	if sectionsHas(backlogMD, sectionInProgress, id) && sectionsHas(backlogMD, sectionDone, id) {
		issues = append(issues, Issue{Kind: KindBacklogDualSection, WuID: id, Detail: "WU listed in both In progress and Done"})
	}

	if w.Status != wu.StatusDone && artifacts.StampExists(layout, id) {
		issues = append(issues, Issue{Kind: KindStampExistsYAMLNotDone, WuID: id, Detail: "stamp exists but YAML is not done"})
	}

	if w.ClaimedMode == wu.ClaimedModeWorktree &&
		(w.Status == wu.StatusInProgress || w.Status == wu.StatusBlocked) &&
		w.WorktreePath != "" && !dirExists(w.WorktreePath) {
		issues = append(issues, Issue{Kind: KindMissingWorktreeClaimed, WuID: id, Detail: "claimed worktree path missing on disk"})
	}

	return issues, nil
}

func sectionsHas(content, header, wuID string) bool {
	for _, h := range artifacts.SectionsContaining(artifacts.ParseSections(content), wuID) {
		if h == header {
			return true
		}
	}
	return false
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// RepairResult reports what Repair changed.
type RepairResult struct {
	TouchedPaths []string
	Skipped      bool
	SkipReason   string
}

// Repair fixes a single auto-repairable issue. File-level repairs write
// straight to disk under layout; no transaction or snapshot is involved
// (spec.md §4.10 step 1: "batches all ... into a single micro-worktree
// operation" — the batching and micro-worktree wrapping is the caller's
// responsibility, see Reconcile; Repair performs the writes for one issue).
func Repair(layout paths.Layout, repo *gitops.Repo, store *statestore.Store, issue Issue) (RepairResult, error) {
	if !issue.Kind.AutoRepairable() {
		return RepairResult{Skipped: true, SkipReason: "manual repair required"}, nil
	}

	switch issue.Kind {
	case KindYAMLDoneStatusInProgress:
		return repairStatusMDSection(layout, issue.WuID)
	case KindBacklogDualSection:
		return repairBacklogDualSection(layout, issue.WuID)
	case KindYAMLDoneNoStamp:
		return repairMissingStamp(layout, issue.WuID)
	case KindOrphanWorktreeDone:
		return repairOrphanWorktree(layout, repo, issue.WuID)
	case KindStampExistsYAMLNotDone:
		return repairStampWithoutDone(layout, store, issue.WuID)
	}
	return RepairResult{}, fmt.Errorf("unrecognised auto-repairable kind %s", issue.Kind)
}

// ReconcileResult reports what Reconcile did for a WU's batch of issues.
type ReconcileResult struct {
	Committed    bool
	Pushed       bool
	Merged       bool
	TouchedPaths []string
	Skipped      []Issue
}

// Reconcile implements spec.md §4.10's orchestrator: it batches every
// auto-repairable issue for a WU into a single micro-worktree operation,
// commits with `fix(WU-N): repair state inconsistency`, and integrates via
// microwt.Run's push/merge path. ORPHAN_WORKTREE_DONE is applied directly
// against repo rather than inside the micro-worktree, since removing a
// worktree and its branch are operations on the repository's own worktree
// registry, not file writes a disposable worktree can stage.
func Reconcile(layout paths.Layout, repo *gitops.Repo, id string, issues []Issue) (ReconcileResult, error) {
	result := ReconcileResult{}

	var fileLevel []Issue
	for _, issue := range issues {
		if !issue.Kind.AutoRepairable() {
			result.Skipped = append(result.Skipped, issue)
			continue
		}
		if issue.Kind == KindOrphanWorktreeDone {
			repairResult, err := repairOrphanWorktree(layout, repo, id)
			if err != nil {
				return result, fmt.Errorf("repairing orphan worktree for %s: %w", id, err)
			}
			if repairResult.Skipped {
				result.Skipped = append(result.Skipped, issue)
			}
			continue
		}
		fileLevel = append(fileLevel, issue)
	}

	if len(fileLevel) == 0 {
		return result, nil
	}

	var touchedPaths []string
	mwResult, err := microwt.Run(repo, layout.RepoDir, microwt.Request{
		OperationName: "consistency",
		WuID:          strings.ToLower(id),
		PushOnly:      true,
		CommitMessage: fmt.Sprintf("fix(%s): repair state inconsistency", id),
		Run: func(worktreeDir string) ([]string, error) {
			wtLayout := paths.Default(worktreeDir)
			wtStore := statestore.New(wtLayout)

			var changed []string
			for _, issue := range fileLevel {
				repairResult, err := repairFileLevel(wtLayout, wtStore, issue)
				if err != nil {
					return nil, fmt.Errorf("repairing %s for %s: %w", issue.Kind, id, err)
				}
				for _, touched := range repairResult.TouchedPaths {
					rel, relErr := filepath.Rel(worktreeDir, touched)
					if relErr != nil {
						return nil, fmt.Errorf("relativizing touched path %s: %w", touched, relErr)
					}
					changed = append(changed, rel)
				}
			}
			touchedPaths = changed
			return changed, nil
		},
	})
	if err != nil {
		return result, fmt.Errorf("reconciling %s: %w", id, err)
	}

	result.Committed = mwResult.Pushed || mwResult.Merged
	result.Pushed = mwResult.Pushed
	result.Merged = mwResult.Merged
	result.TouchedPaths = touchedPaths
	return result, nil
}

// repairFileLevel dispatches the file-writing repairs only — the subset
// of Repair's switch that never touches worktrees or branches, safe to
// run inside a disposable micro-worktree.
func repairFileLevel(layout paths.Layout, store *statestore.Store, issue Issue) (RepairResult, error) {
	switch issue.Kind {
	case KindYAMLDoneStatusInProgress:
		return repairStatusMDSection(layout, issue.WuID)
	case KindBacklogDualSection:
		return repairBacklogDualSection(layout, issue.WuID)
	case KindYAMLDoneNoStamp:
		return repairMissingStamp(layout, issue.WuID)
	case KindStampExistsYAMLNotDone:
		return repairStampWithoutDone(layout, store, issue.WuID)
	}
	return RepairResult{}, fmt.Errorf("unrecognised file-level repair kind %s", issue.Kind)
}

func repairStatusMDSection(layout paths.Layout, id string) (RepairResult, error) {
	content, err := artifacts.ReadOrEmpty(layout.StatusFile())
	if err != nil {
		return RepairResult{}, err
	}
	updated, removed := artifacts.RemoveFromSection(content, sectionInProgress, id)
	if !removed {
		return RepairResult{}, nil
	}
	if err := os.WriteFile(layout.StatusFile(), []byte(updated), 0o644); err != nil {
		return RepairResult{}, fmt.Errorf("writing status.md: %w", err)
	}
	return RepairResult{TouchedPaths: []string{layout.StatusFile()}}, nil
}

func repairBacklogDualSection(layout paths.Layout, id string) (RepairResult, error) {
	content, err := artifacts.ReadOrEmpty(layout.BacklogFile())
	if err != nil {
		return RepairResult{}, err
	}
	// Keep Done (spec.md §4.9).
	updated, removed := artifacts.RemoveFromSection(content, sectionInProgress, id)
	if !removed {
		return RepairResult{}, nil
	}
	if err := os.WriteFile(layout.BacklogFile(), []byte(updated), 0o644); err != nil {
		return RepairResult{}, fmt.Errorf("writing backlog.md: %w", err)
	}
	return RepairResult{TouchedPaths: []string{layout.BacklogFile()}}, nil
}

func repairMissingStamp(layout paths.Layout, id string) (RepairResult, error) {
	w, err := wu.Load(layout.WUFile(id))
	if err != nil {
		return RepairResult{}, err
	}
	if err := artifacts.WriteStamp(layout, id, w.Title, time.Now()); err != nil {
		return RepairResult{}, err
	}
	return RepairResult{TouchedPaths: []string{layout.StampFile(id)}}, nil
}

// repairOrphanWorktree enforces the three mandatory safety guards of
// spec.md §4.10 step 4 before any deletion: cwd must not be inside the
// worktree, the worktree must have no uncommitted changes, and a stamp
// must exist.
func repairOrphanWorktree(layout paths.Layout, repo *gitops.Repo, id string) (RepairResult, error) {
	w, err := wu.Load(layout.WUFile(id))
	if err != nil {
		return RepairResult{}, err
	}

	if !artifacts.StampExists(layout, id) {
		return RepairResult{Skipped: true, SkipReason: "no stamp present, refusing to remove worktree"}, nil
	}

	if w.WorktreePath != "" {
		cwd, err := os.Getwd()
		if err == nil && insideDir(cwd, w.WorktreePath) {
			return RepairResult{Skipped: true, SkipReason: "cwd is inside the worktree being removed"}, nil
		}
		if dirExists(w.WorktreePath) {
			wtRepo := gitops.NewRepo(w.WorktreePath)
			hasChanges, err := wtRepo.HasChanges()
			if err != nil {
				return RepairResult{}, fmt.Errorf("checking worktree status: %w", err)
			}
			if hasChanges {
				return RepairResult{Skipped: true, SkipReason: "worktree has uncommitted changes"}, nil
			}
			if err := repo.WorktreeRemove(w.WorktreePath, gitops.WorktreeRemoveOpts{Force: true}); err != nil {
				return RepairResult{}, fmt.Errorf("removing worktree %s: %w", w.WorktreePath, err)
			}
		}
	}

	branch := w.ClaimedBranch
	if branch == "" {
		branch = w.LaneBranch()
	}
	if repo.BranchExists(branch) {
		if err := repo.DeleteBranch(branch, true); err != nil {
			return RepairResult{}, fmt.Errorf("deleting local branch %s: %w", branch, err)
		}
	}
	_, _ = repo.Raw("push", "origin", "--delete", branch)

	return RepairResult{}, nil
}

func insideDir(path, dir string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(os.PathSeparator))
}

func repairStampWithoutDone(layout paths.Layout, store *statestore.Store, id string) (RepairResult, error) {
	w, err := wu.Load(layout.WUFile(id))
	if err != nil {
		return RepairResult{}, err
	}
	w.Status = wu.StatusDone
	w.Locked = true
	now := time.Now().UTC()
	w.CompletedAt = now.Format(time.RFC3339)
	w.Completed = now.Format("2006-01-02")
	if err := wu.Save(layout.WUFile(id), w); err != nil {
		return RepairResult{}, fmt.Errorf("saving %s: %w", id, err)
	}

	if _, ok, err := store.GetLastEvent(id, typePtr(event.TypeClaim)); err == nil && !ok {
		if err := store.Append(event.New(event.TypeClaim, id, now)); err != nil {
			return RepairResult{}, err
		}
	}
	if err := store.Append(event.New(event.TypeComplete, id, now)); err != nil {
		return RepairResult{}, err
	}

	return RepairResult{TouchedPaths: []string{layout.WUFile(id), layout.EventLogFile()}}, nil
}

func typePtr(t event.Type) *event.Type { return &t }

// Middleware runs drift detection and repair as a pre-flight hook before a
// high-value WU operation, mirroring internal/signalbus's Middleware: fail
// open, since a broken detector or repairer must never block the
// operation it guards.
type Middleware struct{}

// Run detects and reconciles drift for id, swallowing any error. Callers
// that want to observe a repair failure should call Detect/Reconcile
// directly instead.
func (Middleware) Run(layout paths.Layout, repo *gitops.Repo, id string) {
	issues, err := Detect(layout, repo, id)
	if err != nil || len(issues) == 0 {
		return
	}
	_, _ = Reconcile(layout, repo, id, issues)
}
