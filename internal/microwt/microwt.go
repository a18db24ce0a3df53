// Package microwt implements the micro-worktree pattern (spec.md §4.2):
// perform every repo-wide mutation in a disposable worktree, never in the
// user's main checkout. It generalizes the worktree lifecycle in
// internal/engine/engine.go's processConcern (create branch, create
// worktree, rebase, commit, remove-on-exit is implicit there since station
// worktrees are long-lived; here every worktree this package creates is
// scoped to a single operation and removed on every exit path).
package microwt

import (
	"fmt"
	"os"
	"strings"

	"github.com/hellmai/lumenflow/internal/gitops"
)

// Operation is the mutation to run inside the ephemeral worktree. It
// receives the worktree's filesystem path and returns the list of paths
// (relative to the worktree root) that changed and must be staged.
type Operation func(worktreeDir string) (changedPaths []string, err error)

// Request configures a single withMicroWorktree invocation.
type Request struct {
	OperationName string // used to build tmp/<operation>/wu-<id-lower>
	WuID          string // lower-cased id component
	LaneBranch    string // branch to merge into, unless PushOnly
	BaseRef       string // typically "origin/main"
	PushOnly      bool   // push tmp branch directly with a refspec instead of merging
	PushRemote    string // remote name for PushOnly (defaults to "origin")
	PushTarget    string // remote ref for PushOnly (defaults to "main")
	CommitMessage string
	AfterMerge    func(repo *gitops.Repo) error
	Run           Operation
}

// TempBranchName derives the disposable branch name for a request.
func TempBranchName(operation, wuIDLower string) string {
	return fmt.Sprintf("tmp/%s/%s", operation, wuIDLower)
}

// Result is returned by Run.
type Result struct {
	Pushed bool
	Merged bool
}

// Run executes the micro-worktree pattern end to end: idempotency sweep,
// branch+worktree creation, the caller's mutation, staging with deletion
// support, merge-or-push, and guaranteed cleanup on every exit path
// (spec.md §4.2 steps 1-6).
func Run(repo *gitops.Repo, repoDir string, req Request) (Result, error) {
	tempBranch := TempBranchName(req.OperationName, req.WuID)

	// Step 2: idempotency sweep before create.
	if err := CleanupOrphaned(repo, tempBranch); err != nil {
		return Result{}, fmt.Errorf("pre-create cleanup of %s: %w", tempBranch, err)
	}

	worktreeDir, err := os.MkdirTemp("", "lumenflow-microwt-*")
	if err != nil {
		return Result{}, fmt.Errorf("creating temp worktree dir: %w", err)
	}

	// Guaranteed release on every exit path (spec.md §5 "Cancellation":
	// micro-worktrees are removed on all exit paths via scoped acquisition).
	defer func() {
		_ = Cleanup(repo, worktreeDir, tempBranch)
	}()

	baseRef := req.BaseRef
	if baseRef == "" {
		baseRef = "origin/main"
	}
	if err := repo.CreateBranchNoCheckout(tempBranch, baseRef); err != nil {
		return Result{}, fmt.Errorf("creating temp branch %s from %s: %w", tempBranch, baseRef, err)
	}
	if err := repo.WorktreeAddExisting(worktreeDir, tempBranch); err != nil {
		return Result{}, fmt.Errorf("adding worktree at %s for %s: %w", worktreeDir, tempBranch, err)
	}

	changed, err := req.Run(worktreeDir)
	if err != nil {
		return Result{}, fmt.Errorf("micro-worktree operation %s failed: %w", req.OperationName, err)
	}

	wtRepo := gitops.NewRepo(worktreeDir)
	wtRepo.EnsureIdentity()
	if err := wtRepo.AddWithDeletions(changed); err != nil {
		return Result{}, fmt.Errorf("staging changes in micro-worktree: %w", err)
	}

	hasChanges, err := wtRepo.HasChanges()
	if err != nil {
		return Result{}, fmt.Errorf("checking micro-worktree status: %w", err)
	}
	if !hasChanges {
		return Result{}, nil
	}

	msg := req.CommitMessage
	if msg == "" {
		msg = fmt.Sprintf("chore: %s %s", req.OperationName, req.WuID)
	}
	if err := wtRepo.Commit(msg); err != nil {
		return Result{}, fmt.Errorf("committing micro-worktree changes: %w", err)
	}

	if req.PushOnly {
		remote := req.PushRemote
		if remote == "" {
			remote = "origin"
		}
		target := req.PushTarget
		if target == "" {
			target = "main"
		}
		if err := wtRepo.PushRefspec(remote, tempBranch, target); err != nil {
			return Result{}, fmt.Errorf("pushing %s -> %s/%s: %w", tempBranch, remote, target, err)
		}
		return Result{Pushed: true}, nil
	}

	if req.LaneBranch == "" {
		return Result{}, fmt.Errorf("micro-worktree operation %s requires a lane branch when PushOnly is false", req.OperationName)
	}
	if !repo.BranchExists(req.LaneBranch) {
		if err := repo.CreateBranchNoCheckout(req.LaneBranch, baseRef); err != nil {
			return Result{}, fmt.Errorf("creating lane branch %s: %w", req.LaneBranch, err)
		}
	}
	// Merge the temp branch's single commit into the lane branch by
	// pushing locally (refspec push into a local ref doesn't require a
	// remote): fast-forward the lane ref to the temp branch tip.
	if err := repo.PushRefspec(".", tempBranch, "refs/heads/"+req.LaneBranch); err != nil {
		return Result{}, fmt.Errorf("merging %s into %s: %w", tempBranch, req.LaneBranch, err)
	}

	result := Result{Merged: true}
	if req.AfterMerge != nil {
		if err := req.AfterMerge(repo); err != nil {
			return result, fmt.Errorf("after-merge hook for %s: %w", req.OperationName, err)
		}
	}
	return result, nil
}

// CleanupOrphaned parses `git worktree list --porcelain` for any worktree
// on tempBranch and removes it, then deletes the temp branch if it still
// exists (spec.md §4.2 step 2, "cleanupOrphanedMicroWorktree").
func CleanupOrphaned(repo *gitops.Repo, tempBranch string) error {
	out, err := repo.WorktreeList()
	if err != nil {
		return err
	}
	if path := FindWorktreeByBranch(out, tempBranch); path != "" {
		if err := repo.WorktreeRemove(path, gitops.WorktreeRemoveOpts{Force: true}); err != nil {
			return fmt.Errorf("removing orphaned worktree %s: %w", path, err)
		}
	}
	if repo.BranchExists(tempBranch) {
		if err := repo.DeleteBranch(tempBranch, true); err != nil {
			return fmt.Errorf("deleting orphaned branch %s: %w", tempBranch, err)
		}
	}
	return nil
}

// Cleanup removes a worktree directory and its temp branch on every exit
// path (spec.md §4.2 step 6). Errors from individual steps are collected
// but do not stop the remaining cleanup steps — a caller in a defer has no
// good way to react to a partial failure, so we always attempt every
// step.
func Cleanup(repo *gitops.Repo, worktreeDir, tempBranch string) error {
	var errs []string

	if _, statErr := os.Stat(worktreeDir); statErr == nil {
		if err := repo.WorktreeRemove(worktreeDir, gitops.WorktreeRemoveOpts{Force: true}); err != nil {
			errs = append(errs, err.Error())
		}
	}
	_ = os.RemoveAll(worktreeDir)

	if repo.BranchExists(tempBranch) {
		if err := repo.DeleteBranch(tempBranch, true); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("micro-worktree cleanup errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// FindWorktreeByBranch parses `git worktree list --porcelain` output and
// returns the filesystem path whose branch matches, or "" if none.
func FindWorktreeByBranch(porcelain, branch string) string {
	var currentPath string
	wantRef := "refs/heads/" + branch

	for _, line := range strings.Split(porcelain, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			currentPath = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			if ref == wantRef {
				return currentPath
			}
		case line == "":
			currentPath = ""
		}
	}
	return ""
}
