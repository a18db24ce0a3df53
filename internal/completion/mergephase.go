package completion

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	ghcli "github.com/cli/go-gh/v2"

	"github.com/hellmai/lumenflow/internal/gitops"
	"github.com/hellmai/lumenflow/internal/lferr"
	"github.com/hellmai/lumenflow/internal/microwt"
	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/retry"
	"github.com/hellmai/lumenflow/internal/signalbus"
	"github.com/hellmai/lumenflow/internal/wu"
)

// MergeResult reports what the merge phase accomplished.
type MergeResult struct {
	Pushed  bool
	Merged  bool
	PRUrl   *string
	Warning string
}

// executeMergePhase implements spec.md §4.11 Phase 8: it dispatches on the
// WU's claimed_mode, since worktree and branch-only integrate identically
// (merge into origin/main through a scratch branch) while branch-pr opens
// a pull request instead of merging directly. branch-only additionally
// runs afterMerge, which emits a lane-completion signal.
func executeMergePhase(layout paths.Layout, repo *gitops.Repo, laneBranch string, w *wu.WU, noAutoRebase bool, createPR CreatePRFunc) (MergeResult, error) {
	switch w.ClaimedMode {
	case wu.ClaimedModeBranchPR:
		return mergeBranchPR(repo, laneBranch, w.IDLower(), createPR)
	case wu.ClaimedModeBranch:
		result, err := mergeWorktree(repo, laneBranch, w.IDLower(), noAutoRebase)
		if err != nil {
			return result, err
		}
		afterMerge(layout, w, laneBranch)
		return result, nil
	default:
		return mergeWorktree(repo, laneBranch, w.IDLower(), noAutoRebase)
	}
}

// afterMerge implements branch-only mode's post-merge hook (spec.md
// §4.11 Phase 8): emit a lane-completion signal now that the branch has
// landed on main. A signal write failure never fails wu:done — the merge
// has already succeeded by the time afterMerge runs.
func afterMerge(layout paths.Layout, w *wu.WU, laneBranch string) {
	_, _ = signalbus.CreateSignal(layout, signalbus.Signal{
		WuID:    w.ID,
		Lane:    w.Lane,
		Type:    "lane_complete",
		Message: fmt.Sprintf("%s merged %s into main", w.ID, laneBranch),
	})
}

// mergeWorktree implements the worktree/branch-only integration path
// (spec.md §4.11 Phase 8, modes "worktree" and "branch-only"): replay the
// lane branch's commits onto a fresh scratch branch cut from origin/main,
// then push that scratch branch straight to origin/main with a refspec.
//
// The lane branch itself is never rebased in place. It stays checked out
// in the WU's own worktree for the whole of completion, and git refuses to
// force-update or check out a branch that is checked out in another
// worktree. Replaying its unique commits onto a disposable branch (via
// cherry-pick, not `git rebase`) reaches the same result — the lane's
// commits reapplied atop current main — without touching that ref.
func mergeWorktree(repo *gitops.Repo, laneBranch, wuIDLower string, noAutoRebase bool) (MergeResult, error) {
	tempBranch := microwt.TempBranchName("wu-done", wuIDLower)

	if err := microwt.CleanupOrphaned(repo, tempBranch); err != nil {
		return MergeResult{}, fmt.Errorf("pre-merge cleanup of %s: %w", tempBranch, err)
	}
	if err := repo.Fetch("origin", "main"); err != nil {
		return MergeResult{}, lferr.Wrap(lferr.KindGit, err, "fetching origin/main before merge")
	}

	worktreeDir, err := os.MkdirTemp("", "lumenflow-wu-done-*")
	if err != nil {
		return MergeResult{}, fmt.Errorf("creating scratch worktree dir: %w", err)
	}
	defer func() {
		_ = microwt.Cleanup(repo, worktreeDir, tempBranch)
	}()

	if err := repo.CreateBranchNoCheckout(tempBranch, "origin/main"); err != nil {
		return MergeResult{}, lferr.Wrap(lferr.KindGit, err, "creating scratch branch from origin/main")
	}
	if err := repo.WorktreeAddExisting(worktreeDir, tempBranch); err != nil {
		return MergeResult{}, lferr.Wrap(lferr.KindGit, err, "adding scratch worktree")
	}

	wtRepo := gitops.NewRepo(worktreeDir)
	wtRepo.EnsureIdentity()

	if err := wtRepo.Merge(laneBranch, gitops.MergeOpts{FFOnly: true}); err != nil {
		if noAutoRebase {
			return MergeResult{}, lferr.New(lferr.KindGit,
				"lane branch "+laneBranch+" cannot fast-forward onto origin/main and --no-auto-rebase was set").
				WithTryNext("rebase " + laneBranch + " onto origin/main by hand, then retry wu:done")
		}
		if err := autoRebaseBranch(repo, wtRepo, laneBranch); err != nil {
			return MergeResult{}, err
		}
	}

	var pushErr error
	retryErr := retry.WithRetry(func() error {
		pushErr = wtRepo.PushRefspec("origin", tempBranch, "main")
		return pushErr
	}, retry.WuDonePreset())
	if retryErr != nil {
		return MergeResult{}, lferr.Wrap(lferr.KindGit, retryErr, "pushing completion to origin/main")
	}

	return MergeResult{Pushed: true, Merged: true}, nil
}

// autoRebaseBranch replays the lane branch's commits beyond its
// merge-base with the scratch worktree's HEAD (origin/main) via
// cherry-pick, resolving append-only conflicts automatically where
// possible (spec.md §4.11 Phase 8 "autoRebaseBranch").
func autoRebaseBranch(repo *gitops.Repo, wtRepo *gitops.Repo, laneBranch string) error {
	base, err := repo.Raw("merge-base", "origin/main", laneBranch)
	if err != nil {
		return lferr.Wrap(lferr.KindGit, err, "finding merge-base between origin/main and "+laneBranch)
	}

	_, _ = wtRepo.Raw("merge", "--abort")
	_, _ = wtRepo.Raw("cherry-pick", "--abort")

	if _, err := wtRepo.Raw("cherry-pick", base+".."+laneBranch); err != nil {
		resolveErr := autoResolveAppendOnlyConflicts(wtRepo)
		if resolveErr != nil {
			_, _ = wtRepo.Raw("cherry-pick", "--abort")
			return lferr.Wrap(lferr.KindGit, resolveErr, "auto-rebasing "+laneBranch+" onto origin/main")
		}
		if _, contErr := wtRepo.Raw("cherry-pick", "--continue"); contErr != nil {
			_, _ = wtRepo.Raw("cherry-pick", "--abort")
			return lferr.Wrap(lferr.KindGit, contErr, "continuing cherry-pick of "+laneBranch+" after auto-resolve")
		}
	}
	return nil
}

// appendOnlyExts are the file kinds the auto-resolver is allowed to merge
// unattended: append-only event/signal logs and completion stamps (spec.md
// §4.11 Phase 8 "autoResolveAppendOnlyConflicts").
var appendOnlyExts = []string{".jsonl", ".done"}

func isAppendOnlyPath(path string) bool {
	for _, ext := range appendOnlyExts {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// autoResolveAppendOnlyConflicts scans for unmerged (UU) paths and, when
// every one of them is an append-only artifact, unions "ours" and
// "theirs" rather than failing the merge. Any other conflicted path is
// left unresolved and reported.
func autoResolveAppendOnlyConflicts(wtRepo *gitops.Repo) error {
	status, err := wtRepo.Status()
	if err != nil {
		return fmt.Errorf("reading status during conflict resolution: %w", err)
	}

	var unresolved []string
	for _, line := range strings.Split(status, "\n") {
		if len(line) < 3 || !strings.HasPrefix(line, "UU ") {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if path == "" {
			continue
		}
		if !isAppendOnlyPath(path) {
			unresolved = append(unresolved, path)
			continue
		}
		if err := resolveAppendOnlyFile(wtRepo, path); err != nil {
			return fmt.Errorf("auto-resolving %s: %w", path, err)
		}
	}
	if len(unresolved) > 0 {
		return fmt.Errorf("conflicts outside append-only artifacts, cannot auto-resolve: %s", strings.Join(unresolved, ", "))
	}
	return nil
}

func resolveAppendOnlyFile(wtRepo *gitops.Repo, path string) error {
	ours, err := wtRepo.Raw("show", ":2:"+path)
	if err != nil {
		return fmt.Errorf("reading ours stage of %s: %w", path, err)
	}
	theirs, err := wtRepo.Raw("show", ":3:"+path)
	if err != nil {
		return fmt.Errorf("reading theirs stage of %s: %w", path, err)
	}

	merged := mergeAppendOnlyLines(ours, theirs)
	if err := os.WriteFile(filepath.Join(wtRepo.Dir, path), []byte(merged), 0o644); err != nil {
		return fmt.Errorf("writing merged %s: %w", path, err)
	}
	if err := wtRepo.Add([]string{path}); err != nil {
		return fmt.Errorf("staging merged %s: %w", path, err)
	}
	return nil
}

// mergeAppendOnlyLines unions two append-only files' lines, deduping
// identical entries and ordering by each line's embedded JSON "timestamp"
// field when present, falling back to lexical order for anything that
// doesn't parse as JSON (e.g. a `.done` stamp line). Blank lines are
// dropped.
func mergeAppendOnlyLines(ours, theirs string) string {
	seen := make(map[string]bool)
	var lines []string
	for _, l := range append(splitNonEmptyLines(ours), splitNonEmptyLines(theirs)...) {
		if seen[l] {
			continue
		}
		seen[l] = true
		lines = append(lines, l)
	}

	sort.SliceStable(lines, func(i, j int) bool {
		ti, oki := jsonlTimestamp(lines[i])
		tj, okj := jsonlTimestamp(lines[j])
		if oki && okj {
			return ti < tj
		}
		if oki != okj {
			return oki
		}
		return lines[i] < lines[j]
	})

	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func splitNonEmptyLines(s string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(s))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// jsonlTimestamp extracts a line's "timestamp" field for chronological
// ordering. ok is false when the line isn't valid JSON or carries no
// timestamp field.
func jsonlTimestamp(line string) (timestamp string, ok bool) {
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return "", false
	}
	ts, present := rec["timestamp"]
	if !present {
		return "", false
	}
	s, isStr := ts.(string)
	return s, isStr
}

// mergeBranchPR implements claimed_mode=branch-pr (spec.md §4.11 Phase 8,
// Open Question a): push the lane branch directly and open a pull request
// rather than merging into main. A PR creation failure degrades to a
// warning — wu:done still succeeds, since the branch is safely pushed.
func mergeBranchPR(repo *gitops.Repo, laneBranch, wuIDLower string, createPR CreatePRFunc) (MergeResult, error) {
	var pushErr error
	retryErr := retry.WithRetry(func() error {
		pushErr = repo.Push("origin", laneBranch)
		return pushErr
	}, retry.WuDonePreset())
	if retryErr != nil {
		return MergeResult{}, lferr.Wrap(lferr.KindGit, retryErr, "pushing lane branch "+laneBranch)
	}

	result := MergeResult{Pushed: true}

	open := createPR
	if open == nil {
		open = DefaultCreatePR
	}
	prURL, warning, err := open(laneBranch, strings.ToUpper(wuIDLower))
	if err != nil {
		result.Warning = "branch pushed, but opening a pull request failed: " + err.Error()
		return result, nil
	}
	if warning != "" {
		result.Warning = warning
	}
	if prURL != "" {
		result.PRUrl = &prURL
	}
	return result, nil
}

// DefaultCreatePR shells out to the gh CLI via go-gh, grounded on the
// pack's gh.Exec usage (githubnext-gh-aw's ghExecOrFallback). When gh is
// not installed, PR creation degrades to a warning rather than a hard
// failure (spec.md §4.11 Phase 8, Open Question a).
func DefaultCreatePR(branch, wuID string) (prURL, warning string, err error) {
	if _, lookErr := exec.LookPath("gh"); lookErr != nil {
		return "", "gh CLI not found; skipped pull request creation for " + wuID, nil
	}

	title := fmt.Sprintf("wu(%s): done", wuID)
	stdout, stderr, err := ghcli.Exec("pr", "create", "--head", branch, "--title", title, "--body", "", "--fill-first")
	if err != nil {
		return "", "", fmt.Errorf("gh pr create: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), "", nil
}
