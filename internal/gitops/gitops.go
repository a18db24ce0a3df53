// Package gitops is LumenFlow's git adapter (spec.md §4.1): a thin
// polymorphic wrapper over the exact git operations the engine needs. It
// generalizes internal/git/git.go's Repo type — same retry loop over
// transient lock errors, same abort-then-hard-reset Rebase discipline —
// extended with worktree listing, refspec pushes, and deletion-aware
// staging that a single-worktree-per-station model never needed.
package gitops

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// retry constants for transient git errors.
const (
	retryInitialDelay = 200 * time.Millisecond
	retryMaxAttempts  = 6
	retryMultiplier   = 2
)

var transientPatterns = []string{
	"index file open failed",
	"index.lock",
	"cannot lock ref",
}

func isTransient(errMsg string) bool {
	for _, p := range transientPatterns {
		if strings.Contains(errMsg, p) {
			return true
		}
	}
	return false
}

// GitError carries the stderr of a failed git invocation (spec.md §4.1:
// "every mutating call fails with a typed GitError carrying stderr").
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s: %s: %s", strings.Join(e.Args, " "), e.Stderr, e.Err)
}

func (e *GitError) Unwrap() error { return e.Err }

// Repo wraps git operations rooted at a working directory.
type Repo struct {
	Dir string
}

// NewRepo creates a Repo for the given directory.
func NewRepo(dir string) *Repo {
	return &Repo{Dir: dir}
}

var sleepFunc = time.Sleep

// run executes a git command in the repo directory, retrying transient
// lock failures with exponential backoff (unchanged discipline from
// internal/git/git.go's run()).
func (r *Repo) run(args ...string) (string, error) {
	delay := retryInitialDelay
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		cmd := exec.Command("git", args...)
		cmd.Dir = r.Dir
		out, err := cmd.CombinedOutput()
		if err == nil {
			return strings.TrimSpace(string(out)), nil
		}
		errMsg := strings.TrimSpace(string(out))
		if !isTransient(errMsg) || attempt == retryMaxAttempts-1 {
			return "", &GitError{Args: args, Stderr: errMsg, Err: err}
		}
		sleepFunc(delay)
		delay *= retryMultiplier
	}
	return "", nil // unreachable
}

// raw executes an arbitrary git subcommand, exposed for callers that need
// an escape hatch (spec.md §4.1 `raw(args)`).
func (r *Repo) Raw(args ...string) (string, error) {
	return r.run(args...)
}

// Status returns porcelain status text for downstream parsing. run trims
// the output, so an unstaged first entry (" M path") gets its leading space
// back and every line keeps the two-column "XY path" form.
func (r *Repo) Status() (string, error) {
	out, err := r.run("status", "--porcelain")
	if err != nil {
		return "", err
	}
	if len(out) >= 3 && out[1] == ' ' && out[2] != ' ' {
		out = " " + out
	}
	return out, nil
}

// GetCommitHash resolves ref to a commit hash.
func (r *Repo) GetCommitHash(ref string) (string, error) {
	return r.run("rev-parse", ref)
}

// RevList returns commit hashes in a range spec (e.g. "a..b").
func (r *Repo) RevList(rangeSpec string) ([]string, error) {
	out, err := r.run("rev-list", rangeSpec)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// RevListCount returns the number of commits in a range spec.
func (r *Repo) RevListCount(rangeSpec string) (int, error) {
	out, err := r.run("rev-list", "--count", rangeSpec)
	if err != nil {
		return 0, err
	}
	var n int
	if _, scanErr := fmt.Sscanf(out, "%d", &n); scanErr != nil {
		return 0, fmt.Errorf("parsing rev-list --count output %q: %w", out, scanErr)
	}
	return n, nil
}

// Fetch fetches ref from remote.
func (r *Repo) Fetch(remote, ref string) error {
	_, err := r.run("fetch", remote, ref)
	return err
}

// MergeOpts controls Merge behaviour.
type MergeOpts struct {
	FFOnly bool
}

// Merge merges ref into the current branch.
func (r *Repo) Merge(ref string, opts MergeOpts) error {
	args := []string{"merge"}
	if opts.FFOnly {
		args = append(args, "--ff-only")
	}
	args = append(args, ref)
	_, err := r.run(args...)
	return err
}

func (r *Repo) abortRebase() {
	_, _ = r.run("rebase", "--abort")
}

// Rebase rebases the current branch onto targetBranch. On conflict, it
// aborts and hard-resets to targetBranch (unchanged discipline from
// internal/git/git.go's Rebase — station/lane branches are regenerated by
// agents, so conflicting stale work is discarded rather than manually
// resolved).
func (r *Repo) Rebase(targetBranch string) error {
	r.abortRebase()

	_, err := r.run("rebase", targetBranch)
	if err != nil {
		r.abortRebase()
		if _, resetErr := r.run("reset", "--hard", targetBranch); resetErr != nil {
			return fmt.Errorf("git rebase %s failed and reset also failed: %w", targetBranch, resetErr)
		}
	}
	return nil
}

// Push pushes branch to remote.
func (r *Repo) Push(remote, branch string) error {
	_, err := r.run("push", remote, branch)
	return err
}

// PushRefspec pushes localRef to remoteRef using an explicit refspec
// (spec.md §4.2: "push with refspec tmp/...:main to origin/main directly").
func (r *Repo) PushRefspec(remote, localRef, remoteRef string) error {
	_, err := r.run("push", remote, localRef+":"+remoteRef)
	return err
}

// CreateBranch creates and checks out a new branch from a starting point.
func (r *Repo) CreateBranch(name, from string) error {
	_, err := r.run("checkout", "-b", name, from)
	return err
}

// CreateBranchNoCheckout creates a branch without switching to it.
func (r *Repo) CreateBranchNoCheckout(name, from string) error {
	_, err := r.run("branch", name, from)
	return err
}

// DeleteBranch deletes a local branch, optionally forced.
func (r *Repo) DeleteBranch(name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := r.run("branch", flag, name)
	return err
}

// BranchExists checks if a branch exists.
func (r *Repo) BranchExists(branch string) bool {
	_, err := r.run("rev-parse", "--verify", branch)
	return err == nil
}

// WorktreeAddExisting creates a worktree at path checked out to branch
// (the branch must already exist).
func (r *Repo) WorktreeAddExisting(path, branch string) error {
	_, err := r.run("worktree", "add", path, branch)
	return err
}

// WorktreeRemoveOpts controls WorktreeRemove behaviour.
type WorktreeRemoveOpts struct {
	Force bool
}

// WorktreeRemove removes a worktree.
func (r *Repo) WorktreeRemove(path string, opts WorktreeRemoveOpts) error {
	args := []string{"worktree", "remove"}
	if opts.Force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := r.run(args...)
	return err
}

// WorktreeList returns the raw porcelain output of `git worktree list`.
func (r *Repo) WorktreeList() (string, error) {
	return r.run("worktree", "list", "--porcelain")
}

// Add stages the given paths (or everything if empty).
func (r *Repo) Add(paths []string) error {
	args := append([]string{"add"}, paths...)
	if len(paths) == 0 {
		args = append(args, ".")
	}
	_, err := r.run(args...)
	return err
}

// AddWithDeletions stages paths using `-A` so deletions are captured
// (spec.md §4.1: "addWithDeletions(paths) uses -A so deletions are
// staged; empty list ⇒ -A ."). When paths is non-empty, `-A` is scoped to
// those pathspecs; git interprets this as "stage additions/modifications/
// deletions limited to these paths".
func (r *Repo) AddWithDeletions(paths []string) error {
	args := []string{"add", "-A"}
	args = append(args, paths...)
	_, err := r.run(args...)
	return err
}

// Commit creates a commit with the given message.
func (r *Repo) Commit(message string) error {
	_, err := r.run("commit", "-m", message)
	return err
}

// CommitMessage returns the full commit message for a given hash.
func (r *Repo) CommitMessage(hash string) (string, error) {
	return r.run("log", "-1", "--format=%B", hash)
}

// ResetSoft performs a soft reset to the given ref.
func (r *Repo) ResetSoft(ref string) error {
	_, err := r.run("reset", "--soft", ref)
	return err
}

// ResetHard performs a hard reset to the given ref.
func (r *Repo) ResetHard(ref string) error {
	_, err := r.run("reset", "--hard", ref)
	return err
}

// EnsureIdentity sets user.name/user.email in local config if unset, to
// avoid "Author identity unknown" failures in CI.
func (r *Repo) EnsureIdentity() {
	if _, err := r.run("config", "user.name"); err != nil {
		_, _ = r.run("config", "user.name", "lumenflow")
	}
	if _, err := r.run("config", "user.email"); err != nil {
		_, _ = r.run("config", "user.email", "lumenflow@localhost")
	}
}

// FilesChangedInCommit lists files touched by a single commit.
func (r *Repo) FilesChangedInCommit(hash string) ([]string, error) {
	out, err := r.run("diff-tree", "--no-commit-id", "-r", "--name-only", hash)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// HasChanges reports whether there are uncommitted changes.
func (r *Repo) HasChanges() (bool, error) {
	out, err := r.Status()
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// LsTree checks whether path exists in ref's tree.
func (r *Repo) LsTree(ref, path string) (bool, error) {
	out, err := r.run("ls-tree", ref, "--", path)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// LsRemoteHeads checks whether a branch exists on remote.
func (r *Repo) LsRemoteHeads(remote, branch string) (bool, error) {
	out, err := r.run("ls-remote", "--heads", remote, branch)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Show returns the content of path as of ref (`git show ref:path`).
func (r *Repo) Show(ref, path string) (string, error) {
	return r.run("show", ref+":"+path)
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when
// detached.
func (r *Repo) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// UpstreamAheadBehind returns how many commits the current branch is ahead
// of and behind its upstream tracking branch. ok is false when there is no
// upstream configured.
func (r *Repo) UpstreamAheadBehind() (ahead, behind int, tracking string, ok bool) {
	upstream, err := r.run("rev-parse", "--abbrev-ref", "--symbolic-full-name", "@{u}")
	if err != nil {
		return 0, 0, "", false
	}
	tracking = upstream

	aheadCount, err := r.RevListCount(upstream + "..HEAD")
	if err != nil {
		return 0, 0, tracking, false
	}
	behindCount, err := r.RevListCount("HEAD.." + upstream)
	if err != nil {
		return 0, 0, tracking, false
	}
	return aheadCount, behindCount, tracking, true
}
