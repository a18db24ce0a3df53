// Package wuctx implements the context resolver (spec.md §4.6):
// computeContext produces a WuContext by classifying the caller's working
// directory and reading git + WU state in parallel. Grounded on
// findGitRoot/resolveRepo (internal/cli/helpers.go) and renderStatus's
// git+status join (internal/cli/status.go), with the independent
// sub-reads fan-out/joined via github.com/sourcegraph/conc's pool (same
// pattern as githubnext-gh-aw's downloadRunArtifactsConcurrent) instead of
// sequential calls.
package wuctx

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/hellmai/lumenflow/internal/gitops"
	"github.com/hellmai/lumenflow/internal/microwt"
	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/wu"
)

// Location classifies the caller's working directory.
type Location string

const (
	LocationMain     Location = "main"
	LocationWorktree Location = "worktree"
	LocationOutside  Location = "outside"
)

// budget is the soft latency target named in spec.md §4.6.
const budget = 100 * time.Millisecond

var worktreeWuIDPattern = regexp.MustCompile(`(?i)wu-\d+`)

// GitState is the result of readGitState.
type GitState struct {
	CurrentBranch string
	Detached      bool
	Dirty         bool
	StagedPresent bool
	Ahead         int
	Behind        int
	Tracking      string
	ModifiedFiles []string
	Err           error // fail-soft: non-nil means this sub-read failed
}

// Request configures ComputeContext.
type Request struct {
	Cwd       string
	RepoDir   string
	WuID      string // optional hint
	SessionID string
}

// Context is the resolved WuContext (spec.md §4.6).
type Context struct {
	Location        Location
	WorktreeWuID    string
	Git             GitState
	WU              *wu.WU
	IsConsistent    bool
	EffectiveStatus wu.Status
	WorktreeGit     *GitState // set only when Location==main, WU exists, status==in_progress
	Elapsed         time.Duration
	OverBudget      bool
}

// ComputeContext runs the git-state read and the WU-file read in parallel
// in a conc pool and assembles a Context. The worktree divergence check and
// the worktree's git state are read after both finish, one after the
// other, since they need the loaded WU.
func ComputeContext(layout paths.Layout, req Request) Context {
	start := time.Now()

	location, worktreeWuID := classifyLocation(req.Cwd, req.RepoDir)

	var (
		gitState GitState
		w        *wu.WU
		wuErr    error
	)

	repo := gitops.NewRepo(req.Cwd)

	p := pool.New().WithMaxGoroutines(2)
	p.Go(func() {
		gitState = readGitState(repo)
	})
	p.Go(func() {
		id := req.WuID
		if id == "" {
			id = worktreeWuID
		}
		if id == "" {
			return
		}
		w, wuErr = wu.Load(layout.WUFile(id))
	})
	p.Wait()

	ctx := Context{
		Location:     location,
		WorktreeWuID: worktreeWuID,
		Git:          gitState,
		WU:           w,
		IsConsistent: true,
	}
	if w != nil {
		ctx.EffectiveStatus = w.Status
	}
	_ = wuErr // fail-soft: a missing/unparsable WU leaves ctx.WU nil

	if location == LocationMain && w != nil {
		if divergent, effective, ok := checkWorktreeDivergence(layout, req.RepoDir, w); ok {
			ctx.IsConsistent = !divergent
			if divergent {
				ctx.EffectiveStatus = effective
			}
		}

		if w.Status == wu.StatusInProgress && w.WorktreePath != "" {
			wtRepo := gitops.NewRepo(w.WorktreePath)
			wtState := readGitState(wtRepo)
			ctx.WorktreeGit = &wtState
		}
	}

	ctx.Elapsed = time.Since(start)
	ctx.OverBudget = ctx.Elapsed > budget
	return ctx
}

// classifyLocation determines whether cwd is the main checkout, a lane
// worktree, or outside the repository entirely, and extracts a WU id from
// the directory name when present (spec.md §4.6: "case-insensitive
// wu-\d+"). A WU id is only extracted from a path segment under the
// worktrees directory — a subdirectory of the main checkout that happens
// to contain "wu-" in its name is still main.
func classifyLocation(cwd, repoDir string) (Location, string) {
	if cwd == "" || repoDir == "" {
		return LocationOutside, ""
	}
	if cwd != repoDir && !strings.HasPrefix(cwd, repoDir+"/") {
		return LocationOutside, ""
	}
	const marker = "/.lumenflow/worktrees/"
	idx := strings.Index(cwd, marker)
	if idx < 0 {
		return LocationMain, ""
	}

	match := worktreeWuIDPattern.FindString(cwd[idx+len(marker):])
	if match == "" {
		return LocationMain, ""
	}
	return LocationWorktree, strings.ToUpper(match[:2]) + match[2:]
}

// readGitState gathers branch/dirty/ahead-behind state, failing soft: a
// broken repo read never panics the caller, it just leaves Err set
// (spec.md §4.6: "Fail-soft on error").
func readGitState(repo *gitops.Repo) GitState {
	state := GitState{}

	branch, err := repo.CurrentBranch()
	if err != nil {
		state.Err = err
		return state
	}
	state.CurrentBranch = branch
	state.Detached = branch == "HEAD"

	status, err := repo.Status()
	if err != nil {
		state.Err = err
		return state
	}
	for _, line := range strings.Split(status, "\n") {
		if line == "" {
			continue
		}
		state.Dirty = true
		if len(line) > 0 && line[0] != ' ' && line[0] != '?' {
			state.StagedPresent = true
		}
		state.ModifiedFiles = append(state.ModifiedFiles, strings.TrimSpace(line[3:]))
	}

	ahead, behind, tracking, ok := repo.UpstreamAheadBehind()
	if ok {
		state.Ahead = ahead
		state.Behind = behind
		state.Tracking = tracking
	}

	return state
}

// checkWorktreeDivergence inspects `git worktree list --porcelain` for a
// worktree whose branch contains the WU id, then diffs that worktree's
// on-disk YAML status against the caller's copy via `git show` (spec.md
// §4.6). ok is false if no such worktree exists.
func checkWorktreeDivergence(layout paths.Layout, repoDir string, w *wu.WU) (divergent bool, effective wu.Status, ok bool) {
	repo := gitops.NewRepo(repoDir)
	porcelain, err := repo.WorktreeList()
	if err != nil {
		return false, "", false
	}

	branch := w.LaneBranch()
	wtPath := microwt.FindWorktreeByBranch(porcelain, branch)
	if wtPath == "" {
		return false, "", false
	}

	relYAML, err := filepath.Rel(repoDir, layout.WUFile(w.ID))
	if err != nil {
		return false, "", false
	}
	relYAML = filepath.ToSlash(relYAML)
	content, err := repo.Show(branch, relYAML)
	if err != nil {
		return false, "", false
	}
	remote, err := wu.Parse([]byte(content))
	if err != nil {
		return false, "", false
	}
	if remote.Status != w.Status {
		return true, remote.Status, true
	}
	return false, w.Status, true
}
