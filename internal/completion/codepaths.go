package completion

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hellmai/lumenflow/internal/gitops"
	"github.com/hellmai/lumenflow/internal/wu"
)

// validateCodePathsCommittedBeforeDone implements spec.md §4.11 Phase 4.3:
// every glob in code_paths must have no outstanding uncommitted changes
// before the WU can be marked done. Patterns use doublestar syntax
// (`**` for recursive matches), which filepath.Match cannot express.
func validateCodePathsCommittedBeforeDone(repo *gitops.Repo, w *wu.WU) []error {
	if len(w.CodePaths) == 0 {
		return nil
	}

	dirty, err := dirtyPaths(repo)
	if err != nil {
		return []error{fmt.Errorf("reading worktree status: %w", err)}
	}
	if len(dirty) == 0 {
		return nil
	}

	var errs []error
	for _, pattern := range w.CodePaths {
		for _, path := range dirty {
			matched, matchErr := doublestar.Match(pattern, path)
			if matchErr != nil {
				errs = append(errs, fmt.Errorf("code_paths pattern %q is invalid: %w", pattern, matchErr))
				continue
			}
			if matched {
				errs = append(errs, fmt.Errorf("code_paths pattern %q has uncommitted changes at %s", pattern, path))
			}
		}
	}
	return errs
}

// dirtyPaths parses `git status --porcelain` and returns every path with a
// pending change, staged or unstaged. Untracked files are listed one by
// one rather than collapsed into their directory.
func dirtyPaths(repo *gitops.Repo) ([]string, error) {
	status, err := repo.Raw("status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(status, "\n") {
		// Raw trims the whole output, which drops the leading space of the
		// first line's two-character status code (" M x" becomes "M x").
		if len(line) >= 3 && line[1] == ' ' && line[2] != ' ' {
			line = " " + line
		}
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if path == "" {
			continue
		}
		if idx := strings.Index(path, " -> "); idx >= 0 {
			path = path[idx+len(" -> "):]
		}
		paths = append(paths, path)
	}
	return paths, nil
}
