// Package specbranch implements the spec branch protocol (spec.md §4.7): WU
// specs are published on spec/wu-<id-lower> branches so `wu:create` never
// touches main. Grounded on the branch-prefix convention in
// internal/config/config.go (Settings.BranchPrefix, concern.Name) and
// resolveWatchedBranch, generalized from a concern-chain watch branch into
// a single fixed naming scheme with ff-only merge semantics.
package specbranch

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hellmai/lumenflow/internal/gitops"
	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/wu"
)

// Source is the result of getWUSource: where a WU's YAML spec currently
// lives.
type Source string

const (
	SourceMain       Source = "main"
	SourceSpecBranch Source = "spec_branch"
	SourceBoth       Source = "both"
	SourceNotFound   Source = "not_found"
)

// BranchName returns the canonical spec branch name for a WU id
// (spec.md §6: "spec/wu-<id-lower>").
func BranchName(wuID string) string {
	return "spec/" + wu.IDLower(wuID)
}

// relYAMLPath returns the WU YAML path relative to the repository root, for
// use with `git ls-tree`.
func relYAMLPath(layout paths.Layout, wuID string) (string, error) {
	rel, err := filepath.Rel(layout.RepoDir, layout.WUFile(wuID))
	if err != nil {
		return "", fmt.Errorf("computing relative WU path: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

// GetWUSource reports whether a WU's YAML exists on origin/main, on its
// spec branch, both, or neither (spec.md §4.7).
func GetWUSource(repo *gitops.Repo, layout paths.Layout, wuID string) (Source, error) {
	yamlPath, err := relYAMLPath(layout, wuID)
	if err != nil {
		return "", err
	}

	onMain, err := repo.LsTree("origin/main", yamlPath)
	if err != nil {
		return "", fmt.Errorf("checking origin/main for %s: %w", yamlPath, err)
	}

	onSpecBranch, err := repo.LsRemoteHeads("origin", BranchName(wuID))
	if err != nil {
		return "", fmt.Errorf("checking origin for spec branch of %s: %w", wuID, err)
	}

	switch {
	case onMain && onSpecBranch:
		return SourceBoth, nil
	case onMain:
		return SourceMain, nil
	case onSpecBranch:
		return SourceSpecBranch, nil
	default:
		return SourceNotFound, nil
	}
}

// MergeSpecBranchToMain fetches a WU's spec branch and fast-forward merges
// it into the current branch (spec.md §4.7: used by wu:claim when source is
// spec_branch).
func MergeSpecBranchToMain(repo *gitops.Repo, wuID string) error {
	branch := BranchName(wuID)
	if err := repo.Fetch("origin", branch); err != nil {
		return fmt.Errorf("fetching %s: %w", branch, err)
	}
	if err := repo.Merge("origin/"+branch, gitops.MergeOpts{FFOnly: true}); err != nil {
		return fmt.Errorf("ff-only merging origin/%s: %w", branch, err)
	}
	return nil
}

// CreateSpecBranch creates the spec branch for wuID from baseRef, without
// checking it out.
func CreateSpecBranch(repo *gitops.Repo, wuID, baseRef string) error {
	branch := BranchName(wuID)
	if repo.BranchExists(branch) {
		return nil
	}
	if err := repo.CreateBranchNoCheckout(branch, baseRef); err != nil {
		return fmt.Errorf("creating spec branch %s: %w", branch, err)
	}
	return nil
}

// PushSpecBranch pushes a WU's spec branch to origin.
func PushSpecBranch(repo *gitops.Repo, wuID string) error {
	branch := BranchName(wuID)
	if err := repo.Push("origin", branch); err != nil {
		return fmt.Errorf("pushing spec branch %s: %w", branch, err)
	}
	return nil
}

// DeleteSpecBranch deletes a WU's spec branch locally and on origin,
// best-effort: remote-delete failures (branch already gone, no network) are
// swallowed since the branch is disposable (spec.md §4.7).
func DeleteSpecBranch(repo *gitops.Repo, wuID string) {
	branch := BranchName(wuID)
	if repo.BranchExists(branch) {
		_ = repo.DeleteBranch(branch, true)
	}
	_, _ = repo.Raw("push", "origin", "--delete", branch)
}

// IsSpecBranch reports whether branch is a spec branch name.
func IsSpecBranch(branch string) bool {
	return strings.HasPrefix(branch, "spec/")
}
