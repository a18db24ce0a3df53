package completion

import (
	"testing"

	"github.com/hellmai/lumenflow/internal/wu"
)

func TestValidateCodePathsCommittedBeforeDoneNoPatterns(t *testing.T) {
	_, clone := setupOriginAndClone(t)
	w := &wu.WU{ID: "WU-1"}

	if errs := validateCodePathsCommittedBeforeDone(clone, w); errs != nil {
		t.Errorf("expected no errors with empty code_paths, got %v", errs)
	}
}

func TestValidateCodePathsCommittedBeforeDoneCleanTree(t *testing.T) {
	_, clone := setupOriginAndClone(t)
	w := &wu.WU{ID: "WU-1", CodePaths: []string{"internal/**/*.go"}}

	if errs := validateCodePathsCommittedBeforeDone(clone, w); errs != nil {
		t.Errorf("expected no errors on a clean tree, got %v", errs)
	}
}

func TestValidateCodePathsCommittedBeforeDoneDirtyMatch(t *testing.T) {
	cloneDir, clone := setupOriginAndClone(t)
	writeFile(t, cloneDir, "internal/billing/refund.go", "package billing")

	w := &wu.WU{ID: "WU-1", CodePaths: []string{"internal/**/*.go"}}
	errs := validateCodePathsCommittedBeforeDone(clone, w)
	if len(errs) == 0 {
		t.Fatal("expected an error for an uncommitted file matching a code_paths glob")
	}
}

func TestValidateCodePathsCommittedBeforeDoneDirtyOutsidePattern(t *testing.T) {
	cloneDir, clone := setupOriginAndClone(t)
	writeFile(t, cloneDir, "docs/notes.md", "scratch")

	w := &wu.WU{ID: "WU-1", CodePaths: []string{"internal/**/*.go"}}
	if errs := validateCodePathsCommittedBeforeDone(clone, w); errs != nil {
		t.Errorf("expected no errors for a dirty file outside every pattern, got %v", errs)
	}
}

func TestDirtyPathsParsesRename(t *testing.T) {
	cloneDir, clone := setupOriginAndClone(t)
	run(t, cloneDir, "mv", "README.md", "RENAMED.md")

	paths, err := dirtyPaths(clone)
	if err != nil {
		t.Fatalf("dirtyPaths: %v", err)
	}
	found := false
	for _, p := range paths {
		if p == "RENAMED.md" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected RENAMED.md in dirty paths, got %v", paths)
	}
}
