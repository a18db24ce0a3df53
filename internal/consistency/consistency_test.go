package consistency

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hellmai/lumenflow/internal/artifacts"
	"github.com/hellmai/lumenflow/internal/gitops"
	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/statestore"
	"github.com/hellmai/lumenflow/internal/wu"
)

func newFixture(t *testing.T) (paths.Layout, *gitops.Repo) {
	t.Helper()
	layout := paths.Default(t.TempDir())
	if err := paths.EnsureDir(layout.WUDirPath()); err != nil {
		t.Fatalf("EnsureDir WU: %v", err)
	}
	if err := paths.EnsureDir(layout.OperationsDirPath()); err != nil {
		t.Fatalf("EnsureDir operations: %v", err)
	}
	return layout, gitops.NewRepo(t.TempDir())
}

func saveWU(t *testing.T, layout paths.Layout, w *wu.WU) {
	t.Helper()
	if err := wu.Save(layout.WUFile(w.ID), w); err != nil {
		t.Fatalf("Save %s: %v", w.ID, err)
	}
}

func TestDetectYAMLDoneNoStamp(t *testing.T) {
	layout, repo := newFixture(t)
	saveWU(t, layout, &wu.WU{ID: "WU-1", Lane: "Billing", Status: wu.StatusDone, Locked: true, CompletedAt: "2026-07-30T00:00:00Z"})

	issues, err := Detect(layout, repo, "WU-1")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !hasKind(issues, KindYAMLDoneNoStamp) {
		t.Errorf("expected YAML_DONE_NO_STAMP, got %+v", issues)
	}
}

func TestDetectStampExistsYAMLNotDone(t *testing.T) {
	layout, repo := newFixture(t)
	saveWU(t, layout, &wu.WU{ID: "WU-1", Lane: "Billing", Status: wu.StatusInProgress})
	if err := artifacts.WriteStamp(layout, "WU-1", "Title", time.Now()); err != nil {
		t.Fatalf("WriteStamp: %v", err)
	}

	issues, err := Detect(layout, repo, "WU-1")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !hasKind(issues, KindStampExistsYAMLNotDone) {
		t.Errorf("expected STAMP_EXISTS_YAML_NOT_DONE, got %+v", issues)
	}
}

func TestDetectBacklogDualSection(t *testing.T) {
	layout, repo := newFixture(t)
	saveWU(t, layout, &wu.WU{ID: "WU-1", Lane: "Billing", Status: wu.StatusInProgress})
	backlog := "## 🔧 In progress\n\n- WU-1: Title (wu/WU-1.yaml)\n\n## ✅ Done\n\n- WU-1: Title (wu/WU-1.yaml)\n"
	if err := os.WriteFile(layout.BacklogFile(), []byte(backlog), 0o644); err != nil {
		t.Fatalf("seed backlog: %v", err)
	}

	issues, err := Detect(layout, repo, "WU-1")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !hasKind(issues, KindBacklogDualSection) {
		t.Errorf("expected BACKLOG_DUAL_SECTION, got %+v", issues)
	}
}

func TestDetectMissingWorktreeClaimed(t *testing.T) {
	layout, repo := newFixture(t)
	saveWU(t, layout, &wu.WU{
		ID: "WU-1", Lane: "Billing", Status: wu.StatusInProgress,
		ClaimedMode: wu.ClaimedModeWorktree, WorktreePath: filepath.Join(t.TempDir(), "gone"),
	})

	issues, err := Detect(layout, repo, "WU-1")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !hasKind(issues, KindMissingWorktreeClaimed) {
		t.Errorf("expected MISSING_WORKTREE_CLAIMED, got %+v", issues)
	}
	for _, i := range issues {
		if i.Kind == KindMissingWorktreeClaimed && i.Kind.AutoRepairable() {
			t.Error("MISSING_WORKTREE_CLAIMED must not be auto-repairable")
		}
	}
}

func TestRepairMissingStampCreatesFile(t *testing.T) {
	layout, repo := newFixture(t)
	saveWU(t, layout, &wu.WU{ID: "WU-1", Title: "Refund flow", Lane: "Billing", Status: wu.StatusDone, Locked: true, CompletedAt: "2026-07-30T00:00:00Z"})

	result, err := Repair(layout, repo, statestore.New(layout), Issue{Kind: KindYAMLDoneNoStamp, WuID: "WU-1"})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(result.TouchedPaths) != 1 {
		t.Errorf("expected one touched path, got %v", result.TouchedPaths)
	}
	if !artifacts.StampExists(layout, "WU-1") {
		t.Error("expected stamp to exist after repair")
	}
}

func TestRepairStampWithoutDoneSetsStatusAndEvents(t *testing.T) {
	layout, repo := newFixture(t)
	saveWU(t, layout, &wu.WU{ID: "WU-1", Title: "Refund flow", Lane: "Billing", Status: wu.StatusInProgress})
	store := statestore.New(layout)

	_, err := Repair(layout, repo, store, Issue{Kind: KindStampExistsYAMLNotDone, WuID: "WU-1"})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}

	w, err := wu.Load(layout.WUFile("WU-1"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if w.Status != wu.StatusDone || !w.Locked {
		t.Errorf("expected status=done, locked=true, got %+v", w)
	}

	status, err := store.DeriveStatus("WU-1")
	if err != nil {
		t.Fatalf("DeriveStatus: %v", err)
	}
	if status != wu.StatusDone {
		t.Errorf("derived status = %s, want done", status)
	}
}

func TestRepairMissingWorktreeClaimedIsSkipped(t *testing.T) {
	layout, repo := newFixture(t)
	result, err := Repair(layout, repo, statestore.New(layout), Issue{Kind: KindMissingWorktreeClaimed, WuID: "WU-1"})
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !result.Skipped {
		t.Error("expected MISSING_WORKTREE_CLAIMED repair to be skipped")
	}
}

func hasKind(issues []Issue, kind Kind) bool {
	for _, i := range issues {
		if i.Kind == kind {
			return true
		}
	}
	return false
}
