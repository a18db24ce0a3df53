package completion

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/wu"
)

func TestIsZombieFalseWhenNotDone(t *testing.T) {
	cloneDir, clone := setupOriginAndClone(t)
	layout := paths.Default(cloneDir)
	w := &wu.WU{ID: "WU-1", Status: wu.StatusInProgress}

	zombie, err := isZombie(clone, layout, w)
	if err != nil {
		t.Fatalf("isZombie: %v", err)
	}
	if zombie {
		t.Error("expected not-zombie for an in_progress WU")
	}
}

func TestIsZombieFalseWhenStampReachedMain(t *testing.T) {
	cloneDir, clone := setupOriginAndClone(t)
	layout := paths.Default(cloneDir)
	w := &wu.WU{ID: "WU-2", Status: wu.StatusDone}

	if err := paths.EnsureDir(layout.StampsDirPath()); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	writeFile(t, cloneDir, relTo(t, cloneDir, layout.StampFile("WU-2")), "done\n")
	run(t, cloneDir, "add", "-A")
	run(t, cloneDir, "commit", "-m", "stamp")
	run(t, cloneDir, "push", "origin", "main")

	zombie, err := isZombie(clone, layout, w)
	if err != nil {
		t.Fatalf("isZombie: %v", err)
	}
	if zombie {
		t.Error("expected not-zombie once the stamp reached origin/main")
	}
}

func TestIsZombieTrueWhenStampMissingFromOrigin(t *testing.T) {
	cloneDir, clone := setupOriginAndClone(t)
	layout := paths.Default(cloneDir)
	w := &wu.WU{ID: "WU-3", Status: wu.StatusDone}

	if err := paths.EnsureDir(layout.StampsDirPath()); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	writeFile(t, cloneDir, relTo(t, cloneDir, layout.StampFile("WU-3")), "done\n")
	run(t, cloneDir, "add", "-A")
	run(t, cloneDir, "commit", "-m", "local stamp, not pushed")

	zombie, err := isZombie(clone, layout, w)
	if err != nil {
		t.Fatalf("isZombie: %v", err)
	}
	if !zombie {
		t.Error("expected zombie when the stamp never reached origin/main")
	}
}

func TestRecoveryCounterRoundTrip(t *testing.T) {
	cloneDir, _ := setupOriginAndClone(t)
	layout := paths.Default(cloneDir)

	rc, err := loadRecoveryCounter(layout, "WU-9")
	if err != nil {
		t.Fatalf("loadRecoveryCounter (absent): %v", err)
	}
	if rc.Attempts != 0 {
		t.Fatalf("expected zero value, got %+v", rc)
	}

	rc.Attempts = 2
	rc.LastAttempt = time.Now().UTC()
	if err := saveRecoveryCounter(layout, "WU-9", rc); err != nil {
		t.Fatalf("saveRecoveryCounter: %v", err)
	}

	reloaded, err := loadRecoveryCounter(layout, "WU-9")
	if err != nil {
		t.Fatalf("loadRecoveryCounter (present): %v", err)
	}
	if reloaded.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", reloaded.Attempts)
	}

	if err := clearRecoveryAttempts(layout, "WU-9"); err != nil {
		t.Fatalf("clearRecoveryAttempts: %v", err)
	}
	cleared, err := loadRecoveryCounter(layout, "WU-9")
	if err != nil {
		t.Fatalf("loadRecoveryCounter (post-clear): %v", err)
	}
	if cleared.Attempts != 0 {
		t.Errorf("Attempts after clear = %d, want 0", cleared.Attempts)
	}
}

func TestRecoverZombieRefusesAfterMaxAttempts(t *testing.T) {
	cloneDir, clone := setupOriginAndClone(t)
	layout := paths.Default(cloneDir)
	w := &wu.WU{ID: "WU-4", Status: wu.StatusDone, Lane: "billing"}

	if err := saveRecoveryCounter(layout, "WU-4", RecoveryCounter{Attempts: maxRecoveryAttempts()}); err != nil {
		t.Fatalf("saveRecoveryCounter: %v", err)
	}

	err := recoverZombie(clone, layout, w)
	if err == nil {
		t.Fatal("expected recoverZombie to refuse once maxRecoveryAttempts is reached")
	}
}

func TestSquashPreviousCompletionAttemptsNoOpWhenOneCommitAhead(t *testing.T) {
	cloneDir, clone := setupOriginAndClone(t)
	writeFile(t, cloneDir, "a.txt", "a")
	run(t, cloneDir, "add", "-A")
	run(t, cloneDir, "commit", "-m", "one ahead")

	squashed, err := squashPreviousCompletionAttempts(clone)
	if err != nil {
		t.Fatalf("squashPreviousCompletionAttempts: %v", err)
	}
	if squashed {
		t.Error("expected no squash with only one commit ahead of origin/main")
	}
}

func TestSquashPreviousCompletionAttemptsCollapsesMultipleCommits(t *testing.T) {
	cloneDir, clone := setupOriginAndClone(t)
	writeFile(t, cloneDir, "a.txt", "a")
	run(t, cloneDir, "add", "-A")
	run(t, cloneDir, "commit", "-m", "wu(WU-5): done - attempt 1")
	writeFile(t, cloneDir, "b.txt", "b")
	run(t, cloneDir, "add", "-A")
	run(t, cloneDir, "commit", "-m", "wu(WU-5): done - attempt 2")

	squashed, err := squashPreviousCompletionAttempts(clone)
	if err != nil {
		t.Fatalf("squashPreviousCompletionAttempts: %v", err)
	}
	if !squashed {
		t.Fatal("expected a squash with two commits ahead of origin/main")
	}

	count, err := clone.RevListCount("origin/main..HEAD")
	if err != nil {
		t.Fatalf("RevListCount: %v", err)
	}
	if count != 0 {
		t.Errorf("HEAD ahead-of-origin count after soft reset = %d, want 0", count)
	}
	hasChanges, err := clone.HasChanges()
	if err != nil {
		t.Fatalf("HasChanges: %v", err)
	}
	if !hasChanges {
		t.Error("expected the squashed diff to remain staged after soft reset")
	}
}

func relTo(t *testing.T, base, abs string) string {
	t.Helper()
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		t.Fatalf("filepath.Rel: %v", err)
	}
	return rel
}
