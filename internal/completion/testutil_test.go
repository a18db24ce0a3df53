package completion

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/hellmai/lumenflow/internal/gitops"
)

// setupOriginAndClone mirrors internal/specbranch's fixture: a bare
// "origin" with one commit on main, plus a configured working clone.
func setupOriginAndClone(t *testing.T) (cloneDir string, clone *gitops.Repo) {
	t.Helper()
	originDir := t.TempDir()
	if err := exec.Command("git", "init", "--bare", "-b", "main", originDir).Run(); err != nil {
		t.Fatalf("git init --bare: %v", err)
	}

	seedDir := t.TempDir()
	run(t, seedDir, "init", "-b", "main")
	run(t, seedDir, "config", "user.email", "test@example.com")
	run(t, seedDir, "config", "user.name", "test")
	if err := os.WriteFile(filepath.Join(seedDir, "README.md"), []byte("seed"), 0o644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	run(t, seedDir, "add", "-A")
	run(t, seedDir, "commit", "-m", "seed")
	run(t, seedDir, "remote", "add", "origin", originDir)
	run(t, seedDir, "push", "origin", "main")

	cloneDir = t.TempDir()
	if out, err := exec.Command("git", "clone", originDir, cloneDir).CombinedOutput(); err != nil {
		t.Fatalf("git clone: %v\n%s", err, out)
	}
	run(t, cloneDir, "config", "user.email", "test@example.com")
	run(t, cloneDir, "config", "user.name", "test")

	return cloneDir, gitops.NewRepo(cloneDir)
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}
