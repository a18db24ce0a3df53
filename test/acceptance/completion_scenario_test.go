package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hellmai/lumenflow/internal/completion"
	"github.com/hellmai/lumenflow/internal/gitops"
	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/statestore"
	"github.com/hellmai/lumenflow/internal/wu"
)

// Scenario 1 (spec.md §8 "Happy worktree done"): a clean in_progress WU
// completes, merges its lane branch into main via the micro-worktree
// path, and returns success/committed/pushed/merged all true.
var _ = Describe("wu:done happy path", func() {
	It("completes a clean worktree and merges into origin/main", func() {
		tmp, err := os.MkdirTemp("", "lumenflow-scenario-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(tmp)

		originDir := filepath.Join(tmp, "origin.git")
		cloneDir := filepath.Join(tmp, "clone")

		runGit(tmp, "init", "--bare", originDir)
		out, gitErr := exec.Command("git", "clone", originDir, cloneDir).CombinedOutput()
		Expect(gitErr).NotTo(HaveOccurred(), string(out))

		runGit(cloneDir, "config", "user.email", "test@example.com")
		runGit(cloneDir, "config", "user.name", "test")
		Expect(os.WriteFile(filepath.Join(cloneDir, "README.md"), []byte("seed"), 0o644)).To(Succeed())
		runGit(cloneDir, "add", "-A")
		runGit(cloneDir, "commit", "-m", "seed")
		runGit(cloneDir, "push", "origin", "HEAD:main")

		repo := gitops.NewRepo(cloneDir)
		layout := paths.Default(cloneDir)
		store := statestore.New(layout)

		w := &wu.WU{
			ID:          "WU-100",
			Title:       "Refund flow cleanup",
			Lane:        "billing",
			Type:        wu.TypeDocumentation,
			Status:      wu.StatusInProgress,
			Priority:    wu.PriorityP2,
			Created:     "2026-01-01",
			Description: strings.Repeat("a", 60),
			Acceptance:  []string{"refunds no longer double-charge"},
		}
		runGit(cloneDir, "checkout", "-b", w.LaneBranch())
		Expect(paths.EnsureDir(layout.WUDirPath())).To(Succeed())
		Expect(wu.Save(layout.WUFile(w.ID), w)).To(Succeed())
		runGit(cloneDir, "add", "-A")
		runGit(cloneDir, "commit", "-m", "wu(WU-100): claim")

		result, err := completion.CompleteWorktree(completion.Request{
			Layout: layout,
			Repo:   repo,
			Store:  store,
			WuID:   w.ID,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Success).To(BeTrue())
		Expect(result.Committed).To(BeTrue())
		Expect(result.Pushed).To(BeTrue())
		Expect(result.Merged).To(BeTrue())

		Expect(repo.Fetch("origin", "main")).To(Succeed())
		data, err := repo.Show("origin/main", "wu/WU-100.yaml")
		Expect(err).NotTo(HaveOccurred())
		reloaded, err := wu.Parse([]byte(data))
		Expect(err).NotTo(HaveOccurred())
		Expect(reloaded.Status).To(Equal(wu.StatusDone))
		Expect(reloaded.Locked).To(BeTrue())
	})
})

