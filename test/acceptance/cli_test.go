package acceptance_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("lumenflow CLI", func() {
	It("prints a version string", func() {
		out, err := exec.Command(binaryPath, "version").CombinedOutput()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("lumenflow"))
	})

	It("validates a well-formed WU file", func() {
		dir, err := os.MkdirTemp("", "lumenflow-cli-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		wuPath := filepath.Join(dir, "WU-1.yaml")
		Expect(os.WriteFile(wuPath, []byte(validWUYAML), 0o644)).To(Succeed())

		out, err := exec.Command(binaryPath, "validate", wuPath).CombinedOutput()
		Expect(err).NotTo(HaveOccurred(), string(out))
		Expect(string(out)).To(ContainSubstring("is valid"))
	})

	It("rejects a WU file with a too-short description", func() {
		dir, err := os.MkdirTemp("", "lumenflow-cli-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		wuPath := filepath.Join(dir, "WU-2.yaml")
		Expect(os.WriteFile(wuPath, []byte(invalidWUYAML), 0o644)).To(Succeed())

		out, err := exec.Command(binaryPath, "validate", wuPath).CombinedOutput()
		Expect(err).To(HaveOccurred())
		Expect(strings.Contains(string(out), "validation error")).To(BeTrue())
	})
})

const validWUYAML = `
id: WU-1
title: Refund flow cleanup
lane: billing
type: documentation
status: ready
priority: P2
created: "2026-01-01"
description: >
  Refunds currently double-charge customers who retry a failed payment,
  this cleans up the retry path so each refund posts exactly once.
acceptance:
  - refunds no longer double-charge
`

const invalidWUYAML = `
id: WU-2
title: Too short
lane: billing
type: documentation
status: ready
priority: P2
created: "2026-01-01"
description: too short
acceptance:
  - something
`
