package acceptance_test

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/signalbus"
)

// backdateSignal rewrites a signal's created_at in place, days in the
// past, using only the exported Signal JSON shape and the exported
// signals-file path. Test-only scaffolding: real callers never rewrite
// signals.jsonl by hand.
func backdateSignal(layout paths.Layout, id string, days int) {
	f, err := os.Open(layout.SignalsFile())
	Expect(err).NotTo(HaveOccurred())
	var signals []signalbus.Signal
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var s signalbus.Signal
		Expect(json.Unmarshal([]byte(line), &s)).To(Succeed())
		signals = append(signals, s)
	}
	Expect(f.Close()).To(Succeed())

	out, err := os.Create(layout.SignalsFile())
	Expect(err).NotTo(HaveOccurred())
	enc := json.NewEncoder(out)
	for _, s := range signals {
		if s.ID == id {
			s.CreatedAt = time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)
		}
		Expect(enc.Encode(s)).To(Succeed())
	}
	Expect(out.Close()).To(Succeed())
}

// Scenario 5 (spec.md §8 "Signal cleanup with active protection"): two
// read signals past the read-TTL, one tied to an active WU. Cleanup must
// remove only the signal for the inactive WU.
var _ = Describe("signal cleanup with active-WU protection", func() {
	It("retains the signal for an active WU and removes the other", func() {
		dir, err := os.MkdirTemp("", "lumenflow-signals-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dir)

		layout := paths.Default(dir)

		a, err := signalbus.CreateSignal(layout, signalbus.Signal{Message: "a", WuID: "WU-1"})
		Expect(err).NotTo(HaveOccurred())
		b, err := signalbus.CreateSignal(layout, signalbus.Signal{Message: "b", WuID: "WU-2"})
		Expect(err).NotTo(HaveOccurred())

		Expect(signalbus.MarkSignalsAsRead(layout, []string{a.ID, b.ID})).To(Succeed())
		backdateSignal(layout, a.ID, 60)
		backdateSignal(layout, b.ID, 60)

		result, err := signalbus.CleanupSignals(layout, signalbus.CleanupOptions{
			ActiveWuIDs: map[string]bool{"WU-1": true},
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(result.RemovedIDs).To(ConsistOf(b.ID))
		Expect(result.Breakdown.TTLExpired).To(Equal(1))
		Expect(result.Breakdown.ActiveWuProtected).To(Equal(1))
	})
})
