package signalbus

import (
	"testing"
	"time"

	"github.com/hellmai/lumenflow/internal/paths"
)

func seedSignal(t *testing.T, layout paths.Layout, s Signal) Signal {
	t.Helper()
	created, err := CreateSignal(layout, s)
	if err != nil {
		t.Fatalf("CreateSignal: %v", err)
	}
	return created
}

func backdate(t *testing.T, layout paths.Layout, id string, age time.Duration) {
	t.Helper()
	signals, err := readSignals(layout)
	if err != nil {
		t.Fatalf("readSignals: %v", err)
	}
	for i := range signals {
		if signals[i].ID == id {
			signals[i].CreatedAt = time.Now().UTC().Add(-age).Format(time.RFC3339)
		}
	}
	if err := rewriteSignals(layout, signals); err != nil {
		t.Fatalf("rewriteSignals: %v", err)
	}
}

func TestCleanupSignalsRemovesExpiredReadSignals(t *testing.T) {
	layout := newLayout(t)
	s := seedSignal(t, layout, Signal{Message: "stale", WuID: "WU-1"})
	if err := MarkSignalsAsRead(layout, []string{s.ID}); err != nil {
		t.Fatalf("MarkSignalsAsRead: %v", err)
	}
	backdate(t, layout, s.ID, 10*24*time.Hour)

	result, err := CleanupSignals(layout, CleanupOptions{})
	if err != nil {
		t.Fatalf("CleanupSignals: %v", err)
	}
	if len(result.RemovedIDs) != 1 || result.RemovedIDs[0] != s.ID {
		t.Errorf("RemovedIDs = %v, want [%s]", result.RemovedIDs, s.ID)
	}
	if result.Breakdown.TTLExpired != 1 {
		t.Errorf("Breakdown.TTLExpired = %d, want 1", result.Breakdown.TTLExpired)
	}
}

func TestCleanupSignalsProtectsActiveWuRegardlessOfAge(t *testing.T) {
	layout := newLayout(t)
	a := seedSignal(t, layout, Signal{Message: "a", WuID: "WU-1"})
	b := seedSignal(t, layout, Signal{Message: "b", WuID: "WU-2"})
	for _, s := range []Signal{a, b} {
		if err := MarkSignalsAsRead(layout, []string{s.ID}); err != nil {
			t.Fatalf("MarkSignalsAsRead: %v", err)
		}
		backdate(t, layout, s.ID, 60*24*time.Hour)
	}

	result, err := CleanupSignals(layout, CleanupOptions{ActiveWuIDs: map[string]bool{"WU-1": true}})
	if err != nil {
		t.Fatalf("CleanupSignals: %v", err)
	}
	if len(result.RemovedIDs) != 1 || result.RemovedIDs[0] != b.ID {
		t.Errorf("RemovedIDs = %v, want [%s]", result.RemovedIDs, b.ID)
	}
	if result.Breakdown.ActiveWuProtected != 1 || result.Breakdown.TTLExpired != 1 {
		t.Errorf("Breakdown = %+v, want ActiveWuProtected=1 TTLExpired=1", result.Breakdown)
	}
}

func TestCleanupSignalsCapsMaxEntriesKeepingNewest(t *testing.T) {
	layout := newLayout(t)
	var last Signal
	for i := 0; i < 3; i++ {
		last = seedSignal(t, layout, Signal{Message: "msg"})
		time.Sleep(2 * time.Millisecond)
	}

	result, err := CleanupSignals(layout, CleanupOptions{MaxEntries: 1})
	if err != nil {
		t.Fatalf("CleanupSignals: %v", err)
	}
	if len(result.RetainedIDs) != 1 || result.RetainedIDs[0] != last.ID {
		t.Errorf("RetainedIDs = %v, want [%s] (newest)", result.RetainedIDs, last.ID)
	}
	if len(result.RemovedIDs) != 2 {
		t.Errorf("RemovedIDs = %v, want 2 removed", result.RemovedIDs)
	}
}

func TestCleanupSignalsDryRunDoesNotRewrite(t *testing.T) {
	layout := newLayout(t)
	s := seedSignal(t, layout, Signal{Message: "stale"})
	if err := MarkSignalsAsRead(layout, []string{s.ID}); err != nil {
		t.Fatalf("MarkSignalsAsRead: %v", err)
	}
	backdate(t, layout, s.ID, 10*24*time.Hour)

	if _, err := CleanupSignals(layout, CleanupOptions{DryRun: true}); err != nil {
		t.Fatalf("CleanupSignals: %v", err)
	}

	signals, err := readSignals(layout)
	if err != nil {
		t.Fatalf("readSignals: %v", err)
	}
	if len(signals) != 1 {
		t.Errorf("dry-run cleanup rewrote the file: got %d signals, want 1", len(signals))
	}
}
