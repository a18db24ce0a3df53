package signalbus

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/hellmai/lumenflow/internal/paths"
)

// CleanupSignals applies TTL- and count-based retention to signals.jsonl,
// in the order spec.md §4.13 "Cleanup" specifies: read-signal TTL, then
// unread-signal TTL, then a total-count cap keeping the newest. A signal
// whose wu_id is in opts.ActiveWuIDs is retained regardless of age and of
// the count cap, checked before either TTL rule. signal-receipts.jsonl is never rewritten (spec
// §9 Open Question c): a receipt for a pruned signal is simply orphaned.
func CleanupSignals(layout paths.Layout, opts CleanupOptions) (CleanupResult, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	unreadTTL := opts.UnreadTTL
	if unreadTTL <= 0 {
		unreadTTL = defaultUnreadTTL
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}

	signals, err := readSignals(layout)
	if err != nil {
		return CleanupResult{}, err
	}
	receipts, err := readReceipts(layout)
	if err != nil {
		return CleanupResult{}, err
	}
	for i := range signals {
		if receipts[signals[i].ID] {
			signals[i].Read = true
		}
	}

	now := time.Now().UTC()
	result := CleanupResult{}
	var retained []Signal

	for _, s := range signals {
		if opts.ActiveWuIDs[s.WuID] {
			result.RetainedIDs = append(result.RetainedIDs, s.ID)
			result.Breakdown.ActiveWuProtected++
			retained = append(retained, s)
			continue
		}

		age, parseErr := signalAge(s, now)
		if parseErr == nil {
			if s.Read && age > ttl {
				result.RemovedIDs = append(result.RemovedIDs, s.ID)
				result.Breakdown.TTLExpired++
				continue
			}
			if !s.Read && age > unreadTTL {
				result.RemovedIDs = append(result.RemovedIDs, s.ID)
				result.Breakdown.UnreadTTLExpired++
				continue
			}
		}
		retained = append(retained, s)
	}

	if len(retained) > maxEntries {
		// Oldest first; created_at has one-second precision, so equal values
		// keep file order, where the later line is the newer signal. All but
		// the newest maxEntries are removed, except active-WU signals.
		sort.SliceStable(retained, func(i, j int) bool {
			return retained[i].CreatedAt < retained[j].CreatedAt
		})
		cut := len(retained) - maxEntries
		var kept []Signal
		for i, s := range retained {
			if i >= cut || opts.ActiveWuIDs[s.WuID] {
				kept = append(kept, s)
				continue
			}
			result.RemovedIDs = append(result.RemovedIDs, s.ID)
		}
		retained = kept
	}

	for _, s := range retained {
		result.RetainedIDs = append(result.RetainedIDs, s.ID)
	}
	result.RetainedIDs = dedupeStrings(result.RetainedIDs)

	// Restore chronological order for the rewritten file.
	sort.SliceStable(retained, func(i, j int) bool {
		return retained[i].CreatedAt < retained[j].CreatedAt
	})

	if opts.DryRun {
		return result, nil
	}

	if err := rewriteSignals(layout, retained); err != nil {
		return CleanupResult{}, fmt.Errorf("rewriting signals after cleanup: %w", err)
	}
	return result, nil
}

func signalAge(s Signal, now time.Time) (time.Duration, error) {
	ts, err := time.Parse(time.RFC3339, s.CreatedAt)
	if err != nil {
		return 0, err
	}
	return now.Sub(ts), nil
}

func dedupeStrings(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func rewriteSignals(layout paths.Layout, signals []Signal) error {
	if err := paths.EnsureDir(layout.MemoryDirPath()); err != nil {
		return err
	}
	f, err := os.Create(layout.SignalsFile())
	if err != nil {
		return fmt.Errorf("recreating signals file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, s := range signals {
		if err := enc.Encode(s); err != nil {
			return err
		}
	}
	return nil
}
