// Package signalbus implements LumenFlow's cross-agent signal channel
// (spec.md §4.13): an append-only JSONL log of short messages, with read
// state tracked in a separate append-only receipts log so two readers can
// never race on the same mutable field. It generalizes the per-station
// JSON status file in internal/engine/state.go (WriteStatus) from "one
// writer, one file, overwritten in place" to "many writers, one file, only
// ever appended to".
package signalbus

import "time"

// Signal is one entry in signals.jsonl (spec.md §3 "Signal").
type Signal struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	CreatedAt   string `json:"created_at"`
	Read        bool   `json:"read"`
	WuID        string `json:"wu_id,omitempty"`
	Lane        string `json:"lane,omitempty"`
	Type        string `json:"type,omitempty"`
	Sender      string `json:"sender,omitempty"`
	TargetAgent string `json:"target_agent,omitempty"`
	Origin      string `json:"origin,omitempty"`
	RemoteID    string `json:"remote_id,omitempty"`
}

// Receipt is one entry in signal-receipts.jsonl: an append-only record that
// a signal has been read, overlaid onto Signal.Read at load time.
type Receipt struct {
	SignalID string `json:"signal_id"`
	ReadAt   string `json:"read_at"`
}

// Filters narrows loadSignals to a subset (spec.md §4.13).
type Filters struct {
	WuID       string
	Lane       string
	UnreadOnly bool
	Since      time.Time
}

// CleanupOptions configures cleanupSignals (spec.md §4.13 "Cleanup").
type CleanupOptions struct {
	// TTL is how long a read signal is retained. Zero uses the 7-day default.
	TTL time.Duration
	// UnreadTTL is how long an unread signal is retained. Zero uses the
	// 30-day default.
	UnreadTTL time.Duration
	// MaxEntries caps the retained total, keeping the newest. Zero uses the
	// 500-entry default.
	MaxEntries int
	// ActiveWuIDs protects signals for these WU IDs regardless of age.
	ActiveWuIDs map[string]bool
	// DryRun computes the result without rewriting the signals file.
	DryRun bool
}

const (
	defaultTTL        = 7 * 24 * time.Hour
	defaultUnreadTTL  = 30 * 24 * time.Hour
	defaultMaxEntries = 500
)

// CleanupBreakdown counts the signals removed by each TTL rule and the
// signals kept by active-WU protection. Removals by the MaxEntries cap are
// not counted here.
type CleanupBreakdown struct {
	TTLExpired        int
	UnreadTTLExpired  int
	ActiveWuProtected int
}

// CleanupResult is cleanupSignals' return value (spec.md §4.13).
type CleanupResult struct {
	RemovedIDs  []string
	RetainedIDs []string
	Breakdown   CleanupBreakdown
}
