package signalbus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hellmai/lumenflow/internal/lferr"
	"github.com/hellmai/lumenflow/internal/paths"
)

var wuIDPattern = regexp.MustCompile(`^WU-\d+$`)

// CreateSignal validates and appends a new signal (spec.md §4.13
// "createSignal"). The ID is "sig-" followed by 8 hex characters drawn from
// a random UUID, not a sequential counter, since multiple writers may
// append concurrently.
func CreateSignal(layout paths.Layout, s Signal) (Signal, error) {
	if strings.TrimSpace(s.Message) == "" {
		return Signal{}, lferr.New(lferr.KindValidation, "signal message must not be empty")
	}
	if s.WuID != "" && !wuIDPattern.MatchString(s.WuID) {
		return Signal{}, lferr.New(lferr.KindValidation, "signal wu_id "+s.WuID+" does not match WU-<digits>")
	}

	s.ID = "sig-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	if s.CreatedAt == "" {
		s.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}

	if err := appendJSONLine(layout.SignalsFile(), s); err != nil {
		return Signal{}, fmt.Errorf("appending signal: %w", err)
	}
	return s, nil
}

// LoadSignals reads every well-formed signal, overlays read state from the
// receipts log, applies filters, and returns them in chronological order
// (spec.md §4.13 "loadSignals").
func LoadSignals(layout paths.Layout, filters Filters) ([]Signal, error) {
	signals, err := readSignals(layout)
	if err != nil {
		return nil, err
	}
	receipts, err := readReceipts(layout)
	if err != nil {
		return nil, err
	}

	for i := range signals {
		if receipts[signals[i].ID] {
			signals[i].Read = true
		}
	}

	filtered := signals[:0]
	for _, s := range signals {
		if filters.WuID != "" && s.WuID != filters.WuID {
			continue
		}
		if filters.Lane != "" && s.Lane != filters.Lane {
			continue
		}
		if filters.UnreadOnly && s.Read {
			continue
		}
		if !filters.Since.IsZero() {
			ts, err := time.Parse(time.RFC3339, s.CreatedAt)
			if err == nil && ts.Before(filters.Since) {
				continue
			}
		}
		filtered = append(filtered, s)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt < filtered[j].CreatedAt
	})
	return filtered, nil
}

// MarkSignalsAsRead appends one receipt per signal that isn't already read,
// either inline or via an existing receipt (spec.md §4.13
// "markSignalsAsRead"). Calling it twice with the same ID yields exactly one
// receipt line, since the second call finds the first call's receipt
// already present.
func MarkSignalsAsRead(layout paths.Layout, ids []string) error {
	signals, err := readSignals(layout)
	if err != nil {
		return err
	}
	receipts, err := readReceipts(layout)
	if err != nil {
		return err
	}

	inlineRead := make(map[string]bool, len(signals))
	for _, s := range signals {
		inlineRead[s.ID] = s.Read
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range ids {
		if inlineRead[id] || receipts[id] {
			continue
		}
		if err := appendJSONLine(layout.SignalReceiptsFile(), Receipt{SignalID: id, ReadAt: now}); err != nil {
			return fmt.Errorf("appending receipt for %s: %w", id, err)
		}
		// Prevent a duplicate ID later in the same call from writing twice.
		receipts[id] = true
	}
	return nil
}

func readSignals(layout paths.Layout) ([]Signal, error) {
	var out []Signal
	err := scanJSONL(layout.SignalsFile(), func(line []byte) {
		var s Signal
		if json.Unmarshal(line, &s) == nil {
			out = append(out, s)
		}
	})
	return out, err
}

func readReceipts(layout paths.Layout) (map[string]bool, error) {
	out := make(map[string]bool)
	err := scanJSONL(layout.SignalReceiptsFile(), func(line []byte) {
		var r Receipt
		if json.Unmarshal(line, &r) == nil && r.SignalID != "" {
			out[r.SignalID] = true
		}
	})
	return out, err
}

// scanJSONL reads every well-formed line, tolerating blank lines and
// malformed entries elsewhere in the file (spec.md §4.13 "tolerating blank
// lines").
func scanJSONL(path string, fn func(line []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fn([]byte(line))
	}
	return scanner.Err()
}

func appendJSONLine(path string, v any) error {
	if err := paths.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}
