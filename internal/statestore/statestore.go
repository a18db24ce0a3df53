// Package statestore implements the WU state store (spec.md §4.4): an
// append-only event log with status derived by folding events in order. It
// generalizes the per-station JSON snapshot in internal/engine/state.go
// (WriteStatus/ReadStatus/LastSeen) from "one file holds the current
// state" into "the current state is a pure function of the event
// history", which is what lets consistency repair and zombie recovery
// replay history instead of trusting a possibly-stale snapshot.
package statestore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hellmai/lumenflow/internal/event"
	"github.com/hellmai/lumenflow/internal/paths"
	"github.com/hellmai/lumenflow/internal/wu"
)

// Store reads and appends to a repository's event log.
type Store struct {
	layout paths.Layout
}

// New creates a Store rooted at the given layout.
func New(layout paths.Layout) *Store {
	return &Store{layout: layout}
}

// Append validates ev against the discriminated event schema, then appends
// it as one JSON line (spec.md §4.4 "append").
func (s *Store) Append(ev event.Event) error {
	if err := event.Validate(ev); err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	if err := paths.EnsureDir(s.layout.StateDirPath()); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	f, err := os.OpenFile(s.layout.EventLogFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending to event log: %w", err)
	}
	return nil
}

// readAll reads every well-formed event line in order, silently skipping
// malformed lines (spec.md §4.4: "malformed lines elsewhere in the file are
// tolerated when reading").
func (s *Store) readAll() ([]event.Event, error) {
	f, err := os.Open(s.layout.EventLogFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	var events []event.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	return events, nil
}

// eventsFor returns every event for wuID, in file order.
func (s *Store) eventsFor(wuID string) ([]event.Event, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var out []event.Event
	for _, ev := range all {
		if ev.WuID == wuID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// DeriveStatus folds wuID's events in order: {create,claim}→in_progress,
// release→ready, block→blocked, unblock→in_progress, complete→done
// (spec.md §4.4). A WU with no events derives to "ready".
func (s *Store) DeriveStatus(wuID string) (wu.Status, error) {
	events, err := s.eventsFor(wuID)
	if err != nil {
		return "", err
	}
	status := wu.StatusReady
	for _, ev := range events {
		switch ev.Type {
		case event.TypeCreate, event.TypeClaim:
			status = wu.StatusInProgress
		case event.TypeRelease:
			status = wu.StatusReady
		case event.TypeBlock:
			status = wu.StatusBlocked
		case event.TypeUnblock:
			status = wu.StatusInProgress
		case event.TypeComplete:
			status = wu.StatusDone
		}
	}
	return status, nil
}

// GetLastEvent returns the most recent event for wuID, optionally filtered
// to a single type. Returns ok=false if no matching event exists.
func (s *Store) GetLastEvent(wuID string, typ *event.Type) (ev event.Event, ok bool, err error) {
	events, err := s.eventsFor(wuID)
	if err != nil {
		return event.Event{}, false, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		if typ == nil || events[i].Type == *typ {
			return events[i], true, nil
		}
	}
	return event.Event{}, false, nil
}

// GetActiveWuIDs returns every WU ID whose derived status is in_progress or
// blocked (spec.md §4.4).
func (s *Store) GetActiveWuIDs() ([]string, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, ev := range all {
		if !seen[ev.WuID] {
			seen[ev.WuID] = true
			ids = append(ids, ev.WuID)
		}
	}

	var active []string
	for _, id := range ids {
		status, err := s.DeriveStatus(id)
		if err != nil {
			return nil, err
		}
		if status == wu.StatusInProgress || status == wu.StatusBlocked {
			active = append(active, id)
		}
	}
	return active, nil
}

// BootstrapResult reports what Bootstrap synthesized.
type BootstrapResult struct {
	EventsWritten int
	Skipped       []string
	Warning       string
}

// Bootstrap synthesizes an event log from a repository's WU YAML files when
// no log exists yet (spec.md §4.4 "Bootstrap"). Per WU status: ready is
// skipped, in_progress synthesizes one claim, blocked synthesizes
// claim+block, done/cancelled synthesizes claim+complete. Refuses (returns
// a warning, performs no writes) if the log is already populated. Skips
// TEMPLATE.yaml and files that fail to parse as WU YAML.
func Bootstrap(layout paths.Layout) (BootstrapResult, error) {
	store := New(layout)
	existing, err := store.readAll()
	if err != nil {
		return BootstrapResult{}, err
	}
	if len(existing) > 0 {
		return BootstrapResult{Warning: "event log already populated, refusing to bootstrap"}, nil
	}

	entries, err := os.ReadDir(layout.WUDirPath())
	if err != nil {
		if os.IsNotExist(err) {
			return BootstrapResult{}, nil
		}
		return BootstrapResult{}, fmt.Errorf("reading WU dir: %w", err)
	}

	result := BootstrapResult{}
	var synthesized []event.Event
	now := time.Now()

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		if entry.Name() == "TEMPLATE.yaml" {
			result.Skipped = append(result.Skipped, entry.Name())
			continue
		}

		w, err := wu.Load(filepath.Join(layout.WUDirPath(), entry.Name()))
		if err != nil {
			result.Skipped = append(result.Skipped, entry.Name())
			continue
		}

		switch w.Status {
		case wu.StatusReady:
			// no events synthesized
		case wu.StatusInProgress:
			synthesized = append(synthesized, event.New(event.TypeClaim, w.ID, now))
		case wu.StatusBlocked:
			synthesized = append(synthesized,
				event.New(event.TypeClaim, w.ID, now),
				event.Event{Type: event.TypeBlock, WuID: w.ID, Timestamp: now.UTC(), Reason: "bootstrapped from repository state"},
			)
		case wu.StatusDone, wu.StatusCancelled:
			synthesized = append(synthesized,
				event.New(event.TypeClaim, w.ID, now),
				event.New(event.TypeComplete, w.ID, now),
			)
		default:
			result.Skipped = append(result.Skipped, entry.Name())
		}
	}

	for _, ev := range synthesized {
		if err := store.Append(ev); err != nil {
			return result, fmt.Errorf("bootstrapping event for %s: %w", ev.WuID, err)
		}
		result.EventsWritten++
	}
	return result, nil
}
