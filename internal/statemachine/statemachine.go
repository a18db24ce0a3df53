// Package statemachine holds the fixed WU status transition table
// (spec.md §4.5). It generalizes the implicit status progression in
// internal/engine/state.go (idle -> change_detected -> agent_running ->
// committing -> idle|failed, enforced only by the order processConcern
// calls WriteStatus) into an explicit, checkable table.
package statemachine

import (
	"github.com/hellmai/lumenflow/internal/lferr"
	"github.com/hellmai/lumenflow/internal/wu"
)

// transitions maps each status to the set of statuses it may move to.
// Terminal statuses (done, cancelled) have no outgoing edges.
var transitions = map[wu.Status]map[wu.Status]bool{
	wu.StatusReady: {
		wu.StatusInProgress: true,
		wu.StatusCancelled:  true,
	},
	wu.StatusInProgress: {
		wu.StatusBlocked:   true,
		wu.StatusWaiting:   true,
		wu.StatusDone:      true,
		wu.StatusCancelled: true,
		wu.StatusReady:     true, // release
	},
	wu.StatusBlocked: {
		wu.StatusInProgress: true,
		wu.StatusCancelled:  true,
	},
	wu.StatusWaiting: {
		wu.StatusInProgress: true,
		wu.StatusCancelled:  true,
	},
	wu.StatusDone:      {},
	wu.StatusCancelled: {},
}

// AssertTransition fails with a lferr.KindInvalidState error unless current
// -> next is an allowed edge in the table (spec.md §4.5). A next equal to a
// known current status is accepted as a no-op, terminal statuses included.
func AssertTransition(current, next wu.Status, wuID string) error {
	allowed, known := transitions[current]
	if !known {
		return lferr.New(lferr.KindInvalidState, "unknown current status "+string(current)).WithWuID(wuID)
	}
	if current == next {
		return nil
	}
	if !allowed[next] {
		return lferr.New(lferr.KindInvalidState, "cannot transition "+string(current)+" -> "+string(next)).WithWuID(wuID)
	}
	return nil
}

// IsTerminal reports whether status has no outgoing edges.
func IsTerminal(status wu.Status) bool {
	edges, known := transitions[status]
	return known && len(edges) == 0
}
