// Package event defines the append-only WU event schema (spec.md §3
// "Event"): a tagged union over Type, validated against a JSON schema
// discriminated on the "type" field. It generalizes the per-station JSON
// status file in internal/engine/state.go (StationStatus) from a
// single-file-per-station snapshot into a shared append-only log of
// discrete lifecycle events.
package event

import "time"

// Type is the closed enum of event kinds.
type Type string

const (
	TypeCreate     Type = "create"
	TypeClaim      Type = "claim"
	TypeRelease    Type = "release"
	TypeBlock      Type = "block"
	TypeUnblock    Type = "unblock"
	TypeComplete   Type = "complete"
	TypeCheckpoint Type = "checkpoint"
	TypeSpawn      Type = "spawn"
)

func (t Type) Valid() bool {
	switch t {
	case TypeCreate, TypeClaim, TypeRelease, TypeBlock, TypeUnblock, TypeComplete, TypeCheckpoint, TypeSpawn:
		return true
	}
	return false
}

// Event is one line of the append-only wu-events.jsonl log.
type Event struct {
	Type      Type      `json:"type"`
	WuID      string    `json:"wuId"`
	Timestamp time.Time `json:"timestamp"`

	// create + claim
	Lane  string `json:"lane,omitempty"`
	Title string `json:"title,omitempty"`

	// block
	Reason string `json:"reason,omitempty"`

	// checkpoint
	Note string `json:"note,omitempty"`

	// spawn
	ParentWuID string `json:"parentWuId,omitempty"`
	SpawnID    string `json:"spawnId,omitempty"`
}

// New constructs a well-formed event stamped with now (in UTC), leaving
// kind-specific fields for the caller to fill in.
func New(typ Type, wuID string, now time.Time) Event {
	return Event{Type: typ, WuID: wuID, Timestamp: now.UTC()}
}
