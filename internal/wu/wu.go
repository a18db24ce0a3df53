// Package wu defines the Work Unit data model (spec.md §3): the YAML-backed
// WU struct, its closed enums, and its invariants. It generalizes the
// internal/config.Config/Concern YAML struct-tag style (re-cinq/assembly-line)
// from a pipeline-concern shape to a tracked unit of work.
package wu

import (
	"fmt"
	"regexp"
	"time"
)

// Status is a WU's runtime lifecycle state (spec.md §3).
type Status string

const (
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusWaiting    Status = "waiting"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusReady, StatusInProgress, StatusBlocked, StatusWaiting, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether a status has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Type is the closed enum of WU kinds.
type Type string

const (
	TypeFeature       Type = "feature"
	TypeBug           Type = "bug"
	TypeDocumentation Type = "documentation"
	TypeProcess       Type = "process"
	TypeTooling       Type = "tooling"
	TypeChore         Type = "chore"
	TypeRefactor      Type = "refactor"
)

func (t Type) Valid() bool {
	switch t {
	case TypeFeature, TypeBug, TypeDocumentation, TypeProcess, TypeTooling, TypeChore, TypeRefactor:
		return true
	}
	return false
}

// Priority is the closed enum of WU priorities.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2, PriorityP3:
		return true
	}
	return false
}

// ClaimedMode describes how a WU was claimed and what integration path it
// uses at completion time (spec.md §3, §4.11 Phase 8).
type ClaimedMode string

const (
	ClaimedModeWorktree  ClaimedMode = "worktree"
	ClaimedModeBranch    ClaimedMode = "branch-only"
	ClaimedModeBranchPR  ClaimedMode = "branch-pr"
)

func (m ClaimedMode) Valid() bool {
	switch m {
	case ClaimedModeWorktree, ClaimedModeBranch, ClaimedModeBranchPR, "":
		return true
	}
	return false
}

// idPattern matches the canonical "WU-<N>" identifier, N a non-zero integer.
var idPattern = regexp.MustCompile(`^WU-[1-9][0-9]*$`)

// ValidID reports whether id matches the canonical WU-<N> pattern.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// WU is the in-memory representation of a Work Unit YAML spec.
type WU struct {
	ID           string      `yaml:"id"`
	Title        string      `yaml:"title"`
	Lane         string      `yaml:"lane"`
	Type         Type        `yaml:"type"`
	Status       Status      `yaml:"status"`
	Priority     Priority    `yaml:"priority"`
	Created      string      `yaml:"created"` // date, YYYY-MM-DD
	CompletedAt  string      `yaml:"completed_at,omitempty"`
	Completed    string      `yaml:"completed,omitempty"` // date, kept in sync with CompletedAt
	Locked       bool        `yaml:"locked"`
	Description  string      `yaml:"description"`
	Acceptance   []string    `yaml:"acceptance"`
	CodePaths    []string    `yaml:"code_paths,omitempty"`
	Tests        []string    `yaml:"tests,omitempty"`
	ClaimedBranch string     `yaml:"claimed_branch,omitempty"`
	ClaimedMode  ClaimedMode `yaml:"claimed_mode,omitempty"`
	WorktreePath string      `yaml:"worktree_path,omitempty"`
	SpecRefs     []string    `yaml:"spec_refs,omitempty"`
	Plan         string      `yaml:"plan,omitempty"`
	Initiative   string      `yaml:"initiative,omitempty"`
}

// KebabLane converts "Category: Name" into a kebab-case branch component,
// e.g. "Billing: Refund flow" -> "billing-refund-flow".
func (w *WU) KebabLane() string {
	return Kebab(w.Lane)
}

// Kebab lowercases s and replaces any run of non-alphanumeric characters
// with a single hyphen, trimming leading/trailing hyphens.
func Kebab(s string) string {
	out := make([]rune, 0, len(s))
	lastHyphen := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
			lastHyphen = false
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
			lastHyphen = false
		default:
			if !lastHyphen && len(out) > 0 {
				out = append(out, '-')
				lastHyphen = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}

// IDLower returns the WU id lowercased, as used in branch/worktree names
// ("WU-100" -> "wu-100").
func (w *WU) IDLower() string {
	return IDLower(w.ID)
}

// IDLower lowercases a WU id.
func IDLower(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if c >= 'A' && c <= 'Z' {
			c = c - 'A' + 'a'
		}
		out[i] = c
	}
	return string(out)
}

// LaneBranch computes the canonical lane branch name (spec.md §6):
// lane/<kebab(lane)>/wu-<id-lower>.
func (w *WU) LaneBranch() string {
	return fmt.Sprintf("lane/%s/%s", w.KebabLane(), w.IDLower())
}

// CheckInvariants validates the structural invariants from spec.md §3:
//   - id matches WU-\d+
//   - locked ⇒ status=done
//   - status=done ⇒ completed_at set
//   - claimed_mode=worktree ⇒ worktree_path set while status is active
func (w *WU) CheckInvariants() []error {
	var errs []error

	if !ValidID(w.ID) {
		errs = append(errs, fmt.Errorf("id %q does not match WU-<N>", w.ID))
	}
	if w.Locked && w.Status != StatusDone {
		errs = append(errs, fmt.Errorf("locked=true requires status=done, got %s", w.Status))
	}
	if w.Status == StatusDone && w.CompletedAt == "" {
		errs = append(errs, fmt.Errorf("status=done requires completed_at to be set"))
	}
	if w.ClaimedMode == ClaimedModeWorktree && (w.Status == StatusInProgress || w.Status == StatusBlocked) {
		if w.WorktreePath == "" {
			errs = append(errs, fmt.Errorf("claimed_mode=worktree with status=%s requires worktree_path", w.Status))
		}
	}
	return errs
}

// MarkDone mutates w in place to reflect a successful completion
// (spec.md §4.11 Phase 5): status, locked, completed_at, completed.
func (w *WU) MarkDone(now time.Time) {
	w.Status = StatusDone
	w.Locked = true
	w.CompletedAt = now.UTC().Format(time.RFC3339)
	w.Completed = now.UTC().Format("2006-01-02")
}
