package wu

import "time"

// FixableIssue names a normalisation the auto-fixer can apply (spec.md §8:
// "YAML auto-fixer: applyFixes(detectFixableIssues(doc)) fixes every
// detected issue without introducing new ones; running twice is a no-op").
type FixableIssue string

const (
	IssueMissingPriority    FixableIssue = "missing_priority"
	IssueMissingType        FixableIssue = "missing_type"
	IssueMissingCreated     FixableIssue = "missing_created"
	IssueCompletedMismatch  FixableIssue = "completed_mismatch"
	IssueDoneNotLocked      FixableIssue = "done_not_locked"
)

// DetectFixableIssues returns the set of fixable normalisation issues found
// in w. It never reports a structural validation failure (missing
// description, bad id, …) — those require human input and are surfaced by
// ValidateSchema instead.
func DetectFixableIssues(w *WU) []FixableIssue {
	var issues []FixableIssue

	if w.Priority == "" {
		issues = append(issues, IssueMissingPriority)
	}
	if w.Type == "" {
		issues = append(issues, IssueMissingType)
	}
	if w.Created == "" {
		issues = append(issues, IssueMissingCreated)
	}
	if w.Status == StatusDone {
		if w.Completed == "" || (w.CompletedAt != "" && !completedMatches(w)) {
			issues = append(issues, IssueCompletedMismatch)
		}
		if !w.Locked {
			issues = append(issues, IssueDoneNotLocked)
		}
	}

	return issues
}

func completedMatches(w *WU) bool {
	t, err := time.Parse(time.RFC3339, w.CompletedAt)
	if err != nil {
		return false
	}
	return w.Completed == t.UTC().Format("2006-01-02")
}

// ApplyFixes mutates w in place, resolving every issue in issues with a
// deterministic default. Calling ApplyFixes(DetectFixableIssues(w)) twice in
// a row is a no-op: the second call's DetectFixableIssues returns empty.
func ApplyFixes(w *WU, issues []FixableIssue) {
	for _, issue := range issues {
		switch issue {
		case IssueMissingPriority:
			w.Priority = PriorityP2
		case IssueMissingType:
			w.Type = TypeChore
		case IssueMissingCreated:
			w.Created = time.Now().UTC().Format("2006-01-02")
		case IssueCompletedMismatch:
			if w.CompletedAt == "" {
				w.CompletedAt = time.Now().UTC().Format(time.RFC3339)
			}
			t, err := time.Parse(time.RFC3339, w.CompletedAt)
			if err != nil {
				t = time.Now().UTC()
			}
			w.Completed = t.UTC().Format("2006-01-02")
		case IssueDoneNotLocked:
			w.Locked = true
		}
	}
}

// ValidateAndNormalize applies ApplyFixes/DetectFixableIssues and reports
// whether w was mutated, matching spec.md §4.11 Phase 4.1
// (validateAndNormalizeWUYAML: "auto-normalises defaults; re-writes
// normalised YAML if it changed").
func ValidateAndNormalize(w *WU) (changed bool) {
	issues := DetectFixableIssues(w)
	if len(issues) == 0 {
		return false
	}
	ApplyFixes(w, issues)
	return true
}
