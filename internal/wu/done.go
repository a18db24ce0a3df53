package wu

import "fmt"

// ValidateDone checks the "done" completeness rules from spec.md §4.11
// Phase 4.2 (validateDoneWU): description length, non-empty acceptance,
// and tests-vs-type (non-documentation/process WUs should declare tests).
func ValidateDone(w *WU) []error {
	var errs []error

	if len(w.Description) < 50 {
		errs = append(errs, fmt.Errorf("description must be at least 50 characters (got %d)", len(w.Description)))
	}
	if len(w.Acceptance) == 0 {
		errs = append(errs, fmt.Errorf("acceptance criteria must not be empty"))
	}

	switch w.Type {
	case TypeDocumentation, TypeProcess:
		// no test requirement
	default:
		if len(w.Tests) == 0 {
			errs = append(errs, fmt.Errorf("type %q requires at least one declared test", w.Type))
		}
	}

	return errs
}
