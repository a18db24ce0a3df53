// Package lferr defines LumenFlow's error taxonomy (spec.md §7). Errors are
// distinguished by Kind, not by Go type, so callers can switch on a closed
// enum while still getting %w-wrapped context via the standard errors
// package.
package lferr

import (
	"errors"
	"fmt"
)

// Kind is a closed enum of error categories.
type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindInvalidState   Kind = "INVALID_STATE_TRANSITION"
	KindTransaction    Kind = "TRANSACTION_ERROR"
	KindGit            Kind = "GIT_ERROR"
	KindRecoveryLoop   Kind = "RECOVERY_LOOP"
	KindScopeViolation Kind = "SCOPE_VIOLATION"
	KindNotFound       Kind = "NOT_FOUND"
	KindCancelled      Kind = "CANCELLED_BY_USER"
)

// Error is LumenFlow's structured error type. It always carries a Kind and
// a human message; WuID and TryNext are optional context used by command
// handlers to print actionable hints (spec §7).
type Error struct {
	Kind    Kind
	Message string
	WuID    string
	TryNext []string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with no cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap constructs an Error wrapping a lower-level cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// WithWuID returns a copy of e annotated with a WU id.
func (e *Error) WithWuID(id string) *Error {
	cp := *e
	cp.WuID = id
	return &cp
}

// WithTryNext returns a copy of e annotated with actionable follow-up
// commands.
func (e *Error) WithTryNext(cmds ...string) *Error {
	cp := *e
	cp.TryNext = cmds
	return &cp
}

// Is reports whether err is a *Error with the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
