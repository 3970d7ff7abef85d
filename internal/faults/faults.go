// package faults defines the error taxonomy shared by the orchestrator
// and the HTTP layer. Every rejected transition maps to exactly one of
// these kinds so callers always get an actionable reason.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies an error for HTTP mapping and caller retry decisions.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindPreconditionNotMet Kind = "precondition_not_met"
	KindPermissionDenied   Kind = "permission_denied"
	KindConflict           Kind = "conflict"
	KindNotFound           Kind = "not_found"
)

// Error carries the kind, a human-readable message and, for guard
// failures, the specific item that blocked the transition.
type Error struct {
	Kind    Kind
	Message string

	// BlockedBy names the checklist item or guard that failed. Only set
	// for precondition errors; user-facing and must be specific.
	BlockedBy string
}

func (e *Error) Error() string {
	if e.BlockedBy != "" {
		return fmt.Sprintf("%s: %s (blocked by: %s)", e.Kind, e.Message, e.BlockedBy)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Validation reports malformed input, rejected before any state change.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Precondition reports a guard failure. blockedBy identifies the
// checklist item or guard that failed.
func Precondition(blockedBy, format string, args ...interface{}) *Error {
	return &Error{Kind: KindPreconditionNotMet, Message: fmt.Sprintf(format, args...), BlockedBy: blockedBy}
}

// PermissionDenied reports a missing actor capability.
func PermissionDenied(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a concurrent mutation; the caller should re-fetch and
// retry.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing referenced entity.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of err, or empty string when err is not a
// taxonomy error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is a taxonomy error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
