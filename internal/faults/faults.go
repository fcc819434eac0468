// Package faults defines the error kinds surfaced by the graph store, the
// expansion controller and the fetch client.
//
// Every kind is recoverable at the point of the failed operation. Callers
// branch on the kind with [Is] rather than on message text:
//
//	if faults.Is(err, faults.KindFetch) {
//	    // node reverted to collapsed; offer a retry
//	}
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	// KindFetch is a network or HTTP failure retrieving a subgraph or source text.
	KindFetch Kind = "fetch"
	// KindParse is a malformed payload. Recovery is identical to KindFetch.
	KindParse Kind = "parse"
	// KindValidation is a graph invariant violation. The offending update is rejected in full.
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	// KindCanceled marks a fetch whose node was collapsed before it resolved.
	KindCanceled      Kind = "canceled"
	KindNotExpandable Kind = "not_expandable"
)

// Error is a classified error with an optional cause.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "merge" or "fetch main"
	Message string
	Details []string // individual violations, for validation errors
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		b.WriteString(":\n  - ")
		b.WriteString(strings.Join(e.Details, "\n  - "))
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with a formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around an existing error.
func Wrap(kind Kind, op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Validation builds a KindValidation error from a list of violations.
// It returns nil when details is empty.
func Validation(op string, details []string) error {
	if len(details) == 0 {
		return nil
	}
	return &Error{
		Kind:    KindValidation,
		Op:      op,
		Message: fmt.Sprintf("%d violation(s)", len(details)),
		Details: details,
	}
}

// Is reports whether any error in err's chain is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
