// Package fault defines the closed error taxonomy of the DRP core.
// Every error that crosses a package boundary is one of exactly five
// kinds; transport adapters translate kinds to status codes and the
// retry helper keys off them. Anything not in the taxonomy is a bug
// and surfaces as an internal error at the transport layer.
package fault

import (
	"errors"
	"fmt"
)

// Kind is one of the five failure classes operations may raise.
type Kind string

const (
	// InvalidInput marks field constraint violations: bad enums,
	// out-of-range numbers, empty required fields, malformed hex or
	// base64. Never retried.
	InvalidInput Kind = "invalid-input"

	// NotFound marks references to decision, dispute or elder ids
	// that do not exist.
	NotFound Kind = "not-found"

	// Unauthorized marks actions by principals the operation does not
	// recognize: votes from unassigned reviewers, signing requests
	// naming inactive Elders.
	Unauthorized Kind = "unauthorized-action"

	// Precondition marks state machine violations: quorum arithmetic
	// broken at boot, closing a closed dispute, re-registering an
	// elder id.
	Precondition Kind = "precondition-failed"

	// Infrastructure marks keystore, persistent-store or
	// artifact-store I/O failures. Idempotent reads retry these;
	// non-idempotent writes fail immediately.
	Infrastructure Kind = "infrastructure-unavailable"
)

// Stable machine codes carried by faults the API surfaces.
const (
	CodeKeyLoad          = "key-load-error"
	CodeUnsafeDerivation = "unsafe-derivation"
	CodeUnknownElder     = "unknown-elder"
	CodeInactiveElder    = "inactive-elder"
	CodeQuorumConfig     = "quorum-config"
	CodeDBUnavailable    = "db-unavailable"
	CodeStoreUnavailable = "store-unavailable"
	CodeBadConfidence    = "invalid-confidence"
	CodeBadDecisionEnum  = "invalid-decision-enum"
	CodeBadInput         = "invalid-input"
	CodeDecisionNotFound = "decision-not-found"
	CodeDisputeNotFound  = "dispute-not-found"
	CodeDisputeClosed    = "dispute-closed"
	CodeNotAReviewer     = "not-a-reviewer"
	CodeBadToken         = "invalid-token"
	CodeBadTransition    = "invalid-transition"
)

// Error is the single error type the core raises. Code is a stable
// machine-readable label within the kind; Message is for humans.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New builds a fault with no underlying cause.
func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches taxonomy metadata to an underlying error.
func Wrap(kind Kind, code string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Invalidf builds an invalid-input fault.
func Invalidf(code, format string, args ...any) *Error {
	return New(InvalidInput, code, format, args...)
}

// NotFoundf builds a not-found fault.
func NotFoundf(code, format string, args ...any) *Error {
	return New(NotFound, code, format, args...)
}

// Unauthorizedf builds an unauthorized-action fault.
func Unauthorizedf(code, format string, args ...any) *Error {
	return New(Unauthorized, code, format, args...)
}

// Preconditionf builds a precondition-failed fault.
func Preconditionf(code, format string, args ...any) *Error {
	return New(Precondition, code, format, args...)
}

// Unavailable wraps an I/O failure as infrastructure-unavailable.
func Unavailable(code string, cause error, format string, args ...any) *Error {
	return Wrap(Infrastructure, code, cause, format, args...)
}

// KindOf classifies err. The second return is false when err carries no
// taxonomy kind anywhere in its chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// CodeOf extracts the stable machine code, or "" when absent.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
