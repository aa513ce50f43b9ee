package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so callers can branch on the class of
// problem without matching message strings.
type ErrorKind string

const (
	// KindValidation marks malformed or missing input.
	KindValidation ErrorKind = "validation"

	// KindInvalidState marks an operation that is not permitted in the
	// current workflow or envelope status.
	KindInvalidState ErrorKind = "invalid_state"

	// KindTokenInvalid marks a signing token that is missing, expired, or
	// already used. The three cases are intentionally indistinguishable to
	// callers so the error cannot be used as an oracle.
	KindTokenInvalid ErrorKind = "token_invalid"

	// KindAlreadySigned marks a completion attempt for a recipient whose
	// signature is already recorded.
	KindAlreadySigned ErrorKind = "already_signed"

	// KindWorkflowNotActive marks a signing attempt against a workflow or
	// envelope that is not in progress.
	KindWorkflowNotActive ErrorKind = "workflow_not_active"

	// KindNotFound marks an unknown workflow, envelope, or recipient id.
	KindNotFound ErrorKind = "not_found"

	// KindDependency marks a collaborator failure (notification, blob
	// storage, scheduler) that prevented the operation.
	KindDependency ErrorKind = "dependency"
)

// tokenInvalidMessage is the only message ever shown for token failures,
// regardless of whether the token was unknown, expired, or already used.
const tokenInvalidMessage = "This signing link is invalid or has expired."

// Error is the engine's error type: a kind, a message safe for direct
// display, and an optional wrapped cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf constructs an *Error with a formatted display message.
func Errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr constructs an *Error that wraps an underlying cause. The message
// must still be display-safe; the cause is only reachable via Unwrap.
func WrapErr(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// ErrTokenInvalid returns the uniform token failure. The cause (not found,
// used, expired) is retained for logs but never exposed in the message.
func ErrTokenInvalid(cause error) *Error {
	return &Error{Kind: KindTokenInvalid, Message: tokenInvalidMessage, Err: cause}
}

// KindOf returns the ErrorKind of err, or "" if err is not an engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// SafeMessage returns a message suitable for direct display to an end user.
// Non-engine errors collapse to a generic message so internal details never
// leak through a transport layer.
func SafeMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "An unexpected error occurred."
}
