// Package chaterr defines the error taxonomy shared by the store, sweeper
// and API layers. Validation, permission and not-found errors are terminal
// and surfaced to the caller as-is; conflict errors mark benign lost races
// (pin vs delete); transient errors are retryable with backoff.
package chaterr

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindValidation Kind = iota
	KindPermission
	KindNotFound
	KindConflict
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	}
	return "unknown"
}

// Error carries a taxonomy kind alongside the message and optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func Permissionf(format string, args ...any) error {
	return &Error{Kind: KindPermission, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Transient wraps a retryable cause (network, store unavailable) so callers
// can decide to back off and retry. A nil cause is allowed for conditions
// with no underlying error.
func Transient(cause error, msg string) error {
	if cause == nil {
		return &Error{Kind: KindTransient, Msg: msg}
	}
	return &Error{Kind: KindTransient, Msg: msg, Cause: errors.WithStack(cause)}
}

// Is reports whether err (or anything it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// Retryable reports whether the error is worth retrying. Unknown errors are
// treated as transient so a miswrapped network failure is not made terminal.
func Retryable(err error) bool {
	var ce *Error
	if stderrors.As(err, &ce) {
		return ce.Kind == KindTransient
	}
	return err != nil
}
