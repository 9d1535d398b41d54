// Package kberrors defines the error taxonomy shared by all knowledge base components.
package kberrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error at a component boundary.
type Kind int

const (
	// KindUnknown is an unclassified internal error.
	KindUnknown Kind = iota
	// KindInputInvalid marks a violated pre-condition. Not retryable.
	KindInputInvalid
	// KindUnauthorized marks an authorization denial. Not retryable by the same principal.
	KindUnauthorized
	// KindNotFound marks a missing session, file, or section. Not retryable.
	KindNotFound
	// KindConflict marks a duplicate chunk or concurrent operation. Retry after a state query.
	KindConflict
	// KindStorage marks a database or blob FS failure. Retryable with backoff.
	KindStorage
	// KindEmbedding marks an upstream model failure. Retryable with a bounded budget.
	KindEmbedding
	// KindCancelled marks a cooperative abort. Not an error at the boundary.
	KindCancelled
	// KindIntegrity marks an invariant violation. Not retryable without external action.
	KindIntegrity
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInputInvalid:
		return "input_invalid"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage"
	case KindEmbedding:
		return "embedding"
	case KindCancelled:
		return "cancelled"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Retryable reports whether callers may retry errors of this kind.
func (k Kind) Retryable() bool {
	switch k {
	case KindStorage, KindEmbedding, KindConflict:
		return true
	default:
		return false
	}
}

// Error carries a Kind plus a human-readable message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New creates a taxonomy error without a cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a taxonomy error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from an error chain. Unclassified errors map to KindUnknown.
func KindOf(err error) Kind {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
