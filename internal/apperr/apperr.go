package apperr

import (
	"errors"
	"fmt"
)

// Kind buckets an error into the pipeline's disposition table: fatal config
// problems, retryable I/O, skippable data problems, and so on.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindTransientIO
	KindNotFound
	KindDataValidation
	KindDuplicateOnHash
	KindDuplicateOnExternalID
	KindDownstreamFailure
	KindUnauthorized
	KindShutdown
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransientIO:
		return "transient_io"
	case KindNotFound:
		return "not_found"
	case KindDataValidation:
		return "data_validation"
	case KindDuplicateOnHash:
		return "duplicate_on_hash"
	case KindDuplicateOnExternalID:
		return "duplicate_on_external_id"
	case KindDownstreamFailure:
		return "downstream_failure"
	case KindUnauthorized:
		return "unauthorized"
	case KindShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Error carries a kind alongside the wrapped cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind. A nil err yields a bare kinded error.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf builds a kinded error from a format string.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind from an error chain, KindUnknown if absent.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the pipeline should retry the operation.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientIO, KindDownstreamFailure:
		return true
	}
	return false
}

// IsDuplicate reports either dedup outcome; both are expected, not failures.
func IsDuplicate(err error) bool {
	switch KindOf(err) {
	case KindDuplicateOnHash, KindDuplicateOnExternalID:
		return true
	}
	return false
}
