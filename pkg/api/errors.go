package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies every failure the core can surface. Provider
// adapters map kinds onto wire-level status codes; handlers never retry
// internally, so Conflict and InvalidReceiptHandle reach the caller.
type ErrorKind int

const (
	// KindIO is a storage failure. Fatal to the triggering operation,
	// never to the process.
	KindIO ErrorKind = iota
	// KindNotFound means the resource, key or version is absent.
	KindNotFound
	// KindConflict is a uniqueness or optimistic-concurrency violation.
	KindConflict
	// KindInvalidArgument covers malformed keys, parameters and cursors.
	KindInvalidArgument
	// KindInvalidReceiptHandle is a stale queue ack.
	KindInvalidReceiptHandle
	// KindNotImplemented means no handler is registered for the route.
	KindNotImplemented
)

// String returns the canonical name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidReceiptHandle:
		return "invalid_receipt_handle"
	case KindNotImplemented:
		return "not_implemented"
	case KindIO:
		return "io_error"
	default:
		return "unknown"
	}
}

// Error is the typed error every core operation returns on failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error // optional cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a KindConflict error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgumentf builds a KindInvalidArgument error.
func InvalidArgumentf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// InvalidReceiptHandlef builds a KindInvalidReceiptHandle error.
func InvalidReceiptHandlef(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidReceiptHandle, Message: fmt.Sprintf(format, args...)}
}

// NotImplementedf builds a KindNotImplemented error.
func NotImplementedf(format string, args ...any) *Error {
	return &Error{Kind: KindNotImplemented, Message: fmt.Sprintf(format, args...)}
}

// IOErrorf wraps a storage failure as KindIO.
func IOErrorf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindIO, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to KindIO so that
// unclassified failures surface as storage errors rather than faults.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindIO
}

// IsNotFound reports whether err carries KindNotFound.
func IsNotFound(err error) bool { return hasKind(err, KindNotFound) }

// IsConflict reports whether err carries KindConflict.
func IsConflict(err error) bool { return hasKind(err, KindConflict) }

// IsInvalidArgument reports whether err carries KindInvalidArgument.
func IsInvalidArgument(err error) bool { return hasKind(err, KindInvalidArgument) }

// IsInvalidReceiptHandle reports whether err carries KindInvalidReceiptHandle.
func IsInvalidReceiptHandle(err error) bool { return hasKind(err, KindInvalidReceiptHandle) }

// IsNotImplemented reports whether err carries KindNotImplemented.
func IsNotImplemented(err error) bool { return hasKind(err, KindNotImplemented) }

func hasKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
