package goerror

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrNotFound indicates that the requested resource could not be found.
	ErrNotFound = errors.New("resource not found")

	// ErrConflict indicates that the request could not be completed due to a conflict.
	ErrConflict = errors.New("resource conflict")
)

// Type classifies errors into the buckets the delivery pipeline acts on.
type Type int

const (
	// TypeServer represents infrastructure failures (database, broker, storage).
	TypeServer Type = iota
	// TypeValidation represents input validation failures.
	TypeValidation
	// TypeTransient represents delivery failures worth retrying.
	TypeTransient
	// TypePermanent represents delivery failures that must not be retried.
	TypePermanent
	// TypeParse represents MIME decoding failures.
	TypeParse
	// TypeFetch represents attachment fetch failures.
	TypeFetch
)

// String returns the string representation of the error type.
func (t Type) String() string {
	switch t {
	case TypeValidation:
		return "ERROR_TYPE_VALIDATION"
	case TypeTransient:
		return "ERROR_TYPE_TRANSIENT"
	case TypePermanent:
		return "ERROR_TYPE_PERMANENT"
	case TypeParse:
		return "ERROR_TYPE_PARSE"
	case TypeFetch:
		return "ERROR_TYPE_FETCH"
	case TypeServer:
		return "ERROR_TYPE_SERVER"
	default:
		return "ERROR_TYPE_UNKNOWN"
	}
}

// Error is a structured error used across the application.
//
// It can wrap an underlying error while also carrying a user-facing message,
// a high-level type, and retry/bounce semantics for the dispatcher.
type Error struct {
	err       error
	msg       string
	errType   Type
	retryable bool
	bounce    bool
	fields    map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.msg != "" && e.err != nil {
		return e.msg + ": " + e.err.Error()
	}

	if e.err != nil {
		return e.err.Error()
	}

	if e.msg != "" {
		return e.msg
	}

	return e.errType.String()
}

// String returns a verbose representation of the error for debugging/logging.
func (e *Error) String() string {
	return fmt.Sprintf(
		"Error Type: %s, Retryable: %t, Message: %s, Underlying Error: %v",
		e.errType.String(),
		e.retryable,
		e.msg,
		e.err,
	)
}

// Msg returns the user-facing error message, if set.
func (e *Error) Msg() string {
	return e.msg
}

// Type returns the high-level error type.
func (e *Error) Type() Type {
	return e.errType
}

// Retryable reports whether the dispatcher may retry after this error.
func (e *Error) Retryable() bool {
	return e.retryable
}

// Fields returns validation errors (field to message map), if any.
func (e *Error) Fields() map[string]string {
	return e.fields
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.err
}

// NewServer creates a server-type error with the provided error.
func NewServer(err error) error {
	return &Error{err: err, msg: "Internal server error", errType: TypeServer}
}

// NewValidation creates a validation error with a message and optional
// field/message pairs.
func NewValidation(msg string, kv ...string) error {
	e := &Error{msg: msg, errType: TypeValidation}
	if len(kv) >= 2 && len(kv)%2 == 0 {
		e.fields = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.fields[kv[i]] = kv[i+1]
		}
	}
	return e
}

// NewTransient creates a retryable delivery error.
func NewTransient(err error, msg string) error {
	return &Error{err: err, msg: msg, errType: TypeTransient, retryable: true}
}

// NewPermanent creates a non-retryable delivery error.
func NewPermanent(err error, msg string) error {
	return &Error{err: err, msg: msg, errType: TypePermanent}
}

// NewParse creates a MIME decoding error.
func NewParse(err error, msg string) error {
	return &Error{err: err, msg: msg, errType: TypeParse}
}

// NewFetch creates an attachment fetch error. retryable marks network-level
// failures that a later attempt could recover from; scheme and size violations
// are not retryable.
func NewFetch(err error, msg string, retryable bool) error {
	return &Error{err: err, msg: msg, errType: TypeFetch, retryable: retryable}
}

// NewBounce creates a permanent error representing a recipient bounce.
func NewBounce(reason string) error {
	return &Error{msg: reason, errType: TypePermanent, bounce: true}
}

// IsRetryable reports whether the dispatcher may retry after err.
//
// Unknown errors from the network stack (timeouts, refused connections,
// context deadlines) count as retryable; everything else does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ge *Error
	if errors.As(err, &ge) {
		return ge.retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// IsBounce reports whether err represents a recipient bounce.
func IsBounce(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.bounce
}

// BounceReason returns the bounce reason carried by err, if any.
func BounceReason(err error) string {
	var ge *Error
	if errors.As(err, &ge) && ge.bounce {
		return ge.msg
	}
	return ""
}

// Classify wraps an arbitrary error into the taxonomy. Errors that already
// carry a type pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var ge *Error
	if errors.As(err, &ge) {
		return err
	}

	if IsRetryable(err) {
		return NewTransient(err, "transient delivery failure")
	}

	return NewPermanent(err, "permanent delivery failure")
}
