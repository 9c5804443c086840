package status

import (
	"errors"
	"fmt"
)

const (
	// NotFound indicates that the object wasn't found in the system
	NotFound Type = 1

	// Internal indicates some generic internal error
	Internal Type = 2

	// InvalidArgument indicates some generic invalid argument error
	InvalidArgument Type = 3

	// BadRequest indicates that the request is missing required parameters
	BadRequest Type = 4

	// Transport indicates a network fetch failure or an unexpected HTTP status. Safe to retry.
	Transport Type = 5

	// Integrity indicates an invalid signature, a digest mismatch or a malformed signed payload.
	// Never retried and never partially applied.
	Integrity Type = 6

	// PreconditionFailed indicates that the device state does not allow the operation
	PreconditionFailed Type = 7
)

// Type is a type of the Error
type Type int32

// String returns a short name of the type used in logs and results
func (t Type) String() string {
	switch t {
	case NotFound:
		return "not_found"
	case Internal:
		return "internal"
	case InvalidArgument:
		return "invalid_argument"
	case BadRequest:
		return "bad_request"
	case Transport:
		return "transport"
	case Integrity:
		return "integrity"
	case PreconditionFailed:
		return "precondition_failed"
	default:
		return "unknown"
	}
}

// Error is an internal error
type Error struct {
	ErrorType Type
	Message   string
	err       error
}

// Type returns the Type of the error
func (e *Error) Type() Type {
	return e.ErrorType
}

// Error is an error string
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the wrapped cause, if any
func (e *Error) Unwrap() error {
	return e.err
}

// Errorf returns Error(ErrorType, fmt.Sprintf(format, a...)).
// A %w verb keeps the cause reachable through errors.Is / errors.As.
func Errorf(errorType Type, format string, a ...interface{}) error {
	wrapped := fmt.Errorf(format, a...)
	return &Error{
		ErrorType: errorType,
		Message:   wrapped.Error(),
		err:       errors.Unwrap(wrapped),
	}
}

// FromError returns Error, true if the provided error is of type of Error. nil, false otherwise
func FromError(err error) (s *Error, ok bool) {
	if err == nil {
		return nil, true
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsType reports whether err carries a status Error of the given type
func IsType(err error, t Type) bool {
	if err == nil {
		return false
	}
	s, ok := FromError(err)
	return ok && s.Type() == t
}

// NewReleaseNotFoundError creates a new Error with NotFound type for a missing release row
func NewReleaseNotFoundError(app, platform, channel string, versionCode int64) error {
	return Errorf(NotFound, "release %s/%s/%s@%d not found", app, platform, channel, versionCode)
}

// NewSignatureError creates a new Error with Integrity type for a document that failed verification
func NewSignatureError(document string) error {
	return Errorf(Integrity, "%s signature invalid", document)
}

// NewDigestMismatchError creates a new Error with Integrity type for content that does not match its descriptor
func NewDigestMismatchError(what string) error {
	return Errorf(Integrity, "%s digest mismatch", what)
}
