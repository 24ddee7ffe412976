package kiln

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrConfigNotFound is returned when no .kiln.yaml is found.
	ErrConfigNotFound = errors.New("kiln: no .kiln.yaml found")

	// ErrInvalidParams is returned for malformed params or edits to
	// unknown documents. Never retried.
	ErrInvalidParams = errors.New("kiln: invalid params")

	// ErrSnapshotNotFound is returned when a fixed-snapshot query names
	// a snapshot that has been released. Recovered locally by
	// re-issuing against latest; never surfaced to the end user.
	ErrSnapshotNotFound = errors.New("kiln: snapshot not found")

	// ErrEngineBusy is returned when scheduler admission times out.
	ErrEngineBusy = errors.New("kiln: engine busy")

	// ErrCancelled is the terminal outcome of a cancelled request. Not
	// a user-facing failure.
	ErrCancelled = errors.New("kiln: request cancelled")

	// ErrInternal covers oracle failures and exceeded timeouts.
	ErrInternal = errors.New("kiln: internal error")
)

// Code is a wire-level error code.
type Code string

// Wire error codes.
const (
	CodeCancelled        Code = "CANCELLED"
	CodeInvalidParams    Code = "INVALID_PARAMS"
	CodeSnapshotNotFound Code = "SNAPSHOT_NOT_FOUND"
	CodeEngineBusy       Code = "ENGINE_BUSY"
	CodeInternalError    Code = "INTERNAL_ERROR"
)

// Error is the structured error payload crossing the protocol boundary.
// Component-local recoverable conditions never reach this type.
type Error struct {
	Code       Code       `json:"code"`
	Message    string     `json:"message"`
	RequestID  string     `json:"requestId,omitempty"`
	SnapshotID SnapshotID `json:"snapshotIdUsed,omitempty"`
	Details    string     `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s (request %s)", e.Code, e.Message, e.RequestID)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap maps the code back to its sentinel so callers can use
// errors.Is across the boundary.
func (e *Error) Unwrap() error {
	switch e.Code {
	case CodeCancelled:
		return ErrCancelled
	case CodeInvalidParams:
		return ErrInvalidParams
	case CodeSnapshotNotFound:
		return ErrSnapshotNotFound
	case CodeEngineBusy:
		return ErrEngineBusy
	default:
		return ErrInternal
	}
}

// CodeOf classifies err into a wire code. Unrecognized errors are
// INTERNAL_ERROR.
func CodeOf(err error) Code {
	switch {
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrInvalidParams):
		return CodeInvalidParams
	case errors.Is(err, ErrSnapshotNotFound):
		return CodeSnapshotNotFound
	case errors.Is(err, ErrEngineBusy):
		return CodeEngineBusy
	default:
		return CodeInternalError
	}
}

// snapshotError tags an error with the snapshot the failing request ran
// against.
type snapshotError struct {
	err error
	id  SnapshotID
}

func (e *snapshotError) Error() string { return e.err.Error() }
func (e *snapshotError) Unwrap() error { return e.err }

// WithSnapshot attaches the snapshot id a request executed against, so
// the wire error payload can report where the failure happened.
func WithSnapshot(err error, id SnapshotID) error {
	if err == nil {
		return nil
	}

	return &snapshotError{err: err, id: id}
}

// WireError wraps err into the protocol error payload with correlation
// context attached. A snapshot id tagged onto err via WithSnapshot is
// used when the caller does not supply one.
func WireError(err error, requestID string, snapshot SnapshotID) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if snapshot == "" {
		var se *snapshotError
		if errors.As(err, &se) {
			snapshot = se.id
		}
	}

	return &Error{
		Code:       CodeOf(err),
		Message:    err.Error(),
		RequestID:  requestID,
		SnapshotID: snapshot,
	}
}
