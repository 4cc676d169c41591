// Package errors defines the coded error types used throughout modelgate.
package errors

import (
	"errors"
	"fmt"
)

// APIError represents a protocol error with a machine-readable code,
// human-readable message, and the HTTP status code to return.
type APIError struct {
	// Code is the protocol error code (e.g., "HashMismatch", "UploadIncomplete").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 400, 409).
	HTTPStatus int
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// WithMessage returns a copy of the APIError with the message replaced.
// The code and HTTP status are preserved so callers can still match on the
// sentinel value with errors.Is.
func (e *APIError) WithMessage(msg string) *APIError {
	cp := *e
	cp.Message = msg
	return &cp
}

// Is reports whether target is an APIError with the same code, so that
// errors.Is matches sentinel values regardless of WithMessage customization.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code == e.Code
}

// FromError maps an arbitrary error to an APIError. Errors that are not
// already APIErrors become ErrInternalError with the original message.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternalError.WithMessage(err.Error())
}

// Pre-defined protocol errors.
var (
	// ErrInvalidMetadata is returned when artifact metadata fails validation.
	ErrInvalidMetadata = &APIError{
		Code:       "InvalidMetadata",
		Message:    "The artifact metadata is not valid",
		HTTPStatus: 400,
	}

	// ErrNoActiveSession is returned when an operation requires an upload
	// session but no metadata has been submitted yet.
	ErrNoActiveSession = &APIError{
		Code:       "NoActiveSession",
		Message:    "No upload session exists; submit artifact metadata first",
		HTTPStatus: 409,
	}

	// ErrIndexOutOfRange is returned when a chunk index is outside [0, total_chunks).
	ErrIndexOutOfRange = &APIError{
		Code:       "IndexOutOfRange",
		Message:    "The chunk index is outside the declared chunk range",
		HTTPStatus: 400,
	}

	// ErrHashMismatch is returned when a chunk's bytes do not match its declared hash.
	ErrHashMismatch = &APIError{
		Code:       "HashMismatch",
		Message:    "The chunk data does not match the declared SHA-256 hash",
		HTTPStatus: 400,
	}

	// ErrEntityTooLarge is returned when a chunk payload exceeds the maximum
	// accepted size.
	ErrEntityTooLarge = &APIError{
		Code:       "EntityTooLarge",
		Message:    "The chunk payload exceeds the maximum allowed size",
		HTTPStatus: 400,
	}

	// ErrUploadIncomplete is returned when an operation requires a complete
	// upload but chunks are still missing.
	ErrUploadIncomplete = &APIError{
		Code:       "UploadIncomplete",
		Message:    "Not all chunks have been uploaded",
		HTTPStatus: 409,
	}

	// ErrNotStarted is returned when continue is called before start.
	ErrNotStarted = &APIError{
		Code:       "NotStarted",
		Message:    "Initialization has not been started",
		HTTPStatus: 409,
	}

	// ErrAlreadyStreaming is returned when start is called while a streaming
	// initialization is already in progress.
	ErrAlreadyStreaming = &APIError{
		Code:       "AlreadyStreaming",
		Message:    "Initialization is already streaming",
		HTTPStatus: 409,
	}

	// ErrAlreadyCompleted is returned when continue is called after completion.
	ErrAlreadyCompleted = &APIError{
		Code:       "AlreadyCompleted",
		Message:    "Initialization has already completed",
		HTTPStatus: 409,
	}

	// ErrAlreadyFailed is returned when continue is called in the failed state.
	ErrAlreadyFailed = &APIError{
		Code:       "AlreadyFailed",
		Message:    "Initialization has failed; an explicit restart is required",
		HTTPStatus: 409,
	}

	// ErrDecodeFailure is returned when a batch aborts because a chunk could
	// not be read back or no longer matches its stored hash.
	ErrDecodeFailure = &APIError{
		Code:       "DecodeFailure",
		Message:    "A chunk failed to decode during materialization",
		HTTPStatus: 500,
	}

	// ErrIntegrityMismatch is returned when the reassembled artifact hash does
	// not match the declared final hash.
	ErrIntegrityMismatch = &APIError{
		Code:       "IntegrityMismatch",
		Message:    "The reassembled artifact does not match the expected hash",
		HTTPStatus: 409,
	}

	// ErrInternalError is returned for unexpected internal failures.
	ErrInternalError = &APIError{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: 500,
	}
)
