package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a qafinder error code.
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"  // 400
	ErrNotFound        ErrorCode = "NOT_FOUND"        // 404
	ErrConfig          ErrorCode = "CONFIG"           // 500, fatal at startup
	ErrRemotePermanent ErrorCode = "REMOTE_PERMANENT" // 502
	ErrIngestFailed    ErrorCode = "INGEST_FAILED"    // 503
	ErrInternal        ErrorCode = "INTERNAL"         // 500
)

// QAError represents a structured error with code, status, and details.
type QAError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// cause is the underlying error, if any. Exposed through Unwrap so
	// callers can still match helpdesk or database errors.
	cause error
}

// Error implements the error interface.
func (e *QAError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *QAError) Unwrap() error {
	return e.cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *QAError {
	return &QAError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing ticket or resource.
func NewNotFound(identifier string) *QAError {
	return &QAError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewConfig creates a configuration error listing the missing settings.
// Configuration errors are never retried.
func NewConfig(missing []string) *QAError {
	return &QAError{
		Code:    ErrConfig,
		Status:  500,
		Message: fmt.Sprintf("missing configuration: %s", strings.Join(missing, ", ")),
		Details: map[string]any{"missing": missing},
	}
}

// NewRemotePermanent creates a 502 error for a remote response that will not
// succeed on retry (bad request shape, auth, or a missing primary resource).
func NewRemotePermanent(remoteStatus int, err error) *QAError {
	msg := fmt.Sprintf("helpdesk rejected request with HTTP %d", remoteStatus)
	if err != nil {
		msg = err.Error()
	}
	return &QAError{
		Code:    ErrRemotePermanent,
		Status:  502,
		Message: msg,
		Details: map[string]any{"remote_status": remoteStatus},
		cause:   err,
	}
}

// NewIngestFailed creates a 503 error when a remote call exhausted its retries.
func NewIngestFailed(target string, attempts int, err error) *QAError {
	msg := fmt.Sprintf("request failed after %d attempts: %s", attempts, target)
	return &QAError{
		Code:    ErrIngestFailed,
		Status:  503,
		Message: msg,
		Details: map[string]any{"target": target, "attempts": attempts},
		cause:   err,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message is generic; the original error is kept in Details for logging.
func NewInternal(err error) *QAError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &QAError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		cause:   err,
	}
}

// Is checks if an error (or anything it wraps) is a QAError with the given code.
func Is(err error, code ErrorCode) bool {
	var qErr *QAError
	if stderrors.As(err, &qErr) {
		return qErr.Code == code
	}
	return false
}

// As returns the QAError in err's chain, if any.
func As(err error) (*QAError, bool) {
	var qErr *QAError
	if stderrors.As(err, &qErr) {
		return qErr, true
	}
	return nil, false
}
