// Package apperr defines the application error type shared by services and
// handlers. Every error carries a stable ErrorCode, the HTTP status it maps
// to and structured details, and is rendered to clients as a uniform JSON
// envelope by HTTPErrorHandler.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode is the machine-readable error identifier returned to clients.
type ErrorCode string

const (
	CodeValidation   ErrorCode = "VALIDATION_ERROR"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeConflict     ErrorCode = "CONFLICT"
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
	CodeExternal     ErrorCode = "EXTERNAL_SERVICE_ERROR"
	CodeDataQuality  ErrorCode = "DATA_QUALITY_ERROR"
	CodePipeline     ErrorCode = "PIPELINE_ERROR"
	CodeNotification ErrorCode = "NOTIFICATION_ERROR"
	CodeWebhook      ErrorCode = "WEBHOOK_ERROR"
	CodeEncryption   ErrorCode = "ENCRYPTION_ERROR"
	CodeDatabase     ErrorCode = "DATABASE_ERROR"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

var defaultStatus = map[ErrorCode]int{
	CodeValidation:   http.StatusUnprocessableEntity,
	CodeNotFound:     http.StatusNotFound,
	CodeConflict:     http.StatusConflict,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeForbidden:    http.StatusForbidden,
	CodeRateLimited:  http.StatusTooManyRequests,
	CodeExternal:     http.StatusBadGateway,
	CodeDataQuality:  http.StatusUnprocessableEntity,
	CodePipeline:     http.StatusInternalServerError,
	CodeNotification: http.StatusInternalServerError,
	CodeWebhook:      http.StatusBadGateway,
	CodeEncryption:   http.StatusInternalServerError,
	CodeDatabase:     http.StatusInternalServerError,
	CodeInternal:     http.StatusInternalServerError,
}

// StatusFor returns the HTTP status associated with a code.
func StatusFor(code ErrorCode) int {
	if s, ok := defaultStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is the application error type.
type Error struct {
	Code    ErrorCode
	Message string
	Status  int
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail returns e after setting a detail key.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// New builds an error with the default status for code.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Status: StatusFor(code)}
}

// Wrap builds an error with the default status for code around cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Status: StatusFor(code), Err: cause}
}

func Validation(message string) *Error { return New(CodeValidation, message) }

// ValidationField reports an invalid request field.
func ValidationField(field, message string) *Error {
	return New(CodeValidation, fmt.Sprintf("%s: %s", field, message)).WithDetail("field", field)
}

func NotFound(resource string, id interface{}) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithDetail("resource", resource).
		WithDetail("id", fmt.Sprint(id))
}

func Conflict(message string) *Error     { return New(CodeConflict, message) }
func Unauthorized(message string) *Error { return New(CodeUnauthorized, message) }
func Forbidden(message string) *Error    { return New(CodeForbidden, message) }

// RateLimited reports a local or upstream rate limit; retryAfter is exposed
// to clients in details.
func RateLimited(message string, retryAfter time.Duration) *Error {
	return New(CodeRateLimited, message).WithDetail("retry_after_seconds", int(retryAfter.Seconds()))
}

// External reports a failed call to a third-party service.
func External(service string, statusCode int, cause error) *Error {
	return Wrap(CodeExternal, fmt.Sprintf("%s request failed", service), cause).
		WithDetail("service", service).
		WithDetail("status_code", statusCode)
}

func DataQuality(message string, score float64) *Error {
	return New(CodeDataQuality, message).WithDetail("quality_score", score)
}

func Pipeline(job, message string, cause error) *Error {
	return Wrap(CodePipeline, message, cause).WithDetail("job", job)
}

func Notification(channel, message string, cause error) *Error {
	return Wrap(CodeNotification, message, cause).WithDetail("channel", channel)
}

func Webhook(message string, cause error) *Error { return Wrap(CodeWebhook, message, cause) }

func Encryption(cause error) *Error {
	return Wrap(CodeEncryption, "field encryption failed", cause)
}

func Database(op string, cause error) *Error {
	return Wrap(CodeDatabase, op+" failed", cause).WithDetail("operation", op)
}

func Internal(cause error) *Error { return Wrap(CodeInternal, "internal error", cause) }

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	ae, ok := As(err)
	return ok && ae.Code == code
}

// IsRetryable reports whether an operation failing with err may succeed when
// repeated. Validation and not-found style errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	ae, ok := As(err)
	if !ok {
		return false
	}
	switch ae.Code {
	case CodeRateLimited, CodeDatabase:
		return true
	case CodeExternal, CodeWebhook:
		sc, _ := ae.Details["status_code"].(int)
		return sc == 0 || sc == http.StatusTooManyRequests || sc >= 500
	}
	return false
}
