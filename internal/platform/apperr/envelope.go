package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Envelope is the JSON body returned for every failed request.
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody holds the error fields of an Envelope.
type EnvelopeBody struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToEnvelope renders e for clients. The wrapped cause is not exposed.
func (e *Error) ToEnvelope(requestID string, now time.Time) Envelope {
	return Envelope{Error: EnvelopeBody{
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		RequestID: requestID,
		Timestamp: now.UTC(),
	}}
}

// FromEnvelope rebuilds an *Error from a serialized envelope, e.g. a
// response returned by another HealthMate instance.
func FromEnvelope(data []byte, status int) (*Error, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode error envelope: %w", err)
	}
	if env.Error.Code == "" {
		return nil, errors.New("decode error envelope: missing code")
	}
	if status == 0 {
		status = StatusFor(env.Error.Code)
	}
	return &Error{
		Code:    env.Error.Code,
		Message: env.Error.Message,
		Status:  status,
		Details: env.Error.Details,
	}, nil
}

// codeForStatus maps plain echo HTTP errors onto error codes.
func codeForStatus(status int) ErrorCode {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return CodeValidation
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return CodeExternal
	}
	return CodeInternal
}

// Normalize converts any error into an *Error.
func Normalize(err error) *Error {
	if ae, ok := As(err); ok {
		if ae.Status == 0 {
			ae.Status = StatusFor(ae.Code)
		}
		return ae
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && s != "" {
			msg = s
		}
		return &Error{Code: codeForStatus(he.Code), Message: msg, Status: he.Code}
	}
	return Internal(err)
}

// HTTPErrorHandler returns an echo.HTTPErrorHandler writing the envelope.
// Server-side failures are logged with their cause.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ae := Normalize(err)
		rid, _ := c.Get("request_id").(string)

		if ae.Status >= 500 {
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("code", string(ae.Code)).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		if ra, ok := ae.Details["retry_after_seconds"].(int); ok && ra > 0 {
			c.Response().Header().Set("Retry-After", fmt.Sprint(ra))
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(ae.Status)
		} else {
			writeErr = c.JSON(ae.Status, ae.ToEnvelope(rid, time.Now()))
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("failed to write error response")
		}
	}
}
