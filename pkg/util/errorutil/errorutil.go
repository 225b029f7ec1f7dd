package errorutil

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is the sentinel returned by stores when a record does not exist.
var ErrNotFound = errors.New("not found")

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
		Err:        ErrNotFound,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

// NewRateLimited signals that the caller should back off and show a cooldown notice.
func NewRateLimited(cause error, action string, retryAfter time.Duration) error {
	return &DomainError{
		Code:       "RATE_LIMITED",
		Message:    "too many requests, please slow down",
		HTTPStatus: http.StatusTooManyRequests,
		Details: map[string]any{
			"action":              action,
			"retry_after_seconds": int(retryAfter.Round(time.Second) / time.Second),
		},
		Err: cause,
	}
}

// NewInvalidTicketState rejects an operation that is not allowed in the ticket's current status.
func NewInvalidTicketState(cause error, ticketID, status string) error {
	return &DomainError{
		Code:       "INVALID_TICKET_STATE",
		Message:    fmt.Sprintf("ticket is %s", status),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"ticket_id": ticketID, "status": status},
		Err:        cause,
	}
}

// NewStoreUnavailable wraps a persistence failure that the caller may retry.
func NewStoreUnavailable(err error) error {
	return &DomainError{
		Code:       "STORE_UNAVAILABLE",
		Message:    "ticket store unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound) {
		if de, ok := NewNotFound("resource", nil).(*DomainError); ok {
			return de
		}
	}
	if de, ok := NewStoreUnavailableIfConn(err).(*DomainError); ok {
		return de
	}
	if de, ok := NewInternalError(err).(*DomainError); ok {
		return de
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewStoreUnavailableIfConn returns a STORE_UNAVAILABLE error for connection
// level failures and nil otherwise.
func NewStoreUnavailableIfConn(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) || errors.Is(err, sql.ErrConnDone) {
		return NewStoreUnavailable(err)
	}
	return nil
}

func MapError(err error) error {
	return ToDomainError(err)
}
