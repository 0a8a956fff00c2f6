// Package apperr defines the machine-readable error codes returned by the
// draft APIs and their HTTP mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code.
type Code string

const (
	CodeInvalidRequest          Code = "invalid_request"
	CodeUnauthenticated         Code = "unauthenticated"
	CodeForbidden               Code = "forbidden"
	CodeDraftNotFound           Code = "draft_not_found"
	CodeSeasonNotFound          Code = "season_not_found"
	CodeNominationNotFound      Code = "nomination_not_found"
	CodeDraftPaused             Code = "draft_paused"
	CodeDraftNotInProgress      Code = "draft_not_in_progress"
	CodeNotActiveTurn           Code = "not_active_turn"
	CodeNominationAlreadyPicked Code = "nomination_already_picked"
	CodeDraftLocked             Code = "draft_locked"
	CodePrereqMissingSeats      Code = "prereq_missing_seats"
	CodeInvalidTransition       Code = "invalid_status_transition"
	CodeRateLimited             Code = "rate_limited"
	CodeTurnResolution          Code = "turn_resolution_failed"
	CodeInternal                Code = "internal"
)

var statusByCode = map[Code]int{
	CodeInvalidRequest:          http.StatusBadRequest,
	CodeUnauthenticated:         http.StatusUnauthorized,
	CodeForbidden:               http.StatusForbidden,
	CodeDraftNotFound:           http.StatusNotFound,
	CodeSeasonNotFound:          http.StatusNotFound,
	CodeNominationNotFound:      http.StatusNotFound,
	CodeDraftPaused:             http.StatusConflict,
	CodeDraftNotInProgress:      http.StatusConflict,
	CodeNotActiveTurn:           http.StatusConflict,
	CodeNominationAlreadyPicked: http.StatusConflict,
	CodeDraftLocked:             http.StatusConflict,
	CodePrereqMissingSeats:      http.StatusConflict,
	CodeInvalidTransition:       http.StatusConflict,
	CodeRateLimited:             http.StatusTooManyRequests,
	CodeTurnResolution:          http.StatusInternalServerError,
	CodeInternal:                http.StatusInternalServerError,
}

// Error is a domain error with a stable code and a human-readable message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status is the HTTP status for the error's code.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New creates an Error.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that keeps err as its cause.
func Wrap(code Code, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status()
	}
	return http.StatusInternalServerError
}
