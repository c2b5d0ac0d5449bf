// Package httperr defines the error envelope every request failure is
// normalized into before it reaches a terminal handler. Sub-routers raise
// heterogeneous failures (plain errors, filesystem errors, errors carrying a
// legacy status_code field); From folds them all into one tagged shape.
package httperr

import (
	"errors"
	"io/fs"
	"net/http"
	"syscall"
)

// Kind tags the failure category.
type Kind int

const (
	// KindServerError covers uncategorized failures.
	KindServerError Kind = iota
	// KindNotFound covers explicit not-found failures and filesystem
	// entry-missing / is-a-directory conditions.
	KindNotFound
)

// Error is the envelope consumed exactly once by a terminal handler.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	// Code is an optional machine code, e.g. "ENOENT" or "EISDIR".
	Code    string
	Details map[string]any

	// LegacyStatus mirrors the status_code field set by older callers.
	// It is consulted only when Status is zero.
	LegacyStatus int

	cause error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the originating error to errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// ResolveStatus resolves the HTTP status in order of preference: explicit
// status, legacy status_code, default server error.
func (e *Error) ResolveStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	if e.LegacyStatus != 0 {
		return e.LegacyStatus
	}
	return http.StatusInternalServerError
}

// NotFound builds a not-found envelope.
func NotFound(message string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Status:  http.StatusNotFound,
		Message: message,
	}
}

// ServerError builds an uncategorized failure envelope with the default
// server-error status.
func ServerError(message string) *Error {
	return &Error{
		Kind:    KindServerError,
		Status:  http.StatusInternalServerError,
		Message: message,
	}
}

// WithDetails attaches structured details rendered into JSON responses.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// From normalizes an arbitrary failure into an envelope. An *Error passes
// through untouched so explicit status and details survive. Filesystem
// entry-missing and is-a-directory failures map to not-found; everything
// else becomes a server error carrying the original message.
func From(err error) *Error {
	var he *Error
	if errors.As(err, &he) {
		return he
	}

	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOENT) {
		return &Error{
			Kind:    KindNotFound,
			Status:  http.StatusNotFound,
			Message: err.Error(),
			Code:    "ENOENT",
			cause:   err,
		}
	}
	if errors.Is(err, syscall.EISDIR) {
		return &Error{
			Kind:    KindNotFound,
			Status:  http.StatusNotFound,
			Message: err.Error(),
			Code:    "EISDIR",
			cause:   err,
		}
	}

	return &Error{
		Kind:    KindServerError,
		Status:  http.StatusInternalServerError,
		Message: err.Error(),
		cause:   err,
	}
}
