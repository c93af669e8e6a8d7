// Package errors defines the sentinel errors shared across the retrieval
// engine and an AppError wrapper that carries an HTTP status code for the
// service surface.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyQuery           = errors.New("empty query")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrDuplicateDocument    = errors.New("document already indexed")
	ErrDimensionMismatch    = errors.New("embedding dimension mismatch")
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	ErrIndexCorrupted       = errors.New("index corrupted")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInternal             = errors.New("internal error")
	ErrTimeout              = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateDocument):
		return http.StatusConflict
	case errors.Is(err, ErrEmptyQuery), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, ErrEmbeddingUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
