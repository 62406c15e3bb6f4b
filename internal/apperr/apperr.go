// Package apperr holds the error taxonomy shared by the adapters and the HTTP layer.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedMedia    = fmt.Errorf("%w: unsupported media type", ErrInvalidInput)
	ErrTooLarge            = errors.New("file too large")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrSummarizationFailed = errors.New("summarization failed")
	ErrTimeout             = errors.New("upstream call timed out")
	ErrBusy                = errors.New("a request for this session is already in progress")
	ErrInvalidTransition   = errors.New("action not allowed in the current state")
	ErrNotFound            = errors.New("not found")
)

// Wrap tags err with kind, keeping the cause visible in the message. A context
// deadline becomes ErrTimeout regardless of kind.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %v", kind, ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", kind, err)
}

// Status maps an error onto the HTTP status the API reports for it.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrBusy), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
