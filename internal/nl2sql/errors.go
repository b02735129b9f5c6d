package nl2sql

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyQuery is returned when nothing executable is left after the model
// output has been sanitized.
var ErrEmptyQuery = errors.New("generated query is empty")

// TranslationError reports a failed call to the generation service: the
// service was unreachable, answered with an error status or returned a body
// without usable text.
type TranslationError struct {
	Provider    string
	StatusCode  int
	Message     string
	// Unavailable is set when the service could not be reached at all.
	Unavailable bool
	Err         error
}

func (e *TranslationError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s translation failed (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s translation failed: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s translation failed: %s", e.Provider, e.Message)
}

func (e *TranslationError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed later: transport
// failures, rate limiting and server-side errors.
func (e *TranslationError) Retryable() bool {
	if e.Unavailable {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func statusError(provider string, status int, body []byte) *TranslationError {
	message := string(body)
	if len(message) > 512 {
		message = message[:512]
	}
	return &TranslationError{Provider: provider, StatusCode: status, Message: message}
}
