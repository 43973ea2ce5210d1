package extraction

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes reported by the rasterizer and the model clients
var (
	ErrDocumentUnreadable   = errors.New("document unreadable")
	ErrRateLimited          = errors.New("model rate limited")
	ErrAuthenticationFailed = errors.New("model authentication failed")
	ErrTransientNetwork     = errors.New("model unreachable")
	ErrModelRequest         = errors.New("model request failed")
)

// ClientError is returned by model clients. Kind is one of the error classes above.
type ClientError struct {
	Provider   string
	StatusCode int
	Kind       error
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Provider, e.Kind, e.Err)
}

func (e *ClientError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// UserMessage returns the message shown to callers for an extraction error.
// It never includes provider or internal details.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrDocumentUnreadable):
		return "The document could not be read. Upload a valid PDF or image."
	case errors.Is(err, ErrRateLimited):
		return "The extraction service is busy. Please try again in a minute."
	case errors.Is(err, ErrAuthenticationFailed):
		return "The extraction service is not configured correctly. Contact the administrator."
	case errors.Is(err, ErrTransientNetwork):
		return "The extraction service could not be reached. Please try again."
	default:
		return "Document extraction failed. Check server logs for details."
	}
}

// statusKind maps an HTTP status from a model API to an error class
func statusKind(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuthenticationFailed
	case code == http.StatusRequestTimeout || code >= 500:
		return ErrTransientNetwork
	default:
		return ErrModelRequest
	}
}
