package llm

import (
	"fmt"
	"net/http"
)

// UnsupportedProviderError is returned when a provider id is not registered.
type UnsupportedProviderError struct {
	ID string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported provider %q", e.ID)
}

func (e *UnsupportedProviderError) Permanent() bool { return true }

// TruncatedOutputError means the vendor stopped at its output token limit.
type TruncatedOutputError struct {
	Provider ProviderID
	Reason   string
}

func (e *TruncatedOutputError) Error() string {
	return fmt.Sprintf("%s response truncated (%s)", e.Provider, e.Reason)
}

func (e *TruncatedOutputError) Permanent() bool { return true }

// EmptyResponseError means the vendor answered without any text body.
type EmptyResponseError struct {
	Provider ProviderID
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("%s response has no text content", e.Provider)
}

func (e *EmptyResponseError) Permanent() bool { return true }

// StatusError is a non-2xx answer from a vendor API.
type StatusError struct {
	Provider   ProviderID
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s api status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s api status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Permanent reports client errors other than timeouts and rate limits.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// ParseError means the model output was not a single JSON document.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("model output is not valid JSON: %v (snippet: %q)", e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Permanent() bool { return true }
