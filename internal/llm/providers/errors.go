package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrRateLimited is returned when the local per-provider request window is full
	ErrRateLimited = errors.New("rate limited")
	// ErrCircuitOpen is returned while a provider's circuit breaker rejects calls
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrUnknownProvider is returned by the factory for unsupported provider ids
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrMissingAPIKey is returned when a provider needs a key and none is configured
	ErrMissingAPIKey = errors.New("API key not configured")
)

// ProviderError is a transport failure reported by a provider
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// wrapError attaches the provider id and, when the SDK exposes one, the HTTP status
func wrapError(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, StatusCode: status, Err: err}
}

// StatusCode extracts the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

// ErrorHint turns a provider failure into advice a user can act on
func ErrorHint(err error) string {
	if err == nil {
		return ""
	}

	status := StatusCode(err)
	msg := strings.ToLower(err.Error())

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden ||
		strings.Contains(msg, "401") || strings.Contains(msg, "403") || errors.Is(err, ErrMissingAPIKey):
		return "Check that your API key is valid and has access to this model."
	case status == http.StatusNotFound || strings.Contains(msg, "404") || strings.Contains(msg, "model not found"):
		return "The selected model was not found. Check the model id or pick another model."
	case status == http.StatusTooManyRequests || strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") || errors.Is(err, ErrRateLimited):
		return "The provider is rate limiting requests. Wait a moment and try again."
	case status >= 500 || strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return "The provider is having problems. Try again later or switch providers."
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "The request timed out. Check your connection or try a smaller request."
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return "Could not reach the provider. Check your network connection."
	default:
		return ""
	}
}
