package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorClass categorizes provider failures for failover decisions
type ErrorClass string

const (
	ClassTransient       ErrorClass = "transient"
	ClassAuth            ErrorClass = "auth"
	ClassRateLimited     ErrorClass = "rate_limited"
	ClassContextOverflow ErrorClass = "context_overflow"
	ClassUnavailable     ErrorClass = "unavailable"
)

var (
	// ErrNoProvider is returned when no adapter is routed for a model
	ErrNoProvider = errors.New("no provider for model")
	// ErrEmptyResponse is returned when a provider answers without content
	ErrEmptyResponse = errors.New("empty response from provider")
)

// ProviderError is a classified failure of a model call
type ProviderError struct {
	Class      ErrorClass
	Provider   string
	Model      string
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Class))
	if e.Provider != "" {
		fmt.Fprintf(&b, " [%s", e.Provider)
		if e.Model != "" {
			fmt.Fprintf(&b, "/%s", e.Model)
		}
		b.WriteString("]")
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError builds a ProviderError of the given class
func NewProviderError(class ErrorClass, message string) *ProviderError {
	return &ProviderError{Class: class, Message: message}
}

// ClassFromStatus maps an HTTP status code to an error class.
// Bad requests and unknown models cannot succeed on retry, so they count as unavailable.
func ClassFromStatus(status int, message string) ErrorClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusRequestEntityTooLarge:
		return ClassContextOverflow
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		if looksLikeOverflow(message) {
			return ClassContextOverflow
		}
		return ClassUnavailable
	case status == http.StatusNotFound:
		return ClassUnavailable
	case status == http.StatusRequestTimeout || status >= 500:
		return ClassTransient
	default:
		return ClassFromMessage(message)
	}
}

// ClassFromMessage classifies an error by its message text
func ClassFromMessage(message string) ErrorClass {
	msg := strings.ToLower(message)
	switch {
	case looksLikeOverflow(msg):
		return ClassContextOverflow
	case containsAny(msg, "rate limit", "rate_limit", "too many requests", "quota", "resource_exhausted", "429"):
		return ClassRateLimited
	case containsAny(msg, "unauthorized", "invalid api key", "invalid x-api-key", "authentication", "permission denied", "401", "403"):
		return ClassAuth
	case containsAny(msg, "model not found", "does not exist", "not_found", "unsupported model", "overloaded"):
		return ClassUnavailable
	default:
		return ClassTransient
	}
}

func looksLikeOverflow(message string) bool {
	return containsAny(strings.ToLower(message),
		"context length", "context_length", "context window", "maximum context",
		"prompt is too long", "too many tokens", "token limit", "request too large")
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Classify returns the class of an arbitrary error.
// Typed ProviderErrors keep their class; other errors fall back to message heuristics.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassFromMessage(err.Error())
}

// AsProviderError wraps err as a ProviderError, classifying it when needed
func AsProviderError(err error, provider, model string) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			pe.Provider = provider
		}
		if pe.Model == "" {
			pe.Model = model
		}
		return pe
	}
	return &ProviderError{
		Class:    Classify(err),
		Provider: provider,
		Model:    model,
		Cause:    err,
	}
}

// ParseRetryAfter reads the Retry-After header as seconds or an HTTP date
func ParseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func fromHTTP(provider, model string, status int, header http.Header, cause error) *ProviderError {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	pe := &ProviderError{
		Class:      ClassFromStatus(status, msg),
		Provider:   provider,
		Model:      model,
		StatusCode: status,
		Cause:      cause,
	}
	if pe.Class == ClassRateLimited {
		pe.RetryAfter = ParseRetryAfter(header)
	}
	return pe
}
