package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassFromStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    ErrorClass
	}{
		{"unauthorized", 401, "", ClassAuth},
		{"forbidden", 403, "", ClassAuth},
		{"rate limited", 429, "", ClassRateLimited},
		{"payload too large", 413, "", ClassContextOverflow},
		{"bad request with overflow message", 400, "prompt is too long: 210000 tokens > 200000 maximum", ClassContextOverflow},
		{"bad request", 400, "invalid field", ClassUnavailable},
		{"not found", 404, "model not found", ClassUnavailable},
		{"server error", 500, "", ClassTransient},
		{"bad gateway", 502, "", ClassTransient},
		{"request timeout", 408, "", ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassFromStatus(tt.status, tt.message))
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("should keep class of wrapped provider error", func(t *testing.T) {
		err := fmt.Errorf("call failed: %w", &ProviderError{Class: ClassAuth})
		assert.Equal(t, ClassAuth, Classify(err))
	})

	t.Run("should classify by message", func(t *testing.T) {
		assert.Equal(t, ClassRateLimited, Classify(errors.New("429 Too Many Requests")))
		assert.Equal(t, ClassContextOverflow, Classify(errors.New("maximum context length is 8192 tokens")))
		assert.Equal(t, ClassAuth, Classify(errors.New("invalid api key provided")))
		assert.Equal(t, ClassUnavailable, Classify(errors.New("the model does not exist")))
	})

	t.Run("should default to transient", func(t *testing.T) {
		assert.Equal(t, ClassTransient, Classify(errors.New("connection reset by peer")))
		assert.Equal(t, ClassTransient, Classify(context.DeadlineExceeded))
	})

	t.Run("should return empty class for nil", func(t *testing.T) {
		assert.Equal(t, ErrorClass(""), Classify(nil))
	})
}

func TestAsProviderError(t *testing.T) {
	t.Run("should fill provider and model on typed error", func(t *testing.T) {
		pe := AsProviderError(&ProviderError{Class: ClassTransient}, "openai", "gpt-4o")
		assert.Equal(t, "openai", pe.Provider)
		assert.Equal(t, "gpt-4o", pe.Model)
	})

	t.Run("should wrap plain errors", func(t *testing.T) {
		cause := errors.New("rate limit exceeded")
		pe := AsProviderError(cause, "anthropic", "claude")
		assert.Equal(t, ClassRateLimited, pe.Class)
		assert.ErrorIs(t, pe, cause)
		assert.Contains(t, pe.Error(), "anthropic/claude")
	})
}

func TestParseRetryAfter(t *testing.T) {
	t.Run("should parse seconds", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "3")
		assert.Equal(t, 3*time.Second, ParseRetryAfter(h))
	})

	t.Run("should parse http date", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat))
		d := ParseRetryAfter(h)
		assert.Greater(t, d, 5*time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
	})

	t.Run("should return zero when absent or invalid", func(t *testing.T) {
		assert.Zero(t, ParseRetryAfter(nil))
		h := http.Header{}
		h.Set("Retry-After", "soon")
		assert.Zero(t, ParseRetryAfter(h))
	})

	t.Run("should attach retry-after to rate limit errors", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "2")
		pe := fromHTTP("openai", "gpt-4o", 429, h, errors.New("slow down"))
		assert.Equal(t, ClassRateLimited, pe.Class)
		assert.Equal(t, 2*time.Second, pe.RetryAfter)
	})
}
