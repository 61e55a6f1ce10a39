package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIChunk(body string) string {
	return `data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"gpt-4o",` + body + `}`
}

func TestOpenAIStreamCompletion(t *testing.T) {
	t.Run("should forward content before the completion ends", func(t *testing.T) {
		srv := sseServer(t,
			openAIChunk(`"choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]`),
			openAIChunk(`"choices":[{"index":0,"delta":{"content":"Hel"},"finish_reason":null}]`),
			openAIChunk(`"choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":null}]`),
			openAIChunk(`"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"read_file","arguments":""}}]},"finish_reason":null}]`),
			openAIChunk(`"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":\"a.txt\"}"}}]},"finish_reason":null}]`),
			openAIChunk(`"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]`),
			openAIChunk(`"choices":[],"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}`),
			"data: [DONE]",
		)
		p := NewOpenAIProvider("sk-test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

		ch, err := p.StreamCompletion(context.Background(), Request{Model: "gpt-4o", Messages: Transcript{{Role: RoleUser, Content: "read a.txt"}}})
		require.NoError(t, err)
		deltas := drainDeltas(t, ch)

		assert.Equal(t, []DeltaType{DeltaText, DeltaText, DeltaToolCall, DeltaUsage, DeltaStop}, deltaTypes(deltas))
		assert.Equal(t, "lo", deltas[1].Text)
		require.NotNil(t, deltas[2].ToolCall)
		assert.Equal(t, "call_1", deltas[2].ToolCall.ID)
		assert.Equal(t, "a.txt", deltas[2].ToolCall.Arguments["path"])
		assert.Equal(t, Usage{InputTokens: 9, OutputTokens: 4}, *deltas[3].Usage)
		assert.Equal(t, StopToolUse, deltas[4].StopReason)
	})

	t.Run("should report an empty completion", func(t *testing.T) {
		srv := sseServer(t, "data: [DONE]")
		p := NewOpenAIProvider("sk-test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

		ch, err := p.StreamCompletion(context.Background(), Request{Model: "gpt-4o", Messages: Transcript{{Role: RoleUser, Content: "hi"}}})
		require.NoError(t, err)
		_, err = Collect(context.Background(), ch, nil)
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("should classify a rejected key", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
		}))
		defer srv.Close()
		p := NewOpenAIProvider("sk-test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))

		ch, err := p.StreamCompletion(context.Background(), Request{Model: "gpt-4o", Messages: Transcript{{Role: RoleUser, Content: "hi"}}})
		require.NoError(t, err)
		_, err = Collect(context.Background(), ch, nil)

		var pe *ProviderError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, ClassAuth, pe.Class)
	})
}
