package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	t.Run("should fold deltas into a response", func(t *testing.T) {
		ch := make(chan Delta, 6)
		ch <- Delta{Type: DeltaText, Text: "Hel"}
		ch <- Delta{Type: DeltaText, Text: "lo"}
		ch <- Delta{Type: DeltaToolCall, ToolCall: &ToolCall{ID: "c1", Name: "search"}}
		ch <- Delta{Type: DeltaUsage, Usage: &Usage{InputTokens: 7, OutputTokens: 3}}
		ch <- Delta{Type: DeltaStop, StopReason: StopToolUse}
		close(ch)

		var seen []DeltaType
		resp, err := Collect(context.Background(), ch, func(d Delta) { seen = append(seen, d.Type) })
		require.NoError(t, err)
		assert.Equal(t, "Hello", resp.Text)
		require.Len(t, resp.ToolCalls, 1)
		assert.Equal(t, "search", resp.ToolCalls[0].Name)
		assert.Equal(t, 10, resp.Usage.Total())
		assert.Equal(t, StopToolUse, resp.StopReason)
		assert.Equal(t, []DeltaType{DeltaText, DeltaText, DeltaToolCall, DeltaUsage, DeltaStop}, seen)
	})

	t.Run("should return error delta", func(t *testing.T) {
		ch := make(chan Delta, 2)
		boom := errors.New("stream broke")
		ch <- Delta{Type: DeltaText, Text: "partial"}
		ch <- Delta{Type: DeltaError, Err: boom}
		close(ch)

		_, err := Collect(context.Background(), ch, nil)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("should stop on context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Collect(ctx, make(chan Delta), nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("should infer tool use when stop reason missing", func(t *testing.T) {
		ch := make(chan Delta, 1)
		ch <- Delta{Type: DeltaToolCall, ToolCall: &ToolCall{ID: "c1", Name: "x"}}
		close(ch)
		resp, err := Collect(context.Background(), ch, nil)
		require.NoError(t, err)
		assert.Equal(t, StopToolUse, resp.StopReason)
	})
}

func TestReplay(t *testing.T) {
	resp := &Response{
		Text:       "done",
		ToolCalls:  []ToolCall{{ID: "a"}, {ID: "b"}},
		Usage:      Usage{InputTokens: 1, OutputTokens: 2},
		StopReason: StopToolUse,
	}
	got, err := Collect(context.Background(), Replay(resp), nil)
	require.NoError(t, err)
	assert.Equal(t, resp.Text, got.Text)
	assert.Equal(t, resp.ToolCalls, got.ToolCalls)
	assert.Equal(t, resp.Usage, got.Usage)
	assert.Equal(t, resp.StopReason, got.StopReason)
}

func TestTranscript(t *testing.T) {
	t.Run("should find last non-synthetic user message", func(t *testing.T) {
		tr := Transcript{
			{Role: RoleUser, Content: "first"},
			{Role: RoleAssistant, Content: "reply"},
			{Role: RoleUser, Content: "second"},
			{Role: RoleUser, Content: "summary", Synthetic: true},
		}
		assert.Equal(t, 2, tr.LastUserIndex())
		assert.Equal(t, -1, Transcript{}.LastUserIndex())
	})

	t.Run("should clone independently", func(t *testing.T) {
		tr := Transcript{{Role: RoleUser, Content: "a"}}
		c := tr.Clone()
		c[0].Content = "b"
		assert.Equal(t, "a", tr[0].Content)
	})
}
