package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/ranya-engine/pkg/llm"
)

const summaryHeader = "Summary of earlier conversation:"

// Summarizer condenses a run of messages into text
type Summarizer interface {
	Summarize(ctx context.Context, messages llm.Transcript) (string, error)
}

// ExtractiveSummarizer keeps a clipped line per message, capped to the most recent lines
type ExtractiveSummarizer struct {
	MaxLines    int
	MaxLineRune int
}

// Summarize implements Summarizer
func (s ExtractiveSummarizer) Summarize(_ context.Context, messages llm.Transcript) (string, error) {
	maxLines := s.MaxLines
	if maxLines <= 0 {
		maxLines = 12
	}
	maxRunes := s.MaxLineRune
	if maxRunes <= 0 {
		maxRunes = 120
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Content)
		switch {
		case msg.Role == llm.RoleTool:
			status := "ok"
			if msg.IsError {
				status = "error"
			}
			lines = append(lines, fmt.Sprintf("- Tool %s (%s): %s", toolLabel(msg), status, clip(text, maxRunes)))
		case len(msg.ToolCalls) > 0:
			names := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Name)
			}
			line := "- Assistant called " + strings.Join(names, ", ")
			if text != "" {
				line += ": " + clip(text, maxRunes)
			}
			lines = append(lines, line)
		case text == "":
			continue
		case msg.Synthetic:
			// fold an earlier summary in without its header
			text = strings.TrimSpace(strings.TrimPrefix(text, summaryHeader))
			lines = append(lines, clip(text, maxRunes*4))
		case msg.Role == llm.RoleUser:
			lines = append(lines, "- User: "+clip(text, maxRunes))
		case msg.Role == llm.RoleAssistant:
			lines = append(lines, "- Assistant: "+clip(text, maxRunes))
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n"), nil
}

func toolLabel(msg llm.Message) string {
	if msg.ToolName != "" {
		return msg.ToolName
	}
	return msg.ToolCallID
}

func clip(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + " ..."
}

// ModelSummarizer asks a model to write the summary
type ModelSummarizer struct {
	Provider  llm.Provider
	Model     string
	MaxTokens int
}

const summarizerPrompt = "You compress conversation history. Write a concise summary of the messages below that keeps " +
	"facts, decisions, open tasks and tool results the assistant still needs. Reply with the summary only."

// Summarize implements Summarizer
func (s ModelSummarizer) Summarize(ctx context.Context, messages llm.Transcript) (string, error) {
	var b strings.Builder
	for _, msg := range messages {
		switch {
		case msg.Role == llm.RoleTool:
			fmt.Fprintf(&b, "[tool %s result] %s\n", toolLabel(msg), msg.Content)
		case len(msg.ToolCalls) > 0:
			for _, tc := range msg.ToolCalls {
				fmt.Fprintf(&b, "[assistant called %s] %v\n", tc.Name, tc.Arguments)
			}
			if msg.Content != "" {
				fmt.Fprintf(&b, "[assistant] %s\n", msg.Content)
			}
		default:
			fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
		}
	}

	maxTokens := s.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	deltas, err := s.Provider.StreamCompletion(ctx, llm.Request{
		Model:        s.Model,
		SystemPrompt: summarizerPrompt,
		Messages:     llm.Transcript{{Role: llm.RoleUser, Content: b.String()}},
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarize with %s: %w", s.Model, err)
	}
	resp, err := llm.Collect(ctx, deltas, nil)
	if err != nil {
		return "", fmt.Errorf("summarize with %s: %w", s.Model, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
