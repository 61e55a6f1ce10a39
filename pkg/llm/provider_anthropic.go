package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements Provider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string, opts ...option.RequestOption) *AnthropicProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// StreamCompletion streams the Messages API. Text deltas are forwarded as
// they arrive; tool calls, usage and the stop reason follow once the
// message is complete.
func (p *AnthropicProvider) StreamCompletion(ctx context.Context, request Request) (<-chan Delta, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.buildParams(request))

	out := make(chan Delta, streamBuffer)
	go func() {
		defer close(out)
		defer stream.Close()

		var message anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				send(ctx, out, Delta{Type: DeltaError, Err: &ProviderError{
					Class:    ClassTransient,
					Provider: p.Name(),
					Model:    request.Model,
					Message:  fmt.Sprintf("malformed stream event: %v", err),
					Cause:    err,
				}})
				return
			}
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
				if !send(ctx, out, Delta{Type: DeltaText, Text: text.Text}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, out, Delta{Type: DeltaError, Err: p.classify(err, request.Model)})
			return
		}

		resp, err := p.toResponse(&message, request.Model)
		if err != nil {
			send(ctx, out, Delta{Type: DeltaError, Err: err})
			return
		}
		finish(ctx, out, resp)
	}()
	return out, nil
}

// toResponse converts an accumulated message
func (p *AnthropicProvider) toResponse(message *anthropic.Message, model string) (*Response, error) {
	resp := &Response{
		Model: string(message.Model),
		Usage: Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Text += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if len(b.Input) > 0 {
				if err := json.Unmarshal(b.Input, &args); err != nil {
					return nil, &ProviderError{
						Class:    ClassTransient,
						Provider: p.Name(),
						Model:    model,
						Message:  fmt.Sprintf("failed to parse tool input: %v", err),
						Cause:    err,
					}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}

	switch message.StopReason {
	case anthropic.StopReasonToolUse:
		resp.StopReason = StopToolUse
	case anthropic.StopReasonMaxTokens:
		resp.StopReason = StopMaxTokens
	default:
		resp.StopReason = StopEnd
	}
	return resp, nil
}

func (p *AnthropicProvider) buildParams(request Request) anthropic.MessageNewParams {
	messages := []anthropic.MessageParam{}
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) > 0 {
			messages = append(messages, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleSystem:
			continue
		case RoleTool:
			// Results of one assistant turn travel in a single user message
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError))
			continue
		}
		flushResults()

		switch msg.Role {
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]interface{}{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
		}
	}
	flushResults()

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if request.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: request.SystemPrompt}}
	}
	if request.Temperature > 0 {
		params.Temperature = anthropic.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(request.Tools))
		for _, tool := range request.Tools {
			toolParam := anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: tool.Parameters["properties"],
					Required:   requiredFields(tool.Parameters),
				},
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		params.Tools = tools
	}

	return params
}

func (p *AnthropicProvider) classify(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header map[string][]string
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return fromHTTP(p.Name(), model, apiErr.StatusCode, header, err)
	}
	return AsProviderError(err, p.Name(), model)
}

// requiredFields reads the "required" list of a JSON schema object
func requiredFields(schema map[string]interface{}) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
