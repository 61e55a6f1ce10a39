package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for OpenAI chat completions
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// StreamCompletion streams chat completions. Content deltas are forwarded as
// they arrive; tool calls, usage and the finish reason follow the last chunk.
func (p *OpenAIProvider) StreamCompletion(ctx context.Context, request Request) (<-chan Delta, error) {
	params, err := p.buildParams(request)
	if err != nil {
		return nil, &ProviderError{Class: ClassUnavailable, Provider: p.Name(), Model: request.Model, Cause: err}
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	out := make(chan Delta, streamBuffer)
	go func() {
		defer close(out)
		defer stream.Close()

		var acc openai.ChatCompletionAccumulator
		for stream.Next() {
			chunk := stream.Current()
			if !acc.AddChunk(chunk) {
				send(ctx, out, Delta{Type: DeltaError, Err: &ProviderError{
					Class:    ClassTransient,
					Provider: p.Name(),
					Model:    request.Model,
					Message:  "stream chunk does not continue the completion",
				}})
				return
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !send(ctx, out, Delta{Type: DeltaText, Text: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, out, Delta{Type: DeltaError, Err: p.classify(err, request.Model)})
			return
		}

		resp, err := p.toResponse(&acc.ChatCompletion, request.Model)
		if err != nil {
			send(ctx, out, Delta{Type: DeltaError, Err: err})
			return
		}
		finish(ctx, out, resp)
	}()
	return out, nil
}

// toResponse converts an accumulated completion
func (p *OpenAIProvider) toResponse(completion *openai.ChatCompletion, model string) (*Response, error) {
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{Class: ClassTransient, Provider: p.Name(), Model: model, Cause: ErrEmptyResponse}
	}

	choice := completion.Choices[0]
	resp := &Response{
		Model: completion.Model,
		Text:  choice.Message.Content,
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, &ProviderError{
					Class:    ClassTransient,
					Provider: p.Name(),
					Model:    model,
					Message:  fmt.Sprintf("failed to parse tool arguments: %v", err),
					Cause:    err,
				}
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	switch choice.FinishReason {
	case "tool_calls":
		resp.StopReason = StopToolUse
	case "length":
		resp.StopReason = StopMaxTokens
	default:
		resp.StopReason = StopEnd
	}
	return resp, nil
}

func (p *OpenAIProvider) buildParams(request Request) (openai.ChatCompletionNewParams, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCall, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				argsJSON, err := json.Marshal(tc.Arguments)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool arguments: %w", err)
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunction{
						Name:      tc.Name,
						Arguments: string(argsJSON),
					},
				})
			}
			assistantMsg := openai.ChatCompletionMessage{
				Role:      "assistant",
				Content:   msg.Content,
				ToolCalls: toolCalls,
			}
			messages = append(messages, assistantMsg.ToParam())
		case RoleTool:
			content := msg.Content
			if msg.IsError {
				content = "error: " + content
			}
			messages = append(messages, openai.ToolMessage(content, msg.ToolCallID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}
	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(request.Tools))
		for _, tool := range request.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        tool.Name,
					Description: openai.String(tool.Description),
					Parameters:  openai.FunctionParameters(tool.Parameters),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}

func (p *OpenAIProvider) classify(err error, model string) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header map[string][]string
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return fromHTTP(p.Name(), model, apiErr.StatusCode, header, err)
	}
	return AsProviderError(err, p.Name(), model)
}
