package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

const (
	geminiRoleUser  = "user"
	geminiRoleModel = "model"
)

// GeminiProvider implements Provider for Google Gemini
type GeminiProvider struct {
	apiKey string

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider. The client is created on first use.
func NewGeminiProvider(apiKey string) *GeminiProvider {
	return &GeminiProvider{apiKey: apiKey}
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

func (p *GeminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	p.client = client
	return client, nil
}

// StreamCompletion calls GenerateContent and replays the result as deltas
func (p *GeminiProvider) StreamCompletion(ctx context.Context, request Request) (<-chan Delta, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, &ProviderError{Class: ClassAuth, Provider: p.Name(), Model: request.Model, Message: "failed to create Gemini client", Cause: err}
	}

	config := &genai.GenerateContentConfig{}
	if request.MaxTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxTokens)
	}
	if request.Temperature > 0 {
		temp := float32(request.Temperature)
		config.Temperature = &temp
	}
	if request.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: request.SystemPrompt}},
		}
	}
	if len(request.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: geminiDeclarations(request.Tools)}}
	}

	result, err := client.Models.GenerateContent(ctx, request.Model, geminiContents(request.Messages), config)
	if err != nil {
		return nil, p.classify(err, request.Model)
	}
	if result == nil || len(result.Candidates) == 0 {
		return nil, &ProviderError{Class: ClassTransient, Provider: p.Name(), Model: request.Model, Cause: ErrEmptyResponse}
	}

	resp := &Response{
		Model:      request.Model,
		Text:       result.Text(),
		StopReason: StopEnd,
	}
	if result.UsageMetadata != nil {
		resp.Usage = Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	for _, call := range result.FunctionCalls() {
		// Gemini may omit call ids; the function name stands in so results can be matched
		id := call.ID
		if id == "" {
			id = call.Name
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: id, Name: call.Name, Arguments: call.Args})
	}
	if len(resp.ToolCalls) > 0 {
		resp.StopReason = StopToolUse
	} else if result.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		resp.StopReason = StopMaxTokens
	}

	return Replay(resp), nil
}

func (p *GeminiProvider) classify(err error, model string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fromHTTP(p.Name(), model, apiErr.Code, nil, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return fromHTTP(p.Name(), model, apiErrPtr.Code, nil, err)
	}
	return AsProviderError(err, p.Name(), model)
}

func geminiContents(messages Transcript) []*genai.Content {
	var contents []*genai.Content
	for _, msg := range messages {
		role := geminiRoleUser
		var parts []*genai.Part

		switch msg.Role {
		case RoleUser:
			parts = append(parts, &genai.Part{Text: msg.Content})
		case RoleAssistant:
			role = geminiRoleModel
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments},
				})
			}
		case RoleTool:
			name := msg.ToolName
			if name == "" {
				name = msg.ToolCallID
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:   msg.ToolCallID,
					Name: name,
					Response: map[string]any{
						"content":  msg.Content,
						"is_error": msg.IsError,
					},
				},
			})
		default:
			continue
		}

		if len(parts) == 0 {
			continue
		}
		// Consecutive function responses belong to one user turn
		if msg.Role == RoleTool && len(contents) > 0 {
			last := contents[len(contents)-1]
			if last.Role == geminiRoleUser && len(last.Parts) > 0 && last.Parts[0].FunctionResponse != nil {
				last.Parts = append(last.Parts, parts...)
				continue
			}
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func geminiDeclarations(tools []ToolSchema) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decl := &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if len(tool.Parameters) > 0 {
			decl.Parameters = geminiSchema(tool.Parameters)
		}
		declarations = append(declarations, decl)
	}
	return declarations
}

// geminiSchema converts a JSON schema map into genai's schema tree
func geminiSchema(schema map[string]interface{}) *genai.Schema {
	out := &genai.Schema{}
	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}

	switch schema["type"] {
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if items, ok := schema["items"].(map[string]interface{}); ok {
			out.Items = geminiSchema(items)
		}
	case "object", nil:
		out.Type = genai.TypeObject
		if props, ok := schema["properties"].(map[string]interface{}); ok {
			out.Properties = make(map[string]*genai.Schema, len(props))
			for name, raw := range props {
				if prop, ok := raw.(map[string]interface{}); ok {
					out.Properties[name] = geminiSchema(prop)
				}
			}
		}
		out.Required = requiredFields(schema)
	default:
		out.Type = genai.TypeString
	}

	if enum, ok := schema["enum"].([]interface{}); ok {
		for _, v := range enum {
			out.Enum = append(out.Enum, fmt.Sprint(v))
		}
	}
	return out
}
