package llm

// Role identifies the author of a transcript message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Message is a single transcript entry
type Message struct {
	Role       Role                   `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	ToolName   string                 `json:"tool_name,omitempty"`
	IsError    bool                   `json:"is_error,omitempty"`
	Synthetic  bool                   `json:"synthetic,omitempty"` // produced by compaction, not by a participant
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Transcript is the ordered message history of one run
type Transcript []Message

// Clone returns a copy whose slice can be appended to independently
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// LastUserIndex returns the index of the most recent non-synthetic user message, or -1
func (t Transcript) LastUserIndex() int {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Role == RoleUser && !t[i].Synthetic {
			return i
		}
	}
	return -1
}

// ToolSchema describes a tool to the model. Parameters is a JSON Schema object.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Usage tracks token consumption of one model response
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Total returns input plus output tokens
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// StopReason tells why the model stopped generating
type StopReason string

const (
	StopEnd       StopReason = "end"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// Request contains the parameters of one model call
type Request struct {
	Model        string
	SystemPrompt string
	Messages     Transcript
	Tools        []ToolSchema
	MaxTokens    int
	Temperature  float64
}

// DeltaType tags a streamed delta
type DeltaType string

const (
	DeltaText     DeltaType = "text"
	DeltaToolCall DeltaType = "tool_call"
	DeltaUsage    DeltaType = "usage"
	DeltaStop     DeltaType = "stop"
	DeltaError    DeltaType = "error"
)

// Delta is one streamed chunk of a model response
type Delta struct {
	Type       DeltaType
	Text       string
	ToolCall   *ToolCall
	Usage      *Usage
	StopReason StopReason
	Err        error
}

// Response is the collected result of a stream
type Response struct {
	Model      string
	Text       string
	ToolCalls  []ToolCall
	Usage      Usage
	StopReason StopReason
}
