package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGeminiConversion(t *testing.T) {
	t.Run("should group consecutive tool results into one user turn", func(t *testing.T) {
		contents := geminiContents(Transcript{
			{Role: RoleUser, Content: "weather?"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}},
			{Role: RoleTool, ToolCallID: "1", ToolName: "a", Content: "sunny"},
			{Role: RoleTool, ToolCallID: "2", ToolName: "b", Content: "boom", IsError: true},
			{Role: RoleSystem, Content: "ignored"},
		})

		require.Len(t, contents, 3)
		assert.Equal(t, "user", contents[0].Role)
		assert.Equal(t, "model", contents[1].Role)
		assert.Len(t, contents[1].Parts, 2)
		require.Len(t, contents[2].Parts, 2)
		assert.Equal(t, "b", contents[2].Parts[1].FunctionResponse.Name)
		assert.Equal(t, true, contents[2].Parts[1].FunctionResponse.Response["is_error"])
	})

	t.Run("should convert json schema", func(t *testing.T) {
		schema := geminiSchema(map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "search text"},
				"tags":  map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"mode":  map[string]interface{}{"type": "string", "enum": []interface{}{"fast", "deep"}},
			},
			"required": []interface{}{"query"},
		})

		assert.Equal(t, genai.TypeObject, schema.Type)
		assert.Equal(t, []string{"query"}, schema.Required)
		assert.Equal(t, genai.TypeString, schema.Properties["query"].Type)
		assert.Equal(t, "search text", schema.Properties["query"].Description)
		assert.Equal(t, genai.TypeArray, schema.Properties["tags"].Type)
		assert.Equal(t, genai.TypeString, schema.Properties["tags"].Items.Type)
		assert.Equal(t, []string{"fast", "deep"}, schema.Properties["mode"].Enum)
	})
}
