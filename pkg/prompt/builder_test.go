package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harun/ranya-engine/pkg/llm"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestAssembler_Build(t *testing.T) {
	a := NewAssembler(fixedClock)

	t.Run("should order sections", func(t *testing.T) {
		out := a.Build(Input{
			Base: "You are helpful.",
			ToolSchemas: []llm.ToolSchema{{
				Name:        "search",
				Description: "Search the web",
				Parameters: map[string]interface{}{
					"properties": map[string]interface{}{
						"query": map[string]interface{}{"type": "string"},
						"limit": map[string]interface{}{"type": "integer"},
					},
					"required": []interface{}{"query"},
				},
			}},
			SkillFragments: []string{"Skill A", "", "Skill B"},
			MemoryContext:  "User likes tea.",
			DynamicContext: map[string]string{"channel": "cli"},
		})

		base := strings.Index(out, "You are helpful.")
		tooling := strings.Index(out, "## Tooling")
		skills := strings.Index(out, "## Skills")
		memory := strings.Index(out, "## Memory")
		runtime := strings.Index(out, "## Runtime")

		assert.Equal(t, 0, base)
		assert.Less(t, base, tooling)
		assert.Less(t, tooling, skills)
		assert.Less(t, skills, memory)
		assert.Less(t, memory, runtime)
		assert.Contains(t, out, "- search: Search the web (limit: integer, query: string*)")
		assert.Contains(t, out, "Skill A\n\nSkill B")
		assert.Contains(t, out, "- time: 2026-03-01T12:00:00Z")
		assert.Contains(t, out, "- channel: cli")
	})

	t.Run("should omit absent optional sections", func(t *testing.T) {
		out := a.Build(Input{Base: "Base only"})
		assert.NotContains(t, out, "## Tooling")
		assert.NotContains(t, out, "## Skills")
		assert.NotContains(t, out, "## Memory")
		assert.Contains(t, out, "## Runtime")
	})

	t.Run("should be deterministic for equal inputs", func(t *testing.T) {
		in := Input{
			Base:           "base",
			DynamicContext: map[string]string{"z": "1", "a": "2", "m": "3"},
		}
		first := a.Build(in)
		for i := 0; i < 20; i++ {
			assert.Equal(t, first, a.Build(in))
		}
		assert.Less(t, strings.Index(first, "- a: 2"), strings.Index(first, "- m: 3"))
		assert.Less(t, strings.Index(first, "- m: 3"), strings.Index(first, "- z: 1"))
	})

	t.Run("should not fail on empty input", func(t *testing.T) {
		out := a.Build(Input{})
		assert.True(t, strings.HasPrefix(out, "## Runtime"))
	})
}
