// Package prompt assembles the system prompt of a run from its parts.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/ranya-engine/pkg/llm"
)

// Input holds everything that goes into a system prompt
type Input struct {
	Base           string
	DynamicContext map[string]string
	ToolSchemas    []llm.ToolSchema
	SkillFragments []string
	MemoryContext  string
}

// Assembler builds prompts with an injectable clock
type Assembler struct {
	now func() time.Time
}

// NewAssembler creates an assembler. A nil clock uses time.Now.
func NewAssembler(now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{now: now}
}

// Build renders sections in fixed order: base, tooling, skills, memory, runtime.
// Empty optional sections are omitted. Only the runtime timestamp depends on
// anything but the input.
func (a *Assembler) Build(in Input) string {
	var sections []string

	if base := strings.TrimSpace(in.Base); base != "" {
		sections = append(sections, base)
	}
	if tooling := renderTooling(in.ToolSchemas); tooling != "" {
		sections = append(sections, tooling)
	}
	if skills := renderSkills(in.SkillFragments); skills != "" {
		sections = append(sections, skills)
	}
	if memory := strings.TrimSpace(in.MemoryContext); memory != "" {
		sections = append(sections, "## Memory\n\n"+memory)
	}
	sections = append(sections, a.renderRuntime(in.DynamicContext))

	return strings.Join(sections, "\n\n")
}

// Build renders with the wall clock
func Build(in Input) string {
	return NewAssembler(nil).Build(in)
}

func renderTooling(tools []llm.ToolSchema) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Tooling\n\nYou can call the following tools:\n")
	for _, tool := range tools {
		fmt.Fprintf(&b, "\n- %s", tool.Name)
		if tool.Description != "" {
			fmt.Fprintf(&b, ": %s", tool.Description)
		}
		if params := paramSummary(tool.Parameters); params != "" {
			fmt.Fprintf(&b, " (%s)", params)
		}
	}
	return b.String()
}

// paramSummary lists parameter names, required ones marked with *
func paramSummary(schema map[string]interface{}) string {
	props, ok := schema["properties"].(map[string]interface{})
	if !ok || len(props) == 0 {
		return ""
	}
	required := map[string]bool{}
	switch req := schema["required"].(type) {
	case []string:
		for _, r := range req {
			required[r] = true
		}
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		typ := ""
		if p, ok := props[name].(map[string]interface{}); ok {
			if t, ok := p["type"].(string); ok {
				typ = t
			}
		}
		part := name
		if typ != "" {
			part += ": " + typ
		}
		if required[name] {
			part += "*"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

func renderSkills(fragments []string) string {
	var kept []string
	for _, f := range fragments {
		if f = strings.TrimSpace(f); f != "" {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return "## Skills\n\n" + strings.Join(kept, "\n\n")
}

func (a *Assembler) renderRuntime(dynamic map[string]string) string {
	var b strings.Builder
	b.WriteString("## Runtime\n\n")
	fmt.Fprintf(&b, "- time: %s", a.now().UTC().Format(time.RFC3339))

	keys := make([]string, 0, len(dynamic))
	for k := range dynamic {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s: %s", k, dynamic[k])
	}
	return b.String()
}
