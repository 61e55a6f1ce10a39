// Package coretools provides the baseline filesystem tools an agent can
// call, confined to one workspace directory.
package coretools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harun/ranya-engine/pkg/agent"
)

const defaultMaxBytes = 200000

// Options configures core tool registration
type Options struct {
	// WorkspaceRoot confines every path; required
	WorkspaceRoot string
	// ReadOnly skips the tools that modify files
	ReadOnly bool
}

// Register adds the workspace tools to registry
func Register(registry *agent.ToolRegistry, opts Options) error {
	if registry == nil {
		return errors.New("tool registry is required")
	}
	root := strings.TrimSpace(opts.WorkspaceRoot)
	if root == "" {
		return errors.New("workspace root is not configured")
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("invalid workspace root: %w", err)
	}

	tools := []agent.ToolDefinition{
		readFileTool(root),
		listDirTool(root),
	}
	if !opts.ReadOnly {
		tools = append(tools, writeFileTool(root), editFileTool(root))
	}

	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}

func readFileTool(root string) agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Parameters: []agent.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "max_bytes", Type: "integer", Description: "Maximum bytes to read (default 200000)", Default: defaultMaxBytes},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, _ agent.ToolContext) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePath(root, pathValue)
			if err != nil {
				return nil, err
			}

			maxBytes := int64(defaultMaxBytes)
			if raw, ok := params["max_bytes"].(float64); ok && raw > 0 {
				maxBytes = int64(raw)
			}

			data, truncated, err := readFileWithLimit(target, maxBytes)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"path":      pathValue,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			}, nil
		},
	}
}

func listDirTool(root string) agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        "list_dir",
		Description: "List the entries of a workspace directory.",
		Parameters: []agent.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative directory path (default workspace root)"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, _ agent.ToolContext) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			if strings.TrimSpace(pathValue) == "" {
				pathValue = "."
			}
			target, err := resolvePath(root, pathValue)
			if err != nil {
				return nil, err
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return map[string]interface{}{
				"path":    pathValue,
				"entries": names,
			}, nil
		},
	}
}

func writeFileTool(root string) agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace.",
		Parameters: []agent.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append to file (default false)"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, _ agent.ToolContext) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePath(root, pathValue)
			if err != nil {
				return nil, err
			}
			content, _ := params["content"].(string)
			appendMode, _ := params["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}

			flag := os.O_CREATE | os.O_WRONLY
			if appendMode {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := os.OpenFile(target, flag, 0644)
			if err != nil {
				return nil, err
			}
			if _, err := f.WriteString(content); err != nil {
				f.Close()
				return nil, err
			}
			if err := f.Close(); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":   pathValue,
				"bytes":  len(content),
				"append": appendMode,
			}, nil
		},
	}
}

func editFileTool(root string) agent.ToolDefinition {
	return agent.ToolDefinition{
		Name:        "edit_file",
		Description: "Replace text in a workspace file.",
		Parameters: []agent.ToolParameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "search", Type: "string", Description: "Text to search for", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace all occurrences (default false)"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, _ agent.ToolContext) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			target, err := resolvePath(root, pathValue)
			if err != nil {
				return nil, err
			}
			search, _ := params["search"].(string)
			replace, _ := params["replace"].(string)
			replaceAll, _ := params["replace_all"].(bool)
			if search == "" {
				return nil, fmt.Errorf("search is required")
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return nil, err
			}
			content := string(data)

			occurrences := strings.Count(content, search)
			if occurrences == 0 {
				return nil, fmt.Errorf("search text not found")
			}
			if replaceAll {
				content = strings.ReplaceAll(content, search, replace)
			} else {
				occurrences = 1
				content = strings.Replace(content, search, replace, 1)
			}

			if err := os.WriteFile(target, []byte(content), 0644); err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"path":        pathValue,
				"occurrences": occurrences,
			}, nil
		},
	}
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}
	extra := make([]byte, 1)
	n, _ := file.Read(extra)
	return buf.Bytes(), n > 0, nil
}

// resolvePath maps a tool path into root and rejects anything outside it
func resolvePath(root, pathValue string) (string, error) {
	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}
	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside workspace root", pathValue)
	}
	return candidate, nil
}
