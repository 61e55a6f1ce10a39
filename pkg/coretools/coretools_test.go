package coretools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/ranya-engine/pkg/agent"
)

func newWorkspace(t *testing.T, opts Options) (*agent.ToolRegistry, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello world, hello"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0755))

	opts.WorkspaceRoot = root
	registry := agent.NewToolRegistry(time.Second, zerolog.Nop())
	require.NoError(t, Register(registry, opts))
	return registry, root
}

func call(t *testing.T, registry *agent.ToolRegistry, name string, args map[string]interface{}) (map[string]interface{}, error) {
	t.Helper()
	out, err := registry.Execute(context.Background(), name, args, agent.ToolContext{SessionKey: "s1"})
	if err != nil {
		return nil, err
	}
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	return decoded, nil
}

func TestRegister(t *testing.T) {
	t.Run("should require a registry and a root", func(t *testing.T) {
		assert.Error(t, Register(nil, Options{WorkspaceRoot: "/tmp"}))
		assert.Error(t, Register(agent.NewToolRegistry(0, zerolog.Nop()), Options{}))
	})

	t.Run("should skip write tools in read-only mode", func(t *testing.T) {
		registry, _ := newWorkspace(t, Options{ReadOnly: true})
		assert.Equal(t, []string{"list_dir", "read_file"}, registry.Names())
	})

	t.Run("should register every tool by default", func(t *testing.T) {
		registry, _ := newWorkspace(t, Options{})
		assert.Equal(t, []string{"edit_file", "list_dir", "read_file", "write_file"}, registry.Names())
	})
}

func TestTools(t *testing.T) {
	t.Run("should read a file with a byte limit", func(t *testing.T) {
		registry, _ := newWorkspace(t, Options{})

		out, err := call(t, registry, "read_file", map[string]interface{}{"path": "notes.txt", "max_bytes": float64(5)})
		require.NoError(t, err)
		assert.Equal(t, "hello", out["content"])
		assert.Equal(t, true, out["truncated"])

		out, err = call(t, registry, "read_file", map[string]interface{}{"path": "notes.txt"})
		require.NoError(t, err)
		assert.Equal(t, false, out["truncated"])
	})

	t.Run("should refuse paths outside the workspace", func(t *testing.T) {
		registry, _ := newWorkspace(t, Options{})

		_, err := call(t, registry, "read_file", map[string]interface{}{"path": "../secret"})
		assert.ErrorContains(t, err, "outside workspace root")

		_, err = call(t, registry, "read_file", map[string]interface{}{"path": "/etc/passwd"})
		assert.Error(t, err)

		_, err = call(t, registry, "read_file", map[string]interface{}{"path": "http://example.com/x"})
		assert.Error(t, err)
	})

	t.Run("should list directory entries sorted", func(t *testing.T) {
		registry, _ := newWorkspace(t, Options{})

		out, err := call(t, registry, "list_dir", map[string]interface{}{})
		require.NoError(t, err)
		assert.Equal(t, []interface{}{"docs/", "notes.txt"}, out["entries"])
	})

	t.Run("should write and append files", func(t *testing.T) {
		registry, root := newWorkspace(t, Options{})

		_, err := call(t, registry, "write_file", map[string]interface{}{"path": "out/a.txt", "content": "one"})
		require.NoError(t, err)
		_, err = call(t, registry, "write_file", map[string]interface{}{"path": "out/a.txt", "content": "two", "append": true})
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(root, "out", "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "onetwo", string(data))

		_, err = call(t, registry, "write_file", map[string]interface{}{"path": "out/a.txt", "content": "three"})
		require.NoError(t, err)
		data, err = os.ReadFile(filepath.Join(root, "out", "a.txt"))
		require.NoError(t, err)
		assert.Equal(t, "three", string(data))
	})

	t.Run("should edit the first or every occurrence", func(t *testing.T) {
		registry, root := newWorkspace(t, Options{})

		out, err := call(t, registry, "edit_file", map[string]interface{}{"path": "notes.txt", "search": "hello", "replace": "bye"})
		require.NoError(t, err)
		assert.Equal(t, float64(1), out["occurrences"])
		data, _ := os.ReadFile(filepath.Join(root, "notes.txt"))
		assert.Equal(t, "bye world, hello", string(data))

		out, err = call(t, registry, "edit_file", map[string]interface{}{"path": "notes.txt", "search": "o", "replace": "0", "replace_all": true})
		require.NoError(t, err)
		assert.Equal(t, float64(2), out["occurrences"])

		_, err = call(t, registry, "edit_file", map[string]interface{}{"path": "notes.txt", "search": "missing", "replace": "x"})
		assert.ErrorContains(t, err, "not found")
	})
}
