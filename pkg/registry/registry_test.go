// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ergonlabs/ergon/pkg/tool"
)

func testTool(t *testing.T, name string) *tool.Contract {
	t.Helper()
	c, err := tool.New(name, "test tool", nil, func(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return args, nil
	})
	require.NoError(t, err)
	return c
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register(KindTool, "a", 1)

	got, ok := r.Get(KindTool, "a")
	require.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = r.Get(KindTool, "missing")
	assert.False(t, ok)
	_, ok = r.Get(KindAgent, "a")
	assert.False(t, ok, "kinds are separate namespaces")
}

func TestOverwriteLastWriteWins(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	r := New(WithLogger(logger))

	r.Register(KindTool, "dup", "first")
	r.Register(KindTool, "dup", "second")

	got, _ := r.Get(KindTool, "dup")
	assert.Equal(t, "second", got)
	assert.Contains(t, buf.String(), "registry entry overwritten")
}

func TestListSorted(t *testing.T) {
	r := New()
	r.Register(KindAgent, "zeta", 1)
	r.Register(KindAgent, "alpha", 2)
	r.Register(KindAgent, "mid", 3)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.List(KindAgent))
	assert.Empty(t, r.List(KindWorkflow))
}

func TestToolPrefersFirstParty(t *testing.T) {
	r := New()
	plugin := testTool(t, "search")
	first := testTool(t, "search")
	r.RegisterPluginTool(plugin)

	got, ok := r.Tool("search")
	require.True(t, ok)
	assert.Same(t, plugin, got)

	r.RegisterTool(first)
	got, ok = r.Tool("search")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestToolResolver(t *testing.T) {
	r := New()
	c := testTool(t, "fetch")
	r.RegisterTool(c)

	resolve := r.ToolResolver()
	assert.Same(t, c, resolve("fetch"))
	assert.Nil(t, resolve("nope"))
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	write("agent.yaml", "kind: agent\nname: triage\ninstructions: Route requests.\ntools: [fetch]\n")
	write("flow.yaml", "kind: workflow\nname: deploy\nsteps:\n  - name: build\n  - name: ship\n    config:\n      depends_on: [build]\n")
	write("_draft.yaml", "kind: agent\nname: hidden\n")
	write("broken.yaml", "kind: agent\n# no name\n")
	write("notes.txt", "not a manifest")

	r := New(WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))))
	r.RegisterTool(testTool(t, "fetch"))

	loaded, err := r.LoadFromDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	a, ok := r.Agent("triage")
	require.True(t, ok)
	assert.NotNil(t, a.Function("fetch"))

	cfg, ok := r.Workflow("deploy")
	require.True(t, ok)
	assert.Len(t, cfg.Steps, 2)

	_, ok = r.Agent("hidden")
	assert.False(t, ok, "underscore-prefixed files are skipped")
	_, ok = r.Agent("")
	assert.False(t, ok)
}

func TestLoadFromDirectorySkipsUnderscoreDirs(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "_archive")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "old.yaml"), []byte("kind: workflow\nname: old\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "live.yaml"), []byte("kind: workflow\nname: live\n"), 0o644))

	r := New()
	loaded, err := r.LoadFromDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
	_, ok := r.Workflow("old")
	assert.False(t, ok)
	_, ok = r.Workflow("live")
	assert.True(t, ok)
}
