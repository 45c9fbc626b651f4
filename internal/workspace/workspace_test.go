package workspace_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aira-gateway/gatewayd/internal/workspace"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestAgents_ParsesMultipleDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "AGENTS.md", `
Some intro prose about the workspace.

## assistant
The default conversational agent.
Model: anthropic/claude-opus-4.6

## scheduler
Runs unattended jobs.
- Model: openai/gpt-4o
`)

	ws := workspace.New(dir)
	defs, err := ws.Agents()
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "assistant", defs[0].ID)
	assert.Equal(t, "anthropic", defs[0].Provider)
	assert.Equal(t, "claude-opus-4.6", defs[0].Model)

	assert.Equal(t, "scheduler", defs[1].ID)
	assert.Equal(t, "openai", defs[1].Provider)
	assert.Equal(t, "gpt-4o", defs[1].Model)
}

func TestAgents_MissingFileReturnsEmpty(t *testing.T) {
	ws := workspace.New(t.TempDir())
	defs, err := ws.Agents()
	require.NoError(t, err)
	assert.Nil(t, defs)
}

func TestAgent_ReturnsNilForUnknownID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "AGENTS.md", "## assistant\nModel: anthropic/claude-opus-4.6\n")

	ws := workspace.New(dir)
	def, err := ws.Agent("ghost")
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestAgents_ReparsesAfterFileChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "AGENTS.md", "## assistant\nModel: anthropic/claude-opus-4.6\n")

	ws := workspace.New(dir)
	first, err := ws.Agents()
	require.NoError(t, err)
	require.Len(t, first, 1)

	time.Sleep(10 * time.Millisecond)
	writeFile(t, dir, "AGENTS.md", "## assistant\nModel: openai/gpt-4o\n\n## scheduler\nModel: openai/gpt-4o\n")

	second, err := ws.Agents()
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "openai", second[0].Provider)
}

func TestSystemPrompt_ConcatenatesSoulAndTools(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "SOUL.md", "Be concise.")
	writeFile(t, dir, "TOOLS.md", "Use the shell tool sparingly.")

	ws := workspace.New(dir)
	prompt, err := ws.SystemPrompt()
	require.NoError(t, err)
	assert.Contains(t, prompt, "Be concise.")
	assert.Contains(t, prompt, "Use the shell tool sparingly.")
}

func TestSchedulerSystemPrompt_IncludesOverlayWhenPresent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "SOUL.md", "Be concise.")
	writeFile(t, dir, "SCHEDULER.md", "You are running unattended.")

	ws := workspace.New(dir)
	prompt, err := ws.SchedulerSystemPrompt()
	require.NoError(t, err)
	assert.Contains(t, prompt, "You are running unattended.")
}

func TestSchedulerSystemPrompt_OmitsOverlayWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "SOUL.md", "Be concise.")

	ws := workspace.New(dir)
	prompt, err := ws.SchedulerSystemPrompt()
	require.NoError(t, err)
	assert.Equal(t, "Be concise.", prompt)
}
