package tools_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aira-gateway/gatewayd/internal/domain"
	"github.com/aira-gateway/gatewayd/internal/tools"
)

func TestShellTool_RunsCommandAndCapturesOutput(t *testing.T) {
	t.Parallel()
	tool := tools.NewShellTool(5 * time.Second)

	result, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{"command": "echo hello"})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "hello")
	assert.False(t, result.Truncated)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 0, *result.ExitCode)
}

func TestShellTool_NonzeroExitIsNotAnError(t *testing.T) {
	t.Parallel()
	tool := tools.NewShellTool(5 * time.Second)

	result, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{"command": "exit 3"})
	require.NoError(t, err)
	require.NotNil(t, result.ExitCode)
	assert.Equal(t, 3, *result.ExitCode)
}

func TestShellTool_MissingCommandErrors(t *testing.T) {
	t.Parallel()
	tool := tools.NewShellTool(5 * time.Second)
	_, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{})
	assert.Error(t, err)
}

func TestShellTool_TimesOut(t *testing.T) {
	t.Parallel()
	tool := tools.NewShellTool(50 * time.Millisecond)

	_, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{"command": "sleep 5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestShellTool_TruncatesLargeOutput(t *testing.T) {
	t.Parallel()
	tool := tools.NewShellTool(5 * time.Second)

	result, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{
		"command": "yes x | head -c 1000000",
	})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.LessOrEqual(t, len(result.Output), 256*1024)
}

func TestShellTool_RequiresApproval(t *testing.T) {
	t.Parallel()
	tool := tools.NewShellTool(0)
	assert.True(t, tool.RequiresApproval())
}

func TestFilterCredentialEnv(t *testing.T) {
	t.Setenv("GATEWAYD_TEST_API_SECRET", "sh-should-never-see-this")
	tool := tools.NewShellTool(5 * time.Second)

	result, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{"command": "env"})
	require.NoError(t, err)
	assert.NotContains(t, result.Output, "sh-should-never-see-this")
	for _, line := range strings.Split(result.Output, "\n") {
		assert.NotContains(t, strings.ToUpper(line), "_SECRET=")
	}
}
