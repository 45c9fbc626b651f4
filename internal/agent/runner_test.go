package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aira-gateway/gatewayd/internal/agent"
	"github.com/aira-gateway/gatewayd/internal/domain"
	"github.com/aira-gateway/gatewayd/internal/provider"
)

type scriptedProvider struct {
	name    string
	replies [][]domain.ChatEvent
	call    int
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Chat(ctx context.Context, req provider.Request) (<-chan domain.ChatEvent, error) {
	idx := p.call
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	p.call++

	ch := make(chan domain.ChatEvent, len(p.replies[idx]))
	for _, ev := range p.replies[idx] {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

type echoTool struct {
	requiresApproval bool
}

func (t *echoTool) Name() string { return "echo" }
func (t *echoTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{Name: "echo", Description: "echoes input"}
}
func (t *echoTool) RequiresApproval() bool { return t.requiresApproval }
func (t *echoTool) Execute(ctx context.Context, tc domain.ToolContext, input map[string]any) (domain.ToolResult, error) {
	return domain.ToolResult{Output: "echoed"}, nil
}

func TestRunner_NoToolCallsReturnsImmediately(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "stub", replies: [][]domain.ChatEvent{
		{
			{Kind: domain.ChatEventDelta, Text: "hello"},
			{Kind: domain.ChatEventFinal},
		},
	}}

	registry := provider.NewRegistry([]string{"stub"})
	registry.Register(p)

	runner := agent.NewRunner(registry, agent.NewToolRegistry(), agent.NewApprovalCoordinator(nil))

	var events []domain.ChatEvent
	messages, err := runner.RunTurn(context.Background(), agent.RunOptions{
		ProviderName: "stub",
		Model:        "test-model",
	}, func(ev domain.ChatEvent) { events = append(events, ev) })

	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, domain.RoleAssistant, messages[0].Role)
	assert.Equal(t, "hello", messages[0].Blocks[0].Text)
	assert.Len(t, events, 2)
}

func TestRunner_ExecutesToolCallAndLoops(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "stub", replies: [][]domain.ChatEvent{
		{
			{Kind: domain.ChatEventToolCall, ToolName: "echo", ToolCall: "call-1", Input: map[string]any{}},
			{Kind: domain.ChatEventFinal},
		},
		{
			{Kind: domain.ChatEventDelta, Text: "done"},
			{Kind: domain.ChatEventFinal},
		},
	}}

	registry := provider.NewRegistry([]string{"stub"})
	registry.Register(p)

	tools := agent.NewToolRegistry()
	tools.Register(&echoTool{})

	runner := agent.NewRunner(registry, tools, agent.NewApprovalCoordinator(nil))

	messages, err := runner.RunTurn(context.Background(), agent.RunOptions{
		ProviderName: "stub",
		Model:        "test-model",
		AutoApprove:  true,
	}, func(domain.ChatEvent) {})

	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, domain.RoleAssistant, messages[0].Role)
	assert.Equal(t, domain.RoleToolResult, messages[1].Role)
	assert.Equal(t, "echoed", messages[1].Blocks[0].Content)
	assert.Equal(t, domain.RoleAssistant, messages[2].Role)
}

func TestRunner_ToolRequiringApprovalWaitsForCoordinator(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "stub", replies: [][]domain.ChatEvent{
		{
			{Kind: domain.ChatEventToolCall, ToolName: "echo", ToolCall: "call-1", Input: map[string]any{}},
			{Kind: domain.ChatEventFinal},
		},
		{
			{Kind: domain.ChatEventFinal},
		},
	}}

	registry := provider.NewRegistry([]string{"stub"})
	registry.Register(p)

	tools := agent.NewToolRegistry()
	tools.Register(&echoTool{requiresApproval: true})

	var pendingID domain.ApprovalID
	coordinator := agent.NewApprovalCoordinator(func(req domain.ApprovalRequest) {
		pendingID = req.ApprovalID
	})

	resultCh := make(chan []domain.Message, 1)
	go func() {
		runner := agent.NewRunner(registry, tools, coordinator)
		messages, err := runner.RunTurn(context.Background(), agent.RunOptions{
			ProviderName: "stub",
			Model:        "test-model",
		}, func(domain.ChatEvent) {})
		require.NoError(t, err)
		resultCh <- messages
	}()

	require.Eventually(t, func() bool { return coordinator.PendingCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, coordinator.Resolve(pendingID))

	select {
	case messages := <-resultCh:
		require.Len(t, messages, 3)
		assert.Equal(t, "echoed", messages[1].Blocks[0].Content)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not complete after approval")
	}
}

func TestRunner_TurnCapExceeded(t *testing.T) {
	t.Parallel()

	loopReply := []domain.ChatEvent{
		{Kind: domain.ChatEventToolCall, ToolName: "echo", ToolCall: "call-n", Input: map[string]any{}},
		{Kind: domain.ChatEventFinal},
	}
	replies := make([][]domain.ChatEvent, 0, 20)
	for i := 0; i < 20; i++ {
		replies = append(replies, loopReply)
	}

	p := &scriptedProvider{name: "stub", replies: replies}
	registry := provider.NewRegistry([]string{"stub"})
	registry.Register(p)

	tools := agent.NewToolRegistry()
	tools.Register(&echoTool{})

	runner := agent.NewRunner(registry, tools, agent.NewApprovalCoordinator(nil))

	var events []domain.ChatEvent
	_, err := runner.RunTurn(context.Background(), agent.RunOptions{
		ProviderName: "stub",
		Model:        "test-model",
		AutoApprove:  true,
	}, func(ev domain.ChatEvent) { events = append(events, ev) })

	require.ErrorIs(t, err, agent.ErrTurnCapExceeded)
	last := events[len(events)-1]
	assert.Equal(t, domain.ChatEventError, last.Kind)
	assert.Equal(t, domain.ChatEventSourceRunner, last.Source)
}
