package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aira-gateway/gatewayd/internal/agent"
	"github.com/aira-gateway/gatewayd/internal/domain"
)

func TestApprovalCoordinator_ResolveUnblocksRequest(t *testing.T) {
	t.Parallel()

	var captured domain.ApprovalRequest
	c := agent.NewApprovalCoordinator(func(req domain.ApprovalRequest) { captured = req })

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Request(context.Background(), "shell", "run ls", map[string]any{"cmd": "ls"})
	}()

	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "shell", captured.ToolName)

	require.NoError(t, c.Resolve(captured.ApprovalID))
	require.NoError(t, <-errCh)
	assert.Equal(t, 0, c.PendingCount())
}

func TestApprovalCoordinator_RejectDenies(t *testing.T) {
	t.Parallel()

	var id domain.ApprovalID
	c := agent.NewApprovalCoordinator(func(req domain.ApprovalRequest) { id = req.ApprovalID })

	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Request(context.Background(), "shell", "run rm -rf", nil)
	}()

	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, c.Reject(id))

	err := <-errCh
	require.ErrorIs(t, err, agent.ErrApprovalDenied)
}

func TestApprovalCoordinator_ResolveTwiceFailsSecondTime(t *testing.T) {
	t.Parallel()

	var id domain.ApprovalID
	c := agent.NewApprovalCoordinator(func(req domain.ApprovalRequest) { id = req.ApprovalID })

	go func() { _ = c.Request(context.Background(), "shell", "run ls", nil) }()
	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Resolve(id))
	err := c.Resolve(id)
	require.ErrorIs(t, err, agent.ErrNoPendingApproval)
}

func TestApprovalCoordinator_ContextCancelUnblocksRequest(t *testing.T) {
	t.Parallel()

	c := agent.NewApprovalCoordinator(nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- c.Request(ctx, "shell", "run ls", nil) }()

	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("request did not unblock on context cancellation")
	}
	assert.Equal(t, 0, c.PendingCount())
}

func TestApprovalCoordinator_ResolveUnknownIDErrors(t *testing.T) {
	t.Parallel()
	c := agent.NewApprovalCoordinator(nil)
	err := c.Resolve(domain.ApprovalID{})
	require.ErrorIs(t, err, agent.ErrNoPendingApproval)
}
