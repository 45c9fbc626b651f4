package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aira-gateway/gatewayd/internal/agent"
	"github.com/aira-gateway/gatewayd/internal/domain"
	"github.com/aira-gateway/gatewayd/internal/transport"
)

func newTestGateway() *Gateway {
	return &Gateway{
		startedAt:  time.Now(),
		conns:      make(map[*transport.Conn]struct{}),
		activeRuns: make(map[domain.RunID]*domain.ActiveRun),
	}
}

func TestDispatch_UnknownMethodReturnsMethodNotFound(t *testing.T) {
	t.Parallel()
	g := newTestGateway()

	resp := g.Dispatch(context.Background(), nil, &transport.Request{
		ID:     json.RawMessage(`1`),
		Method: "does.not.exist",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, transport.CodeMethodNotFound, resp.Error.Code)
}

func TestDispatch_HealthCheckRoutesToHandler(t *testing.T) {
	t.Parallel()
	g := newTestGateway()

	resp := g.Dispatch(context.Background(), nil, &transport.Request{
		ID:     json.RawMessage(`1`),
		Method: "health.check",
	})
	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ok", result["status"])
}

func TestDecodeParams_EmptyRawIsNotAnError(t *testing.T) {
	t.Parallel()
	var dst struct{ Foo string }
	rpcErr := decodeParams(nil, &dst)
	assert.Nil(t, rpcErr)
}

func TestDecodeParams_MalformedJSONReturnsInvalidParams(t *testing.T) {
	t.Parallel()
	var dst struct{ Foo string }
	rpcErr := decodeParams(json.RawMessage(`{not json`), &dst)
	require.NotNil(t, rpcErr)
	assert.Equal(t, transport.CodeInvalidParams, rpcErr.Code)
}

func TestDecodeParams_ValidJSONPopulatesDestination(t *testing.T) {
	t.Parallel()
	var dst struct {
		Foo string `json:"foo"`
	}
	rpcErr := decodeParams(json.RawMessage(`{"foo":"bar"}`), &dst)
	require.Nil(t, rpcErr)
	assert.Equal(t, "bar", dst.Foo)
}

func TestParseUUIDParam(t *testing.T) {
	t.Parallel()

	id, rpcErr := parseUUIDParam("sessionKey", "not-a-uuid")
	require.NotNil(t, rpcErr)
	assert.Equal(t, transport.CodeInvalidParams, rpcErr.Code)
	assert.Zero(t, id)

	valid := "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	id, rpcErr = parseUUIDParam("sessionKey", valid)
	require.Nil(t, rpcErr)
	assert.Equal(t, valid, id.String())
}

func TestRpcExecApprove_UnknownApprovalIDIsInvalidParams(t *testing.T) {
	t.Parallel()
	g := newTestGateway()
	g.approvals = agent.NewApprovalCoordinator(nil)

	resp := g.Dispatch(context.Background(), nil, &transport.Request{
		ID:     json.RawMessage(`1`),
		Method: "exec.approve",
		Params: json.RawMessage(`{"approvalId":"3fa85f64-5717-4562-b3fc-2c963f66afa6"}`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, transport.CodeInvalidParams, resp.Error.Code)
}

func TestRpcExecApprove_MalformedApprovalIDIsInvalidParams(t *testing.T) {
	t.Parallel()
	g := newTestGateway()
	g.approvals = agent.NewApprovalCoordinator(nil)

	resp := g.Dispatch(context.Background(), nil, &transport.Request{
		ID:     json.RawMessage(`1`),
		Method: "exec.approve",
		Params: json.RawMessage(`{"approvalId":"not-a-uuid"}`),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, transport.CodeInvalidParams, resp.Error.Code)
}

func TestRpcExecApprove_ResolvesPendingApproval(t *testing.T) {
	t.Parallel()
	idCh := make(chan domain.ApprovalID, 1)
	approvals := agent.NewApprovalCoordinator(func(req domain.ApprovalRequest) {
		idCh <- req.ApprovalID
	})
	g := newTestGateway()
	g.approvals = approvals

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- approvals.Request(context.Background(), "shell", "ls", nil)
	}()

	id := <-idCh
	resp := g.Dispatch(context.Background(), nil, &transport.Request{
		ID:     json.RawMessage(`1`),
		Method: "exec.approve",
		Params: json.RawMessage(fmt.Sprintf(`{"approvalId":%q}`, id.String())),
	})
	require.Nil(t, resp.Error)

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("approval was not resolved")
	}
}

func TestRpcExecDeny_RejectsPendingApprovalWithReason(t *testing.T) {
	t.Parallel()
	idCh := make(chan domain.ApprovalID, 1)
	approvals := agent.NewApprovalCoordinator(func(req domain.ApprovalRequest) {
		idCh <- req.ApprovalID
	})
	g := newTestGateway()
	g.approvals = approvals

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- approvals.Request(context.Background(), "shell", "rm -rf /", nil)
	}()

	id := <-idCh
	resp := g.Dispatch(context.Background(), nil, &transport.Request{
		ID:     json.RawMessage(`1`),
		Method: "exec.deny",
		Params: json.RawMessage(fmt.Sprintf(`{"approvalId":%q,"reason":"too dangerous"}`, id.String())),
	})
	require.Nil(t, resp.Error)

	select {
	case err := <-resultCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too dangerous")
	case <-time.After(2 * time.Second):
		t.Fatal("approval was not resolved")
	}
}

func TestAbortRun_UnknownRunReportsNotFound(t *testing.T) {
	t.Parallel()
	g := newTestGateway()
	assert.False(t, g.abortRun(domain.RunID{}))
}

func TestRegisterAndAbortRun(t *testing.T) {
	t.Parallel()
	g := newTestGateway()

	runID := domain.RunID{}
	ctx, cancel := context.WithCancel(context.Background())
	g.registerRun(&domain.ActiveRun{RunID: runID, Cancel: cancel})

	assert.True(t, g.abortRun(runID))
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected run's context to be cancelled")
	}
	g.unregisterRun(runID)
	assert.False(t, g.abortRun(runID))
}
