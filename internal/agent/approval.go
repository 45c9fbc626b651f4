package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aira-gateway/gatewayd/internal/domain"
)

// ErrApprovalDenied is returned to the blocked tool call when a human denies
// the request.
var ErrApprovalDenied = errors.New("agent: approval denied")

// ErrNoPendingApproval is returned when Resolve or Reject names an
// approvalId that is not currently outstanding (already resolved, expired,
// or never issued).
var ErrNoPendingApproval = errors.New("agent: no pending approval for id")

type approvalResult struct {
	approved bool
	reason   string
}

// ApprovalCoordinator suspends a tool call pending a human decision using a
// oneshot channel per approvalId: Request blocks on a buffered channel that
// Resolve/Reject writes to exactly once, so a slow or absent human response
// blocks only the one call awaiting it, never the rest of the gateway.
type ApprovalCoordinator struct {
	mu      sync.Mutex
	pending map[domain.ApprovalID]chan approvalResult

	// onRequest notifies the transport layer of a newly pending approval so
	// it can push an exec.approval_request event to the browser. May be nil in
	// tests.
	onRequest func(domain.ApprovalRequest)
}

func NewApprovalCoordinator(onRequest func(domain.ApprovalRequest)) *ApprovalCoordinator {
	return &ApprovalCoordinator{
		pending:   make(map[domain.ApprovalID]chan approvalResult),
		onRequest: onRequest,
	}
}

// Request blocks until a human approves or denies toolName's invocation, or
// ctx is cancelled. A denial surfaces as ErrApprovalDenied so the tool call
// site can report it back to the model as a failed tool_result rather than
// treating it as an unexpected error.
func (c *ApprovalCoordinator) Request(ctx context.Context, toolName, summary string, details map[string]any) error {
	id := uuid.New()
	ch := make(chan approvalResult, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if c.onRequest != nil {
		c.onRequest(domain.ApprovalRequest{
			ApprovalID: id,
			ToolName:   toolName,
			Summary:    summary,
			Details:    details,
		})
	}

	select {
	case res := <-ch:
		if !res.approved {
			if res.reason != "" {
				return fmt.Errorf("%w: %s", ErrApprovalDenied, res.reason)
			}
			return ErrApprovalDenied
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Resolve grants a pending approval. Calling it a second time for the same
// id, or calling it for an id that was never pending, returns
// ErrNoPendingApproval rather than panicking on a closed/missing channel —
// resolving exactly once is an invariant the coordinator enforces, not one
// callers must track themselves.
func (c *ApprovalCoordinator) Resolve(id domain.ApprovalID) error {
	return c.settle(id, approvalResult{approved: true})
}

// Reject denies a pending approval. An optional reason is relayed back to
// the blocked Request call and, from there, into the tool_result the model
// sees as exec.deny's optional reason field.
func (c *ApprovalCoordinator) Reject(id domain.ApprovalID, reason ...string) error {
	r := ""
	if len(reason) > 0 {
		r = reason[0]
	}
	return c.settle(id, approvalResult{approved: false, reason: r})
}

func (c *ApprovalCoordinator) settle(id domain.ApprovalID, res approvalResult) error {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("agent.ApprovalCoordinator: %w: %s", ErrNoPendingApproval, id)
	}
	ch <- res
	return nil
}

// HasPending reports whether id is still awaiting a decision.
func (c *ApprovalCoordinator) HasPending(id domain.ApprovalID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	return ok
}

// PendingCount returns the number of approvals currently awaiting a
// decision. Exposed as a debug/metrics hook.
func (c *ApprovalCoordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
