// Package agent implements the agent turn runner, tool registry, and
// approval coordinator: the loop that drives a provider
// through successive tool-calling turns until it produces a final answer or
// trips the turn cap.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aira-gateway/gatewayd/internal/audit"
	"github.com/aira-gateway/gatewayd/internal/domain"
	"github.com/aira-gateway/gatewayd/internal/provider"
)

// maxTurns bounds how many provider round-trips a single run may take
// before the runner gives up and reports a synthetic error rather than
// looping forever on a model that keeps calling tools.
const maxTurns = 10

// ErrTurnCapExceeded is returned when a run exhausts maxTurns without the
// provider producing a final response.
var ErrTurnCapExceeded = errors.New("agent: turn cap exceeded")

// preApprovedNote is appended to an approval-gated tool's description for
// unattended (scheduler-driven) runs, so the model knows not to expect a
// human on the other end to grant approval.
const preApprovedNote = "This run is unattended; this tool is pre-approved for this session and will not prompt for confirmation."

// EventSink receives every ChatEvent a run produces, in order, including
// the synthetic turn-cap error if the run is aborted.
type EventSink func(domain.ChatEvent)

// RunOptions parameterizes a single run of the turn runner.
type RunOptions struct {
	RunID        domain.RunID
	SessionKey   domain.SessionKey
	ProviderName string
	Model        string
	SystemPrompt string
	Messages     []domain.Message
	AutoApprove  bool
	WorkingDir   string

	// OnAttachments, if set, is called once per tool execution that
	// produced attachments (the tool.attachments push event). Nil is a
	// valid no-op for callers that do not forward attachments live.
	OnAttachments func(toolName string, attachments []domain.Attachment)

	// Audit receives a tool_exec or tool_denied entry for every tool call
	// this run makes. Nil is a valid no-op (a disabled *audit.Logger's
	// Record is already a no-op, but callers that never open one at all may
	// also leave this nil).
	Audit *audit.Logger
}

// Runner drives the chat/tool-call loop for one run at a time. A single
// Runner is shared across concurrent runs; all of its state is either
// read-only (registries) or itself concurrency-safe.
type Runner struct {
	providers *provider.Registry
	tools     *ToolRegistry
	approvals *ApprovalCoordinator
}

func NewRunner(providers *provider.Registry, tools *ToolRegistry, approvals *ApprovalCoordinator) *Runner {
	return &Runner{providers: providers, tools: tools, approvals: approvals}
}

// RunTurn drives opts.Messages through the provider/tool loop, emitting
// every event to sink, and returns the updated message history (including
// the assistant and tool_result messages produced along the way) so the
// caller can persist it to the session transcript.
func (r *Runner) RunTurn(ctx context.Context, opts RunOptions, sink EventSink) ([]domain.Message, error) {
	p, err := r.providers.Resolve(opts.ProviderName)
	if err != nil {
		sink(domain.ChatEvent{Kind: domain.ChatEventError, Message: err.Error(), Source: domain.ChatEventSourceRunner})
		return opts.Messages, fmt.Errorf("agent.Runner.RunTurn: %w", err)
	}

	messages := append([]domain.Message(nil), opts.Messages...)

	toolDefs := r.tools.Definitions()
	if opts.AutoApprove {
		toolDefs = r.tools.DefinitionsWithNote(preApprovedNote)
	}

	for turn := 0; turn < maxTurns; turn++ {
		stream, err := p.Chat(ctx, provider.Request{
			Model:        opts.Model,
			SystemPrompt: opts.SystemPrompt,
			Messages:     messages,
			Tools:        toolDefs,
		})
		if err != nil {
			sink(domain.ChatEvent{Kind: domain.ChatEventError, Message: err.Error(), Source: domain.ChatEventSourceRunner})
			return messages, fmt.Errorf("agent.Runner.RunTurn: %w", err)
		}

		assistantMsg, toolCalls, streamErr := r.drainStream(stream, sink)
		messages = append(messages, assistantMsg)
		if streamErr != nil {
			return messages, streamErr
		}

		if len(toolCalls) == 0 {
			return messages, nil
		}

		resultBlocks := make([]domain.ContentBlock, 0, len(toolCalls))
		for _, tc := range toolCalls {
			resultBlocks = append(resultBlocks, r.executeToolCall(ctx, opts, tc, sink)...)
		}
		messages = append(messages, domain.Message{Role: domain.RoleToolResult, Blocks: resultBlocks})
	}

	sink(domain.ChatEvent{
		Kind:    domain.ChatEventError,
		Message: "turn cap exceeded without a final response",
		Source:  domain.ChatEventSourceRunner,
	})
	return messages, ErrTurnCapExceeded
}

// drainStream consumes one provider turn's event stream to completion,
// forwarding every event to sink and assembling the assistant message it
// represents, along with the tool calls the model requested.
func (r *Runner) drainStream(stream <-chan domain.ChatEvent, sink EventSink) (domain.Message, []domain.ChatEvent, error) {
	var text strings.Builder
	var blocks []domain.ContentBlock
	var toolCalls []domain.ChatEvent

	flushText := func() {
		if text.Len() == 0 {
			return
		}
		blocks = append(blocks, domain.ContentBlock{Type: domain.ContentText, Text: text.String()})
		text.Reset()
	}

	for ev := range stream {
		switch ev.Kind {
		case domain.ChatEventDelta:
			text.WriteString(ev.Text)
			sink(ev)
		case domain.ChatEventToolCall:
			flushText()
			blocks = append(blocks, domain.ContentBlock{
				Type:  domain.ContentToolUse,
				ID:    ev.ToolCall,
				Name:  ev.ToolName,
				Input: ev.Input,
			})
			toolCalls = append(toolCalls, ev)
			sink(ev)
		case domain.ChatEventFinal:
			flushText()
			sink(ev)
		case domain.ChatEventError:
			flushText()
			sink(ev)
			return domain.Message{Role: domain.RoleAssistant, Blocks: blocks}, toolCalls,
				fmt.Errorf("agent.Runner: %w: %s", errProviderStream, ev.Message)
		}
	}

	flushText()
	return domain.Message{Role: domain.RoleAssistant, Blocks: blocks}, toolCalls, nil
}

var errProviderStream = errors.New("provider stream error")

// approvalSummary renders the one-line summary shown in the
// exec.approval_request push event: the shell tool's command string when
// present, otherwise a generic call description.
func approvalSummary(toolName string, input map[string]any) string {
	if command, ok := input["command"].(string); ok && command != "" {
		return command
	}
	return fmt.Sprintf("run tool %q", toolName)
}

// denialSuffix renders the ": reason" suffix appended to a denied tool
// call's output. Empty when the user denied without a reason.
func denialSuffix(err error) string {
	msg := err.Error()
	if idx := strings.Index(msg, ErrApprovalDenied.Error()+": "); idx >= 0 {
		return ": " + msg[idx+len(ErrApprovalDenied.Error()+": "):]
	}
	return ""
}

// executeToolCall runs a single tool call the model requested, gating it on
// human approval first when the tool demands it, and returns the
// tool_result block for it — a denial or execution error is reported back
// to the model as the tool's output rather than aborting the run, so the
// conversation can continue. The caller collects every call's block from a
// turn into one user message before appending it to history.
func (r *Runner) executeToolCall(ctx context.Context, opts RunOptions, call domain.ChatEvent, sink EventSink) []domain.ContentBlock {
	resultBlock := domain.ContentBlock{Type: domain.ContentToolResult, ToolUseID: call.ToolCall}

	tool, err := r.tools.Get(call.ToolName)
	if err != nil {
		resultBlock.Content = err.Error()
		return []domain.ContentBlock{resultBlock}
	}

	if tool.RequiresApproval() && !opts.AutoApprove {
		summary := approvalSummary(tool.Name(), call.Input)
		if err := r.approvals.Request(ctx, tool.Name(), summary, call.Input); err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				if opts.Audit != nil {
					opts.Audit.Record(audit.KindToolDenied, &opts.SessionKey, tool.Name(), map[string]any{"reason": err.Error()})
				}
			}
			resultBlock.Content = "Command denied by user" + denialSuffix(err)
			return []domain.ContentBlock{resultBlock}
		}
	}

	tc := domain.ToolContext{
		AutoApprove: opts.AutoApprove,
		SessionKey:  opts.SessionKey,
		WorkingDir:  opts.WorkingDir,
		ReportProgress: func(msg string) {
			sink(domain.ChatEvent{Kind: domain.ChatEventProgress, ToolName: tool.Name(), Text: msg, Source: domain.ChatEventSourceRunner})
		},
		RequestApproval: func(ctx context.Context, summary string, details map[string]any) error {
			return r.approvals.Request(ctx, tool.Name(), summary, details)
		},
	}

	out, err := tool.Execute(ctx, tc, call.Input)
	if err != nil {
		resultBlock.Content = fmt.Sprintf("tool error: %v", err)
		return []domain.ContentBlock{resultBlock}
	}

	if len(out.Attachments) > 0 && opts.OnAttachments != nil {
		opts.OnAttachments(tool.Name(), out.Attachments)
	}

	if opts.Audit != nil {
		kind := audit.KindToolExec
		if opts.AutoApprove {
			kind = audit.KindSchedulerRun
		}
		opts.Audit.Record(kind, &opts.SessionKey, tool.Name(), map[string]any{
			"truncated": out.Truncated,
			"exitCode":  out.ExitCode,
		})
	}

	resultBlock.Content = audit.Filter(out.Output)
	return []domain.ContentBlock{resultBlock}
}
