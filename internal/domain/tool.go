package domain

import "context"

// ToolDefinition is what gets handed to a provider so the model knows the
// tool exists and how to call it.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Attachment is binary output a tool produced alongside its text result.
type Attachment struct {
	Type     string `json:"type"` // "image" | "file"
	MimeType string `json:"mimeType"`
	Base64   string `json:"base64data"`
	Name     string `json:"name,omitempty"`
}

// ToolResult is what a Tool.Execute call returns. Output is always a
// string even on failure — tool-level errors are reported to the model as
// output, never propagated as Go errors across the runner boundary.
type ToolResult struct {
	Output      string       `json:"output"`
	ExitCode    *int         `json:"exitCode,omitempty"`
	Truncated   bool         `json:"truncated,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ToolContext carries the per-invocation state a Tool needs to execute:
// whether it may skip the approval gate, and callbacks for pushing
// progress/attachments back to a live connection. All fields are safe to
// leave at their zero value for a no-op context (the scheduler's
// auto-approve path sets AutoApprove and leaves the callbacks as no-ops).
type ToolContext struct {
	AutoApprove bool

	// SessionKey identifies the chat session the call belongs to, so a tool
	// that keeps per-session state (the headless browser tool keeps one tab
	// per session) can isolate it correctly.
	SessionKey SessionKey

	// ReportProgress is called zero or more times during Execute to narrate
	// per-step status. Nil is a valid no-op.
	ReportProgress func(message string)

	// RequestApproval suspends until a human approves/denies, or returns
	// immediately with AutoApprove=true. Tools that require approval call
	// this before doing anything side-effecting.
	RequestApproval func(ctx context.Context, summary string, details map[string]any) error

	// WorkingDir is the directory side-effecting tools should default to
	// when the tool input does not specify one.
	WorkingDir string
}

// Tool is a named side-effecting capability with a JSON-schema input.
type Tool interface {
	Name() string
	Definition() ToolDefinition
	RequiresApproval() bool
	Execute(ctx context.Context, tc ToolContext, input map[string]any) (ToolResult, error)
}
