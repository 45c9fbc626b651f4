package domain

import "github.com/google/uuid"

// ApprovalID identifies one pending or resolved approval request.
type ApprovalID = uuid.UUID

// ApprovalRequest is created by a tool at invocation time and resolved
// exactly once, either approved or denied. Both repeated resolution and
// unknown-id resolution are explicit no-ops that report "not found".
type ApprovalRequest struct {
	ApprovalID ApprovalID     `json:"approvalId"`
	ToolName   string         `json:"toolName"`
	Summary    string         `json:"summary"`
	Details    map[string]any `json:"details"`
}
