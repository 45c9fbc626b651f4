package domain

import (
	"time"

	"github.com/google/uuid"
)

// SessionKey identifies a Session. Sessions are 128-bit random keys minted
// by the session store; they are never derived from user input.
type SessionKey = uuid.UUID

// Session is a persistent conversation context. The core never deletes a
// Session; it is mutated only by appending to its transcript.
type Session struct {
	Key       SessionKey `json:"key"`
	AgentID   string     `json:"agentId"`
	Label     string     `json:"label,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Role enumerates the roles a TranscriptEvent or Message may carry.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// TranscriptEvent is one append-only record in a session's transcript.
// Partial or malformed trailing records encountered on read are discarded
// silently rather than surfaced as an error.
type TranscriptEvent struct {
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	RunID           string    `json:"runId,omitempty"`
	ToolName        string    `json:"toolName,omitempty"`
	AttachmentCount int       `json:"attachmentCount,omitempty"`
}
