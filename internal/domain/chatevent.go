package domain

// ChatEventKind discriminates the ChatEvent tagged union emitted by a
// provider's chat stream.
type ChatEventKind string

const (
	ChatEventDelta    ChatEventKind = "delta"
	ChatEventToolCall ChatEventKind = "tool_call"
	ChatEventFinal    ChatEventKind = "final"
	ChatEventError    ChatEventKind = "error"
	ChatEventProgress ChatEventKind = "progress"
)

// ChatEventSource distinguishes a synthetic runner-generated error event
// (e.g. turn-cap exhaustion) from one that actually came from the provider.
// It is an internal field only — the wire push event payload for chat.error
// stays {runId, message}.
type ChatEventSource string

const (
	ChatEventSourceProvider ChatEventSource = "provider"
	ChatEventSourceRunner   ChatEventSource = "runner"
)

// Usage reports token accounting for one provider.chat call.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// ChatEvent is the tagged union a provider's lazy stream yields. Exactly one
// of the Kind-specific fields is meaningful for a given Kind.
type ChatEvent struct {
	Kind ChatEventKind

	// delta, progress
	Text string

	// tool_call, progress (progress narrates the tool currently running)
	ToolName string
	ToolCall string // call ID, correlates with the next tool_result
	Input    map[string]any

	// final
	Usage Usage

	// error
	Message string
	Source  ChatEventSource
}
