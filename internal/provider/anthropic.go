package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aira-gateway/gatewayd/internal/domain"
)

const anthropicAPIURL = "https://api.anthropic.com/v1/messages"

// AnthropicProvider adapts Anthropic's Messages API content-block streaming
// protocol onto the domain.ChatEvent sequence.
type AnthropicProvider struct {
	apiKey string
	client *http.Client
}

// NewAnthropicProvider builds a provider using the given API key. The key is
// read by the caller from the environment only; secrets never live in the
// config file.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: 0},
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

type anthropicTextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolUseBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type anthropicToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

func toAnthropicMessages(messages []domain.Message) []anthropicMessage {
	out := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		role := string(m.Role)
		if m.Role == domain.RoleToolResult {
			role = "user"
		}

		var content []any
		if m.HasBlocks() {
			for _, b := range m.Blocks {
				switch b.Type {
				case domain.ContentText:
					content = append(content, anthropicTextBlock{Type: "text", Text: b.Text})
				case domain.ContentToolUse:
					content = append(content, anthropicToolUseBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: b.Input})
				case domain.ContentToolResult:
					content = append(content, anthropicToolResultBlock{Type: "tool_result", ToolUseID: b.ToolUseID, Content: b.Content})
				}
			}
		} else {
			content = append(content, anthropicTextBlock{Type: "text", Text: m.Text})
		}

		out = append(out, anthropicMessage{Role: role, Content: content})
	}
	return out
}

func (p *AnthropicProvider) Chat(ctx context.Context, req Request) (<-chan domain.ChatEvent, error) {
	tools := make([]anthropicTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = BudgetMaxTokens(req.Model, req.SystemPrompt, req.Messages)
	}

	body, err := json.Marshal(anthropicRequest{
		Model:     req.Model,
		System:    req.SystemPrompt,
		Messages:  toAnthropicMessages(req.Messages),
		Tools:     tools,
		MaxTokens: maxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("provider.AnthropicProvider.Chat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider.AnthropicProvider.Chat: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider.AnthropicProvider.Chat: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider.AnthropicProvider.Chat: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	events := make(chan domain.ChatEvent)
	go p.streamEvents(ctx, resp.Body, events)
	return events, nil
}

// anthropicEvent mirrors the subset of Messages API SSE event fields this
// adapter needs. Every event type carries a different shape; unused fields
// are simply left zero.
type anthropicEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Message struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *AnthropicProvider) streamEvents(ctx context.Context, body io.ReadCloser, out chan<- domain.ChatEvent) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	buffers := make(map[int]*toolCallBuffer)
	var usage domain.Usage

	emit := func(ev domain.ChatEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var ev anthropicEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock.Type == "tool_use" {
				buffers[ev.Index] = &toolCallBuffer{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if !emit(domain.ChatEvent{Kind: domain.ChatEventDelta, Text: ev.Delta.Text, Source: domain.ChatEventSourceProvider}) {
					return
				}
			case "input_json_delta":
				if buf, ok := buffers[ev.Index]; ok {
					buf.appendArgs(ev.Delta.PartialJSON)
				}
			}
		case "content_block_stop":
			if buf, ok := buffers[ev.Index]; ok {
				input := buf.finalize()
				callJSON, _ := json.Marshal(input)
				if !emit(domain.ChatEvent{
					Kind:     domain.ChatEventToolCall,
					ToolName: buf.name,
					ToolCall: buf.id,
					Input:    input,
					Text:     string(callJSON),
					Source:   domain.ChatEventSourceProvider,
				}) {
					return
				}
				delete(buffers, ev.Index)
			}
		case "message_delta":
			if ev.Usage.OutputTokens > 0 {
				usage.OutputTokens = ev.Usage.OutputTokens
			}
		case "message_start":
			if ev.Message.Usage.InputTokens > 0 {
				usage.InputTokens = ev.Message.Usage.InputTokens
			}
		case "message_stop":
			emit(domain.ChatEvent{Kind: domain.ChatEventFinal, Usage: usage, Source: domain.ChatEventSourceProvider})
			return
		case "error":
			emit(domain.ChatEvent{Kind: domain.ChatEventError, Message: ev.Error.Message, Source: domain.ChatEventSourceProvider})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-ctx.Done():
		default:
			emit(domain.ChatEvent{Kind: domain.ChatEventError, Message: fmt.Sprintf("stream read error: %v", err), Source: domain.ChatEventSourceProvider})
		}
	}
}
