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

const openAIAPIURL = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider adapts the Chat Completions delta/tool-call-index streaming
// protocol onto the domain.ChatEvent sequence.
type OpenAIProvider struct {
	apiKey string
	client *http.Client
}

func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: 0},
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	Tools     []openAITool    `json:"tools,omitempty"`
	MaxTokens int             `json:"max_completion_tokens,omitempty"`
	Stream    bool            `json:"stream"`
}

func toOpenAIMessages(systemPrompt string, messages []domain.Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openAIMessage{Role: "system", Content: systemPrompt})
	}

	for _, m := range messages {
		if !m.HasBlocks() {
			out = append(out, openAIMessage{Role: string(m.Role), Content: m.Text})
			continue
		}

		msg := openAIMessage{Role: string(m.Role)}
		for _, b := range m.Blocks {
			switch b.Type {
			case domain.ContentText:
				msg.Content += b.Text
			case domain.ContentToolUse:
				inputJSON, _ := json.Marshal(b.Input)
				tc := openAIToolCall{ID: b.ID, Type: "function"}
				tc.Function.Name = b.Name
				tc.Function.Arguments = string(inputJSON)
				msg.ToolCalls = append(msg.ToolCalls, tc)
			case domain.ContentToolResult:
				out = append(out, openAIMessage{Role: "tool", ToolCallID: b.ToolUseID, Content: b.Content})
				continue
			}
		}
		out = append(out, msg)
	}
	return out
}

func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (<-chan domain.ChatEvent, error) {
	tools := make([]openAITool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, openAITool{
			Type: "function",
			Function: openAIFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = BudgetMaxTokens(req.Model, req.SystemPrompt, req.Messages)
	}

	body, err := json.Marshal(openAIRequest{
		Model:     req.Model,
		Messages:  toOpenAIMessages(req.SystemPrompt, req.Messages),
		Tools:     tools,
		MaxTokens: maxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("provider.OpenAIProvider.Chat: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIAPIURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider.OpenAIProvider.Chat: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider.OpenAIProvider.Chat: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider.OpenAIProvider.Chat: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	events := make(chan domain.ChatEvent)
	go p.streamEvents(ctx, resp.Body, events)
	return events, nil
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) streamEvents(ctx context.Context, body io.ReadCloser, out chan<- domain.ChatEvent) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	buffers := make(map[int]*toolCallBuffer)
	var usage domain.Usage
	finished := false

	emit := func(ev domain.ChatEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	flushToolCalls := func() bool {
		for i := 0; i < len(buffers); i++ {
			buf, ok := buffers[i]
			if !ok {
				continue
			}
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
				return false
			}
		}
		return true
	}

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage.CompletionTokens > 0 {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if !emit(domain.ChatEvent{Kind: domain.ChatEventDelta, Text: choice.Delta.Content, Source: domain.ChatEventSourceProvider}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			buf, ok := buffers[tc.Index]
			if !ok {
				buf = &toolCallBuffer{}
				buffers[tc.Index] = buf
			}
			if tc.ID != "" {
				buf.id = tc.ID
			}
			if tc.Function.Name != "" {
				buf.name = tc.Function.Name
			}
			buf.appendArgs(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			finished = true
			if !flushToolCalls() {
				return
			}
			emit(domain.ChatEvent{Kind: domain.ChatEventFinal, Usage: usage, Source: domain.ChatEventSourceProvider})
			return
		}
	}

	if !finished {
		if err := scanner.Err(); err != nil {
			select {
			case <-ctx.Done():
			default:
				emit(domain.ChatEvent{Kind: domain.ChatEventError, Message: fmt.Sprintf("stream read error: %v", err), Source: domain.ChatEventSourceProvider})
			}
			return
		}
		if !flushToolCalls() {
			return
		}
		emit(domain.ChatEvent{Kind: domain.ChatEventFinal, Usage: usage, Source: domain.ChatEventSourceProvider})
	}
}
