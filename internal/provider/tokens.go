package provider

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/aira-gateway/gatewayd/internal/domain"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func initEncoding() {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
}

// CountTokens returns an approximate token count for text. It is accurate
// for OpenAI's cl100k_base family and close enough for Anthropic models,
// which do not publish a public tokenizer; falls back to a word/rune
// heuristic if the encoder failed to load.
func CountTokens(text string) int {
	initEncoding()
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return estimateFast(text)
}

func estimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// contextWindows lists known context window sizes in tokens. Unknown models
// fall back to defaultContextWindow.
var contextWindows = map[string]int{
	"claude-opus-4":       200_000,
	"claude-sonnet-4":     200_000,
	"claude-3-5-sonnet":   200_000,
	"claude-3-5-haiku":    200_000,
	"gpt-4o":              128_000,
	"gpt-4o-mini":         128_000,
	"gpt-4.1":             1_047_576,
	"gpt-4.1-mini":        1_047_576,
	"o3":                  200_000,
	"o4-mini":             200_000,
}

const defaultContextWindow = 128_000

// reservedForResponse is the minimum headroom always left for the model's
// own output, even on a nearly-full context.
const reservedForResponse = 1024

// BudgetMaxTokens computes how many output tokens a request may ask for
// given the model's context window and the size of systemPrompt/messages,
// so a long-running conversation degrades its max_tokens request instead of
// having the provider reject the call outright.
func BudgetMaxTokens(model, systemPrompt string, messages []domain.Message) int {
	window := defaultContextWindow
	for prefix, size := range contextWindows {
		if strings.HasPrefix(model, prefix) {
			window = size
			break
		}
	}

	used := CountTokens(systemPrompt)
	for _, m := range messages {
		used += CountTokens(m.Text)
		for _, b := range m.Blocks {
			used += CountTokens(b.Text) + CountTokens(b.Content)
		}
	}

	remaining := window - used
	if remaining < reservedForResponse {
		return reservedForResponse
	}
	// Leave the model room to keep using the conversation as context on the
	// next turn rather than spending the entire remaining budget on output.
	if remaining > 8192 {
		return 8192
	}
	return remaining
}
