package provider

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// toolCallBuffer accumulates a tool call's name and incrementally streamed
// JSON argument fragments, keyed by the provider's own call index/id, until
// the stream signals the call is complete.
type toolCallBuffer struct {
	id   string
	name string
	args strings.Builder
}

func (b *toolCallBuffer) appendArgs(fragment string) {
	b.args.WriteString(fragment)
}

// finalize parses the accumulated argument JSON into a map. Streamed tool
// call arguments occasionally arrive truncated or with trailing garbage
// (a provider-side framing bug, not a local one) — a direct json.Unmarshal
// failure is retried through jsonrepair before giving up, matching how the
// corpus treats malformed LLM-sourced JSON elsewhere. A call whose arguments
// cannot be recovered at all still surfaces, with an empty input map, rather
// than being dropped silently.
func (b *toolCallBuffer) finalize() map[string]any {
	raw := b.args.String()
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return out
	}

	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return map[string]any{}
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return map[string]any{}
	}
	return out
}
