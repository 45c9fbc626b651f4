package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolCallBuffer_WellFormedJSON(t *testing.T) {
	t.Parallel()
	buf := &toolCallBuffer{name: "search"}
	buf.appendArgs(`{"query":"golang"}`)

	got := buf.finalize()
	assert.Equal(t, "golang", got["query"])
}

func TestToolCallBuffer_FragmentedJSON(t *testing.T) {
	t.Parallel()
	buf := &toolCallBuffer{name: "search"}
	buf.appendArgs(`{"query":`)
	buf.appendArgs(`"golang"}`)

	got := buf.finalize()
	assert.Equal(t, "golang", got["query"])
}

func TestToolCallBuffer_RepairsTruncatedJSON(t *testing.T) {
	t.Parallel()
	buf := &toolCallBuffer{name: "search"}
	// Missing closing brace and quote, as if the stream cut off mid-value.
	buf.appendArgs(`{"query":"golan`)

	got := buf.finalize()
	assert.NotNil(t, got)
}

func TestToolCallBuffer_EmptyArgsYieldsEmptyMap(t *testing.T) {
	t.Parallel()
	buf := &toolCallBuffer{name: "noop"}

	got := buf.finalize()
	assert.Equal(t, map[string]any{}, got)
}
