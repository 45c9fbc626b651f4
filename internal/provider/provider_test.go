package provider_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aira-gateway/gatewayd/internal/domain"
	"github.com/aira-gateway/gatewayd/internal/provider"
)

type stubProvider struct{ name string }

func (s *stubProvider) Name() string { return s.name }
func (s *stubProvider) Chat(ctx context.Context, req provider.Request) (<-chan domain.ChatEvent, error) {
	ch := make(chan domain.ChatEvent, 1)
	ch <- domain.ChatEvent{Kind: domain.ChatEventFinal}
	close(ch)
	return ch, nil
}

func TestRegistry_ResolveByName(t *testing.T) {
	t.Parallel()
	r := provider.NewRegistry([]string{"openai", "anthropic"})
	r.Register(&stubProvider{name: "anthropic"})
	r.Register(&stubProvider{name: "openai"})

	p, err := r.Resolve("anthropic")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestRegistry_ResolveFallsBackInOrder(t *testing.T) {
	t.Parallel()
	r := provider.NewRegistry([]string{"openai", "anthropic"})
	r.Register(&stubProvider{name: "anthropic"})

	p, err := r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestRegistry_ResolveUnknownErrors(t *testing.T) {
	t.Parallel()
	r := provider.NewRegistry([]string{"openai"})
	_, err := r.Resolve("")
	assert.Error(t, err)
}

func TestBudgetMaxTokens_NeverBelowReserved(t *testing.T) {
	t.Parallel()
	huge := make([]domain.Message, 0, 100)
	for i := 0; i < 100; i++ {
		huge = append(huge, domain.Message{Role: domain.RoleUser, Text: longText(5000)})
	}

	got := provider.BudgetMaxTokens("claude-opus-4", "", huge)
	assert.GreaterOrEqual(t, got, 1024)
}

func TestBudgetMaxTokens_UnknownModelUsesDefaultWindow(t *testing.T) {
	t.Parallel()
	got := provider.BudgetMaxTokens("some-unreleased-model", "hello", nil)
	assert.Greater(t, got, 0)
}

func TestCountTokens_EmptyIsZero(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, provider.CountTokens(""))
}

func longText(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
