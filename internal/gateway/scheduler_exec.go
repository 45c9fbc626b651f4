package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aira-gateway/gatewayd/internal/agent"
	"github.com/aira-gateway/gatewayd/internal/domain"
	"github.com/aira-gateway/gatewayd/internal/provider"
)

// schedulerFallbackModel names the default model used when the engine falls
// back to a provider other than the one the job's agent binding named.
var schedulerFallbackModel = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-haiku-latest",
}

// approvalRequestPhrases are the lowercased substrings that mark an
// assistant reply as an approval request rather than a completed answer.
var approvalRequestPhrases = []string{"approve", "approval", "proceed", "permission", "confirm"}

// preApprovedPreamble is prepended to the scheduler's system prompt: it
// tells the model this run is unattended before the turn starts, on top of
// the per-tool note DefinitionsWithNote appends.
const preApprovedPreamble = "This is an unattended scheduled run. All tools are pre-approved; do not ask for confirmation or wait for a human response. Complete the task and report the result."

// retryPreamble is appended as a second user turn when the model's first
// reply reads as an approval request despite the preamble: it reasserts
// pre-approval once before giving up.
const retryPreamble = "Reminder: this is an unattended run and every tool is already pre-approved. Do not ask for permission — proceed and complete the task now."

// ExecuteScheduledJob is the scheduler.JobExecutor implementation, passed
// to scheduler.NewEngine as the method value g.ExecuteScheduledJob.
func (g *Gateway) ExecuteScheduledJob(ctx context.Context, job domain.ScheduledJob) (summary, sessionKey string, err error) {
	sess, err := g.sessions.Create(job.AgentID)
	if err != nil {
		return "", "", fmt.Errorf("gateway.ExecuteScheduledJob: create session: %w", err)
	}
	sessionKey = sess.Key.String()

	if err := g.sessions.AppendEvent(sess.Key, domain.TranscriptEvent{
		Role:      domain.RoleUser,
		Content:   job.Prompt,
		Timestamp: time.Now(),
	}); err != nil {
		return "", sessionKey, fmt.Errorf("gateway.ExecuteScheduledJob: append prompt: %w", err)
	}

	binding, err := g.resolveAgentBinding(job.AgentID)
	if err != nil {
		return "", sessionKey, fmt.Errorf("gateway.ExecuteScheduledJob: resolve agent: %w", err)
	}

	prompt, err := g.workspace.SchedulerSystemPrompt()
	if err != nil {
		return "", sessionKey, fmt.Errorf("gateway.ExecuteScheduledJob: system prompt: %w", err)
	}
	systemPrompt := preApprovedPreamble + "\n\n" + prompt

	messages := []domain.Message{{Role: domain.RoleUser, Text: job.Prompt}}

	runFn := func(msgs []domain.Message) ([]domain.Message, error) {
		return g.runner.RunTurn(ctx, agent.RunOptions{
			SessionKey:   sess.Key,
			ProviderName: binding.provider,
			Model:        resolveModelWithFallback(g.providers, binding),
			SystemPrompt: systemPrompt,
			Messages:     msgs,
			AutoApprove:  true,
			WorkingDir:   g.cfg.Agents.WorkspacePath,
			Audit:        g.auditLog,
		}, func(domain.ChatEvent) {})
	}

	result, runErr := runFn(messages)
	if runErr != nil {
		return "", sessionKey, fmt.Errorf("gateway.ExecuteScheduledJob: %w", runErr)
	}

	text := finalAssistantText(result, len(messages))
	if looksLikeApprovalRequest(text, result, len(messages)) {
		messages = append(result, domain.Message{Role: domain.RoleUser, Text: retryPreamble})
		result, runErr = runFn(messages)
		if runErr != nil {
			return "", sessionKey, fmt.Errorf("gateway.ExecuteScheduledJob: retry: %w", runErr)
		}
		text = finalAssistantText(result, len(messages))
	}

	if text == "" {
		text = "(no output)"
	}

	if err := g.sessions.AppendEvent(sess.Key, domain.TranscriptEvent{
		Role:      domain.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
	}); err != nil {
		return text, sessionKey, fmt.Errorf("gateway.ExecuteScheduledJob: append result: %w", err)
	}

	return text, sessionKey, nil
}

// resolveModelWithFallback returns binding.model unless the registry
// actually resolves ProviderName to a different provider than the one
// named, in which case it returns that provider's default model.
func resolveModelWithFallback(providers *provider.Registry, binding agentBinding) string {
	p, err := providers.Resolve(binding.provider)
	if err != nil {
		return binding.model
	}
	if p.Name() == binding.provider {
		return binding.model
	}
	if model, ok := schedulerFallbackModel[p.Name()]; ok {
		return model
	}
	return binding.model
}

// finalAssistantText finds the last assistant text block produced since
// before (the turn's starting message count), for logging into the
// transcript and the run summary.
func finalAssistantText(messages []domain.Message, before int) string {
	for i := len(messages) - 1; i >= before; i-- {
		if messages[i].Role != domain.RoleAssistant {
			continue
		}
		for _, b := range messages[i].Blocks {
			if b.Type == domain.ContentText && b.Text != "" {
				return b.Text
			}
		}
	}
	return ""
}

// looksLikeApprovalRequest reports whether the turn produced no tool calls
// and its final assistant text reads like a request for permission.
func looksLikeApprovalRequest(text string, messages []domain.Message, before int) bool {
	if text == "" {
		return false
	}
	for i := before; i < len(messages); i++ {
		for _, b := range messages[i].Blocks {
			if b.Type == domain.ContentToolUse {
				return false
			}
		}
	}
	lower := strings.ToLower(text)
	for _, phrase := range approvalRequestPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
