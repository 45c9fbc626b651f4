package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/aira-gateway/gatewayd/internal/agent"
	"github.com/aira-gateway/gatewayd/internal/domain"
	"github.com/aira-gateway/gatewayd/internal/transport"
)

// Dispatch validates and routes one JSON-RPC request, returning the
// Response frame to send back. It never panics on malformed input: schema
// failures become -32602, unknown methods -32601.
func (g *Gateway) Dispatch(ctx context.Context, conn *transport.Conn, req *transport.Request) transport.Response {
	handler, ok := methodTable[req.Method]
	if !ok {
		return errorResponse(req.ID, transport.CodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}

	result, rpcErr := handler(g, ctx, conn, req.Params)
	if rpcErr != nil {
		return transport.Response{ID: req.ID, Error: rpcErr}
	}
	return transport.Response{ID: req.ID, Result: result}
}

type methodHandler func(g *Gateway, ctx context.Context, conn *transport.Conn, params json.RawMessage) (any, *transport.RPCError)

var methodTable = map[string]methodHandler{
	"health.check":     (*Gateway).rpcHealthCheck,
	"agents.list":      (*Gateway).rpcAgentsList,
	"sessions.create":  (*Gateway).rpcSessionsCreate,
	"sessions.list":    (*Gateway).rpcSessionsList,
	"sessions.get":     (*Gateway).rpcSessionsGet,
	"chat.send":        (*Gateway).rpcChatSend,
	"chat.history":     (*Gateway).rpcChatHistory,
	"chat.abort":       (*Gateway).rpcChatAbort,
	"exec.approve":     (*Gateway).rpcExecApprove,
	"exec.deny":        (*Gateway).rpcExecDeny,
	"memory.search":    (*Gateway).rpcMemorySearch,
	"scheduler.list":   (*Gateway).rpcSchedulerList,
	"scheduler.get":    (*Gateway).rpcSchedulerGet,
	"scheduler.runs":   (*Gateway).rpcSchedulerRuns,
}

func errorResponse(id json.RawMessage, code int, msg string) transport.Response {
	return transport.Response{ID: id, Error: transport.NewRPCError(code, msg)}
}

func invalidParams(field, why string) *transport.RPCError {
	return transport.NewRPCError(transport.CodeInvalidParams, fmt.Sprintf("invalid params: %s %s", field, why))
}

func internalErr(err error) *transport.RPCError {
	return transport.NewRPCError(transport.CodeInternalError, err.Error())
}

func decodeParams(raw json.RawMessage, dst any) *transport.RPCError {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return transport.NewRPCError(transport.CodeInvalidParams, "malformed params: "+err.Error())
	}
	return nil
}

func parseUUIDParam(field, value string) (uuid.UUID, *transport.RPCError) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.UUID{}, invalidParams(field, "must be a UUID")
	}
	return id, nil
}

// --- health.check ---

func (g *Gateway) rpcHealthCheck(_ context.Context, _ *transport.Conn, _ json.RawMessage) (any, *transport.RPCError) {
	return map[string]any{"status": "ok", "uptime": time.Since(g.startedAt).Seconds()}, nil
}

// --- agents.list ---

func (g *Gateway) rpcAgentsList(_ context.Context, _ *transport.Conn, _ json.RawMessage) (any, *transport.RPCError) {
	defs, err := g.workspace.Agents()
	if err != nil {
		return nil, internalErr(err)
	}
	agents := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		model := d.Model
		if d.Provider != "" {
			model = d.Provider + "/" + d.Model
		}
		agents = append(agents, map[string]any{
			"id":          d.ID,
			"model":       model,
			"description": d.Description,
		})
	}
	return map[string]any{"agents": agents}, nil
}

// --- sessions.* ---

type sessionsCreateParams struct {
	AgentID string `json:"agentId"`
}

func (g *Gateway) rpcSessionsCreate(_ context.Context, _ *transport.Conn, params json.RawMessage) (any, *transport.RPCError) {
	var p sessionsCreateParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	agentID := p.AgentID
	if agentID == "" {
		agentID = g.cfg.Agents.Default
	}

	sess, err := g.sessions.Create(agentID)
	if err != nil {
		return nil, internalErr(err)
	}
	return map[string]any{"sessionKey": sess.Key, "meta": sess}, nil
}

func (g *Gateway) rpcSessionsList(_ context.Context, _ *transport.Conn, _ json.RawMessage) (any, *transport.RPCError) {
	sessions, err := g.sessions.List()
	if err != nil {
		return nil, internalErr(err)
	}
	return map[string]any{"sessions": sessions}, nil
}

type sessionsGetParams struct {
	SessionKey string `json:"sessionKey"`
}

func (g *Gateway) rpcSessionsGet(_ context.Context, _ *transport.Conn, params json.RawMessage) (any, *transport.RPCError) {
	var p sessionsGetParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	key, rpcErr := parseUUIDParam("sessionKey", p.SessionKey)
	if rpcErr != nil {
		return nil, rpcErr
	}

	sess, err := g.sessions.Get(key)
	if err != nil {
		return nil, internalErr(err)
	}
	if sess == nil {
		return nil, transport.NewRPCError(transport.CodeInternalError, "session not found")
	}

	events, err := g.sessions.ReadEvents(key)
	if err != nil {
		return nil, internalErr(err)
	}
	return map[string]any{"session": sess, "messages": events}, nil
}

// --- chat.* ---

type chatSendParams struct {
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
}

// rpcChatSend appends the user's message to the session transcript,
// mints a runId, and starts the agent turn in a goroutine so the RPC
// response ({runId}) returns immediately; streaming results of the
// accepted request arrive as push events tagged with the runId.
func (g *Gateway) rpcChatSend(ctx context.Context, conn *transport.Conn, params json.RawMessage) (any, *transport.RPCError) {
	var p chatSendParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if len(p.Message) == 0 || len(p.Message) > 32000 {
		return nil, invalidParams("message", "must be 1..32000 characters")
	}
	key, rpcErr := parseUUIDParam("sessionKey", p.SessionKey)
	if rpcErr != nil {
		return nil, rpcErr
	}

	sess, err := g.sessions.Get(key)
	if err != nil {
		return nil, internalErr(err)
	}
	if sess == nil {
		return nil, transport.NewRPCError(transport.CodeInternalError, "session not found")
	}

	if err := g.sessions.AppendEvent(key, domain.TranscriptEvent{
		Role:      domain.RoleUser,
		Content:   p.Message,
		Timestamp: time.Now(),
	}); err != nil {
		return nil, internalErr(err)
	}
	_ = g.sessions.Touch(key)

	runID := uuid.New()
	runCtx, cancel := context.WithCancel(context.Background())
	g.registerRun(&domain.ActiveRun{RunID: runID, SessionKey: key, Cancel: cancel})

	go g.runLiveTurn(runCtx, sess, runID)

	return map[string]any{"runId": runID}, nil
}

// runLiveTurn drives one live chat turn to completion, forwarding every
// ChatEvent as a push event and persisting the resulting messages to the
// session transcript. It always removes the run from the active set when
// done, whatever the outcome.
func (g *Gateway) runLiveTurn(ctx context.Context, sess *domain.Session, runID domain.RunID) {
	defer g.unregisterRun(runID)

	binding, err := g.resolveAgentBinding(sess.AgentID)
	if err != nil {
		g.broadcast("chat.error", map[string]any{"runId": runID, "message": err.Error()})
		return
	}

	events, err := g.sessions.ReadEvents(sess.Key)
	if err != nil {
		g.broadcast("chat.error", map[string]any{"runId": runID, "message": err.Error()})
		return
	}
	messages := transcriptToMessages(events)

	aborted := false
	sink := func(ev domain.ChatEvent) {
		select {
		case <-ctx.Done():
			aborted = true
			return
		default:
		}
		switch ev.Kind {
		case domain.ChatEventDelta:
			g.broadcast("chat.delta", map[string]any{"runId": runID, "text": ev.Text})
		case domain.ChatEventProgress:
			g.broadcast("tool.progress", map[string]any{"runId": runID, "tool": ev.ToolName, "message": ev.Text})
		case domain.ChatEventFinal:
			g.broadcast("chat.final", map[string]any{"runId": runID, "usage": ev.Usage})
		case domain.ChatEventError:
			g.broadcast("chat.error", map[string]any{"runId": runID, "message": ev.Message})
		}
	}

	result, runErr := g.runner.RunTurn(ctx, agent.RunOptions{
		RunID:        runID,
		SessionKey:   sess.Key,
		ProviderName: binding.provider,
		Model:        binding.model,
		SystemPrompt: binding.systemPrompt,
		Messages:     messages,
		WorkingDir:   g.cfg.Agents.WorkspacePath,
		OnAttachments: func(toolName string, attachments []domain.Attachment) {
			g.broadcast("tool.attachments", map[string]any{"runId": runID, "tool": toolName, "attachments": attachments})
		},
		Audit: g.auditLog,
	}, sink)
	if runErr != nil {
		log.Debug().Err(runErr).Str("run_id", runID.String()).Msg("gateway.runLiveTurn: run ended with error")
	}
	if aborted {
		return
	}

	g.persistNewMessages(sess.Key, messages, result)
}

// persistNewMessages appends every message in result beyond the length of
// before to the session transcript, translating the content-block message
// model back into the three-role transcript record shape.
func (g *Gateway) persistNewMessages(key domain.SessionKey, before, after []domain.Message) {
	for _, m := range after[len(before):] {
		if m.Role == domain.RoleToolResult {
			for _, b := range m.Blocks {
				ev := domain.TranscriptEvent{Timestamp: time.Now(), Role: domain.RoleToolResult, Content: b.Content}
				if err := g.sessions.AppendEvent(key, ev); err != nil {
					log.Error().Err(err).Str("session", key.String()).Msg("gateway.persistNewMessages: append failed")
				}
			}
			continue
		}

		ev := domain.TranscriptEvent{Timestamp: time.Now()}
		switch m.Role {
		case domain.RoleAssistant:
			ev.Role = domain.RoleAssistant
			ev.Content = assistantText(m)
		default:
			ev.Role = domain.RoleUser
			ev.Content = m.Text
		}
		if err := g.sessions.AppendEvent(key, ev); err != nil {
			log.Error().Err(err).Str("session", key.String()).Msg("gateway.persistNewMessages: append failed")
		}
	}
}

func assistantText(m domain.Message) string {
	for _, b := range m.Blocks {
		if b.Type == domain.ContentText {
			return b.Text
		}
	}
	return ""
}

// transcriptToMessages filters a session's transcript down to user and
// assistant roles for replay to the provider. tool_result context between
// turns is intentionally dropped: a resumed turn re-derives whatever tool
// output it still needs by calling the tool again rather than replaying
// stale results.
func transcriptToMessages(events []domain.TranscriptEvent) []domain.Message {
	var out []domain.Message
	for _, ev := range events {
		switch ev.Role {
		case domain.RoleUser:
			out = append(out, domain.Message{Role: domain.RoleUser, Text: ev.Content})
		case domain.RoleAssistant:
			out = append(out, domain.Message{Role: domain.RoleAssistant, Text: ev.Content})
		}
	}
	return out
}

type chatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit"`
}

func (g *Gateway) rpcChatHistory(_ context.Context, _ *transport.Conn, params json.RawMessage) (any, *transport.RPCError) {
	var p chatHistoryParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	key, rpcErr := parseUUIDParam("sessionKey", p.SessionKey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	limit := p.Limit
	if limit == 0 {
		limit = 100
	}
	if limit < 1 || limit > 500 {
		return nil, invalidParams("limit", "must be 1..500")
	}

	events, err := g.sessions.LastEvents(key, limit)
	if err != nil {
		return nil, internalErr(err)
	}
	return map[string]any{"messages": events}, nil
}

type chatAbortParams struct {
	RunID string `json:"runId"`
}

func (g *Gateway) rpcChatAbort(_ context.Context, _ *transport.Conn, params json.RawMessage) (any, *transport.RPCError) {
	var p chatAbortParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	runID, rpcErr := parseUUIDParam("runId", p.RunID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	g.abortRun(runID)
	return map[string]any{"ok": true}, nil
}

// --- exec.* ---

type execApproveParams struct {
	ApprovalID string `json:"approvalId"`
}

func (g *Gateway) rpcExecApprove(_ context.Context, _ *transport.Conn, params json.RawMessage) (any, *transport.RPCError) {
	var p execApproveParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := parseUUIDParam("approvalId", p.ApprovalID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := g.approvals.Resolve(id); err != nil {
		return nil, invalidParams("approvalId", "not found")
	}
	return map[string]any{"ok": true}, nil
}

type execDenyParams struct {
	ApprovalID string `json:"approvalId"`
	Reason     string `json:"reason"`
}

func (g *Gateway) rpcExecDeny(_ context.Context, _ *transport.Conn, params json.RawMessage) (any, *transport.RPCError) {
	var p execDenyParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := parseUUIDParam("approvalId", p.ApprovalID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := g.approvals.Reject(id, p.Reason); err != nil {
		return nil, invalidParams("approvalId", "not found")
	}
	return map[string]any{"ok": true}, nil
}

// --- memory.search ---

type memorySearchParams struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

func (g *Gateway) rpcMemorySearch(_ context.Context, _ *transport.Conn, params json.RawMessage) (any, *transport.RPCError) {
	var p memorySearchParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.Query == "" {
		return nil, invalidParams("query", "must not be empty")
	}
	k := p.K
	if k == 0 {
		k = 10
	}
	if k < 1 || k > 50 {
		return nil, invalidParams("k", "must be 1..50")
	}

	results, err := g.memory.Search(p.Query, k)
	if err != nil {
		return nil, internalErr(err)
	}
	return map[string]any{"results": results}, nil
}

// --- scheduler.* ---

type schedulerListParams struct {
	EnabledOnly bool `json:"enabledOnly"`
}

func (g *Gateway) rpcSchedulerList(ctx context.Context, _ *transport.Conn, params json.RawMessage) (any, *transport.RPCError) {
	var p schedulerListParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	jobs, err := g.sched.ListJobs(ctx)
	if err != nil {
		return nil, internalErr(err)
	}
	if p.EnabledOnly {
		filtered := jobs[:0]
		for _, j := range jobs {
			if j.Enabled {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}
	return map[string]any{"jobs": jobs}, nil
}

type schedulerGetParams struct {
	ID string `json:"id"`
}

func (g *Gateway) rpcSchedulerGet(ctx context.Context, _ *transport.Conn, params json.RawMessage) (any, *transport.RPCError) {
	var p schedulerGetParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.ID == "" {
		return nil, invalidParams("id", "must not be empty")
	}
	job, err := g.sched.GetJob(ctx, p.ID)
	if err != nil {
		return nil, internalErr(err)
	}
	return map[string]any{"job": job}, nil
}

type schedulerRunsParams struct {
	JobID string `json:"jobId"`
	Limit int    `json:"limit"`
}

func (g *Gateway) rpcSchedulerRuns(ctx context.Context, _ *transport.Conn, params json.RawMessage) (any, *transport.RPCError) {
	var p schedulerRunsParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.JobID == "" {
		return nil, invalidParams("jobId", "must not be empty")
	}
	limit := p.Limit
	if limit == 0 {
		limit = 20
	}
	if limit < 1 || limit > 100 {
		return nil, invalidParams("limit", "must be 1..100")
	}

	runs, err := g.sched.ListRuns(ctx, p.JobID, limit)
	if err != nil {
		return nil, internalErr(err)
	}
	return map[string]any{"runs": runs}, nil
}

// agentBinding is the resolved (provider, model, system prompt) triple a
// turn actually runs against.
type agentBinding struct {
	provider     string
	model        string
	systemPrompt string
}

// resolveAgentBinding reads agentID's AGENTS.md entry (falling back to the
// configured default agent when agentID names nothing) and assembles the
// system prompt from SOUL.md/TOOLS.md. Provider fallback when the named
// provider is unavailable is handled downstream by provider.Registry.Resolve.
func (g *Gateway) resolveAgentBinding(agentID string) (agentBinding, error) {
	if agentID == "" {
		agentID = g.cfg.Agents.Default
	}

	def, err := g.workspace.Agent(agentID)
	if err != nil {
		return agentBinding{}, fmt.Errorf("gateway: resolve agent %q: %w", agentID, err)
	}

	prompt, err := g.workspace.SystemPrompt()
	if err != nil {
		return agentBinding{}, fmt.Errorf("gateway: system prompt: %w", err)
	}

	if def == nil {
		return agentBinding{systemPrompt: prompt}, nil
	}
	return agentBinding{provider: def.Provider, model: def.Model, systemPrompt: prompt}, nil
}
