// Package gateway wires the transport, session, agent, tool, approval, and
// scheduler layers into the running process: it owns the
// HTTP/WebSocket listener, the JSON-RPC method table, the set of live
// connections push events fan out to, and the bookkeeping (active runs,
// agent-provider resolution) that a bare RPC dispatcher would otherwise
// have nowhere to live.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/aira-gateway/gatewayd/internal/agent"
	"github.com/aira-gateway/gatewayd/internal/audit"
	"github.com/aira-gateway/gatewayd/internal/config"
	"github.com/aira-gateway/gatewayd/internal/domain"
	"github.com/aira-gateway/gatewayd/internal/memory"
	"github.com/aira-gateway/gatewayd/internal/provider"
	"github.com/aira-gateway/gatewayd/internal/scheduler"
	"github.com/aira-gateway/gatewayd/internal/session"
	"github.com/aira-gateway/gatewayd/internal/transport"
	"github.com/aira-gateway/gatewayd/internal/workspace"
)

// Gateway is the single process-wide instance binding every core component
// together. Its exported surface is deliberately narrow: Router for
// net/http wiring, and the lifecycle methods main calls at startup/shutdown.
type Gateway struct {
	cfg   *config.Config
	token string

	sessions  *session.Store
	workspace *workspace.Workspace
	providers *provider.Registry
	tools     *agent.ToolRegistry
	approvals *agent.ApprovalCoordinator
	runner    *agent.Runner
	sched     *scheduler.Engine
	auditLog  *audit.Logger
	memory    memory.Searcher

	startedAt time.Time

	mu         sync.Mutex
	conns      map[*transport.Conn]struct{}
	activeRuns map[domain.RunID]*domain.ActiveRun
}

// New creates a Gateway with its connection/run bookkeeping ready but no
// domain components attached yet. The approval coordinator needs a
// reference to the Gateway's broadcast method before it can be
// constructed, and the runner needs the coordinator, so callers build the
// rest of the dependency graph around this value and finish wiring it with
// Configure before serving any traffic.
func New(cfg *config.Config, token string) *Gateway {
	return &Gateway{
		cfg:        cfg,
		token:      token,
		startedAt:  time.Now(),
		conns:      make(map[*transport.Conn]struct{}),
		activeRuns: make(map[domain.RunID]*domain.ActiveRun),
	}
}

// Configure attaches the domain components. Must be called exactly once,
// before Router is used.
func (g *Gateway) Configure(
	sessions *session.Store,
	ws *workspace.Workspace,
	providers *provider.Registry,
	tools *agent.ToolRegistry,
	approvals *agent.ApprovalCoordinator,
	runner *agent.Runner,
	sched *scheduler.Engine,
	auditLog *audit.Logger,
	mem memory.Searcher,
) {
	g.sessions = sessions
	g.workspace = ws
	g.providers = providers
	g.tools = tools
	g.approvals = approvals
	g.runner = runner
	g.sched = sched
	g.auditLog = auditLog
	g.memory = mem

	sched.OnRunCompleted(g.onSchedulerRunCompleted)
}

// Router returns the http.Handler serving /health and the /ws upgrade.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", g.handleHealth)
	r.Get("/ws", g.handleWS)
	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(g.startedAt).Seconds(),
	})
}

// handleWS upgrades the connection, drives the auth handshake, then loops
// reading JSON-RPC requests until the client disconnects. Every accepted
// connection is registered in g.conns for the lifetime of the loop so
// push events (approval requests, chat streaming, scheduler completions)
// reach it.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Accept(w, r)
	if err != nil {
		log.Warn().Err(err).Msg("gateway: rejected websocket upgrade")
		return
	}

	ctx := r.Context()
	if err := conn.Authenticate(ctx, g.token); err != nil {
		log.Warn().Err(err).Msg("gateway: auth handshake failed")
		return
	}

	g.addConn(conn)
	defer g.removeConn(conn)

	for {
		req, err := conn.ReadRequest(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrMalformedFrame) {
				parseErrResp := transport.Response{Error: transport.NewRPCError(transport.CodeParseError, "parse error")}
				if err := conn.Respond(ctx, parseErrResp); err != nil {
					return
				}
				continue
			}
			return
		}
		resp := g.Dispatch(ctx, conn, req)
		if err := conn.Respond(ctx, resp); err != nil {
			return
		}
	}
}

func (g *Gateway) addConn(c *transport.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c] = struct{}{}
}

func (g *Gateway) removeConn(c *transport.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, c)
}

// broadcast pushes event/data to every currently connected client,
// best-effort: pushes are silently dropped if a socket has closed. There
// is normally exactly one connected browser tab, but nothing here assumes
// that.
func (g *Gateway) broadcast(event string, data any) {
	g.mu.Lock()
	conns := make([]*transport.Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	ctx := context.Background()
	for _, c := range conns {
		if err := c.Push(ctx, event, data); err != nil {
			log.Debug().Err(err).Str("event", event).Msg("gateway: push failed, dropping")
		}
	}
}

// BroadcastApproval is the ApprovalCoordinator's onRequest callback: it
// pushes exec.approval_request to every connected client, after Request
// has set up the pending entry.
func (g *Gateway) BroadcastApproval(req domain.ApprovalRequest) {
	g.broadcast("exec.approval_request", map[string]any{
		"approvalId": req.ApprovalID,
		"toolName":   req.ToolName,
		"summary":    req.Summary,
		"details":    req.Details,
	})
}

// onSchedulerRunCompleted is the scheduler.Engine's completion callback: it
// pushes scheduler.run_completed.
func (g *Gateway) onSchedulerRunCompleted(rc scheduler.RunCompletion) {
	payload := map[string]any{
		"jobId":   rc.Job.ID,
		"jobName": rc.Job.Name,
		"runId":   rc.Run.ID,
		"status":  string(rc.Run.Status),
	}
	if rc.Run.SessionKey != nil {
		payload["sessionKey"] = *rc.Run.SessionKey
	}
	if rc.Run.Summary != nil {
		payload["summary"] = *rc.Run.Summary
	}
	if rc.Run.Error != nil {
		payload["error"] = *rc.Run.Error
	}
	g.broadcast("scheduler.run_completed", payload)
}

// registerRun tracks a newly started live run so chat.abort can cancel it.
func (g *Gateway) registerRun(run *domain.ActiveRun) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activeRuns[run.RunID] = run
}

// unregisterRun removes a run once it reaches a terminal state.
func (g *Gateway) unregisterRun(id domain.RunID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.activeRuns, id)
}

// abortRun cancels a live run's context, if it is still active. Reports
// whether a run was found.
func (g *Gateway) abortRun(id domain.RunID) bool {
	g.mu.Lock()
	run, ok := g.activeRuns[id]
	g.mu.Unlock()
	if !ok {
		return false
	}
	run.Cancel()
	return true
}

// Shutdown drains the scheduler and closes every live connection. It does
// not attempt to gracefully finish in-flight chat turns — abort does not
// forcibly cancel tool executions either, and the process shutdown path is
// coarser still.
func (g *Gateway) Shutdown() {
	g.sched.Stop()

	g.mu.Lock()
	conns := make([]*transport.Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}

// writeJSON writes v as the JSON response body with status, for the plain
// net/http health endpoint that sits alongside the JSON-RPC surface.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("gateway: failed to write JSON response")
	}
}
