package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aira-gateway/gatewayd/internal/domain"
)

// recentRunsLimit is how many of a job's most recent runs get() includes.
const recentRunsLimit = 5

// scheduleStore is the subset of scheduler.Engine the schedule tool needs.
// Defined locally to avoid a tools -> scheduler import for the whole
// engine's surface.
type scheduleStore interface {
	CreateJob(ctx context.Context, job *domain.ScheduledJob) error
	GetJob(ctx context.Context, id string) (*domain.ScheduledJob, error)
	ListJobs(ctx context.Context) ([]domain.ScheduledJob, error)
	UpdateJob(ctx context.Context, job *domain.ScheduledJob) error
	DeleteJob(ctx context.Context, id string) error
	ListRuns(ctx context.Context, jobID string, limit int) ([]domain.JobRun, error)
}

// ScheduleTool lets the model manage its own scheduled jobs: create, list,
// get, update, delete, all without a human approval gate,
// since it only ever schedules future invocations of the same agent loop
// the model is already running inside.
type ScheduleTool struct {
	engine  scheduleStore
	agentID string
}

func NewScheduleTool(engine scheduleStore, agentID string) *ScheduleTool {
	return &ScheduleTool{engine: engine, agentID: agentID}
}

func (t *ScheduleTool) Name() string { return "schedule" }

func (t *ScheduleTool) Definition() domain.ToolDefinition {
	return domain.ToolDefinition{
		Name: "schedule",
		Description: "Manages scheduled jobs that re-run a prompt on a cron schedule. " +
			"action is one of create, list, get, update, delete.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{"type": "string", "enum": []string{"create", "list", "get", "update", "delete"}},
				"id":     map[string]any{"type": "string", "description": "required for get, update, delete"},
				"name":   map[string]any{"type": "string"},
				"cron":   map[string]any{"type": "string", "description": "5-field cron expression"},
				"prompt": map[string]any{"type": "string"},
				"enabled": map[string]any{"type": "boolean"},
			},
			"required": []string{"action"},
		},
	}
}

func (t *ScheduleTool) RequiresApproval() bool { return false }

func (t *ScheduleTool) Execute(ctx context.Context, tc domain.ToolContext, input map[string]any) (domain.ToolResult, error) {
	action, _ := input["action"].(string)

	switch action {
	case "create":
		return t.create(ctx, input)
	case "list":
		return t.list(ctx)
	case "get":
		return t.get(ctx, input)
	case "update":
		return t.update(ctx, input)
	case "delete":
		return t.delete(ctx, input)
	default:
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: unknown action %q", action)
	}
}

func (t *ScheduleTool) create(ctx context.Context, input map[string]any) (domain.ToolResult, error) {
	name, _ := input["name"].(string)
	cronExpr, _ := input["cron"].(string)
	prompt, _ := input["prompt"].(string)
	if name == "" || cronExpr == "" || prompt == "" {
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: create requires %q, %q, %q", "name", "cron", "prompt")
	}

	now := time.Now()
	job := &domain.ScheduledJob{
		ID:             uuid.New().String(),
		Name:           name,
		CronExpression: cronExpr,
		Prompt:         prompt,
		AgentID:        t.agentID,
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := t.engine.CreateJob(ctx, job); err != nil {
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: %w", err)
	}
	return jobResult(job)
}

func (t *ScheduleTool) list(ctx context.Context) (domain.ToolResult, error) {
	jobs, err := t.engine.ListJobs(ctx)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: %w", err)
	}
	if len(jobs) == 0 {
		return domain.ToolResult{Output: "no scheduled jobs"}, nil
	}
	var b strings.Builder
	for i, job := range jobs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(jobLine(&job))
	}
	return domain.ToolResult{Output: b.String()}, nil
}

func (t *ScheduleTool) get(ctx context.Context, input map[string]any) (domain.ToolResult, error) {
	id, _ := input["id"].(string)
	if id == "" {
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: get requires %q", "id")
	}
	job, err := t.engine.GetJob(ctx, id)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: %w", err)
	}
	runs, err := t.engine.ListRuns(ctx, id, recentRunsLimit)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", job.ID)
	fmt.Fprintf(&b, "name: %s\n", job.Name)
	fmt.Fprintf(&b, "cron: %s\n", job.CronExpression)
	fmt.Fprintf(&b, "prompt: %s\n", job.Prompt)
	fmt.Fprintf(&b, "agentId: %s\n", job.AgentID)
	fmt.Fprintf(&b, "enabled: %t\n", job.Enabled)
	fmt.Fprintf(&b, "createdAt: %s\n", job.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "updatedAt: %s\n", job.UpdatedAt.Format(time.RFC3339))

	if len(runs) == 0 {
		b.WriteString("runs: none yet")
		return domain.ToolResult{Output: b.String()}, nil
	}
	b.WriteString(fmt.Sprintf("runs (%d most recent):\n", len(runs)))
	for i, run := range runs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(runLine(&run))
	}
	return domain.ToolResult{Output: b.String()}, nil
}

func (t *ScheduleTool) update(ctx context.Context, input map[string]any) (domain.ToolResult, error) {
	id, _ := input["id"].(string)
	if id == "" {
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: update requires %q", "id")
	}

	job, err := t.engine.GetJob(ctx, id)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: %w", err)
	}

	if name, ok := input["name"].(string); ok && name != "" {
		job.Name = name
	}
	if cronExpr, ok := input["cron"].(string); ok && cronExpr != "" {
		job.CronExpression = cronExpr
	}
	if prompt, ok := input["prompt"].(string); ok && prompt != "" {
		job.Prompt = prompt
	}
	if enabled, ok := input["enabled"].(bool); ok {
		job.Enabled = enabled
	}
	job.UpdatedAt = time.Now()

	if err := t.engine.UpdateJob(ctx, job); err != nil {
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: %w", err)
	}
	return jobResult(job)
}

func (t *ScheduleTool) delete(ctx context.Context, input map[string]any) (domain.ToolResult, error) {
	id, _ := input["id"].(string)
	if id == "" {
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: delete requires %q", "id")
	}
	if err := t.engine.DeleteJob(ctx, id); err != nil {
		return domain.ToolResult{}, fmt.Errorf("tools.ScheduleTool: %w", err)
	}
	return domain.ToolResult{Output: "deleted " + id}, nil
}

// jobResult is the confirmation text create and update return: a single
// job's line-form summary, the same format list uses per row.
func jobResult(job *domain.ScheduledJob) (domain.ToolResult, error) {
	return domain.ToolResult{Output: jobLine(job)}, nil
}

// jobLine renders a job as one line: id, enabled state, cron expression,
// and a last-run summary if it has run at least once.
func jobLine(job *domain.ScheduledJob) string {
	state := "disabled"
	if job.Enabled {
		state = "enabled"
	}
	lastRun := "never run"
	if job.LastRunAt != nil {
		status := "unknown"
		if job.LastRunStatus != nil {
			status = string(*job.LastRunStatus)
		}
		summary := ""
		if job.LastRunSummary != nil {
			summary = ": " + *job.LastRunSummary
		}
		lastRun = fmt.Sprintf("last run %s (%s)%s", job.LastRunAt.Format(time.RFC3339), status, summary)
	}
	return fmt.Sprintf("%s [%s] %q %s — %s", job.ID, state, job.Name, job.CronExpression, lastRun)
}

// runLine renders one JobRun as a single line: id, started/finished
// timestamps, status, and whatever summary or error it recorded.
func runLine(run *domain.JobRun) string {
	finished := "still running"
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Format(time.RFC3339)
	}
	detail := ""
	if run.Error != nil {
		detail = ": " + *run.Error
	} else if run.Summary != nil {
		detail = ": " + *run.Summary
	}
	return fmt.Sprintf("%s started %s finished %s [%s]%s", run.ID, run.StartedAt.Format(time.RFC3339), finished, run.Status, detail)
}
