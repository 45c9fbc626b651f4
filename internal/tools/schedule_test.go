package tools_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aira-gateway/gatewayd/internal/domain"
	"github.com/aira-gateway/gatewayd/internal/tools"
)

type fakeScheduleEngine struct {
	jobs map[string]*domain.ScheduledJob
}

func newFakeScheduleEngine() *fakeScheduleEngine {
	return &fakeScheduleEngine{jobs: make(map[string]*domain.ScheduledJob)}
}

func (f *fakeScheduleEngine) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeScheduleEngine) GetJob(ctx context.Context, id string) (*domain.ScheduledJob, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeScheduleEngine) ListJobs(ctx context.Context) ([]domain.ScheduledJob, error) {
	out := make([]domain.ScheduledJob, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (f *fakeScheduleEngine) UpdateJob(ctx context.Context, job *domain.ScheduledJob) error {
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeScheduleEngine) DeleteJob(ctx context.Context, id string) error {
	delete(f.jobs, id)
	return nil
}

func (f *fakeScheduleEngine) ListRuns(ctx context.Context, jobID string, limit int) ([]domain.JobRun, error) {
	return nil, nil
}

func TestScheduleTool_CreateStoresJob(t *testing.T) {
	t.Parallel()
	engine := newFakeScheduleEngine()
	tool := tools.NewScheduleTool(engine, "assistant")

	result, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{
		"action": "create",
		"name":   "daily digest",
		"cron":   "0 8 * * *",
		"prompt": "summarize yesterday",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "daily digest")
	assert.Len(t, engine.jobs, 1)
}

func TestScheduleTool_RequiresApprovalIsFalse(t *testing.T) {
	t.Parallel()
	tool := tools.NewScheduleTool(newFakeScheduleEngine(), "assistant")
	assert.False(t, tool.RequiresApproval())
}

func TestScheduleTool_ListReturnsAllJobs(t *testing.T) {
	t.Parallel()
	engine := newFakeScheduleEngine()
	tool := tools.NewScheduleTool(engine, "assistant")

	_, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{
		"action": "create", "name": "a", "cron": "0 8 * * *", "prompt": "p",
	})
	require.NoError(t, err)

	result, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{"action": "list"})
	require.NoError(t, err)
	assert.Contains(t, result.Output, `"a"`)
}

func TestScheduleTool_UpdateDisablesJob(t *testing.T) {
	t.Parallel()
	engine := newFakeScheduleEngine()
	tool := tools.NewScheduleTool(engine, "assistant")

	created, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{
		"action": "create", "name": "a", "cron": "0 8 * * *", "prompt": "p",
	})
	require.NoError(t, err)

	var id string
	for jobID := range engine.jobs {
		id = jobID
	}
	require.NotEmpty(t, id)

	_, err = tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{
		"action": "update", "id": id, "enabled": false,
	})
	require.NoError(t, err)
	assert.False(t, engine.jobs[id].Enabled)
	_ = created
}

func TestScheduleTool_DeleteRemovesJob(t *testing.T) {
	t.Parallel()
	engine := newFakeScheduleEngine()
	engine.jobs["job-1"] = &domain.ScheduledJob{ID: "job-1"}
	tool := tools.NewScheduleTool(engine, "assistant")

	_, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{"action": "delete", "id": "job-1"})
	require.NoError(t, err)
	assert.Len(t, engine.jobs, 0)
}

func TestScheduleTool_UnknownActionErrors(t *testing.T) {
	t.Parallel()
	tool := tools.NewScheduleTool(newFakeScheduleEngine(), "assistant")
	_, err := tool.Execute(context.Background(), domain.ToolContext{}, map[string]any{"action": "bogus"})
	assert.Error(t, err)
}
