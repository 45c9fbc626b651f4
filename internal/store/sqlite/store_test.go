package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aira-gateway/gatewayd/internal/domain"
	"github.com/aira-gateway/gatewayd/internal/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlite.Open(filepath.Join(dir, "gatewayd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newJob(id string) *domain.ScheduledJob {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.ScheduledJob{
		ID:             id,
		Name:           "daily digest",
		CronExpression: "0 8 * * *",
		Prompt:         "summarize yesterday",
		AgentID:        "assistant",
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	job := newJob("job-1")
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.Name, got.Name)
	assert.Equal(t, job.CronExpression, got.CronExpression)
	assert.True(t, got.Enabled)
	assert.Nil(t, got.LastRunAt)
}

func TestGetJob_UnknownIDReturnsErrNotFound(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	_, err := store.GetJob(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListJobs_ReturnsAllCreated(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("job-1")))
	require.NoError(t, store.CreateJob(ctx, newJob("job-2")))

	jobs, err := store.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestUpdateJob_PersistsChanges(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	job := newJob("job-1")
	require.NoError(t, store.CreateJob(ctx, job))

	job.Enabled = false
	job.Name = "renamed"
	job.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.UpdateJob(ctx, job))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "renamed", got.Name)
}

func TestUpdateJob_UnknownIDReturnsErrNotFound(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	err := store.UpdateJob(context.Background(), newJob("ghost"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteJob_RemovesJobAndItsRuns(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("job-1")))
	require.NoError(t, store.RecordRunStart(ctx, &domain.JobRun{
		ID: "run-1", JobID: "job-1", StartedAt: time.Now(), Status: domain.JobRunRunning,
	}))

	require.NoError(t, store.DeleteJob(ctx, "job-1"))

	_, err := store.GetJob(ctx, "job-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	runs, err := store.ListRuns(ctx, "job-1", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRecordRunStartAndFinish_UpdatesJobSummary(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("job-1")))
	require.NoError(t, store.RecordRunStart(ctx, &domain.JobRun{
		ID: "run-1", JobID: "job-1", StartedAt: time.Now(), Status: domain.JobRunRunning,
	}))

	midway, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, midway.LastRunStatus)
	assert.Equal(t, domain.JobRunRunning, *midway.LastRunStatus)

	summary := "sent 3 messages"
	require.NoError(t, store.RecordRunFinish(ctx, "run-1", domain.JobRunSuccess, &summary, nil, time.Now()))

	got, err := store.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastRunStatus)
	assert.Equal(t, domain.JobRunSuccess, *got.LastRunStatus)
	require.NotNil(t, got.LastRunSummary)
	assert.Equal(t, summary, *got.LastRunSummary)
}

func TestRecordRunFinish_UnknownRunIDReturnsErrNotFound(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	err := store.RecordRunFinish(context.Background(), "ghost-run", domain.JobRunError, nil, nil, time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetRunSession_PersistsSessionKeyOntoRunRow(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("job-1")))
	require.NoError(t, store.RecordRunStart(ctx, &domain.JobRun{
		ID: "run-1", JobID: "job-1", StartedAt: time.Now(), Status: domain.JobRunRunning,
	}))

	require.NoError(t, store.SetRunSession(ctx, "run-1", "session-abc"))

	runs, err := store.ListRuns(ctx, "job-1", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].SessionKey)
	assert.Equal(t, "session-abc", *runs[0].SessionKey)
}

func TestSetRunSession_UnknownRunIDReturnsErrNotFound(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	err := store.SetRunSession(context.Background(), "ghost-run", "session-abc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListRuns_ReturnsMostRecentFirstAndRespectsLimit(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, newJob("job-1")))
	base := time.Now().UTC()
	for i, id := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, store.RecordRunStart(ctx, &domain.JobRun{
			ID: id, JobID: "job-1", StartedAt: base.Add(time.Duration(i) * time.Minute), Status: domain.JobRunRunning,
		}))
	}

	runs, err := store.ListRuns(ctx, "job-1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)
}

func TestListRuns_UnknownJobIDReturnsEmpty(t *testing.T) {
	t.Parallel()
	store := newStore(t)
	runs, err := store.ListRuns(context.Background(), "ghost", 20)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
