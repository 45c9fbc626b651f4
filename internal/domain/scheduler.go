package domain

import "time"

// JobRunStatus enumerates the lifecycle states of a JobRun row.
type JobRunStatus string

const (
	JobRunRunning JobRunStatus = "running"
	JobRunSuccess JobRunStatus = "success"
	JobRunError   JobRunStatus = "error"
)

// ScheduledJob is a persisted (cron expression, prompt, agent) triple that
// fires on a timer to produce a JobRun through the agent turn runner.
//
// Invariants: CronExpression must parse or the job cannot be created or
// updated; Enabled transitions synchronously add or remove the scheduler's
// in-memory timer for this job.
type ScheduledJob struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	CronExpression string        `json:"cronExpression"`
	Prompt         string        `json:"prompt"`
	AgentID        string        `json:"agentId"`
	Enabled        bool          `json:"enabled"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	LastRunAt      *time.Time    `json:"lastRunAt,omitempty"`
	LastRunStatus  *JobRunStatus `json:"lastRunStatus,omitempty"`
	LastRunSummary *string       `json:"lastRunSummary,omitempty"`
}

// JobRun is one execution record of a ScheduledJob. Exactly one `running`
// row is inserted at timer fire, updated to a terminal state exactly once.
type JobRun struct {
	ID         string       `json:"id"`
	JobID      string       `json:"jobId"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	Status     JobRunStatus `json:"status"`
	Summary    *string      `json:"summary,omitempty"`
	SessionKey *string      `json:"sessionKey,omitempty"`
	Error      *string      `json:"error,omitempty"`
}
