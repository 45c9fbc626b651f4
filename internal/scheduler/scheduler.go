// Package scheduler implements the scheduler engine: it keeps one timer
// per enabled scheduled job, fires the job's prompt through an
// executor at its next cron-computed run time, records the run, and
// reschedules. A job already running when its next tick arrives is skipped
// rather than queued (singleflight per job).
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aira-gateway/gatewayd/internal/cron"
	"github.com/aira-gateway/gatewayd/internal/domain"
)

// maxTimerDelay is the longest delay a single time.Timer is asked to wait.
// Go's own timers have no such limit, but the scheduler keeps this cap (it
// mirrors the 2^31-1ms ceiling a JavaScript setTimeout would hit) so a job
// scheduled far in the future is driven by a chain of bounded relay timers
// instead of one very long-lived one — a portability concession carried
// over rather than a correctness requirement.
const maxTimerDelay = time.Duration(1<<31-1) * time.Millisecond

// executionTimeout bounds how long a single job execution may run.
const executionTimeout = 10 * time.Minute

// JobExecutor runs one scheduled job's prompt to completion. It returns a
// short human-readable summary, the key of the session it ran the prompt
// in, and an error if the run failed.
type JobExecutor func(ctx context.Context, job domain.ScheduledJob) (summary, sessionKey string, err error)

// Store is the persistence boundary the scheduler needs; internal/store/sqlite
// implements it.
type Store interface {
	CreateJob(ctx context.Context, job *domain.ScheduledJob) error
	GetJob(ctx context.Context, id string) (*domain.ScheduledJob, error)
	ListJobs(ctx context.Context) ([]domain.ScheduledJob, error)
	UpdateJob(ctx context.Context, job *domain.ScheduledJob) error
	DeleteJob(ctx context.Context, id string) error
	RecordRunStart(ctx context.Context, run *domain.JobRun) error
	SetRunSession(ctx context.Context, runID, sessionKey string) error
	RecordRunFinish(ctx context.Context, runID string, status domain.JobRunStatus, summary, errMsg *string, finishedAt time.Time) error
	ListRuns(ctx context.Context, jobID string, limit int) ([]domain.JobRun, error)
}

// RunCompletion is what OnRunCompleted receives after one job execution
// finishes, carrying everything the scheduler.run_completed push event
// needs.
type RunCompletion struct {
	Job     domain.ScheduledJob
	Run     domain.JobRun
	Summary string
}

// Engine drives every enabled ScheduledJob's timer and execution.
type Engine struct {
	store    Store
	executor JobExecutor

	// onRunCompleted, if set, is called after every timer-fired execution
	// records its terminal state, so the transport layer can
	// push scheduler.run_completed without the engine knowing about
	// connections. Nil is a valid no-op for callers and tests that don't
	// need live notification.
	onRunCompleted func(RunCompletion)

	mu               sync.Mutex
	timers           map[string]*time.Timer
	activeExecutions map[string]bool
	stopped          bool
}

func NewEngine(store Store, executor JobExecutor) *Engine {
	return &Engine{
		store:            store,
		executor:         executor,
		timers:           make(map[string]*time.Timer),
		activeExecutions: make(map[string]bool),
	}
}

// OnRunCompleted registers the callback invoked after each job execution's
// terminal state is recorded. Replaces any previously registered callback.
func (e *Engine) OnRunCompleted(fn func(RunCompletion)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRunCompleted = fn
}

// GetJob returns one job by id.
func (e *Engine) GetJob(ctx context.Context, id string) (*domain.ScheduledJob, error) {
	return e.store.GetJob(ctx, id)
}

// ListJobs returns every job.
func (e *Engine) ListJobs(ctx context.Context) ([]domain.ScheduledJob, error) {
	return e.store.ListJobs(ctx)
}

// ListRuns returns jobID's run history, most recent first.
func (e *Engine) ListRuns(ctx context.Context, jobID string, limit int) ([]domain.JobRun, error) {
	return e.store.ListRuns(ctx, jobID, limit)
}

// Start loads every enabled job from the store and schedules its next run.
func (e *Engine) Start(ctx context.Context) error {
	jobs, err := e.store.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("scheduler.Engine.Start: %w", err)
	}

	for i := range jobs {
		job := jobs[i]
		if !job.Enabled {
			continue
		}
		if err := e.scheduleJob(job); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("scheduler.Engine.Start: failed to schedule job")
		}
	}
	return nil
}

// Stop cancels every outstanding timer. In-flight executions are not
// interrupted; they run to completion or their own context timeout.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// CreateJob persists a new job and, if enabled, schedules it.
func (e *Engine) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	if _, err := cron.Parse(job.CronExpression); err != nil {
		return fmt.Errorf("scheduler.Engine.CreateJob: %w", err)
	}
	if err := e.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("scheduler.Engine.CreateJob: %w", err)
	}
	if job.Enabled {
		return e.scheduleJob(*job)
	}
	return nil
}

// UpdateJob persists changes to a job and reschedules it: disabling it
// cancels any pending timer, enabling it (or changing its schedule) installs
// a fresh one.
func (e *Engine) UpdateJob(ctx context.Context, job *domain.ScheduledJob) error {
	if _, err := cron.Parse(job.CronExpression); err != nil {
		return fmt.Errorf("scheduler.Engine.UpdateJob: %w", err)
	}
	if err := e.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("scheduler.Engine.UpdateJob: %w", err)
	}

	e.cancelTimer(job.ID)
	if job.Enabled {
		return e.scheduleJob(*job)
	}
	return nil
}

// DeleteJob removes a job and cancels its timer.
func (e *Engine) DeleteJob(ctx context.Context, id string) error {
	e.cancelTimer(id)
	if err := e.store.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("scheduler.Engine.DeleteJob: %w", err)
	}
	return nil
}

func (e *Engine) cancelTimer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
}

// scheduleJob computes job's next run and installs a timer for it, relaying
// through intermediate no-op timers if the delay exceeds maxTimerDelay.
func (e *Engine) scheduleJob(job domain.ScheduledJob) error {
	expr, err := cron.Parse(job.CronExpression)
	if err != nil {
		return fmt.Errorf("scheduler.Engine.scheduleJob(%s): %w", job.ID, err)
	}

	next, err := expr.NextRun(time.Now())
	if err != nil {
		return fmt.Errorf("scheduler.Engine.scheduleJob(%s): %w", job.ID, err)
	}

	e.armTimer(job.ID, time.Until(next), func() { e.executeJob(job.ID) })
	return nil
}

// armTimer installs a timer for delay, chaining through maxTimerDelay-sized
// relay hops if delay exceeds it.
func (e *Engine) armTimer(jobID string, delay time.Duration, fire func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if t, ok := e.timers[jobID]; ok {
		t.Stop()
	}

	if delay > maxTimerDelay {
		remaining := delay - maxTimerDelay
		e.timers[jobID] = time.AfterFunc(maxTimerDelay, func() {
			e.armTimer(jobID, remaining, fire)
		})
		return
	}
	if delay < 0 {
		delay = 0
	}
	e.timers[jobID] = time.AfterFunc(delay, fire)
}

// executeJob runs one job's prompt through the executor, records the run,
// and reschedules the job's next tick. If the job is already executing
// (the previous run overran its own next tick) the new tick is skipped
// rather than queued.
func (e *Engine) executeJob(jobID string) {
	e.mu.Lock()
	if e.activeExecutions[jobID] {
		e.mu.Unlock()
		log.Warn().Str("job_id", jobID).Msg("scheduler.Engine: skipping tick, previous run still active")
		e.rescheduleAfterTick(jobID)
		return
	}
	e.activeExecutions[jobID] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.activeExecutions, jobID)
		e.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), executionTimeout)
	defer cancel()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("scheduler.Engine.executeJob: job vanished")
		return
	}
	if !job.Enabled {
		return
	}

	run := &domain.JobRun{
		ID:        fmt.Sprintf("%s-%d", job.ID, time.Now().UnixNano()),
		JobID:     job.ID,
		StartedAt: time.Now(),
		Status:    domain.JobRunRunning,
	}
	if err := e.store.RecordRunStart(ctx, run); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("scheduler.Engine.executeJob: failed to record run start")
	}

	summary, sessionKey, execErr := e.executor(ctx, *job)

	if sessionKey != "" {
		run.SessionKey = &sessionKey
		if err := e.store.SetRunSession(ctx, run.ID, sessionKey); err != nil {
			log.Error().Err(err).Str("job_id", jobID).Msg("scheduler.Engine.executeJob: failed to record run session")
		}
	}

	status := domain.JobRunSuccess
	var summaryPtr, errPtr *string
	if summary != "" {
		summaryPtr = &summary
	}
	if execErr != nil {
		status = domain.JobRunError
		msg := execErr.Error()
		errPtr = &msg
	}

	finishedAt := time.Now()
	run.FinishedAt = &finishedAt
	run.Status = status
	run.Summary = summaryPtr
	run.Error = errPtr
	if err := e.store.RecordRunFinish(ctx, run.ID, status, summaryPtr, errPtr, finishedAt); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("scheduler.Engine.executeJob: failed to record run finish")
	}

	e.mu.Lock()
	onRunCompleted := e.onRunCompleted
	e.mu.Unlock()
	if onRunCompleted != nil {
		onRunCompleted(RunCompletion{Job: *job, Run: *run, Summary: summary})
	}

	e.rescheduleAfterTick(jobID)
}

func (e *Engine) rescheduleAfterTick(jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := e.store.GetJob(ctx, jobID)
	if err != nil || !job.Enabled {
		return
	}
	if err := e.scheduleJob(*job); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("scheduler.Engine: failed to reschedule after tick")
	}
}

// ActiveTimerCount returns the number of jobs with an outstanding timer —
// a testing/debug hook.
func (e *Engine) ActiveTimerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers)
}

// ActiveExecutionCount returns the number of jobs currently executing.
func (e *Engine) ActiveExecutionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.activeExecutions)
}
