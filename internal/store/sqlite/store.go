// Package sqlite implements the scheduler's persistence boundary
// (scheduler.Store) on top of a single file-backed SQLite database holding
// the scheduled_jobs and job_runs tables, opened with the pure-Go
// modernc.org/sqlite driver so the gateway stays a single static binary
// with no cgo toolchain requirement.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aira-gateway/gatewayd/internal/domain"
)

// Store owns the scheduled_jobs and job_runs tables.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and runs
// its migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.Open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_jobs(
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			cron_expression TEXT NOT NULL,
			prompt TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			last_run_at TEXT,
			last_run_status TEXT,
			last_run_summary TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS job_runs(
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			status TEXT NOT NULL,
			summary TEXT,
			session_key TEXT,
			error TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_job_id ON job_runs(job_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

const timeLayout = time.RFC3339Nano

func (s *Store) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs(id, name, cron_expression, prompt, agent_id, enabled, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Name, job.CronExpression, job.Prompt, job.AgentID, boolToInt(job.Enabled),
		job.CreatedAt.Format(timeLayout), job.UpdatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("sqlite.Store.CreateJob: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, cron_expression, prompt, agent_id, enabled, created_at, updated_at,
		       last_run_at, last_run_status, last_run_summary
		FROM scheduled_jobs WHERE id = ?
	`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite.Store.GetJob: %w", err)
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context) ([]domain.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cron_expression, prompt, agent_id, enabled, created_at, updated_at,
		       last_run_at, last_run_status, last_run_summary
		FROM scheduled_jobs ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Store.ListJobs: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite.Store.ListJobs: %w", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.Store.ListJobs: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateJob(ctx context.Context, job *domain.ScheduledJob) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET name = ?, cron_expression = ?, prompt = ?, agent_id = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, job.Name, job.CronExpression, job.Prompt, job.AgentID, boolToInt(job.Enabled),
		job.UpdatedAt.Format(timeLayout), job.ID)
	if err != nil {
		return fmt.Errorf("sqlite.Store.UpdateJob: %w", err)
	}
	return checkRowsAffected(res, "sqlite.Store.UpdateJob")
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite.Store.DeleteJob: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM job_runs WHERE job_id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite.Store.DeleteJob: %w", err)
	}
	return nil
}

func (s *Store) RecordRunStart(ctx context.Context, run *domain.JobRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_runs(id, job_id, started_at, status, session_key)
		VALUES(?, ?, ?, ?, ?)
	`, run.ID, run.JobID, run.StartedAt.Format(timeLayout), string(run.Status), nullableString(run.SessionKey))
	if err != nil {
		return fmt.Errorf("sqlite.Store.RecordRunStart: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET last_run_at = ?, last_run_status = ? WHERE id = ?
	`, run.StartedAt.Format(timeLayout), string(run.Status), run.JobID)
	if err != nil {
		return fmt.Errorf("sqlite.Store.RecordRunStart: update job: %w", err)
	}
	return nil
}

// SetRunSession records the session a run's agent turn is using, once it is
// known, persisting its key onto the run row. Called
// between RecordRunStart and RecordRunFinish, since the session is only
// created once the executor starts running the job.
func (s *Store) SetRunSession(ctx context.Context, runID, sessionKey string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE job_runs SET session_key = ? WHERE id = ?`, sessionKey, runID)
	if err != nil {
		return fmt.Errorf("sqlite.Store.SetRunSession: %w", err)
	}
	return checkRowsAffected(res, "sqlite.Store.SetRunSession")
}

func (s *Store) RecordRunFinish(ctx context.Context, runID string, status domain.JobRunStatus, summary, errMsg *string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_runs SET finished_at = ?, status = ?, summary = ?, error = ? WHERE id = ?
	`, finishedAt.Format(timeLayout), string(status), nullableString(summary), nullableString(errMsg), runID)
	if err != nil {
		return fmt.Errorf("sqlite.Store.RecordRunFinish: %w", err)
	}
	if err := checkRowsAffected(res, "sqlite.Store.RecordRunFinish"); err != nil {
		return err
	}

	var jobID string
	if err := s.db.QueryRowContext(ctx, `SELECT job_id FROM job_runs WHERE id = ?`, runID).Scan(&jobID); err != nil {
		return fmt.Errorf("sqlite.Store.RecordRunFinish: lookup job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs SET last_run_status = ?, last_run_summary = ? WHERE id = ?
	`, string(status), nullableString(summary), jobID)
	if err != nil {
		return fmt.Errorf("sqlite.Store.RecordRunFinish: update job: %w", err)
	}
	return nil
}

// ListRuns returns jobID's runs, most recent first, capped at limit.
func (s *Store) ListRuns(ctx context.Context, jobID string, limit int) ([]domain.JobRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, started_at, finished_at, status, summary, session_key, error
		FROM job_runs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Store.ListRuns: %w", err)
	}
	defer rows.Close()

	var out []domain.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite.Store.ListRuns: %w", err)
		}
		out = append(out, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.Store.ListRuns: %w", err)
	}
	return out, nil
}

func scanRun(r row) (*domain.JobRun, error) {
	var (
		run                         domain.JobRun
		startedAt                   string
		finishedAt                  sql.NullString
		summary, sessionKey, errMsg sql.NullString
	)
	if err := r.Scan(&run.ID, &run.JobID, &startedAt, &finishedAt, &run.Status, &summary, &sessionKey, &errMsg); err != nil {
		return nil, err
	}

	run.StartedAt, _ = time.Parse(timeLayout, startedAt)
	if finishedAt.Valid {
		t, err := time.Parse(timeLayout, finishedAt.String)
		if err == nil {
			run.FinishedAt = &t
		}
	}
	if summary.Valid {
		run.Summary = &summary.String
	}
	if sessionKey.Valid {
		run.SessionKey = &sessionKey.String
	}
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return &run, nil
}

// row is the subset of *sql.Row / *sql.Rows that Scan needs, so scanJob can
// serve both GetJob and ListJobs.
type row interface {
	Scan(dest ...any) error
}

func scanJob(r row) (*domain.ScheduledJob, error) {
	var (
		job                                     domain.ScheduledJob
		enabled                                 int
		createdAt, updatedAt                    string
		lastRunAt, lastRunStatus, lastRunSummary sql.NullString
	)
	if err := r.Scan(&job.ID, &job.Name, &job.CronExpression, &job.Prompt, &job.AgentID, &enabled,
		&createdAt, &updatedAt, &lastRunAt, &lastRunStatus, &lastRunSummary); err != nil {
		return nil, err
	}

	job.Enabled = enabled != 0
	job.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	job.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if lastRunAt.Valid {
		t, err := time.Parse(timeLayout, lastRunAt.String)
		if err == nil {
			job.LastRunAt = &t
		}
	}
	if lastRunStatus.Valid {
		status := domain.JobRunStatus(lastRunStatus.String)
		job.LastRunStatus = &status
	}
	if lastRunSummary.Valid {
		job.LastRunSummary = &lastRunSummary.String
	}
	return &job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func checkRowsAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}
