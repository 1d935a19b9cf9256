package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/saffronemporial/lifecycle-engine/internal/domain"
)

// Store persists workflow jobs in the workflow_jobs table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, workflow_id, profile_id, action_type, step_number,
	step_config, trigger_data, scheduled_at, status,
	current_retry, max_retries, last_error, next_retry_at,
	created_at, updated_at, completed_at`

// Create inserts a new job in scheduled status.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = StatusScheduled
	}

	stepConfig, err := json.Marshal(job.StepConfig)
	if err != nil {
		return fmt.Errorf("marshal step config: %w", err)
	}
	triggerData, err := json.Marshal(job.TriggerData)
	if err != nil {
		return fmt.Errorf("marshal trigger data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_jobs (
			id, workflow_id, profile_id, action_type, step_number,
			step_config, trigger_data, scheduled_at, status,
			current_retry, max_retries, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, NOW(), NOW())
	`, job.ID, job.WorkflowID, job.ProfileID, job.ActionType, job.StepNumber,
		stepConfig, triggerData, job.ScheduledAt, job.Status, job.MaxRetries)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get returns a job by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM workflow_jobs
		WHERE id = $1
	`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, domain.NewNotFound("job", id.String())
	}
	return job, err
}

// ListDue returns pending jobs whose fire time has arrived. A retrying job is
// due by its next_retry_at rather than its original scheduled_at.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM workflow_jobs
		WHERE (status = $1 AND scheduled_at <= $3)
		   OR (status = $2 AND next_retry_at <= $3)
		ORDER BY scheduled_at
		LIMIT $4
	`, StatusScheduled, StatusRetrying, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListPending returns every job that still needs a timer, for rebuilding
// in-memory state after a restart.
func (s *Store) ListPending(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM workflow_jobs
		WHERE status = ANY($1)
		ORDER BY scheduled_at
	`, pq.Array([]string{StatusScheduled, StatusRetrying}))
	if err != nil {
		return nil, fmt.Errorf("query pending jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// MarkRunning claims a job. The status gate means at most one caller wins the
// claim even when the timer and the sweep both see the job as due.
func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
	`, StatusRunning, id, StatusScheduled, StatusRetrying)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkCompleted records a successful run.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_jobs
		SET status = $1, completed_at = NOW(), updated_at = NOW(), last_error = NULL
		WHERE id = $2
	`, StatusCompleted, id)
	return err
}

// MarkRetrying records a transient failure and the time of the next attempt.
func (s *Store) MarkRetrying(ctx context.Context, id uuid.UUID, retry int, nextAt time.Time, cause string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_jobs
		SET status = $1, current_retry = $2, next_retry_at = $3,
		    last_error = $4, updated_at = NOW()
		WHERE id = $5
	`, StatusRetrying, retry, nextAt, cause, id)
	return err
}

// MarkFailed records a terminal failure.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE workflow_jobs
		SET status = $1, last_error = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $3
	`, StatusFailed, cause, id)
	return err
}

// Cancel transitions a pending job to cancelled. Running and terminal jobs
// cannot be cancelled; the caller gets false.
func (s *Store) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_jobs
		SET status = $1, completed_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
	`, StatusCancelled, id, StatusScheduled, StatusRetrying)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListByWorkflow returns all jobs of one workflow, step order first.
func (s *Store) ListByWorkflow(ctx context.Context, workflowID uuid.UUID) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM workflow_jobs
		WHERE workflow_id = $1
		ORDER BY step_number NULLS FIRST, scheduled_at
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query workflow jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// DeleteTerminalOlderThan prunes completed, failed and cancelled jobs past
// the retention window. Returns the number of rows removed.
func (s *Store) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workflow_jobs
		WHERE status = ANY($1) AND completed_at < $2
	`, pq.Array([]string{StatusCompleted, StatusFailed, StatusCancelled}), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	return res.RowsAffected()
}

// CountByStatus returns job counts keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM workflow_jobs
		GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job         Job
		stepNumber  sql.NullInt64
		stepConfig  []byte
		triggerData []byte
		lastError   sql.NullString
		nextRetryAt sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.WorkflowID, &job.ProfileID, &job.ActionType, &stepNumber,
		&stepConfig, &triggerData, &job.ScheduledAt, &job.Status,
		&job.CurrentRetry, &job.MaxRetries, &lastError, &nextRetryAt,
		&job.CreatedAt, &job.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if stepNumber.Valid {
		n := int(stepNumber.Int64)
		job.StepNumber = &n
	}
	if len(stepConfig) > 0 {
		if err := json.Unmarshal(stepConfig, &job.StepConfig); err != nil {
			return nil, fmt.Errorf("unmarshal step config: %w", err)
		}
	}
	if len(triggerData) > 0 {
		if err := json.Unmarshal(triggerData, &job.TriggerData); err != nil {
			return nil, fmt.Errorf("unmarshal trigger data: %w", err)
		}
	}
	if lastError.Valid {
		job.LastError = &lastError.String
	}
	if nextRetryAt.Valid {
		job.NextRetryAt = &nextRetryAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
