package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/job"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

var _ job.Repository = (*JobRepository)(nil)

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Insert(ctx context.Context, j *job.Job) error {
	const sql = `
		INSERT INTO jobs (
			id, queue, payload, priority, state,
			attempts_made, max_attempts, backoff_kind, backoff_base_ms,
			run_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
	`

	var executor interface {
		Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	} = r.pool

	if tx := GetTx(ctx); tx != nil {
		executor = tx
	}

	_, err := executor.Exec(ctx, sql,
		j.ID, j.Queue, j.Payload, j.Priority, j.State,
		j.AttemptsMade, j.MaxAttempts, j.BackoffKind, j.BackoffBase.Milliseconds(),
		j.RunAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

const jobColumns = `
	id, queue, payload, priority, state,
	attempts_made, max_attempts, backoff_kind, backoff_base_ms,
	run_at, COALESCE(locked_by, ''), locked_until, COALESCE(last_error, ''),
	created_at, updated_at
`

func scanJob(row pgx.Row) (*job.Job, error) {
	j := &job.Job{}
	var backoffMs int64
	err := row.Scan(
		&j.ID, &j.Queue, &j.Payload, &j.Priority, &j.State,
		&j.AttemptsMade, &j.MaxAttempts, &j.BackoffKind, &backoffMs,
		&j.RunAt, &j.LockedBy, &j.LockedUntil, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.BackoffBase = time.Duration(backoffMs) * time.Millisecond
	return j, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*job.Job, error) {
	sql := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	j, err := scanJob(r.pool.QueryRow(ctx, sql, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return j, nil
}

// Claim leases runnable jobs using FOR UPDATE SKIP LOCKED so competing
// worker processes never claim the same row.
func (r *JobRepository) Claim(ctx context.Context, queue, workerID string, limit int, leaseTTL time.Duration) ([]*job.Job, error) {
	sql := `
		WITH claimed AS (
			SELECT id
			FROM jobs
			WHERE queue = $1
			  AND state = 'waiting'
			  AND run_at <= NOW()
			ORDER BY priority DESC, run_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs
		SET state = 'active', locked_by = $3, locked_until = $4, updated_at = NOW()
		WHERE id IN (SELECT id FROM claimed)
		RETURNING ` + jobColumns

	rows, err := r.pool.Query(ctx, sql, queue, limit, workerID, time.Now().UTC().Add(leaseTTL))
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) ExtendLease(ctx context.Context, jobID, workerID string, until time.Time) error {
	const sql = `
		UPDATE jobs
		SET locked_until = $3, updated_at = NOW()
		WHERE id = $1 AND locked_by = $2 AND state = 'active'
	`

	_, err := r.pool.Exec(ctx, sql, jobID, workerID, until)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	return nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, jobID string) error {
	const sql = `
		UPDATE jobs
		SET state = 'completed', locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, sql, jobID)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

func (r *JobRepository) MarkWaiting(ctx context.Context, jobID string, runAt time.Time, attemptsMade int, lastError string) error {
	const sql = `
		UPDATE jobs
		SET state = 'waiting', run_at = $2, attempts_made = $3, last_error = $4,
		    locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, sql, jobID, runAt, attemptsMade, lastError)
	if err != nil {
		return fmt.Errorf("mark job waiting: %w", err)
	}
	return nil
}

func (r *JobRepository) UpdatePolicy(ctx context.Context, jobID string, maxAttempts int, kind job.BackoffKind, base time.Duration) error {
	const sql = `
		UPDATE jobs
		SET max_attempts = $2, backoff_kind = $3, backoff_base_ms = $4, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, sql, jobID, maxAttempts, kind, base.Milliseconds())
	if err != nil {
		return fmt.Errorf("update job policy: %w", err)
	}
	return nil
}

func (r *JobRepository) MarkFailed(ctx context.Context, jobID string, attemptsMade int, lastError string) error {
	const sql = `
		UPDATE jobs
		SET state = 'failed', attempts_made = $2, last_error = $3,
		    locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, sql, jobID, attemptsMade, lastError)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return nil
}

// ReleaseExpired returns stalled jobs (lease expired, worker presumed dead)
// to the waiting state without counting an attempt.
func (r *JobRepository) ReleaseExpired(ctx context.Context, queue string, now time.Time) (int64, error) {
	const sql = `
		UPDATE jobs
		SET state = 'waiting', locked_by = NULL, locked_until = NULL, updated_at = NOW()
		WHERE queue = $1 AND state = 'active' AND locked_until < $2
	`

	tag, err := r.pool.Exec(ctx, sql, queue, now)
	if err != nil {
		return 0, fmt.Errorf("release expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TrimTerminal keeps only the most recent terminal jobs per queue to bound
// table growth.
func (r *JobRepository) TrimTerminal(ctx context.Context, queue string, keepCompleted, keepFailed int) (int64, error) {
	const sql = `
		DELETE FROM jobs
		WHERE queue = $1
		  AND state = $2
		  AND id NOT IN (
			SELECT id FROM jobs
			WHERE queue = $1 AND state = $2
			ORDER BY updated_at DESC
			LIMIT $3
		  )
	`

	var total int64
	for _, t := range []struct {
		state job.State
		keep  int
	}{
		{job.StateCompleted, keepCompleted},
		{job.StateFailed, keepFailed},
	} {
		tag, err := r.pool.Exec(ctx, sql, queue, t.state, t.keep)
		if err != nil {
			return total, fmt.Errorf("trim %s jobs: %w", t.state, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (r *JobRepository) CountByState(ctx context.Context, queue string, state job.State) (int64, error) {
	const sql = `
		SELECT COUNT(*) FROM jobs WHERE queue = $1 AND state = $2
	`

	var n int64
	if err := r.pool.QueryRow(ctx, sql, queue, state).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}
