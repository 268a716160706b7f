package postgres

import (
	"context"
	"fmt"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/job"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DeadLetterRepository struct {
	pool *pgxpool.Pool
}

var _ job.DeadLetterRepository = (*DeadLetterRepository)(nil)

func NewDeadLetterRepository(pool *pgxpool.Pool) *DeadLetterRepository {
	return &DeadLetterRepository{pool: pool}
}

// Insert is keyed on original_job_id so a racing double-fail still produces
// exactly one dead-letter record.
func (r *DeadLetterRepository) Insert(ctx context.Context, rec *job.DeadLetterRecord) error {
	const sql = `
		INSERT INTO dead_letters (
			id, original_job_id, original_queue, payload,
			failure_reason, attempts_made, failed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (original_job_id) DO NOTHING
	`

	_, err := r.pool.Exec(ctx, sql,
		rec.ID, rec.OriginalJobID, rec.OriginalQueue, rec.Payload,
		rec.FailureReason, rec.AttemptsMade, rec.FailedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

const deadLetterColumns = `
	id, original_job_id, original_queue, payload,
	failure_reason, attempts_made, failed_at, COALESCE(recovered_by_job_id, '')
`

func scanDeadLetter(row pgx.Row) (*job.DeadLetterRecord, error) {
	rec := &job.DeadLetterRecord{}
	err := row.Scan(
		&rec.ID, &rec.OriginalJobID, &rec.OriginalQueue, &rec.Payload,
		&rec.FailureReason, &rec.AttemptsMade, &rec.FailedAt, &rec.RecoveredByJobID,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, id string) (*job.DeadLetterRecord, error) {
	sql := `SELECT ` + deadLetterColumns + ` FROM dead_letters WHERE id = $1`

	rec, err := scanDeadLetter(r.pool.QueryRow(ctx, sql, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	return rec, nil
}

func (r *DeadLetterRepository) List(ctx context.Context, limit, offset int) ([]*job.DeadLetterRecord, error) {
	sql := `
		SELECT ` + deadLetterColumns + `
		FROM dead_letters
		ORDER BY failed_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, sql, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var recs []*job.DeadLetterRecord
	for rows.Next() {
		rec, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// MarkRecovered records the replay back-reference. The record itself is
// never deleted; it is the audit trail.
func (r *DeadLetterRepository) MarkRecovered(ctx context.Context, id, newJobID string) error {
	const sql = `
		UPDATE dead_letters
		SET recovered_by_job_id = $2
		WHERE id = $1
	`

	_, err := r.pool.Exec(ctx, sql, id, newJobID)
	if err != nil {
		return fmt.Errorf("mark dead letter recovered: %w", err)
	}
	return nil
}

// Trim bounds the forensic history, dropping the oldest records first.
func (r *DeadLetterRepository) Trim(ctx context.Context, keep int) (int64, error) {
	const sql = `
		DELETE FROM dead_letters
		WHERE id NOT IN (
			SELECT id FROM dead_letters
			ORDER BY failed_at DESC
			LIMIT $1
		)
	`

	tag, err := r.pool.Exec(ctx, sql, keep)
	if err != nil {
		return 0, fmt.Errorf("trim dead letters: %w", err)
	}
	return tag.RowsAffected(), nil
}
