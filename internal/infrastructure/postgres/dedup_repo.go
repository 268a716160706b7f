package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/dedup"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DedupRepository is the durable deduplication store. The unique constraint
// on event_id is the synchronization point for at-most-once acceptance.
type DedupRepository struct {
	pool *pgxpool.Pool
}

var _ dedup.Store = (*DedupRepository)(nil)

func NewDedupRepository(pool *pgxpool.Pool) *DedupRepository {
	return &DedupRepository{pool: pool}
}

func (r *DedupRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	const sql = `
		SELECT processed
		FROM dedup_events
		WHERE event_id = $1
	`

	var processed bool
	err := r.pool.QueryRow(ctx, sql, eventID).Scan(&processed)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check processed: %w", err)
	}
	return processed, nil
}

// MarkReceived returns true only for the first caller per event id. Under N
// concurrent deliveries exactly one insert wins; the rest see zero rows
// affected and report a duplicate.
func (r *DedupRepository) MarkReceived(ctx context.Context, eventID, eventType string) (bool, error) {
	const sql = `
		INSERT INTO dedup_events (event_id, event_type, processed, received_at, expires_at)
		VALUES ($1, $2, FALSE, NOW(), $3)
		ON CONFLICT (event_id) DO NOTHING
	`

	var executor interface {
		Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	} = r.pool

	if tx := GetTx(ctx); tx != nil {
		executor = tx
	}

	tag, err := executor.Exec(ctx, sql, eventID, eventType, time.Now().UTC().Add(dedup.Retention))
	if err != nil {
		return false, fmt.Errorf("insert dedup event: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *DedupRepository) MarkProcessed(ctx context.Context, eventID string) error {
	const sql = `
		UPDATE dedup_events
		SET processed = TRUE
		WHERE event_id = $1
	`

	_, err := r.pool.Exec(ctx, sql, eventID)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func (r *DedupRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	const sql = `
		DELETE FROM dedup_events
		WHERE expires_at < $1
	`

	tag, err := r.pool.Exec(ctx, sql, now)
	if err != nil {
		return 0, fmt.Errorf("cleanup dedup events: %w", err)
	}
	return tag.RowsAffected(), nil
}
