package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/link"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type LinkRepository struct {
	pool *pgxpool.Pool
}

var _ link.Repository = (*LinkRepository)(nil)

func NewLinkRepository(pool *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{pool: pool}
}

// CreatePending inserts a PENDING link unless one already exists for the
// source id, then returns whatever is stored.
func (r *LinkRepository) CreatePending(ctx context.Context, sourceID string) (*link.Link, error) {
	const sql = `
		INSERT INTO order_links (source_id, status, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (source_id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, sql, sourceID, link.StatusPending); err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}
	return r.GetBySourceID(ctx, sourceID)
}

func (r *LinkRepository) GetBySourceID(ctx context.Context, sourceID string) (*link.Link, error) {
	const sql = `
		SELECT source_id, COALESCE(destination_id, ''), status, created_at, updated_at
		FROM order_links
		WHERE source_id = $1
	`

	l := &link.Link{}
	err := r.pool.QueryRow(ctx, sql, sourceID).Scan(
		&l.SourceID, &l.DestinationID, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get link by source_id: %w", err)
	}
	return l, nil
}

func (r *LinkRepository) SetStatus(ctx context.Context, sourceID string, status link.Status, destinationID string) error {
	const sql = `
		UPDATE order_links
		SET status = $2, destination_id = NULLIF($3, ''), updated_at = NOW()
		WHERE source_id = $1
	`

	_, err := r.pool.Exec(ctx, sql, sourceID, status, destinationID)
	if err != nil {
		return fmt.Errorf("update link status: %w", err)
	}
	return nil
}

func (r *LinkRepository) ListSourceIDs(ctx context.Context, from, to time.Time) ([]string, error) {
	const sql = `
		SELECT source_id
		FROM order_links
		WHERE created_at >= $1 AND created_at < $2
	`

	rows, err := r.pool.Query(ctx, sql, from, to)
	if err != nil {
		return nil, fmt.Errorf("list link source ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan link source id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
