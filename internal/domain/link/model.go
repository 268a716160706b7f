package link

import (
	"context"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Link ties a Square order to the QuickBooks sales receipt generated from
// it. A PENDING row is created when processing starts and moves to a
// terminal status when the job finishes. The reconciliation scanner treats
// the absence of a link as an orphan.
type Link struct {
	SourceID      string    `json:"source_id"`
	DestinationID string    `json:"destination_id,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Repository interface {
	// CreatePending inserts a PENDING link if none exists for the source id.
	// It returns the stored link either way.
	CreatePending(ctx context.Context, sourceID string) (*Link, error)
	GetBySourceID(ctx context.Context, sourceID string) (*Link, error)
	SetStatus(ctx context.Context, sourceID string, status Status, destinationID string) error
	// ListSourceIDs returns the source ids of links created in [from, to).
	ListSourceIDs(ctx context.Context, from, to time.Time) ([]string, error)
}
