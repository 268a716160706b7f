package dedup

import (
	"context"
	"time"
)

// Retention is how long a record survives after acceptance before the
// cleanup sweep may purge it.
const Retention = 7 * 24 * time.Hour

// Record tracks a single webhook event id. At most one record ever exists
// per event id; its creation is the synchronization point that enforces
// at-most-once acceptance under concurrent redelivery.
type Record struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Processed  bool      `json:"processed"`
	ReceivedAt time.Time `json:"received_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type Store interface {
	// IsProcessed reports whether the event completed the pipeline.
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	// MarkReceived inserts a record if absent. It returns false when a
	// record already exists, i.e. the delivery is a duplicate.
	MarkReceived(ctx context.Context, eventID, eventType string) (bool, error)
	// MarkProcessed flips the processed flag once the pipeline completes.
	MarkProcessed(ctx context.Context, eventID string) error
	// CleanupExpired purges records past their retention window.
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}
