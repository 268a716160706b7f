package job

import (
	"context"
	"encoding/json"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Job is a unit of work on one of the logical queues. It is mutated only by
// the queue itself and by the worker currently holding its lease.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Payload      json.RawMessage `json:"payload"`
	Priority     int             `json:"priority"`
	State        State           `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	BackoffKind  BackoffKind     `json:"backoff_kind"`
	BackoffBase  time.Duration   `json:"backoff_base"`
	RunAt        time.Time       `json:"run_at"`
	LockedBy     string          `json:"locked_by,omitempty"`
	LockedUntil  *time.Time      `json:"locked_until,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// DeadLetterRecord is created exactly once when a job exhausts its retry
// budget. It is never deleted; replay only sets the recovered back-reference.
type DeadLetterRecord struct {
	ID               string          `json:"id"`
	OriginalJobID    string          `json:"original_job_id"`
	OriginalQueue    string          `json:"original_queue"`
	Payload          json.RawMessage `json:"payload"`
	FailureReason    string          `json:"failure_reason"`
	AttemptsMade     int             `json:"attempts_made"`
	FailedAt         time.Time       `json:"failed_at"`
	RecoveredByJobID string          `json:"recovered_by_job_id,omitempty"`
}

// Repository is the durable job store. Claim and ReleaseExpired are the two
// operations that must be atomic across competing worker processes.
type Repository interface {
	Insert(ctx context.Context, j *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	// Claim leases up to limit runnable jobs from queue, moving them to
	// active with a lease that expires at now+leaseTTL.
	Claim(ctx context.Context, queue, workerID string, limit int, leaseTTL time.Duration) ([]*Job, error)
	// ExtendLease pushes the lease expiry forward; it fails silently if the
	// worker no longer holds the job.
	ExtendLease(ctx context.Context, jobID, workerID string, until time.Time) error
	MarkCompleted(ctx context.Context, jobID string) error
	// MarkWaiting returns a failed attempt to the waiting state with a new
	// run-at time and records the attempt count and last error.
	MarkWaiting(ctx context.Context, jobID string, runAt time.Time, attemptsMade int, lastError string) error
	// UpdatePolicy persists the retry policy decided at the triggering
	// failure so the decision survives worker restarts.
	UpdatePolicy(ctx context.Context, jobID string, maxAttempts int, kind BackoffKind, base time.Duration) error
	// MarkFailed transitions a job to its terminal failed state.
	MarkFailed(ctx context.Context, jobID string, attemptsMade int, lastError string) error
	// ReleaseExpired returns jobs whose lease expired to the waiting state
	// so another worker can claim them.
	ReleaseExpired(ctx context.Context, queue string, now time.Time) (int64, error)
	// TrimTerminal bounds retained terminal jobs per queue.
	TrimTerminal(ctx context.Context, queue string, keepCompleted, keepFailed int) (int64, error)
	CountByState(ctx context.Context, queue string, state State) (int64, error)
}

type DeadLetterRepository interface {
	// Insert is idempotent per original job id so the dead-letter record is
	// created exactly once even if two writers race.
	Insert(ctx context.Context, r *DeadLetterRecord) error
	GetByID(ctx context.Context, id string) (*DeadLetterRecord, error)
	List(ctx context.Context, limit, offset int) ([]*DeadLetterRecord, error)
	MarkRecovered(ctx context.Context, id, newJobID string) error
	Trim(ctx context.Context, keep int) (int64, error)
}
