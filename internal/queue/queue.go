package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/job"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Logical queue names. Dead letters live in their own table rather than a
// jobs queue; see job.DeadLetterRepository.
const (
	Primary   = "primary"
	Scheduled = "scheduled"
)

// Retention bounds for terminal records.
const (
	KeepCompleted   = 10
	KeepFailed      = 50
	KeepDeadLetters = 1000
)

var (
	jobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_enqueued_total",
		Help: "Jobs enqueued by queue",
	}, []string{"queue"})
	jobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_retried_total",
		Help: "Failed attempts rescheduled with backoff",
	}, []string{"queue"})
	jobsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "queue_jobs_dead_lettered_total",
		Help: "Jobs moved to the dead letter queue after exhausting retries",
	}, []string{"queue"})
)

// EnqueueOptions control placement and the starting retry budget of a new
// job. Class seeds the policy at enqueue time; the first failure re-decides
// it from the observed error, and that decision then sticks.
type EnqueueOptions struct {
	Priority int
	Delay    time.Duration
	Class    job.FailureClass
}

// Queue coordinates the durable job store and the dead-letter store. All
// cross-process synchronization happens inside the repositories' atomic
// operations; the queue itself holds no locks.
type Queue struct {
	jobs   job.Repository
	dlq    job.DeadLetterRepository
	logger *slog.Logger
}

func New(jobs job.Repository, dlq job.DeadLetterRepository, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{jobs: jobs, dlq: dlq, logger: logger}
}

// Enqueue creates a waiting job and returns its id. payload may be any
// JSON-marshalable value or raw JSON bytes.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload any, opts EnqueueOptions) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	policy := job.PolicyFor(opts.Class)
	now := time.Now().UTC()

	j := &job.Job{
		ID:          uuid.New().String(),
		Queue:       queueName,
		Payload:     raw,
		Priority:    opts.Priority,
		State:       job.StateWaiting,
		MaxAttempts: policy.MaxAttempts,
		BackoffKind: policy.Backoff,
		BackoffBase: policy.Base,
		RunAt:       now.Add(opts.Delay),
	}

	if err := q.jobs.Insert(ctx, j); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}

	jobsEnqueued.WithLabelValues(queueName).Inc()
	q.logger.Debug("job enqueued", "job_id", j.ID, "queue", queueName, "class", opts.Class.String())
	return j.ID, nil
}

// Lease claims up to limit runnable jobs for workerID.
func (q *Queue) Lease(ctx context.Context, queueName, workerID string, limit int, leaseTTL time.Duration) ([]*job.Job, error) {
	return q.jobs.Claim(ctx, queueName, workerID, limit, leaseTTL)
}

// Heartbeat extends the lease on a job a worker is still processing.
func (q *Queue) Heartbeat(ctx context.Context, j *job.Job, workerID string, leaseTTL time.Duration) error {
	return q.jobs.ExtendLease(ctx, j.ID, workerID, time.Now().UTC().Add(leaseTTL))
}

// Complete marks a job terminally successful.
func (q *Queue) Complete(ctx context.Context, j *job.Job) error {
	return q.jobs.MarkCompleted(ctx, j.ID)
}

// Fail records a failed attempt. The first failure classifies its cause and
// persists the resulting retry policy onto the job; later failures keep that
// decision even when their cause would classify differently. If the retry
// budget is spent it creates the dead-letter record (exactly once) and
// terminally fails the job, returning true; otherwise it reschedules the job
// with backoff.
func (q *Queue) Fail(ctx context.Context, j *job.Job, cause error) (bool, error) {
	j.AttemptsMade++
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}

	if j.AttemptsMade == 1 {
		class := job.Classify(cause)
		policy := job.PolicyFor(class)
		j.MaxAttempts = policy.MaxAttempts
		j.BackoffKind = policy.Backoff
		j.BackoffBase = policy.Base
		if err := q.jobs.UpdatePolicy(ctx, j.ID, policy.MaxAttempts, policy.Backoff, policy.Base); err != nil {
			return false, fmt.Errorf("persist retry policy: %w", err)
		}
		q.logger.Debug("retry policy decided",
			"job_id", j.ID, "class", class.String(), "max_attempts", policy.MaxAttempts)
	}

	if j.AttemptsMade >= j.MaxAttempts {
		rec := &job.DeadLetterRecord{
			ID:            uuid.New().String(),
			OriginalJobID: j.ID,
			OriginalQueue: j.Queue,
			Payload:       j.Payload,
			FailureReason: reason,
			AttemptsMade:  j.AttemptsMade,
			FailedAt:      time.Now().UTC(),
		}
		if err := q.dlq.Insert(ctx, rec); err != nil {
			return false, fmt.Errorf("dead-letter job %s: %w", j.ID, err)
		}
		if err := q.jobs.MarkFailed(ctx, j.ID, j.AttemptsMade, reason); err != nil {
			return false, fmt.Errorf("mark job failed: %w", err)
		}

		jobsDeadLettered.WithLabelValues(j.Queue).Inc()
		q.logger.Error("job exhausted retries, dead-lettered",
			"job_id", j.ID, "queue", j.Queue, "attempts", j.AttemptsMade, "reason", reason)
		return true, nil
	}

	policy := job.RetryPolicy{MaxAttempts: j.MaxAttempts, Backoff: j.BackoffKind, Base: j.BackoffBase}
	delay := policy.Delay(j.AttemptsMade)
	runAt := time.Now().UTC().Add(delay)

	if err := q.jobs.MarkWaiting(ctx, j.ID, runAt, j.AttemptsMade, reason); err != nil {
		return false, fmt.Errorf("reschedule job: %w", err)
	}

	jobsRetried.WithLabelValues(j.Queue).Inc()
	q.logger.Warn("job attempt failed, rescheduled",
		"job_id", j.ID, "queue", j.Queue,
		"attempt", j.AttemptsMade, "max_attempts", j.MaxAttempts,
		"backoff", delay, "reason", reason)
	return false, nil
}

// RetryFromDeadLetter re-submits a dead-lettered payload to the queue it
// originally ran on, under the default policy, and records the
// back-reference. The dead-letter record itself is preserved.
func (q *Queue) RetryFromDeadLetter(ctx context.Context, dlqID string) (string, error) {
	rec, err := q.dlq.GetByID(ctx, dlqID)
	if err != nil {
		return "", fmt.Errorf("load dead letter: %w", err)
	}
	if rec == nil {
		return "", fmt.Errorf("dead letter %s not found", dlqID)
	}
	if rec.RecoveredByJobID != "" {
		return "", fmt.Errorf("dead letter %s already recovered by job %s", dlqID, rec.RecoveredByJobID)
	}

	target := rec.OriginalQueue
	if target == "" {
		target = Primary
	}
	newID, err := q.Enqueue(ctx, target, rec.Payload, EnqueueOptions{})
	if err != nil {
		return "", err
	}

	if err := q.dlq.MarkRecovered(ctx, rec.ID, newID); err != nil {
		return "", fmt.Errorf("mark recovered: %w", err)
	}

	q.logger.Info("dead letter replayed", "dead_letter_id", rec.ID, "new_job_id", newID)
	return newID, nil
}

// ReclaimStalled returns jobs with expired leases to the waiting state.
func (q *Queue) ReclaimStalled(ctx context.Context, queueName string) (int64, error) {
	n, err := q.jobs.ReleaseExpired(ctx, queueName, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Warn("reclaimed stalled jobs", "queue", queueName, "count", n)
	}
	return n, nil
}

// TrimTerminal applies the retention bounds for a queue and the dead-letter
// history.
func (q *Queue) TrimTerminal(ctx context.Context, queueName string) (int64, error) {
	trimmed, err := q.jobs.TrimTerminal(ctx, queueName, KeepCompleted, KeepFailed)
	if err != nil {
		return 0, err
	}
	dropped, err := q.dlq.Trim(ctx, KeepDeadLetters)
	if err != nil {
		return trimmed, err
	}
	return trimmed + dropped, nil
}

// Depth reports the number of waiting jobs on a queue.
func (q *Queue) Depth(ctx context.Context, queueName string) (int64, error) {
	return q.jobs.CountByState(ctx, queueName, job.StateWaiting)
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(payload)
	}
}
