package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/job"
	"github.com/Jativax/sq-qb-integration-sub000/internal/queue"
)

// PassRunner runs one reconciliation pass.
type PassRunner interface {
	Run(ctx context.Context, now time.Time) (int, error)
}

// Trigger drives the scanner off the scheduled queue. Each successful pass
// enqueues its own successor; a trigger that exhausts its retries is
// rescheduled from the dead-letter hook, so the sweep never silently halts.
type Trigger struct {
	scanner  PassRunner
	queue    Enqueuer
	interval time.Duration
	logger   *slog.Logger
}

func NewTrigger(scanner PassRunner, q Enqueuer, interval time.Duration, logger *slog.Logger) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{scanner: scanner, queue: q, interval: interval, logger: logger}
}

// SeedPayload is the trigger payload carried from pass to pass.
func SeedPayload() map[string]string {
	return map[string]string{"kind": "reconcile.scan"}
}

// Handle runs one pass and schedules the next. The successor is enqueued
// only on success: retries of a failed pass must not multiply triggers, and
// the exhausted case is covered by OnDeadLetter.
func (t *Trigger) Handle(ctx context.Context, j *job.Job) error {
	if _, err := t.scanner.Run(ctx, time.Now().UTC()); err != nil {
		return err
	}
	if _, err := t.queue.Enqueue(ctx, queue.Scheduled, j.Payload, queue.EnqueueOptions{Delay: t.interval}); err != nil {
		return fmt.Errorf("schedule next pass: %w", err)
	}
	return nil
}

// OnDeadLetter reschedules the sweep after a trigger burns its whole retry
// budget. Without it the schedule would stop until a process restart
// reseeded the queue.
func (t *Trigger) OnDeadLetter(ctx context.Context, j *job.Job, reason string) {
	t.logger.Error("reconciliation trigger dead-lettered, rescheduling",
		"job_id", j.ID, "reason", reason)
	if _, err := t.queue.Enqueue(ctx, queue.Scheduled, j.Payload, queue.EnqueueOptions{Delay: t.interval}); err != nil {
		t.logger.Error("failed to reschedule reconciliation trigger", "error", err)
	}
}
