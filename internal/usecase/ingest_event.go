package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/dedup"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/event"
	"github.com/Jativax/sq-qb-integration-sub000/internal/infrastructure/redis"
	"github.com/Jativax/sq-qb-integration-sub000/internal/queue"
	"github.com/Jativax/sq-qb-integration-sub000/internal/signature"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

var (
	eventsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_accepted_total",
		Help: "Webhook events accepted and enqueued",
	})
	eventsDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_events_duplicate_total",
		Help: "Webhook deliveries rejected as duplicates",
	})
	eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_rejected_total",
		Help: "Webhook deliveries rejected before enqueue",
	}, []string{"reason"})
)

// Enqueuer is the slice of the job queue the ingest path needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload any, opts queue.EnqueueOptions) (string, error)
}

// Transactor runs a function inside a database transaction carried in the
// context, so the repositories it touches commit or roll back together.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// IngestEvent accepts a raw webhook delivery: authenticate, deduplicate,
// enqueue. Everything downstream of the queue is invisible to the caller.
type IngestEvent struct {
	validator *signature.Validator
	dedup     dedup.Store
	cache     *redis.EventCache
	queue     Enqueuer
	tx        Transactor
	logger    *slog.Logger
}

func NewIngestEvent(
	validator *signature.Validator,
	dedupStore dedup.Store,
	cache *redis.EventCache,
	q Enqueuer,
	tx Transactor,
	logger *slog.Logger,
) *IngestEvent {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestEvent{
		validator: validator,
		dedup:     dedupStore,
		cache:     cache,
		queue:     q,
		tx:        tx,
		logger:    logger,
	}
}

type IngestResult struct {
	JobID     string `json:"job_id,omitempty"`
	EventID   string `json:"event_id"`
	SourceID  string `json:"source_id"`
	Duplicate bool   `json:"duplicate"`
}

func (uc *IngestEvent) Execute(ctx context.Context, url string, body []byte, sigHeader string) (*IngestResult, error) {
	if !uc.validator.Valid(url, body, sigHeader) {
		eventsRejected.WithLabelValues("signature").Inc()
		return nil, ErrInvalidSignature
	}

	w, err := event.Parse(body)
	if err != nil {
		eventsRejected.WithLabelValues("schema").Inc()
		return nil, err
	}

	res := &IngestResult{EventID: w.EventID, SourceID: w.Data.ID}

	// Fast path: redis remembers recently seen events so duplicates skip
	// the durable store entirely.
	if uc.cache.Seen(ctx, w.EventID) {
		eventsDuplicate.Inc()
		res.Duplicate = true
		return res, nil
	}

	processed, err := uc.dedup.IsProcessed(ctx, w.EventID)
	if err != nil {
		// Fail open: treat a store read error as not-yet-processed so a
		// legitimate event is never dropped silently.
		uc.logger.Warn("dedup store read failed, proceeding as unprocessed",
			"event_id", w.EventID, "error", err)
	} else if processed {
		eventsDuplicate.Inc()
		uc.cache.MarkSeen(ctx, w.EventID)
		res.Duplicate = true
		return res, nil
	}

	// Acceptance and enqueue commit together: an event the sender sees as
	// accepted always has its processing job.
	var (
		fresh bool
		jobID string
	)
	err = uc.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		fresh, err = uc.dedup.MarkReceived(ctx, w.EventID, w.Type)
		if err != nil {
			return fmt.Errorf("record event receipt: %w", err)
		}
		if !fresh {
			return nil
		}

		payload := ProcessPayload{
			EventID:   w.EventID,
			EventType: w.Type,
			OrderID:   w.Data.ID,
			Origin:    OriginWebhook,
		}
		jobID, err = uc.queue.Enqueue(ctx, queue.Primary, payload, queue.EnqueueOptions{})
		if err != nil {
			return fmt.Errorf("enqueue webhook job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !fresh {
		// Another concurrent delivery won the insert; this one skips
		// without side effects.
		eventsDuplicate.Inc()
		res.Duplicate = true
		return res, nil
	}

	uc.cache.MarkSeen(ctx, w.EventID)
	eventsAccepted.Inc()
	uc.logger.Info("webhook event accepted",
		"event_id", w.EventID, "event_type", w.Type, "order_id", w.Data.ID, "job_id", jobID)

	res.JobID = jobID
	return res, nil
}
