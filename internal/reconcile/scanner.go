package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/event"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/order"
	"github.com/Jativax/sq-qb-integration-sub000/internal/queue"
	"github.com/Jativax/sq-qb-integration-sub000/internal/usecase"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passesRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_passes_total",
		Help: "Reconciliation passes executed",
	})
	orphansFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_orphans_found_total",
		Help: "Completed Square orders with no local link record",
	})
)

// OrderSearcher is the upstream source of truth for the scan window.
type OrderSearcher interface {
	SearchCompleted(ctx context.Context, from, to time.Time) ([]*order.Order, error)
}

// LinkLister returns the locally known source ids for the same window.
type LinkLister interface {
	ListSourceIDs(ctx context.Context, from, to time.Time) ([]string, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, queueName string, payload any, opts queue.EnqueueOptions) (string, error)
}

type AlertPublisher interface {
	Publish(ctx context.Context, msg event.Message) error
}

type Config struct {
	// Window is how far back a pass looks.
	Window time.Duration
	// Exclusion trims the most recent span off the window so orders still
	// in normal asynchronous flight are not flagged as orphans.
	Exclusion time.Duration
}

// Scanner detects completed Square orders that never produced a link record
// and heals them by re-enqueuing through the standard pipeline. There is no
// separate recovery path; an orphan is just a late webhook.
type Scanner struct {
	cfg    Config
	square OrderSearcher
	links  LinkLister
	queue  Enqueuer
	alerts AlertPublisher
	logger *slog.Logger
}

func NewScanner(cfg Config, square OrderSearcher, links LinkLister, q Enqueuer, alerts AlertPublisher, logger *slog.Logger) *Scanner {
	if cfg.Window <= 0 {
		cfg.Window = 2 * time.Hour
	}
	if cfg.Exclusion <= 0 {
		cfg.Exclusion = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		cfg:    cfg,
		square: square,
		links:  links,
		queue:  q,
		alerts: alerts,
		logger: logger,
	}
}

// Run executes one pass and returns the number of orphans found. Re-running
// after the orphans are healed finds none: a link in any status counts as
// "known locally", so in-flight reprocessing jobs are not double-enqueued.
func (s *Scanner) Run(ctx context.Context, now time.Time) (int, error) {
	to := now.Add(-s.cfg.Exclusion)
	from := to.Add(-s.cfg.Window)
	passesRun.Inc()

	completed, err := s.square.SearchCompleted(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("search completed orders: %w", err)
	}

	// Links are looked up over a wider span than they were created in: an
	// order completed near the window start may have been processed well
	// before it.
	known, err := s.links.ListSourceIDs(ctx, from.Add(-24*time.Hour), now)
	if err != nil {
		return 0, fmt.Errorf("list local links: %w", err)
	}

	knownSet := make(map[string]struct{}, len(known))
	for _, id := range known {
		knownSet[id] = struct{}{}
	}

	orphans := 0
	for _, o := range completed {
		if _, ok := knownSet[o.ID]; ok {
			continue
		}
		orphans++
		orphansFound.Inc()

		// An orphan is a potentially unrecorded financial transaction.
		s.logger.Error("orphaned order detected", "order_id", o.ID, "closed_at", o.ClosedAt)
		s.publishAlert(ctx, o, from, to)

		payload := usecase.ProcessPayload{
			EventID:   fmt.Sprintf("reconcile-%s-%d", o.ID, now.Unix()),
			EventType: "order.reconciled",
			OrderID:   o.ID,
			Origin:    usecase.OriginReconciliation,
		}
		jobID, err := s.queue.Enqueue(ctx, queue.Primary, payload, queue.EnqueueOptions{})
		if err != nil {
			return orphans, fmt.Errorf("enqueue reprocess for order %s: %w", o.ID, err)
		}
		s.logger.Info("orphan re-enqueued", "order_id", o.ID, "job_id", jobID)
	}

	s.logger.Info("reconciliation pass finished",
		"from", from, "to", to, "completed_orders", len(completed), "orphans", orphans)
	return orphans, nil
}

func (s *Scanner) publishAlert(ctx context.Context, o *order.Order, from, to time.Time) {
	payload, _ := json.Marshal(map[string]any{
		"order_id":     o.ID,
		"closed_at":    o.ClosedAt,
		"total_amount": o.TotalMoney.Amount,
		"window_from":  from,
		"window_to":    to,
	})
	msg := event.Message{
		ID:            uuid.New().String(),
		Type:          event.TypeOrphanDetected,
		CorrelationID: o.ID,
		Producer:      "reconciler",
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}
	if err := s.alerts.Publish(ctx, msg); err != nil {
		s.logger.Error("failed to publish orphan alert", "order_id", o.ID, "error", err)
	}
}
