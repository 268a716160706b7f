package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/config"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/dedup"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/event"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/job"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/link"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/order"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/receipt"
	"github.com/Jativax/sq-qb-integration-sub000/internal/mapping"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Job payload origins.
const (
	OriginWebhook        = "webhook"
	OriginReconciliation = "reconciliation"
)

// ProcessPayload is the job payload carried through the primary queue. Both
// live webhook traffic and reconciliation re-enqueues use this shape; there
// is no separate recovery path.
type ProcessPayload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	OrderID   string `json:"order_id"`
	Origin    string `json:"origin"`
	Strategy  string `json:"strategy,omitempty"`
}

var receiptsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "quickbooks_receipts_created_total",
	Help: "Sales receipts created in QuickBooks",
})

type OrderFetcher interface {
	GetOrder(ctx context.Context, orderID string) (*order.Order, error)
}

type ReceiptCreator interface {
	CreateSalesReceipt(ctx context.Context, r *receipt.SalesReceipt) (*receipt.SalesReceipt, error)
}

type AlertPublisher interface {
	Publish(ctx context.Context, msg event.Message) error
}

// ProcessEvent is the worker handler: fetch the full order from Square,
// transform it, create the sales receipt in QuickBooks, persist the link.
// Steps run strictly in that sequence per job.
type ProcessEvent struct {
	squareAPI  OrderFetcher
	qbAPI      ReceiptCreator
	engine     *mapping.Engine
	links      link.Repository
	dedupStore dedup.Store
	alerts     AlertPublisher
	mappingCfg config.Mapping
	logger     *slog.Logger
}

func NewProcessEvent(
	squareAPI OrderFetcher,
	qbAPI ReceiptCreator,
	engine *mapping.Engine,
	links link.Repository,
	dedupStore dedup.Store,
	alerts AlertPublisher,
	mappingCfg config.Mapping,
	logger *slog.Logger,
) *ProcessEvent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessEvent{
		squareAPI:  squareAPI,
		qbAPI:      qbAPI,
		engine:     engine,
		links:      links,
		dedupStore: dedupStore,
		alerts:     alerts,
		mappingCfg: mappingCfg,
		logger:     logger,
	}
}

func (uc *ProcessEvent) Execute(ctx context.Context, j *job.Job) error {
	payload, err := decodePayload(j.Payload)
	if err != nil {
		// A payload that cannot be decoded will never succeed.
		return job.Permanent(err)
	}

	log := uc.logger.With("job_id", j.ID, "event_id", payload.EventID, "order_id", payload.OrderID)

	o, err := uc.squareAPI.GetOrder(ctx, payload.OrderID)
	if err != nil {
		return fmt.Errorf("fetch order: %w", err)
	}
	log.Debug("processing checkpoint", "stage", "order_fetched", "state", o.State)

	if o.State != order.StateCompleted {
		// Nothing to book yet, and no link row either: a skipped order must
		// stay visible to the reconciliation sweep in case its completion
		// webhook never arrives.
		log.Info("order not completed, skipping sync", "state", o.State)
		if err := uc.dedupStore.MarkProcessed(ctx, payload.EventID); err != nil {
			log.Warn("failed to mark event processed", "error", err)
		}
		return nil
	}

	// Checkpoint: link row marks processing as started. Created only once
	// the order is known to be completed, so it cannot mask an orphan.
	if _, err := uc.links.CreatePending(ctx, payload.OrderID); err != nil {
		return fmt.Errorf("create pending link: %w", err)
	}
	log.Debug("processing checkpoint", "stage", "link_pending")

	strategy := payload.Strategy
	if strategy == "" {
		strategy = uc.mappingCfg.DefaultStrategy
	}
	r, err := uc.engine.Transform(o, mapping.Context{StrategyName: strategy, Mapping: uc.mappingCfg})
	if err != nil {
		if errors.Is(err, mapping.ErrCannotHandle) {
			return job.Permanent(err)
		}
		return fmt.Errorf("transform order: %w", err)
	}
	log.Debug("processing checkpoint", "stage", "transformed", "lines", len(r.Lines))

	created, err := uc.qbAPI.CreateSalesReceipt(ctx, r)
	if err != nil {
		return fmt.Errorf("create sales receipt: %w", err)
	}
	receiptsCreated.Inc()
	log.Debug("processing checkpoint", "stage", "receipt_created", "receipt_id", created.ID)

	if err := uc.links.SetStatus(ctx, payload.OrderID, link.StatusCompleted, created.ID); err != nil {
		return fmt.Errorf("complete link: %w", err)
	}
	if err := uc.dedupStore.MarkProcessed(ctx, payload.EventID); err != nil {
		// The pipeline succeeded; a dedup bookkeeping failure is not worth
		// a retry that would duplicate the receipt.
		log.Warn("failed to mark event processed", "error", err)
	}

	log.Info("order synced", "receipt_id", created.ID)
	return nil
}

// OnDeadLetter is invoked by the worker pool when a job exhausts its
// retries: the link is terminally failed and an alert goes out.
func (uc *ProcessEvent) OnDeadLetter(ctx context.Context, j *job.Job, reason string) {
	payload, err := decodePayload(j.Payload)
	if err != nil {
		uc.logger.Error("dead-lettered job has undecodable payload", "job_id", j.ID, "error", err)
		return
	}

	if err := uc.links.SetStatus(ctx, payload.OrderID, link.StatusFailed, ""); err != nil {
		uc.logger.Error("failed to mark link failed", "order_id", payload.OrderID, "error", err)
	}

	alert, _ := json.Marshal(map[string]string{
		"job_id":   j.ID,
		"event_id": payload.EventID,
		"order_id": payload.OrderID,
		"reason":   reason,
	})
	msg := event.Message{
		ID:            uuid.New().String(),
		Type:          event.TypeJobDeadLetter,
		CorrelationID: payload.OrderID,
		Producer:      "worker",
		OccurredAt:    time.Now().UTC(),
		Payload:       alert,
	}
	if err := uc.alerts.Publish(ctx, msg); err != nil {
		uc.logger.Error("failed to publish dead-letter alert", "job_id", j.ID, "error", err)
	}
}

func decodePayload(raw json.RawMessage) (ProcessPayload, error) {
	var p ProcessPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode job payload: %w", err)
	}
	if p.OrderID == "" {
		return p, errors.New("job payload missing order_id")
	}
	return p, nil
}
