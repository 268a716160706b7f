package event

import (
	"encoding/json"
	"time"
)

// Alert types published to the Kafka alert topic.
const (
	TypeOrphanDetected = "reconciliation.orphan_detected"
	TypeJobDeadLetter  = "job.dead_lettered"
)

// Message is the envelope published to Kafka for alerts and audit events.
// Payload is kept as raw JSON produced by the originating component.
type Message struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Producer      string          `json:"producer"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}
