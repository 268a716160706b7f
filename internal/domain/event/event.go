package event

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrInvalidEvent = errors.New("invalid webhook event")

// Webhook is the parsed Square webhook envelope. The raw body is kept
// alongside because signature verification runs over the exact bytes.
type Webhook struct {
	MerchantID string    `json:"merchant_id"`
	Type       string    `json:"type"`
	EventID    string    `json:"event_id"`
	CreatedAt  time.Time `json:"created_at"`
	Data       Data      `json:"data"`
}

type Data struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Object json.RawMessage `json:"object"`
}

// Parse decodes and validates the webhook envelope. The event id and the
// referenced object id are the two fields the pipeline cannot run without.
func Parse(body []byte) (*Webhook, error) {
	var w Webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, ErrInvalidEvent
	}
	if w.EventID == "" || w.Type == "" || w.Data.ID == "" {
		return nil, ErrInvalidEvent
	}
	return &w, nil
}
