package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const eventCacheTTL = 24 * time.Hour

// EventCache is a fast-path duplicate check sitting in front of the durable
// deduplication store. It is advisory only: a miss or a redis error just
// means the durable store decides.
type EventCache struct {
	client *redis.Client
}

func NewEventCache(client *redis.Client) *EventCache {
	return &EventCache{client: client}
}

func (c *EventCache) Seen(ctx context.Context, eventID string) bool {
	if c == nil || c.client == nil {
		return false
	}

	err := c.client.Get(ctx, eventKey(eventID)).Err()
	return err == nil
}

func (c *EventCache) MarkSeen(ctx context.Context, eventID string) {
	if c == nil || c.client == nil {
		return
	}

	// Best effort; the durable store is the authority.
	c.client.Set(ctx, eventKey(eventID), "1", eventCacheTTL)
}

func eventKey(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}
