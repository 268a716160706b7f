package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/dedup"
	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/event"
	"github.com/Jativax/sq-qb-integration-sub000/internal/queue"
	"github.com/Jativax/sq-qb-integration-sub000/internal/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey = "webhook-signature-key"
	testURL = "https://example.com/webhooks/orders"
)

// memDedup implements dedup.Store in memory with injectable faults.
type memDedup struct {
	mu        sync.Mutex
	received  map[string]bool
	processed map[string]bool
	readErr   error
	writeErr  error
}

func newMemDedup() *memDedup {
	return &memDedup{received: make(map[string]bool), processed: make(map[string]bool)}
}

func (m *memDedup) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return false, m.readErr
	}
	return m.processed[eventID], nil
}

func (m *memDedup) MarkReceived(ctx context.Context, eventID, eventType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return false, m.writeErr
	}
	if m.received[eventID] {
		return false, nil
	}
	m.received[eventID] = true
	return true, nil
}

func (m *memDedup) MarkProcessed(ctx context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = true
	return nil
}

func (m *memDedup) CleanupExpired(ctx context.Context, now time.Time) (int64, error) { return 0, nil }

type memEnqueuer struct {
	mu       sync.Mutex
	payloads []ProcessPayload
	queues   []string
	err      error
}

func (m *memEnqueuer) Enqueue(ctx context.Context, queueName string, payload any, opts queue.EnqueueOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.payloads = append(m.payloads, payload.(ProcessPayload))
	m.queues = append(m.queues, queueName)
	return fmt.Sprintf("job-%d", len(m.payloads)), nil
}

func (m *memEnqueuer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payloads)
}

// passthroughTx runs the function directly; transactional atomicity is the
// real repositories' concern.
type passthroughTx struct{}

func (passthroughTx) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func sign(url string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(testKey))
	mac.Write([]byte(url))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookBody(eventID, orderID string) []byte {
	return []byte(fmt.Sprintf(
		`{"merchant_id":"M1","type":"order.updated","event_id":%q,"created_at":"2025-03-10T12:00:00Z","data":{"type":"order","id":%q}}`,
		eventID, orderID))
}

func newIngest(store dedup.Store, enq Enqueuer) *IngestEvent {
	v := signature.NewValidator(testKey, false, nil)
	return NewIngestEvent(v, store, nil, enq, passthroughTx{}, nil)
}

func TestIngestAcceptsValidEvent(t *testing.T) {
	store := newMemDedup()
	enq := &memEnqueuer{}
	uc := newIngest(store, enq)

	body := webhookBody("evt-1", "order-1")
	res, err := uc.Execute(context.Background(), testURL, body, sign(testURL, body))
	require.NoError(t, err)

	assert.False(t, res.Duplicate)
	assert.NotEmpty(t, res.JobID)
	assert.Equal(t, "evt-1", res.EventID)
	assert.Equal(t, "order-1", res.SourceID)

	require.Len(t, enq.payloads, 1)
	assert.Equal(t, queue.Primary, enq.queues[0])
	assert.Equal(t, "order-1", enq.payloads[0].OrderID)
	assert.Equal(t, OriginWebhook, enq.payloads[0].Origin)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	store := newMemDedup()
	enq := &memEnqueuer{}
	uc := newIngest(store, enq)

	body := webhookBody("evt-1", "order-1")
	_, err := uc.Execute(context.Background(), testURL, body, "not-a-signature")
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, enq.count(), "nothing may be enqueued for an unauthenticated delivery")
	assert.Empty(t, store.received)
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	uc := newIngest(newMemDedup(), &memEnqueuer{})

	body := []byte(`{"type":"order.updated"}`) // no event_id, no data.id
	_, err := uc.Execute(context.Background(), testURL, body, sign(testURL, body))
	assert.ErrorIs(t, err, event.ErrInvalidEvent)
}

func TestIngestDuplicateDelivery(t *testing.T) {
	store := newMemDedup()
	enq := &memEnqueuer{}
	uc := newIngest(store, enq)

	body := webhookBody("evt-1", "order-1")
	sig := sign(testURL, body)

	first, err := uc.Execute(context.Background(), testURL, body, sig)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := uc.Execute(context.Background(), testURL, body, sig)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Empty(t, second.JobID)
	assert.Equal(t, 1, enq.count(), "a duplicate delivery must not enqueue a second job")
}

func TestIngestConcurrentDeliveriesEnqueueOnce(t *testing.T) {
	store := newMemDedup()
	enq := &memEnqueuer{}
	uc := newIngest(store, enq)

	body := webhookBody("evt-race", "order-race")
	sig := sign(testURL, body)

	const n = 20
	results := make([]*IngestResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := uc.Execute(context.Background(), testURL, body, sig)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, res := range results {
		require.NotNil(t, res)
		if !res.Duplicate {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted, "exactly one delivery wins the insert")
	assert.Equal(t, 1, enq.count())
}

func TestIngestFailsOpenOnDedupReadError(t *testing.T) {
	store := newMemDedup()
	store.readErr = errors.New("connection refused")
	enq := &memEnqueuer{}
	uc := newIngest(store, enq)

	body := webhookBody("evt-1", "order-1")
	res, err := uc.Execute(context.Background(), testURL, body, sign(testURL, body))
	require.NoError(t, err, "a read failure must not drop the event")
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, enq.count())
}

func TestIngestSurfacesDedupWriteError(t *testing.T) {
	store := newMemDedup()
	store.writeErr = errors.New("connection refused")
	uc := newIngest(store, &memEnqueuer{})

	body := webhookBody("evt-1", "order-1")
	_, err := uc.Execute(context.Background(), testURL, body, sign(testURL, body))
	assert.Error(t, err, "a write failure must surface so the sender redelivers")
}

func TestIngestAlreadyProcessedEvent(t *testing.T) {
	store := newMemDedup()
	store.processed["evt-old"] = true
	enq := &memEnqueuer{}
	uc := newIngest(store, enq)

	body := webhookBody("evt-old", "order-1")
	res, err := uc.Execute(context.Background(), testURL, body, sign(testURL, body))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Zero(t, enq.count())
}
