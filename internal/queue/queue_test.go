package queue

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/job"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memJobs is an in-memory job.Repository with the same atomicity contract
// as the Postgres implementation.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]*job.Job)}
}

func (m *memJobs) Insert(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memJobs) GetByID(ctx context.Context, id string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) Claim(ctx context.Context, queue, workerID string, limit int, leaseTTL time.Duration) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var runnable []*job.Job
	for _, j := range m.jobs {
		if j.Queue == queue && j.State == job.StateWaiting && !j.RunAt.After(now) {
			runnable = append(runnable, j)
		}
	}
	sort.Slice(runnable, func(a, b int) bool {
		if runnable[a].Priority != runnable[b].Priority {
			return runnable[a].Priority > runnable[b].Priority
		}
		return runnable[a].RunAt.Before(runnable[b].RunAt)
	})
	if len(runnable) > limit {
		runnable = runnable[:limit]
	}

	var claimed []*job.Job
	for _, j := range runnable {
		j.State = job.StateActive
		j.LockedBy = workerID
		until := now.Add(leaseTTL)
		j.LockedUntil = &until
		cp := *j
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (m *memJobs) ExtendLease(ctx context.Context, jobID, workerID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok && j.LockedBy == workerID && j.State == job.StateActive {
		j.LockedUntil = &until
	}
	return nil
}

func (m *memJobs) MarkCompleted(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.State = job.StateCompleted
		j.LockedBy = ""
		j.LockedUntil = nil
	}
	return nil
}

func (m *memJobs) MarkWaiting(ctx context.Context, jobID string, runAt time.Time, attemptsMade int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.State = job.StateWaiting
		j.RunAt = runAt
		j.AttemptsMade = attemptsMade
		j.LastError = lastError
		j.LockedBy = ""
		j.LockedUntil = nil
	}
	return nil
}

func (m *memJobs) UpdatePolicy(ctx context.Context, jobID string, maxAttempts int, kind job.BackoffKind, base time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.MaxAttempts = maxAttempts
		j.BackoffKind = kind
		j.BackoffBase = base
	}
	return nil
}

func (m *memJobs) MarkFailed(ctx context.Context, jobID string, attemptsMade int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.State = job.StateFailed
		j.AttemptsMade = attemptsMade
		j.LastError = lastError
		j.LockedBy = ""
		j.LockedUntil = nil
	}
	return nil
}

func (m *memJobs) ReleaseExpired(ctx context.Context, queue string, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Queue == queue && j.State == job.StateActive && j.LockedUntil != nil && j.LockedUntil.Before(now) {
			j.State = job.StateWaiting
			j.LockedBy = ""
			j.LockedUntil = nil
			n++
		}
	}
	return n, nil
}

func (m *memJobs) TrimTerminal(ctx context.Context, queue string, keepCompleted, keepFailed int) (int64, error) {
	return 0, nil
}

func (m *memJobs) CountByState(ctx context.Context, queue string, state job.State) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Queue == queue && j.State == state {
			n++
		}
	}
	return n, nil
}

type memDLQ struct {
	mu   sync.Mutex
	recs map[string]*job.DeadLetterRecord
}

func newMemDLQ() *memDLQ {
	return &memDLQ{recs: make(map[string]*job.DeadLetterRecord)}
}

func (m *memDLQ) Insert(ctx context.Context, r *job.DeadLetterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.OriginalJobID == r.OriginalJobID {
			return nil // idempotent per original job
		}
	}
	cp := *r
	m.recs[r.ID] = &cp
	return nil
}

func (m *memDLQ) GetByID(ctx context.Context, id string) (*job.DeadLetterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recs[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memDLQ) List(ctx context.Context, limit, offset int) ([]*job.DeadLetterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*job.DeadLetterRecord
	for _, r := range m.recs {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memDLQ) MarkRecovered(ctx context.Context, id, newJobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.recs[id]; ok {
		r.RecoveredByJobID = newJobID
	}
	return nil
}

func (m *memDLQ) Trim(ctx context.Context, keep int) (int64, error) { return 0, nil }

func (m *memDLQ) only(t *testing.T) *job.DeadLetterRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.recs, 1)
	for _, r := range m.recs {
		cp := *r
		return &cp
	}
	return nil
}

type connRefusedErr struct{}

func (connRefusedErr) Error() string   { return "connection reset" }
func (connRefusedErr) Timeout() bool   { return false }
func (connRefusedErr) Temporary() bool { return true }

var _ net.Error = connRefusedErr{}

func TestEnqueueSeedsPolicy(t *testing.T) {
	jobs := newMemJobs()
	q := New(jobs, newMemDLQ(), nil)

	id, err := q.Enqueue(context.Background(), Primary, map[string]string{"event_id": "e1"},
		EnqueueOptions{Class: job.ClassNetwork, Priority: 3})
	require.NoError(t, err)

	j, err := jobs.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, j)
	assert.Equal(t, 8, j.MaxAttempts)
	assert.Equal(t, job.BackoffExponential, j.BackoffKind)
	assert.Equal(t, time.Second, j.BackoffBase)
	assert.Equal(t, 3, j.Priority)
	assert.Equal(t, job.StateWaiting, j.State)
}

func TestNetworkJobDeadLettersAfterEightAttempts(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobs()
	dlq := newMemDLQ()
	q := New(jobs, dlq, nil)

	// enqueued with no class: the first failure must decide the policy
	id, err := q.Enqueue(ctx, Primary, []byte(`{"event_id":"e1"}`), EnqueueOptions{})
	require.NoError(t, err)

	cause := connRefusedErr{}
	var delays []time.Duration

	for attempt := 1; attempt <= 8; attempt++ {
		// make the job runnable immediately regardless of backoff
		require.NoError(t, jobs.MarkWaiting(ctx, id, time.Now().Add(-time.Millisecond), attempt-1, ""))

		claimed, err := q.Lease(ctx, Primary, "w1", 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, claimed, 1, "attempt %d", attempt)
		j := claimed[0]

		before := time.Now()
		dead, err := q.Fail(ctx, j, cause)
		require.NoError(t, err)

		if attempt < 8 {
			assert.False(t, dead)
			stored, _ := jobs.GetByID(ctx, id)
			assert.Equal(t, job.StateWaiting, stored.State)
			assert.Equal(t, 8, stored.MaxAttempts, "network policy persisted after attempt %d", attempt)
			delays = append(delays, stored.RunAt.Sub(before))
		} else {
			assert.True(t, dead)
		}
	}

	// strictly increasing exponential backoff
	for i := 1; i < len(delays); i++ {
		assert.Greater(t, delays[i], delays[i-1])
	}

	stored, _ := jobs.GetByID(ctx, id)
	assert.Equal(t, job.StateFailed, stored.State)
	assert.Equal(t, 8, stored.AttemptsMade)

	rec := dlq.only(t)
	assert.Equal(t, id, rec.OriginalJobID)
	assert.Equal(t, Primary, rec.OriginalQueue)
	assert.Equal(t, 8, rec.AttemptsMade)
	assert.Equal(t, "connection reset", rec.FailureReason)
}

func TestFirstFailureDecidesPolicyOnce(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobs()
	q := New(jobs, newMemDLQ(), nil)

	id, err := q.Enqueue(ctx, Primary, []byte(`{"event_id":"e2"}`), EnqueueOptions{})
	require.NoError(t, err)

	j, _ := jobs.GetByID(ctx, id)
	dead, err := q.Fail(ctx, j, connRefusedErr{})
	require.NoError(t, err)
	assert.False(t, dead)

	stored, _ := jobs.GetByID(ctx, id)
	assert.Equal(t, 8, stored.MaxAttempts)
	assert.Equal(t, job.BackoffExponential, stored.BackoffKind)
	assert.Equal(t, time.Second, stored.BackoffBase)

	// a later failure of a different kind keeps the decided budget
	dead, err = q.Fail(ctx, stored, errors.New("unexpected response shape"))
	require.NoError(t, err)
	assert.False(t, dead)

	stored, _ = jobs.GetByID(ctx, id)
	assert.Equal(t, 8, stored.MaxAttempts)
	assert.Equal(t, 2, stored.AttemptsMade)
}

func TestPermanentFailureGetsClientBudget(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobs()
	dlq := newMemDLQ()
	q := New(jobs, dlq, nil)

	id, err := q.Enqueue(ctx, Primary, []byte(`{"event_id":"e3"}`), EnqueueOptions{})
	require.NoError(t, err)

	cause := job.Permanent(errors.New("no strategy can handle order"))

	j, _ := jobs.GetByID(ctx, id)
	before := time.Now()
	dead, err := q.Fail(ctx, j, cause)
	require.NoError(t, err)
	assert.False(t, dead)

	stored, _ := jobs.GetByID(ctx, id)
	assert.Equal(t, 2, stored.MaxAttempts)
	assert.Equal(t, job.BackoffFixed, stored.BackoffKind)
	assert.InDelta(t, (5 * time.Second).Seconds(), stored.RunAt.Sub(before).Seconds(), 1)

	dead, err = q.Fail(ctx, stored, cause)
	require.NoError(t, err)
	assert.True(t, dead)
	dlq.only(t)
}

func TestDeadLetterCreatedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobs()
	dlq := newMemDLQ()
	q := New(jobs, dlq, nil)

	id, err := q.Enqueue(ctx, Primary, []byte(`{}`), EnqueueOptions{Class: job.ClassClient})
	require.NoError(t, err)

	j, _ := jobs.GetByID(ctx, id)
	j.AttemptsMade = j.MaxAttempts - 1

	dead, err := q.Fail(ctx, j, errors.New("bad request"))
	require.NoError(t, err)
	assert.True(t, dead)

	// a racing second fail of the same job must not create a second record
	j2, _ := jobs.GetByID(ctx, id)
	j2.AttemptsMade = j2.MaxAttempts - 1
	_, err = q.Fail(ctx, j2, errors.New("bad request"))
	require.NoError(t, err)

	dlq.only(t)
}

func TestRetryFromDeadLetter(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobs()
	dlq := newMemDLQ()
	q := New(jobs, dlq, nil)

	origID, err := q.Enqueue(ctx, Primary, []byte(`{"event_id":"e9"}`), EnqueueOptions{Class: job.ClassClient})
	require.NoError(t, err)

	j, _ := jobs.GetByID(ctx, origID)
	j.AttemptsMade = j.MaxAttempts - 1
	dead, err := q.Fail(ctx, j, errors.New("422 unprocessable"))
	require.NoError(t, err)
	require.True(t, dead)

	rec := dlq.only(t)
	newID, err := q.RetryFromDeadLetter(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotEqual(t, origID, newID)

	// replay runs under the default policy, not the exhausted client one
	replayed, _ := jobs.GetByID(ctx, newID)
	require.NotNil(t, replayed)
	assert.Equal(t, job.DefaultPolicy().MaxAttempts, replayed.MaxAttempts)
	assert.Equal(t, j.Payload, replayed.Payload)

	// record survives with a back-reference and cannot be replayed twice
	after, _ := dlq.GetByID(ctx, rec.ID)
	require.NotNil(t, after)
	assert.Equal(t, newID, after.RecoveredByJobID)

	_, err = q.RetryFromDeadLetter(ctx, rec.ID)
	assert.Error(t, err)
}

func TestRetryFromDeadLetterKeepsOriginalQueue(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobs()
	dlq := newMemDLQ()
	q := New(jobs, dlq, nil)

	origID, err := q.Enqueue(ctx, Scheduled, []byte(`{"kind":"reconcile.scan"}`), EnqueueOptions{})
	require.NoError(t, err)

	j, _ := jobs.GetByID(ctx, origID)
	j.AttemptsMade = j.MaxAttempts - 1
	dead, err := q.Fail(ctx, j, errors.New("scan window query timed out"))
	require.NoError(t, err)
	require.True(t, dead)

	rec := dlq.only(t)
	newID, err := q.RetryFromDeadLetter(ctx, rec.ID)
	require.NoError(t, err)

	// a scheduled-queue payload must not end up on the primary queue, where
	// its handler would reject it
	replayed, _ := jobs.GetByID(ctx, newID)
	require.NotNil(t, replayed)
	assert.Equal(t, Scheduled, replayed.Queue)
}

func TestRetryFromDeadLetterUnknownID(t *testing.T) {
	q := New(newMemJobs(), newMemDLQ(), nil)
	_, err := q.RetryFromDeadLetter(context.Background(), "missing")
	assert.Error(t, err)
}

func TestReclaimStalled(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobs()
	q := New(jobs, newMemDLQ(), nil)

	id, err := q.Enqueue(ctx, Primary, []byte(`{}`), EnqueueOptions{})
	require.NoError(t, err)

	claimed, err := q.Lease(ctx, Primary, "w1", 1, -time.Second) // already expired
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	n, err := q.ReclaimStalled(ctx, Primary)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, _ := jobs.GetByID(ctx, id)
	assert.Equal(t, job.StateWaiting, stored.State)
	assert.Empty(t, stored.LockedBy)
	// a stalled return does not burn an attempt
	assert.Equal(t, 0, stored.AttemptsMade)
}

func TestDelayedJobNotClaimableEarly(t *testing.T) {
	ctx := context.Background()
	q := New(newMemJobs(), newMemDLQ(), nil)

	_, err := q.Enqueue(ctx, Primary, []byte(`{}`), EnqueueOptions{Delay: time.Hour})
	require.NoError(t, err)

	claimed, err := q.Lease(ctx, Primary, "w1", 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	q := New(newMemJobs(), newMemDLQ(), nil)

	lowID, err := q.Enqueue(ctx, Primary, []byte(`{"p":"low"}`), EnqueueOptions{Priority: 0})
	require.NoError(t, err)
	highID, err := q.Enqueue(ctx, Primary, []byte(`{"p":"high"}`), EnqueueOptions{Priority: 5})
	require.NoError(t, err)

	claimed, err := q.Lease(ctx, Primary, "w1", 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, highID, claimed[0].ID)
	assert.Equal(t, lowID, claimed[1].ID)
}
