package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/job"
	"github.com/Jativax/sq-qb-integration-sub000/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePass struct {
	runs int
	err  error
}

func (f *fakePass) Run(ctx context.Context, now time.Time) (int, error) {
	f.runs++
	return 0, f.err
}

type recordingEnqueuer struct {
	queues []string
	opts   []queue.EnqueueOptions
	err    error
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, queueName string, payload any, opts queue.EnqueueOptions) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.queues = append(r.queues, queueName)
	r.opts = append(r.opts, opts)
	return "job-next", nil
}

func triggerJob() *job.Job {
	raw, _ := json.Marshal(SeedPayload())
	return &job.Job{ID: "trigger-1", Queue: queue.Scheduled, Payload: raw}
}

func TestTriggerSchedulesSuccessorAfterPass(t *testing.T) {
	pass := &fakePass{}
	enq := &recordingEnqueuer{}
	trg := NewTrigger(pass, enq, time.Hour, nil)

	require.NoError(t, trg.Handle(context.Background(), triggerJob()))

	assert.Equal(t, 1, pass.runs)
	require.Len(t, enq.queues, 1)
	assert.Equal(t, queue.Scheduled, enq.queues[0])
	assert.Equal(t, time.Hour, enq.opts[0].Delay)
}

func TestTriggerFailedPassDoesNotMultiplyTriggers(t *testing.T) {
	pass := &fakePass{err: errors.New("search window query timed out")}
	enq := &recordingEnqueuer{}
	trg := NewTrigger(pass, enq, time.Hour, nil)

	// each retry attempt must leave scheduling to the retry machinery
	assert.Error(t, trg.Handle(context.Background(), triggerJob()))
	assert.Error(t, trg.Handle(context.Background(), triggerJob()))
	assert.Empty(t, enq.queues)
}

func TestTriggerReschedulesAfterDeadLetter(t *testing.T) {
	enq := &recordingEnqueuer{}
	trg := NewTrigger(&fakePass{}, enq, time.Hour, nil)

	trg.OnDeadLetter(context.Background(), triggerJob(), "exhausted retries")

	require.Len(t, enq.queues, 1)
	assert.Equal(t, queue.Scheduled, enq.queues[0])
	assert.Equal(t, time.Hour, enq.opts[0].Delay)
}
