package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Jativax/sq-qb-integration-sub000/internal/domain/job"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_jobs_processed_total",
		Help: "Jobs finished by queue and result",
	}, []string{"queue", "result"})
	processingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "worker_job_duration_seconds",
		Help:    "Time from claim to terminal transition",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})
	stalledReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_stalled_jobs_reclaimed_total",
		Help: "Jobs returned to waiting after their lease expired",
	})
)

// Queue is the slice of the job queue the pool consumes.
type Queue interface {
	Lease(ctx context.Context, queueName, workerID string, limit int, leaseTTL time.Duration) ([]*job.Job, error)
	Heartbeat(ctx context.Context, j *job.Job, workerID string, leaseTTL time.Duration) error
	Complete(ctx context.Context, j *job.Job) error
	Fail(ctx context.Context, j *job.Job, cause error) (bool, error)
	ReclaimStalled(ctx context.Context, queueName string) (int64, error)
}

// Limiter gates job execution. Implementations must fail open.
type Limiter interface {
	Allow(ctx context.Context) bool
}

type nopLimiter struct{}

func (nopLimiter) Allow(ctx context.Context) bool { return true }

// Handler executes one job. A nil return completes the job; an error hands
// it to the queue's retry machinery, which alone decides between reschedule
// and dead-letter.
type Handler func(ctx context.Context, j *job.Job) error

// DeadLetterHook runs after a job is dead-lettered, outside the job's own
// error path.
type DeadLetterHook func(ctx context.Context, j *job.Job, reason string)

type Config struct {
	Queue             string
	Concurrency       int
	PollInterval      time.Duration
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	DrainTimeout      time.Duration
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.LeaseTTL / 3
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 30 * time.Second
	}
}

// Pool consumes a queue with bounded concurrency. Each goroutine leases one
// job at a time and runs it to a terminal transition; a per-job heartbeat
// keeps the lease alive so only genuinely dead workers trigger stalled
// recovery.
type Pool struct {
	cfg          Config
	queue        Queue
	handler      Handler
	limiter      Limiter
	onDeadLetter DeadLetterHook
	logger       *slog.Logger
	workerID     string

	// start times per in-flight job id, pruned on every terminal
	// transition so the map cannot grow unbounded.
	mu      sync.Mutex
	started map[string]time.Time
}

func NewPool(cfg Config, q Queue, handler Handler, limiter Limiter, onDeadLetter DeadLetterHook, logger *slog.Logger) *Pool {
	cfg.applyDefaults()
	if limiter == nil {
		limiter = nopLimiter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	host, _ := os.Hostname()
	return &Pool{
		cfg:          cfg,
		queue:        q,
		handler:      handler,
		limiter:      limiter,
		onDeadLetter: onDeadLetter,
		logger:       logger,
		workerID:     fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		started:      make(map[string]time.Time),
	}
}

// Run blocks until ctx is canceled, then drains in-flight jobs up to the
// drain timeout. Not-yet-claimed jobs stay queued for the next start.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("worker pool starting",
		"queue", p.cfg.Queue, "worker_id", p.workerID, "concurrency", p.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.runReclaimer(ctx)
	}()

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool drained", "queue", p.cfg.Queue)
		return nil
	case <-time.After(p.cfg.DrainTimeout):
		p.logger.Error("worker pool drain timed out", "queue", p.cfg.Queue, "timeout", p.cfg.DrainTimeout)
		return fmt.Errorf("drain timed out after %s", p.cfg.DrainTimeout)
	}
}

func (p *Pool) runWorker(ctx context.Context) {
	// In-flight jobs survive shutdown until the drain timeout.
	procCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobs, err := p.queue.Lease(ctx, p.cfg.Queue, p.workerID, 1, p.cfg.LeaseTTL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("failed to lease job", "queue", p.cfg.Queue, "error", err)
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}
		if len(jobs) == 0 {
			p.sleep(ctx, p.cfg.PollInterval)
			continue
		}

		p.process(ctx, procCtx, jobs[0])
	}
}

// process runs one leased job. ctx is the pool's shutdown context and only
// gates the pre-execution rate-limit wait: a job abandoned there is
// recovered by stalled reclaim. procCtx survives shutdown so an executing
// handler drains cleanly.
func (p *Pool) process(ctx, procCtx context.Context, j *job.Job) {
	p.mu.Lock()
	p.started[j.ID] = time.Now()
	p.mu.Unlock()

	stopHeartbeat := make(chan struct{})
	go p.heartbeat(procCtx, j, stopHeartbeat)

	defer func() {
		close(stopHeartbeat)

		p.mu.Lock()
		start, ok := p.started[j.ID]
		delete(p.started, j.ID)
		p.mu.Unlock()
		if ok {
			processingDuration.Observe(time.Since(start).Seconds())
		}
	}()

	// The rate limit protects the downstream API, so the budget is spent
	// on executed jobs only; the heartbeat keeps the lease alive while we
	// wait for a slot.
	for !p.limiter.Allow(procCtx) {
		if ctx.Err() != nil {
			return
		}
		p.sleep(ctx, p.cfg.PollInterval)
	}
	if ctx.Err() != nil {
		return
	}

	err := p.handler(procCtx, j)
	if err == nil {
		if cerr := p.queue.Complete(procCtx, j); cerr != nil {
			p.logger.Error("failed to complete job", "job_id", j.ID, "error", cerr)
			return
		}
		jobsProcessed.WithLabelValues(j.Queue, "completed").Inc()
		return
	}

	deadLettered, ferr := p.queue.Fail(procCtx, j, err)
	if ferr != nil {
		p.logger.Error("failed to record job failure", "job_id", j.ID, "error", ferr)
		return
	}
	if deadLettered {
		jobsProcessed.WithLabelValues(j.Queue, "dead_lettered").Inc()
		if p.onDeadLetter != nil {
			p.onDeadLetter(procCtx, j, err.Error())
		}
		return
	}
	jobsProcessed.WithLabelValues(j.Queue, "retried").Inc()
}

func (p *Pool) heartbeat(ctx context.Context, j *job.Job, stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(ctx, j, p.workerID, p.cfg.LeaseTTL); err != nil {
				p.logger.Warn("heartbeat failed", "job_id", j.ID, "error", err)
			}
		}
	}
}

func (p *Pool) runReclaimer(ctx context.Context) {
	interval := p.cfg.LeaseTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.queue.ReclaimStalled(ctx, p.cfg.Queue)
			if err != nil {
				p.logger.Error("stalled reclaim failed", "queue", p.cfg.Queue, "error", err)
				continue
			}
			if n > 0 {
				stalledReclaimed.Add(float64(n))
			}
		}
	}
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
