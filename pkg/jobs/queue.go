package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job represents a queued background task.
type Job struct {
	ID       string
	Type     string
	Payload  interface{}
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	// HandlerTimeout bounds a single handler invocation. Zero means no bound.
	HandlerTimeout time.Duration
	Logger         *zap.Logger
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Enqueued  uint64
	Dropped   uint64
	Failed    uint64
	Processed uint64
}

// Queue is a lightweight in-memory job dispatcher backed by goroutines. Delivery is
// at-most-once: failed jobs are logged and discarded, never retried.
type Queue struct {
	name    string
	handler Handler

	workers        int
	handlerTimeout time.Duration
	logger         *zap.Logger

	jobs    chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	enqueued  atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	processed atomic.Uint64
}

// NewQueue builds a new queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:           name,
		handler:        handler,
		workers:        cfg.Workers,
		handlerTimeout: cfg.HandlerTimeout,
		logger:         cfg.Logger,
		jobs:           make(chan Job, cfg.BufferSize),
	}
}

// Start begins worker consumption. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i + 1)
	}
	q.started = true
	q.logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.workers, "buffer", cap(q.jobs))
}

// Stop cancels workers and waits for them to exit. Jobs still buffered are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Sugar().Infow("queue stopped", "queue", q.name, "discarded", len(q.jobs))
}

// TryEnqueue pushes a job without blocking. It returns false when the queue is not running or
// its buffer is full; the job is then dropped.
func (q *Queue) TryEnqueue(job Job) bool {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started || ctx.Err() != nil {
		q.dropped.Add(1)
		return false
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}

	select {
	case q.jobs <- job:
		q.enqueued.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Stats returns the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.enqueued.Load(),
		Dropped:   q.dropped.Load(),
		Failed:    q.failed.Load(),
		Processed: q.processed.Load(),
	}
}

func (q *Queue) worker(workerID int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.jobs:
			q.run(workerID, job)
		}
	}
}

func (q *Queue) run(workerID int, job Job) {
	ctx := q.ctx
	if q.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.handlerTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Sugar().Errorw("job panicked", "queue", q.name, "worker", workerID, "job_id", job.ID, "type", job.Type, "panic", r)
		}
	}()
	q.processed.Add(1)
	if err := q.handler(ctx, job); err != nil {
		q.failed.Add(1)
		q.logger.Sugar().Debugw("job failed, discarding", "queue", q.name, "worker", workerID, "job_id", job.ID, "type", job.Type, "error", err)
	}
}
