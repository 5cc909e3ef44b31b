// Package async runs receipt submissions on a bounded worker pool so that
// batch sources (inbox files, bulk uploads) do not block their producers.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/internal/metrics"
	"github.com/joseph-ayodele/receipt-rewards/internal/receipts"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("submission queue is shutting down")

// Job is one queued submission.
type Job struct {
	ID      uuid.UUID
	Request receipts.SubmitRequest
	// Source names the producer, e.g. the inbox file path.
	Source   string
	QueuedAt time.Time
	TraceID  string
}

// Submitter evaluates receipts; *receipts.Service satisfies it.
type Submitter interface {
	Submit(ctx context.Context, req receipts.SubmitRequest) (*receipts.Result, error)
}

// ResultFunc observes each finished job. It runs on the worker goroutine.
type ResultFunc func(job Job, res *receipts.Result, err error)

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

type SubmissionQueue struct {
	submitter Submitter
	logger    *slog.Logger
	workers   int
	timeout   time.Duration
	onResult  ResultFunc

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*SubmissionQueue)

// WithWorkers sets the number of worker goroutines.
func WithWorkers(n int) Option {
	return func(q *SubmissionQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueSize bounds the number of buffered jobs.
func WithQueueSize(n int) Option {
	return func(q *SubmissionQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

// WithJobTimeout bounds each job, queue wait excluded. The service applies
// its own processing budget inside this.
func WithJobTimeout(d time.Duration) Option {
	return func(q *SubmissionQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithResultFunc registers a callback for every finished job.
func WithResultFunc(fn ResultFunc) Option {
	return func(q *SubmissionQueue) { q.onResult = fn }
}

// NewSubmissionQueue creates a queue and starts its workers.
func NewSubmissionQueue(submitter Submitter, logger *slog.Logger, opts ...Option) *SubmissionQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &SubmissionQueue{
		submitter: submitter,
		logger:    logger,
		workers:   4,
		timeout:   time.Minute,
		ch:        make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *SubmissionQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					metrics.QueueDepth.Dec()
					q.run(workerID, job)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *SubmissionQueue) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	res, err := q.submitter.Submit(ctx, job.Request)
	if err != nil {
		q.logger.Error("submission failed", "worker_id", workerID, "job_id", job.ID, "source", job.Source, "error", err)
	} else {
		q.logger.Info("submission processed", "worker_id", workerID, "job_id", job.ID,
			"receipt_id", res.Receipt.ID, "status", res.Verdict.Status)
	}
	if q.onResult != nil {
		q.onResult(job, res, err)
	}
}

// Enqueue blocks while the buffer is full until ctx is done.
func (q *SubmissionQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", job.ID)
		return ErrQueueClosed
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now()
	}
	metrics.QueueDepth.Inc()
	select {
	case q.ch <- job:
	default:
		q.logger.Warn("queue full, applying backpressure", "job_id", job.ID)
		select {
		case q.ch <- job:
		case <-ctx.Done():
			metrics.QueueDepth.Dec()
			return ctx.Err()
		}
	}
	q.logger.Debug("queued submission", "job_id", job.ID, "source", job.Source)
	return nil
}

// Shutdown stops accepting jobs and waits for queued ones to drain.
func (q *SubmissionQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
