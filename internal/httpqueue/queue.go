// Package httpqueue implements the bounded HTTP request queue (module B):
// a fixed-capacity FIFO fed by many producers (discovery, book fetches,
// scoreboard polls) and drained by a fixed worker pool under a shared rate
// limit. When the queue is full, new submissions are dropped rather than
// blocking the caller, so a slow upstream never backs up the evaluation loop.
package httpqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrQueueFull is returned by Submit when the queue is at capacity.
var ErrQueueFull = errors.New("httpqueue: queue full, request dropped")

// Job is a unit of work handed to a worker. Run should perform the HTTP
// call and return an error only for failures the caller should observe;
// Run itself decides whether to retry.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Queue is a bounded FIFO of Jobs drained by a fixed pool of workers, each
// gated by a shared token-bucket limiter.
type Queue struct {
	ch       chan Job
	limiter  *rate.Limiter
	workers  int
	log      *slog.Logger
	dropped  atomic.Int64
	enqueued atomic.Int64
}

// New builds a Queue with the given capacity, worker count, and shared rate
// limit (ratePerSec tokens refilled per second, burst max burst size).
func New(capacity, workers int, ratePerSec float64, burst int, log *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	return &Queue{
		ch:      make(chan Job, capacity),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		workers: workers,
		log:     log,
	}
}

// Submit enqueues a job without blocking. Returns ErrQueueFull if the queue
// is at capacity; the caller is responsible for deciding whether a dropped
// job matters (book refreshes can be dropped safely, order submissions
// should not go through this queue at all).
func (q *Queue) Submit(j Job) error {
	select {
	case q.ch <- j:
		q.enqueued.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		if q.log != nil {
			q.log.Warn("httpqueue: dropping job, queue full", "job", j.Name)
		}
		return ErrQueueFull
	}
}

// Run starts the worker pool and blocks until ctx is cancelled or a worker
// returns a non-nil error. Individual Job failures are logged, not
// propagated, so one bad request never takes down the pool.
func (q *Queue) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			return q.worker(ctx)
		})
	}
	return g.Wait()
}

func (q *Queue) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j, ok := <-q.ch:
			if !ok {
				return nil
			}
			if err := q.limiter.Wait(ctx); err != nil {
				return err
			}
			if err := j.Run(ctx); err != nil && q.log != nil {
				q.log.Warn("httpqueue: job failed", "job", j.Name, "error", err)
			}
		}
	}
}

// Stats reports queue depth counters for the status surface (module M).
type Stats struct {
	Enqueued int64
	Dropped  int64
	Pending  int
}

// Stats returns a snapshot of queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued: q.enqueued.Load(),
		Dropped:  q.dropped.Load(),
		Pending:  len(q.ch),
	}
}
