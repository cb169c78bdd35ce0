// Package jobs runs background work on a fixed set of keyed lanes.
//
// Jobs sharing a key always land on the same lane and a lane is drained by a
// single goroutine, so work for one key runs one at a time in submission order.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"ladder-trade-bot-go/internal/metrics"
)

var (
	ErrQueueFull   = errors.New("job queue lane is full")
	ErrQueueClosed = errors.New("job queue is shut down")
)

// Job is a unit of work. Key selects the lane; jobs without a key are spread round-robin.
type Job struct {
	ID      string
	Key     string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Queue is a bounded, keyed worker pool.
type Queue struct {
	lanes  []chan Job
	logger *zap.Logger
	next   atomic.Uint64

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewQueue creates a queue with workers lanes, each buffering up to buffer jobs.
func NewQueue(workers, buffer int, logger *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 1
	}
	lanes := make([]chan Job, workers)
	for i := range lanes {
		lanes[i] = make(chan Job, buffer)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:  lanes,
		logger: logger.Named("jobs"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches one worker per lane. Values of ctx are visible to jobs; its
// cancellation is not, so accepted work can drain during Shutdown.
func (q *Queue) Start(ctx context.Context) {
	q.once.Do(func() {
		q.ctx, q.cancel = context.WithCancel(context.WithoutCancel(ctx))
		for i, lane := range q.lanes {
			q.wg.Add(1)
			go q.work(i, lane)
		}
		q.logger.Info("Job queue started", zap.Int("workers", len(q.lanes)), zap.Int("buffer", cap(q.lanes[0])))
	})
}

func (q *Queue) work(id int, lane <-chan Job) {
	defer q.wg.Done()
	for job := range lane {
		metrics.QueueDepth.Dec()
		q.run(id, job)
	}
}

func (q *Queue) run(worker int, job Job) {
	ctx := q.ctx
	cancel := func() {}
	if job.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
	}
	defer cancel()

	l := q.logger.With(zap.Int("worker", worker), zap.String("job", job.Name), zap.String("job_id", job.ID))
	defer func() {
		if r := recover(); r != nil {
			l.Error("Job panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		l.Error("Job failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	l.Debug("Job done", zap.Duration("took", time.Since(start)))
}

func (q *Queue) lane(key string) chan Job {
	n := uint64(len(q.lanes))
	if key == "" {
		return q.lanes[q.next.Add(1)%n]
	}
	return q.lanes[xxhash.Sum64String(key)%n]
}

// Enqueue submits job without blocking.
func (q *Queue) Enqueue(job Job) error {
	if job.Run == nil {
		return errors.New("job has no Run func")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.lane(job.Key) <- job:
		metrics.QueueDepth.Inc()
		return nil
	default:
		metrics.JobsDropped.WithLabelValues(job.Name).Inc()
		q.logger.Warn("Lane full, dropping job", zap.String("job", job.Name), zap.String("key", job.Key))
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for accepted ones to finish.
// When ctx expires first, running jobs see their context cancelled.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.logger.Info("Job queue stopped")
		return nil
	case <-ctx.Done():
		q.cancel()
		return fmt.Errorf("job queue shutdown: %w", ctx.Err())
	}
}

// Len returns the number of jobs waiting across all lanes.
func (q *Queue) Len() int {
	total := 0
	for _, lane := range q.lanes {
		total += len(lane)
	}
	return total
}

// Workers returns the number of lanes.
func (q *Queue) Workers() int {
	return len(q.lanes)
}
