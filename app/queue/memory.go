package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var _ Queue = (*MemoryQueue)(nil)

type memJob struct {
	id       string
	payload  []byte
	attempts int
	readyAt  time.Time
}

type memStage struct {
	opts    WorkerOptions
	handler Handler
	limiter *rate.Limiter

	waiting []*memJob
	delayed []*memJob

	active    int64
	completed int64
	failed    int64
}

// MemoryQueue implements Queue entirely in-process. Selected at startup
// when no Redis URL is configured; also used as the test double.
type MemoryQueue struct {
	mu     sync.Mutex
	stages map[string]*memStage
	// jobs tracks every waiting/delayed/active job ID for dedup.
	jobs map[string]bool

	loopCtx    context.Context
	loopCancel context.CancelFunc
	wg         sync.WaitGroup
	started    bool
	closed     bool

	pollInterval time.Duration
}

func NewMemoryQueue() *MemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &MemoryQueue{
		stages:       make(map[string]*memStage),
		jobs:         make(map[string]bool),
		loopCtx:      ctx,
		loopCancel:   cancel,
		pollInterval: 100 * time.Millisecond,
	}
}

func (q *MemoryQueue) stage(name string) *memStage {
	s, ok := q.stages[name]
	if !ok {
		s = &memStage{}
		q.stages[name] = s
	}
	return s
}

func (q *MemoryQueue) Enqueue(ctx context.Context, stage string, payload []byte, opts Options) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, fmt.Errorf("queue is closed")
	}

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}

	if q.jobs[id] {
		slog.Debug("Job already scheduled, skipping", "stage", stage, "job_id", id)
		return false, nil
	}
	q.jobs[id] = true

	job := &memJob{id: id, payload: payload}
	s := q.stage(stage)

	if opts.Delay > 0 {
		job.readyAt = time.Now().Add(opts.Delay)
		s.delayed = append(s.delayed, job)
		return true, nil
	}

	if opts.Priority {
		s.waiting = append([]*memJob{job}, s.waiting...)
	} else {
		s.waiting = append(s.waiting, job)
	}

	return true, nil
}

func (q *MemoryQueue) RegisterWorker(stage string, opts WorkerOptions, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("cannot register worker after start")
	}
	if handler == nil {
		return fmt.Errorf("handler is required for stage %s", stage)
	}

	opts = opts.withDefaults()

	s := q.stage(stage)
	s.opts = opts
	s.handler = handler
	s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1)

	return nil
}

func (q *MemoryQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	for name, s := range q.stages {
		if s.handler == nil {
			continue
		}
		for i := 0; i < s.opts.Concurrency; i++ {
			q.wg.Add(1)
			go q.worker(name, s)
		}
	}

	return nil
}

func (q *MemoryQueue) worker(stage string, s *memStage) {
	defer q.wg.Done()

	for {
		select {
		case <-q.loopCtx.Done():
			return
		default:
		}

		job := q.pop(s)
		if job == nil {
			select {
			case <-q.loopCtx.Done():
				return
			case <-time.After(q.pollInterval):
			}
			continue
		}

		if err := s.limiter.Wait(q.loopCtx); err != nil {
			// Shutting down; put the job back untouched.
			q.mu.Lock()
			s.waiting = append([]*memJob{job}, s.waiting...)
			s.active--
			q.mu.Unlock()
			return
		}

		q.execute(stage, s, job)
	}
}

// pop promotes due delayed jobs and takes the front waiting job. The job
// is counted active until execute settles it.
func (q *MemoryQueue) pop(s *memStage) *memJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	remaining := s.delayed[:0]
	for _, job := range s.delayed {
		if job.readyAt.After(now) {
			remaining = append(remaining, job)
		} else {
			s.waiting = append(s.waiting, job)
		}
	}
	s.delayed = remaining

	if len(s.waiting) == 0 {
		return nil
	}

	job := s.waiting[0]
	s.waiting = s.waiting[1:]
	s.active++
	return job
}

func (q *MemoryQueue) execute(stage string, s *memStage, job *memJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
	err := s.handler(ctx, job.payload)
	cancel()

	q.mu.Lock()
	defer q.mu.Unlock()

	s.active--
	job.attempts++

	if err == nil {
		s.completed++
		delete(q.jobs, job.id)
		return
	}

	if job.attempts >= s.opts.MaxAttempts {
		s.failed++
		delete(q.jobs, job.id)
		slog.Error("Job failed after maximum attempts", "stage", stage, "job_id", job.id, "attempts", job.attempts, "error", err)
		return
	}

	delay := s.opts.Backoff.Delay(job.attempts)
	job.readyAt = time.Now().Add(delay)
	s.delayed = append(s.delayed, job)
	slog.Warn("Job retry scheduled", "stage", stage, "job_id", job.id, "attempts", job.attempts, "max_attempts", s.opts.MaxAttempts, "delay", delay.String(), "error", err)
}

func (q *MemoryQueue) Counts(ctx context.Context) (map[string]Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := make(map[string]Counts, len(q.stages))
	for name, s := range q.stages {
		counts[name] = Counts{
			Waiting:   int64(len(s.waiting)),
			Delayed:   int64(len(s.delayed)),
			Active:    s.active,
			Completed: s.completed,
			Failed:    s.failed,
		}
	}

	return counts, nil
}

func (q *MemoryQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.loopCancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for workers: %w", ctx.Err())
	}
}
