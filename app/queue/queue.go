package queue

import (
	"context"
	"time"
)

// Handler processes a single job payload. A returned error schedules a
// retry until the stage's attempt limit is exhausted.
type Handler func(ctx context.Context, payload []byte) error

type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffFixed       BackoffKind = "fixed"
)

type Backoff struct {
	Kind BackoffKind
	Base time.Duration
}

const maxBackoffDelay = 5 * time.Minute

// Delay returns the wait before the next attempt. attempt is the number of
// attempts already made (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = time.Second
	}

	if b.Kind == BackoffFixed {
		return base
	}

	if attempt < 1 {
		attempt = 1
	}
	delay := base << uint(attempt-1)
	if delay > maxBackoffDelay || delay <= 0 {
		delay = maxBackoffDelay
	}
	return delay
}

// Options controls a single enqueue.
type Options struct {
	// JobID is a deterministic identifier derived from the job's semantic
	// inputs. Enqueueing an ID that is already waiting, delayed or active
	// is a no-op. Empty means a unique ID is assigned.
	JobID string
	// Delay defers the first execution.
	Delay time.Duration
	// Priority places the job at the front of its stage's queue.
	Priority bool
}

// WorkerOptions configures a stage's worker pool.
type WorkerOptions struct {
	Concurrency   int
	RatePerMinute int
	MaxAttempts   int
	JobTimeout    time.Duration
	Backoff       Backoff
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.RatePerMinute <= 0 {
		o.RatePerMinute = 60
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 2 * time.Minute
	}
	return o
}

// Counts is a point-in-time view of a stage's job populations.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Queue is a durable, prioritized, retryable job queue with per-stage
// worker pools. Implementations: RedisQueue (durable) and MemoryQueue
// (in-process double with identical semantics).
type Queue interface {
	// Enqueue submits a job to a stage. Returns false when the job was
	// dropped by the dedup guard.
	Enqueue(ctx context.Context, stage string, payload []byte, opts Options) (bool, error)

	// RegisterWorker binds a handler and worker pool to a stage. Must be
	// called before Start.
	RegisterWorker(stage string, opts WorkerOptions, handler Handler) error

	// Start launches all registered worker pools.
	Start() error

	// Counts reports per-stage job statistics.
	Counts(ctx context.Context) (map[string]Counts, error)

	// Close stops intake and pickup, waits for in-flight jobs to finish
	// (bounded by ctx), and releases backend connections.
	Close(ctx context.Context) error
}
