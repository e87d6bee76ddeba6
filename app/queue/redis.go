package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

var _ Queue = (*RedisQueue)(nil)

const (
	keyPrefix = "citeline"

	// Terminally failed jobs are retained briefly for observability.
	failedJobRetention = 24 * time.Hour

	// jobRecordTTL bounds how long a job record and its dedup guard can
	// outlive a crashed worker. Refreshed on pickup and on every retry, so
	// it only expires keys no live worker is touching.
	jobRecordTTL = 24 * time.Hour
)

type redisStage struct {
	opts    WorkerOptions
	handler Handler
	limiter *rate.Limiter
}

// RedisQueue implements Queue on a Redis backend so queued work survives
// process crashes. The client is injected by the caller and closed by
// Close.
type RedisQueue struct {
	client redis.UniversalClient

	mu      sync.Mutex
	stages  map[string]*redisStage
	started bool
	closed  bool

	loopCtx    context.Context
	loopCancel context.CancelFunc
	wg         sync.WaitGroup

	pollInterval time.Duration
}

func NewRedisQueue(client redis.UniversalClient) *RedisQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisQueue{
		client:       client,
		stages:       make(map[string]*redisStage),
		loopCtx:      ctx,
		loopCancel:   cancel,
		pollInterval: 250 * time.Millisecond,
	}
}

func waitingKey(stage string) string { return keyPrefix + ":q:" + stage + ":waiting" }
func delayedKey(stage string) string { return keyPrefix + ":q:" + stage + ":delayed" }
func counterKey(stage, name string) string {
	return keyPrefix + ":q:" + stage + ":" + name
}
func jobKey(id string) string   { return keyPrefix + ":job:" + id }
func dedupKey(id string) string { return keyPrefix + ":dedup:" + id }

func (q *RedisQueue) Enqueue(ctx context.Context, stage string, payload []byte, opts Options) (bool, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return false, fmt.Errorf("queue is closed")
	}

	id := opts.JobID
	if id == "" {
		id = uuid.NewString()
	}

	// The dedup guard is the sole mechanism preventing duplicate concurrent
	// processing of the same logical unit of work. Its lifetime is tied to
	// the job record: a guard without a record is an orphan and must never
	// block future enqueues.
	acquired, err := q.client.SetNX(ctx, dedupKey(id), stage, jobRecordTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire dedup guard: %w", err)
	}
	if !acquired {
		exists, err := q.client.Exists(ctx, jobKey(id)).Result()
		if err != nil {
			return false, fmt.Errorf("failed to check job record: %w", err)
		}
		if exists > 0 {
			slog.Debug("Job already scheduled, skipping", "stage", stage, "job_id", id)
			return false, nil
		}
		// Guard left behind by a failed enqueue or a crash before the job
		// record was written. Reclaim it and proceed.
		slog.Warn("Reclaiming orphaned dedup guard", "stage", stage, "job_id", id)
		if err := q.client.Set(ctx, dedupKey(id), stage, jobRecordTTL).Err(); err != nil {
			return false, fmt.Errorf("failed to reclaim dedup guard: %w", err)
		}
	}

	// A terminally failed run may have left a retained record under this ID.
	if err := q.client.Del(ctx, jobKey(id)).Err(); err != nil {
		q.releaseJob(id)
		return false, fmt.Errorf("failed to clear previous job record: %w", err)
	}

	err = q.client.HSet(ctx, jobKey(id), map[string]any{
		"stage":    stage,
		"payload":  payload,
		"attempts": 0,
	}).Err()
	if err != nil {
		q.releaseJob(id)
		return false, fmt.Errorf("failed to store job: %w", err)
	}
	q.client.Expire(ctx, jobKey(id), jobRecordTTL)

	if opts.Delay > 0 {
		err = q.client.ZAdd(ctx, delayedKey(stage), redis.Z{
			Score:  float64(time.Now().Add(opts.Delay).UnixMilli()),
			Member: id,
		}).Err()
	} else if opts.Priority {
		err = q.client.LPush(ctx, waitingKey(stage), id).Err()
	} else {
		err = q.client.RPush(ctx, waitingKey(stage), id).Err()
	}
	if err != nil {
		q.releaseJob(id)
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	return true, nil
}

// releaseJob removes a job record and its dedup guard so the ID can be
// enqueued again. Called on every enqueue failure after the guard was
// acquired; a leaked guard would silently drop all future work for the ID.
func (q *RedisQueue) releaseJob(id string) {
	if err := q.client.Del(context.Background(), jobKey(id), dedupKey(id)).Err(); err != nil {
		slog.Error("Failed to release job keys", "job_id", id, "error", err)
	}
}

func (q *RedisQueue) RegisterWorker(stage string, opts WorkerOptions, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("cannot register worker after start")
	}
	if handler == nil {
		return fmt.Errorf("handler is required for stage %s", stage)
	}

	opts = opts.withDefaults()

	q.stages[stage] = &redisStage{
		opts:    opts,
		handler: handler,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), 1),
	}

	return nil
}

func (q *RedisQueue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	for name, s := range q.stages {
		for i := 0; i < s.opts.Concurrency; i++ {
			q.wg.Add(1)
			go q.worker(name, s)
		}
	}

	return nil
}

func (q *RedisQueue) worker(stage string, s *redisStage) {
	defer q.wg.Done()

	for {
		select {
		case <-q.loopCtx.Done():
			return
		default:
		}

		id, payload, attempts, ok := q.pop(stage)
		if !ok {
			select {
			case <-q.loopCtx.Done():
				return
			case <-time.After(q.pollInterval):
			}
			continue
		}

		if err := s.limiter.Wait(q.loopCtx); err != nil {
			// Shutting down; put the job back untouched.
			q.requeueFront(stage, id)
			return
		}

		q.execute(stage, s, id, payload, attempts)
	}
}

// pop promotes due delayed jobs and takes the front waiting job ID.
func (q *RedisQueue) pop(stage string) (id string, payload []byte, attempts int, ok bool) {
	ctx := q.loopCtx

	q.promoteDue(ctx, stage)

	id, err := q.client.LPop(ctx, waitingKey(stage)).Result()
	if err == redis.Nil {
		return "", nil, 0, false
	}
	if err != nil {
		slog.Error("Failed to pop job", "stage", stage, "error", err)
		return "", nil, 0, false
	}

	fields, err := q.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil || len(fields) == 0 {
		slog.Error("Job data missing, dropping", "stage", stage, "job_id", id, "error", err)
		q.client.Del(context.Background(), dedupKey(id))
		return "", nil, 0, false
	}

	attempts, _ = strconv.Atoi(fields["attempts"])
	q.client.Expire(ctx, jobKey(id), jobRecordTTL)
	q.client.Expire(ctx, dedupKey(id), jobRecordTTL)
	q.client.Incr(ctx, counterKey(stage, "active"))

	return id, []byte(fields["payload"]), attempts, true
}

func (q *RedisQueue) promoteDue(ctx context.Context, stage string) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, delayedKey(stage), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil || len(ids) == 0 {
		return
	}

	for _, id := range ids {
		// ZRem is atomic, so concurrent workers promote each job once.
		removed, err := q.client.ZRem(ctx, delayedKey(stage), id).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.RPush(ctx, waitingKey(stage), id).Err(); err != nil {
			slog.Error("Failed to promote delayed job", "stage", stage, "job_id", id, "error", err)
		}
	}
}

func (q *RedisQueue) requeueFront(stage, id string) {
	ctx := context.Background()
	q.client.Decr(ctx, counterKey(stage, "active"))
	if err := q.client.LPush(ctx, waitingKey(stage), id).Err(); err != nil {
		slog.Error("Failed to requeue job", "stage", stage, "job_id", id, "error", err)
	}
}

func (q *RedisQueue) execute(stage string, s *redisStage, id string, payload []byte, attempts int) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.JobTimeout)
	err := s.handler(ctx, payload)
	cancel()

	settleCtx := context.Background()
	attempts++

	q.client.Decr(settleCtx, counterKey(stage, "active"))

	if err == nil {
		q.client.Incr(settleCtx, counterKey(stage, "completed"))
		q.client.Del(settleCtx, jobKey(id), dedupKey(id))
		return
	}

	if attempts >= s.opts.MaxAttempts {
		q.client.Incr(settleCtx, counterKey(stage, "failed"))
		q.client.HSet(settleCtx, jobKey(id), "attempts", attempts, "error", err.Error())
		q.client.Expire(settleCtx, jobKey(id), failedJobRetention)
		q.client.Del(settleCtx, dedupKey(id))
		slog.Error("Job failed after maximum attempts", "stage", stage, "job_id", id, "attempts", attempts, "error", err)
		return
	}

	delay := s.opts.Backoff.Delay(attempts)
	q.client.HSet(settleCtx, jobKey(id), "attempts", attempts)
	q.client.Expire(settleCtx, jobKey(id), jobRecordTTL)
	q.client.Expire(settleCtx, dedupKey(id), jobRecordTTL)
	q.client.ZAdd(settleCtx, delayedKey(stage), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: id,
	})
	slog.Warn("Job retry scheduled", "stage", stage, "job_id", id, "attempts", attempts, "max_attempts", s.opts.MaxAttempts, "delay", delay.String(), "error", err)
}

func (q *RedisQueue) Counts(ctx context.Context) (map[string]Counts, error) {
	q.mu.Lock()
	names := make([]string, 0, len(q.stages))
	for name := range q.stages {
		names = append(names, name)
	}
	q.mu.Unlock()

	counts := make(map[string]Counts, len(names))
	for _, name := range names {
		waiting, err := q.client.LLen(ctx, waitingKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count waiting jobs: %w", err)
		}
		delayed, err := q.client.ZCard(ctx, delayedKey(name)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to count delayed jobs: %w", err)
		}

		counts[name] = Counts{
			Waiting:   waiting,
			Delayed:   delayed,
			Active:    q.counter(ctx, name, "active"),
			Completed: q.counter(ctx, name, "completed"),
			Failed:    q.counter(ctx, name, "failed"),
		}
	}

	return counts, nil
}

func (q *RedisQueue) counter(ctx context.Context, stage, name string) int64 {
	v, err := q.client.Get(ctx, counterKey(stage, name)).Int64()
	if err != nil && err != redis.Nil {
		slog.Warn("Failed to read queue counter", "stage", stage, "counter", name, "error", err)
	}
	return v
}

func (q *RedisQueue) Close(ctx context.Context) error {
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
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for workers: %w", ctx.Err())
	}

	return q.client.Close()
}
