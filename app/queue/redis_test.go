package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	q := NewRedisQueue(client)
	q.pollInterval = 5 * time.Millisecond
	return q, mr
}

// failCommandHook fails the next n invocations of a single Redis command.
type failCommandHook struct {
	command   string
	remaining atomic.Int64
}

func (h *failCommandHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *failCommandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == h.command && h.remaining.Add(-1) >= 0 {
			return errors.New(h.command + " unavailable")
		}
		return next(ctx, cmd)
	}
}

func (h *failCommandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisQueueDedupByJobID(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	accepted, err := q.Enqueue(ctx, "citations", []byte("a"), Options{JobID: "citations-1"})
	require.NoError(t, err)
	assert.True(t, accepted)

	accepted, err = q.Enqueue(ctx, "citations", []byte("a"), Options{JobID: "citations-1"})
	require.NoError(t, err)
	assert.False(t, accepted, "duplicate job ID should be dropped")
}

func TestRedisQueueEnqueueFailureReleasesDedupGuard(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	hook := &failCommandHook{command: "hset"}
	hook.remaining.Store(1)
	client.AddHook(hook)

	q := NewRedisQueue(client)
	ctx := context.Background()

	accepted, err := q.Enqueue(ctx, "citations", []byte("a"), Options{JobID: "citations-1"})
	require.Error(t, err)
	assert.False(t, accepted)
	assert.False(t, mr.Exists(dedupKey("citations-1")), "failed enqueue must release the dedup guard")
	assert.False(t, mr.Exists(jobKey("citations-1")))

	// With the backend healthy again the same ID must be accepted, not
	// treated as a duplicate.
	accepted, err = q.Enqueue(ctx, "citations", []byte("a"), Options{JobID: "citations-1"})
	require.NoError(t, err)
	assert.True(t, accepted, "retry after a failed enqueue should be accepted")

	ids, err := mr.List(waitingKey("citations"))
	require.NoError(t, err)
	assert.Equal(t, []string{"citations-1"}, ids)
}

func TestRedisQueueReclaimsOrphanedDedupGuard(t *testing.T) {
	q, mr := newTestRedisQueue(t)
	ctx := context.Background()

	// A guard without a job record is what a crash between SetNX and HSet
	// leaves behind.
	require.NoError(t, mr.Set(dedupKey("citations-1"), "citations"))

	accepted, err := q.Enqueue(ctx, "citations", []byte("a"), Options{JobID: "citations-1"})
	require.NoError(t, err)
	assert.True(t, accepted, "orphaned guard should not block new work")
	assert.True(t, mr.Exists(jobKey("citations-1")))

	accepted, err = q.Enqueue(ctx, "citations", []byte("a"), Options{JobID: "citations-1"})
	require.NoError(t, err)
	assert.False(t, accepted, "live job should still dedup")
}

func TestRedisQueueProcessesJobs(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	var processed atomic.Int64
	err := q.RegisterWorker("citations", WorkerOptions{Concurrency: 2, RatePerMinute: 6000}, func(ctx context.Context, payload []byte) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, err)

	for _, id := range []string{"j1", "j2", "j3"} {
		_, err := q.Enqueue(ctx, "citations", []byte(id), Options{JobID: id})
		require.NoError(t, err)
	}

	require.NoError(t, q.Start())
	defer q.Close(ctx)

	require.Eventually(t, func() bool { return processed.Load() == 3 },
		2*time.Second, 10*time.Millisecond)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts["citations"].Completed)
	assert.Equal(t, int64(0), counts["citations"].Waiting)
}

func TestRedisQueueRetriesUntilFailed(t *testing.T) {
	q, mr := newTestRedisQueue(t)
	ctx := context.Background()

	var attempts atomic.Int64
	err := q.RegisterWorker("health", WorkerOptions{
		Concurrency:   1,
		RatePerMinute: 6000,
		MaxAttempts:   3,
		Backoff:       Backoff{Kind: BackoffFixed, Base: 10 * time.Millisecond},
	}, func(ctx context.Context, payload []byte) error {
		attempts.Add(1)
		return errors.New("probe failed")
	})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "health", []byte("c1"), Options{JobID: "health-c1"})
	require.NoError(t, err)

	require.NoError(t, q.Start())
	defer q.Close(ctx)

	require.Eventually(t, func() bool {
		counts, err := q.Counts(ctx)
		return err == nil && counts["health"].Failed == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(3), attempts.Load())

	// The terminal job record stays around for inspection.
	assert.True(t, mr.Exists(jobKey("health-c1")))
	assert.False(t, mr.Exists(dedupKey("health-c1")), "dedup guard should be released")
}

func TestRedisQueueDelayedPromotion(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	var processed atomic.Int64
	err := q.RegisterWorker("authority", WorkerOptions{Concurrency: 1, RatePerMinute: 6000}, func(ctx context.Context, payload []byte) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, "authority", []byte("grp"), Options{JobID: "authority-grp", Delay: 50 * time.Millisecond})
	require.NoError(t, err)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["authority"].Delayed)

	require.NoError(t, q.Start())
	defer q.Close(ctx)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), processed.Load(), "delayed job should not run early")

	require.Eventually(t, func() bool { return processed.Load() == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestRedisQueueCloseRejectsNewJobs(t *testing.T) {
	q, _ := newTestRedisQueue(t)
	ctx := context.Background()

	err := q.RegisterWorker("citations", WorkerOptions{}, func(ctx context.Context, payload []byte) error {
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, q.Start())

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, q.Close(closeCtx))

	_, err = q.Enqueue(ctx, "citations", []byte("late"), Options{})
	assert.Error(t, err)
}
