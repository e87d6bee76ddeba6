package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestMemoryQueueDedupByJobID(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	accepted, err := q.Enqueue(ctx, "citations", []byte("a"), Options{JobID: "citations-1", Delay: time.Hour})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !accepted {
		t.Error("Expected first enqueue to be accepted")
	}

	accepted, err = q.Enqueue(ctx, "citations", []byte("a"), Options{JobID: "citations-1"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if accepted {
		t.Error("Expected duplicate job ID to be dropped")
	}

	counts, err := q.Counts(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if counts["citations"].Delayed != 1 {
		t.Errorf("Expected 1 delayed job, got: %d", counts["citations"].Delayed)
	}
	if counts["citations"].Waiting != 0 {
		t.Errorf("Expected 0 waiting jobs, got: %d", counts["citations"].Waiting)
	}
}

func TestMemoryQueueProcessesJobs(t *testing.T) {
	q := NewMemoryQueue()
	q.pollInterval = 5 * time.Millisecond
	ctx := context.Background()

	var processed atomic.Int64
	err := q.RegisterWorker("citations", WorkerOptions{Concurrency: 2, RatePerMinute: 6000}, func(ctx context.Context, payload []byte) error {
		processed.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	for _, id := range []string{"j1", "j2", "j3"} {
		if _, err := q.Enqueue(ctx, "citations", []byte(id), Options{JobID: id}); err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
	}

	if err := q.Start(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer q.Close(ctx)

	if !waitFor(t, 2*time.Second, func() bool { return processed.Load() == 3 }) {
		t.Fatalf("Expected 3 processed jobs, got: %d", processed.Load())
	}

	counts, err := q.Counts(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if counts["citations"].Completed != 3 {
		t.Errorf("Expected 3 completed jobs, got: %d", counts["citations"].Completed)
	}
}

func TestMemoryQueueCompletedJobIDCanBeReused(t *testing.T) {
	q := NewMemoryQueue()
	q.pollInterval = 5 * time.Millisecond
	ctx := context.Background()

	var processed atomic.Int64
	q.RegisterWorker("citations", WorkerOptions{Concurrency: 1, RatePerMinute: 6000}, func(ctx context.Context, payload []byte) error {
		processed.Add(1)
		return nil
	})

	q.Enqueue(ctx, "citations", []byte("x"), Options{JobID: "reuse"})
	if err := q.Start(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer q.Close(ctx)

	if !waitFor(t, 2*time.Second, func() bool { return processed.Load() == 1 }) {
		t.Fatalf("Expected first job to complete, got: %d", processed.Load())
	}

	accepted, err := q.Enqueue(ctx, "citations", []byte("x"), Options{JobID: "reuse"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !accepted {
		t.Error("Expected completed job ID to be accepted again")
	}

	if !waitFor(t, 2*time.Second, func() bool { return processed.Load() == 2 }) {
		t.Errorf("Expected re-enqueued job to be processed, got: %d", processed.Load())
	}
}

func TestMemoryQueueRetriesUntilFailed(t *testing.T) {
	q := NewMemoryQueue()
	q.pollInterval = 5 * time.Millisecond
	ctx := context.Background()

	var attempts atomic.Int64
	q.RegisterWorker("health", WorkerOptions{
		Concurrency:   1,
		RatePerMinute: 6000,
		MaxAttempts:   3,
		Backoff:       Backoff{Kind: BackoffFixed, Base: 10 * time.Millisecond},
	}, func(ctx context.Context, payload []byte) error {
		attempts.Add(1)
		return errors.New("probe failed")
	})

	q.Enqueue(ctx, "health", []byte("c1"), Options{JobID: "health-c1"})
	if err := q.Start(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer q.Close(ctx)

	if !waitFor(t, 3*time.Second, func() bool {
		counts, _ := q.Counts(ctx)
		return counts["health"].Failed == 1
	}) {
		t.Fatal("Expected job to reach terminal failure")
	}

	if attempts.Load() != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts.Load())
	}

	counts, _ := q.Counts(ctx)
	if counts["health"].Completed != 0 {
		t.Errorf("Expected 0 completed jobs, got: %d", counts["health"].Completed)
	}
	if counts["health"].Waiting != 0 || counts["health"].Delayed != 0 {
		t.Errorf("Expected no pending jobs, got waiting=%d delayed=%d",
			counts["health"].Waiting, counts["health"].Delayed)
	}
}

func TestMemoryQueueDelayedPromotion(t *testing.T) {
	q := NewMemoryQueue()
	q.pollInterval = 5 * time.Millisecond
	ctx := context.Background()

	var processed atomic.Int64
	q.RegisterWorker("authority", WorkerOptions{Concurrency: 1, RatePerMinute: 6000}, func(ctx context.Context, payload []byte) error {
		processed.Add(1)
		return nil
	})

	q.Enqueue(ctx, "authority", []byte("grp"), Options{JobID: "authority-grp", Delay: 50 * time.Millisecond})
	if err := q.Start(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer q.Close(ctx)

	time.Sleep(20 * time.Millisecond)
	if processed.Load() != 0 {
		t.Error("Expected delayed job not to run before its delay elapsed")
	}

	if !waitFor(t, 2*time.Second, func() bool { return processed.Load() == 1 }) {
		t.Errorf("Expected delayed job to be promoted and processed, got: %d", processed.Load())
	}
}

func TestMemoryQueuePriorityJumpsQueue(t *testing.T) {
	q := NewMemoryQueue()
	q.pollInterval = 5 * time.Millisecond
	ctx := context.Background()

	var order []string
	done := make(chan struct{}, 3)
	q.RegisterWorker("citations", WorkerOptions{Concurrency: 1, RatePerMinute: 6000}, func(ctx context.Context, payload []byte) error {
		order = append(order, string(payload))
		done <- struct{}{}
		return nil
	})

	q.Enqueue(ctx, "citations", []byte("first"), Options{JobID: "a"})
	q.Enqueue(ctx, "citations", []byte("second"), Options{JobID: "b"})
	q.Enqueue(ctx, "citations", []byte("urgent"), Options{JobID: "c", Priority: true})

	if err := q.Start(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	defer q.Close(ctx)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for job %d", i+1)
		}
	}

	if order[0] != "urgent" {
		t.Errorf("Expected priority job to run first, got order: %v", order)
	}
}

func TestMemoryQueueCloseRejectsNewJobs(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	q.RegisterWorker("citations", WorkerOptions{}, func(ctx context.Context, payload []byte) error {
		return nil
	})
	if err := q.Start(); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := q.Close(closeCtx); err != nil {
		t.Fatalf("Expected clean close, got: %v", err)
	}

	if _, err := q.Enqueue(ctx, "citations", []byte("late"), Options{}); err == nil {
		t.Error("Expected enqueue after close to fail")
	}

	// Close is idempotent.
	if err := q.Close(ctx); err != nil {
		t.Errorf("Expected second close to be a no-op, got: %v", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	exp := Backoff{Kind: BackoffExponential, Base: 2 * time.Second}
	if got := exp.Delay(1); got != 2*time.Second {
		t.Errorf("Expected 2s for attempt 1, got: %s", got)
	}
	if got := exp.Delay(3); got != 8*time.Second {
		t.Errorf("Expected 8s for attempt 3, got: %s", got)
	}
	if got := exp.Delay(30); got != maxBackoffDelay {
		t.Errorf("Expected cap %s for attempt 30, got: %s", maxBackoffDelay, got)
	}

	fixed := Backoff{Kind: BackoffFixed, Base: 10 * time.Second}
	if got := fixed.Delay(5); got != 10*time.Second {
		t.Errorf("Expected fixed 10s, got: %s", got)
	}
}
