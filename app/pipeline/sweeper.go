package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/xenlix/citeline/app/database"
	"github.com/xenlix/citeline/app/queue"
)

const (
	sweepInterval   = 24 * time.Hour
	sweepBatchSize  = 50
	sweepBatchLimit = 500
	sweepMaxSpread  = time.Hour

	// Scores older than this are due for a forced refresh.
	scoreStaleAfter = 24 * time.Hour

	// Citations untouched by any stage for this long are deleted. The
	// daily sweeps keep active citations fresh, so only rows the pipeline
	// has stopped maintaining ever reach the cutoff.
	citationRetention = 90 * 24 * time.Hour
)

// Sweeper periodically re-enqueues authority scoring for citations whose
// scores have gone stale, re-enqueues liveness checks for citations not
// verified within the recheck window, and deletes citations no stage has
// touched within the retention period. Enqueued work is spread over a
// random delay window so a sweep does not saturate a stage.
type Sweeper struct {
	citations database.CitationRepository
	queue     queue.Queue

	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewSweeper(citations database.CitationRepository, q queue.Queue) *Sweeper {
	return &Sweeper{
		citations: citations,
		queue:     q,
		interval:  sweepInterval,
	}
}

func (s *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	slog.Debug("Citation sweeper started", "interval", s.interval.String())
}

func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	slog.Debug("Citation sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	s.cleanup()
	s.sweepAuthority(ctx)
	s.sweepHealth(ctx)
}

func (s *Sweeper) sweepAuthority(ctx context.Context) {
	stale, err := s.citations.GetStaleAuthority(time.Now().Add(-scoreStaleAfter), sweepBatchLimit)
	if err != nil {
		slog.Error("Failed to find stale citations", "error", err)
		return
	}
	if len(stale) == 0 {
		slog.Debug("No stale authority scores found")
		return
	}

	enqueued := 0
	for start := 0; start < len(stale); start += sweepBatchSize {
		end := min(start+sweepBatchSize, len(stale))

		ids := make([]string, 0, end-start)
		for _, c := range stale[start:end] {
			ids = append(ids, c.ID)
		}

		payload, err := json.Marshal(AuthorityPayload{CitationIDs: ids, Force: true})
		if err != nil {
			slog.Error("Failed to marshal sweep payload", "error", err)
			continue
		}

		accepted, err := s.queue.Enqueue(ctx, StageAuthority, payload, queue.Options{
			JobID: AuthorityJobID(ids) + "-sweep",
			Delay: time.Duration(rand.Int64N(int64(sweepMaxSpread))),
		})
		if err != nil {
			slog.Error("Failed to enqueue sweep batch", "error", err)
			continue
		}
		if accepted {
			enqueued += len(ids)
		}
	}

	slog.Info("Stale authority sweep finished", "stale_count", len(stale), "enqueued_count", enqueued)
}

func (s *Sweeper) sweepHealth(ctx context.Context) {
	stale, err := s.citations.GetStaleChecked(time.Now().Add(-healthRecheckWindow), sweepBatchLimit)
	if err != nil {
		slog.Error("Failed to find stale liveness checks", "error", err)
		return
	}
	if len(stale) == 0 {
		slog.Debug("No stale liveness checks found")
		return
	}

	enqueued := 0
	for _, c := range stale {
		payload, err := json.Marshal(HealthPayload{CitationID: c.ID})
		if err != nil {
			slog.Error("Failed to marshal health recheck payload", "citation_id", c.ID, "error", err)
			continue
		}

		// Deterministic job ID, so a citation with a pending health job is
		// a no-op here.
		accepted, err := s.queue.Enqueue(ctx, StageHealth, payload, queue.Options{
			JobID: HealthJobID(c.ID),
			Delay: time.Duration(rand.Int64N(int64(sweepMaxSpread))),
		})
		if err != nil {
			slog.Error("Failed to enqueue health recheck", "citation_id", c.ID, "error", err)
			continue
		}
		if accepted {
			enqueued++
		}
	}

	slog.Info("Stale liveness sweep finished", "stale_count", len(stale), "enqueued_count", enqueued)
}

// cleanup hard-deletes citations no stage has updated within the retention
// period. This is the only deletion path for citation rows.
func (s *Sweeper) cleanup() {
	deleted, err := s.citations.DeleteStale(time.Now().Add(-citationRetention))
	if err != nil {
		slog.Error("Failed to delete expired citations", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Expired citations deleted", "deleted_count", deleted)
	}
}
