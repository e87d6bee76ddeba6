package pipeline

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xenlix/citeline/app/database"
	"github.com/xenlix/citeline/app/extractor"
	"github.com/xenlix/citeline/app/health"
	"github.com/xenlix/citeline/app/queue"
)

// Stage names. Each stage has its own worker pool, rate limit and retry
// policy.
const (
	StageCitations = "citations"
	StageAuthority = "authority"
	StageHealth    = "health"
)

const (
	authorityScheduleDelay = 5 * time.Second
	healthScheduleDelay    = 10 * time.Second

	// Liveness is rechecked at most once per window.
	healthRecheckWindow = 7 * 24 * time.Hour
)

// Metric names recorded as snapshots for the alert evaluator.
const (
	MetricCitationCount  = "citation_count"
	MetricAuthorityScore = "authority_score"
	MetricLiveness       = "liveness"
)

type ProcessAnswerPayload struct {
	AnswerID string `json:"answer_id"`
}

type AuthorityPayload struct {
	CitationIDs []string `json:"citation_ids"`
	Force       bool     `json:"force"`
}

type HealthPayload struct {
	CitationID string `json:"citation_id"`
}

// CitationsJobID is deterministic so re-submitting an answer while its
// extraction is pending dedups to a no-op.
func CitationsJobID(answerID string) string {
	return StageCitations + "-" + answerID
}

func AuthorityJobID(citationIDs []string) string {
	sorted := make([]string, len(citationIDs))
	copy(sorted, citationIDs)
	sort.Strings(sorted)

	sum := sha1.Sum([]byte(strings.Join(sorted, ",")))
	return StageAuthority + "-" + hex.EncodeToString(sum[:])
}

func HealthJobID(citationID string) string {
	return StageHealth + "-" + citationID
}

// AuthorityScorer scores a batch of citations, persisting the results.
type AuthorityScorer interface {
	ScoreCitations(ctx context.Context, citations []database.Citation, force bool) error
}

// HealthChecker probes a single citation URL.
type HealthChecker interface {
	Check(ctx context.Context, url string) health.Result
}

// Processor owns the pipeline stage handlers. It is constructed explicitly
// with its collaborators; nothing here is process-global.
type Processor struct {
	answers   database.AnswerRepository
	citations database.CitationRepository
	snapshots database.SnapshotRepository
	extractor *extractor.Extractor
	scorer    AuthorityScorer
	checker   HealthChecker
	queue     queue.Queue
}

func NewProcessor(
	answers database.AnswerRepository,
	citations database.CitationRepository,
	snapshots database.SnapshotRepository,
	ext *extractor.Extractor,
	scorer AuthorityScorer,
	checker HealthChecker,
	q queue.Queue,
) *Processor {
	return &Processor{
		answers:   answers,
		citations: citations,
		snapshots: snapshots,
		extractor: ext,
		scorer:    scorer,
		checker:   checker,
		queue:     q,
	}
}

// RegisterWorkers binds all stage handlers with their pool policies.
func (p *Processor) RegisterWorkers() error {
	err := p.queue.RegisterWorker(StageCitations, queue.WorkerOptions{
		Concurrency:   5,
		RatePerMinute: 10,
		MaxAttempts:   3,
		Backoff:       queue.Backoff{Kind: queue.BackoffExponential, Base: 2 * time.Second},
	}, p.ProcessAnswer)
	if err != nil {
		return fmt.Errorf("failed to register citations worker: %w", err)
	}

	err = p.queue.RegisterWorker(StageAuthority, queue.WorkerOptions{
		Concurrency:   3,
		RatePerMinute: 30,
		MaxAttempts:   5,
		Backoff:       queue.Backoff{Kind: queue.BackoffExponential, Base: 5 * time.Second},
	}, p.ScoreAuthority)
	if err != nil {
		return fmt.Errorf("failed to register authority worker: %w", err)
	}

	err = p.queue.RegisterWorker(StageHealth, queue.WorkerOptions{
		Concurrency:   2,
		RatePerMinute: 5,
		MaxAttempts:   2,
		Backoff:       queue.Backoff{Kind: queue.BackoffFixed, Base: 10 * time.Second},
	}, p.CheckHealth)
	if err != nil {
		return fmt.Errorf("failed to register health worker: %w", err)
	}

	return nil
}

// EnqueueAnswer schedules extraction for an answer. Returns false when an
// extraction job for this answer is already pending.
func (p *Processor) EnqueueAnswer(ctx context.Context, answerID string) (bool, error) {
	payload, err := json.Marshal(ProcessAnswerPayload{AnswerID: answerID})
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return p.queue.Enqueue(ctx, StageCitations, payload, queue.Options{
		JobID: CitationsJobID(answerID),
	})
}

// RescoreAnswer force-enqueues authority scoring for all of an answer's
// citations, jumping the queue.
func (p *Processor) RescoreAnswer(ctx context.Context, answerID string) (bool, error) {
	citations, err := p.citations.GetCitationsByAnswer(answerID)
	if err != nil {
		return false, fmt.Errorf("failed to load citations: %w", err)
	}
	if len(citations) == 0 {
		return false, nil
	}

	ids := make([]string, 0, len(citations))
	for _, c := range citations {
		ids = append(ids, c.ID)
	}

	payload, err := json.Marshal(AuthorityPayload{CitationIDs: ids, Force: true})
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return p.queue.Enqueue(ctx, StageAuthority, payload, queue.Options{
		JobID:    AuthorityJobID(ids) + "-forced",
		Priority: true,
	})
}

// ProcessAnswer extracts citations from an answer, persists them, and
// schedules the downstream authority and health stages. All citations are
// persisted before anything downstream is enqueued.
func (p *Processor) ProcessAnswer(ctx context.Context, payload []byte) error {
	var job ProcessAnswerPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	slog.Debug("Processing answer", "answer_id", job.AnswerID)

	answer, err := p.answers.GetAnswer(job.AnswerID)
	if err != nil {
		return fmt.Errorf("failed to load answer %s: %w", job.AnswerID, err)
	}
	if answer == nil {
		return fmt.Errorf("answer %s not found", job.AnswerID)
	}

	extracted := p.extractor.Run(answer.Body, extractor.DefaultOptions())

	ids := make([]string, 0, len(extracted))
	domainCounts := make(map[string]int)
	for _, c := range extracted {
		id, err := p.citations.UpsertCitation(database.Citation{
			AnswerID:      answer.ID,
			URL:           c.URL,
			NormalizedURL: c.NormalizedURL,
			Domain:        c.Domain,
			RawText:       c.RawText,
			Rank:          c.Rank,
			Confidence:    c.Confidence,
			CitationType:  string(c.Type),
			Title:         c.Title,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert citation %s: %w", c.NormalizedURL, err)
		}
		ids = append(ids, id)
		domainCounts[c.Domain]++
	}

	if err := p.answers.MarkProcessed(answer.ID, time.Now()); err != nil {
		return fmt.Errorf("failed to mark answer processed: %w", err)
	}

	for domain, count := range domainCounts {
		p.recordSnapshot(domain, MetricCitationCount, float64(count))
	}

	if len(ids) == 0 {
		slog.Info("Answer processed, no citations found", "answer_id", answer.ID)
		return nil
	}

	authorityPayload, err := json.Marshal(AuthorityPayload{CitationIDs: ids})
	if err != nil {
		return fmt.Errorf("failed to marshal authority payload: %w", err)
	}
	_, err = p.queue.Enqueue(ctx, StageAuthority, authorityPayload, queue.Options{
		JobID: AuthorityJobID(ids),
		Delay: authorityScheduleDelay,
	})
	if err != nil {
		return fmt.Errorf("failed to schedule authority scoring: %w", err)
	}

	for _, id := range ids {
		healthPayload, err := json.Marshal(HealthPayload{CitationID: id})
		if err != nil {
			return fmt.Errorf("failed to marshal health payload: %w", err)
		}
		_, err = p.queue.Enqueue(ctx, StageHealth, healthPayload, queue.Options{
			JobID: HealthJobID(id),
			Delay: healthScheduleDelay,
		})
		if err != nil {
			return fmt.Errorf("failed to schedule health check: %w", err)
		}
	}

	slog.Info("Answer processed", "answer_id", answer.ID, "citations_count", len(ids))
	return nil
}

// ScoreAuthority loads the batch and delegates to the scorer.
func (p *Processor) ScoreAuthority(ctx context.Context, payload []byte) error {
	var job AuthorityPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	slog.Debug("Scoring authority", "citations_count", len(job.CitationIDs), "force", job.Force)

	citations, err := p.citations.GetCitationsByIDs(job.CitationIDs)
	if err != nil {
		return fmt.Errorf("failed to load citations: %w", err)
	}
	if len(citations) == 0 {
		return nil
	}

	if err := p.scorer.ScoreCitations(ctx, citations, job.Force); err != nil {
		return fmt.Errorf("failed to score citations: %w", err)
	}

	scored, err := p.citations.GetCitationsByIDs(job.CitationIDs)
	if err != nil {
		return fmt.Errorf("failed to reload citations: %w", err)
	}
	for domain, avg := range averageAuthorityByDomain(scored) {
		p.recordSnapshot(domain, MetricAuthorityScore, avg)
	}

	slog.Info("Authority scoring finished", "citations_count", len(citations))
	return nil
}

// CheckHealth probes a single citation unless it was checked recently.
// An inconclusive probe updates last_checked_at without asserting liveness.
func (p *Processor) CheckHealth(ctx context.Context, payload []byte) error {
	var job HealthPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	citation, err := p.citations.GetCitation(job.CitationID)
	if err != nil {
		return fmt.Errorf("failed to load citation %s: %w", job.CitationID, err)
	}
	if citation == nil {
		return fmt.Errorf("citation %s not found", job.CitationID)
	}

	if citation.LastCheckedAt != nil && time.Since(*citation.LastCheckedAt) < healthRecheckWindow {
		slog.Debug("Citation checked recently, skipping", "citation_id", citation.ID, "domain", citation.Domain)
		return nil
	}

	result := p.checker.Check(ctx, citation.NormalizedURL)

	if result.Live == nil {
		if err := p.citations.TouchChecked(citation.ID, result.CheckedAt); err != nil {
			return fmt.Errorf("failed to record check: %w", err)
		}
		slog.Info("Health check inconclusive", "citation_id", citation.ID, "domain", citation.Domain)
		return nil
	}

	if err := p.citations.UpdateLiveness(citation.ID, *result.Live, result.CheckedAt); err != nil {
		return fmt.Errorf("failed to update liveness: %w", err)
	}

	liveness := 0.0
	if *result.Live {
		liveness = 1.0
	}
	p.recordSnapshot(citation.Domain, MetricLiveness, liveness)

	slog.Info("Health check finished", "citation_id", citation.ID, "domain", citation.Domain, "is_live", *result.Live)
	return nil
}

// recordSnapshot feeds the alert evaluator. Snapshot failures never fail
// the stage that produced them.
func (p *Processor) recordSnapshot(domain, metric string, value float64) {
	err := p.snapshots.InsertSnapshot(database.Snapshot{
		ID:      uuid.NewString(),
		URL:     domain,
		Metric:  metric,
		Value:   value,
		TakenAt: time.Now(),
	})
	if err != nil {
		slog.Warn("Failed to record metric snapshot", "domain", domain, "metric", metric, "error", err)
	}
}

func averageAuthorityByDomain(citations []database.Citation) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, c := range citations {
		if c.AuthorityScore == nil {
			continue
		}
		sums[c.Domain] += *c.AuthorityScore
		counts[c.Domain]++
	}

	avgs := make(map[string]float64, len(sums))
	for domain, sum := range sums {
		avgs[domain] = sum / float64(counts[domain])
	}
	return avgs
}
