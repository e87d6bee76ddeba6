package database

import (
	"time"
)

type AnswerRepository interface {
	UpsertAnswer(id, body string, receivedAt time.Time) error
	GetAnswer(id string) (*Answer, error)
	MarkProcessed(id string, processedAt time.Time) error
	GetAnswerCount() (int, error)
}

type CitationRepository interface {
	// UpsertCitation inserts a citation or updates the existing row sharing
	// (answer_id, normalized_url). Asynchronously populated fields are
	// preserved on update. Returns the citation's database ID.
	UpsertCitation(c Citation) (string, error)

	GetCitation(id string) (*Citation, error)
	GetCitationsByIDs(ids []string) ([]Citation, error)
	GetCitationsByAnswer(answerID string) ([]Citation, error)

	UpdateAuthorityScores(ids []string, score float64, updatedAt time.Time) error
	UpdateLiveness(id string, isLive bool, checkedAt time.Time) error
	// TouchChecked records a completed check without asserting liveness.
	TouchChecked(id string, checkedAt time.Time) error

	GetStaleAuthority(olderThan time.Time, limit int) ([]Citation, error)
	// GetStaleChecked returns citations whose last liveness check is older
	// than the given time, never-checked citations included.
	GetStaleChecked(olderThan time.Time, limit int) ([]Citation, error)
	GetCitationStats() (CitationStats, error)
	DeleteStale(olderThan time.Time) (int64, error)
}

type ThresholdRepository interface {
	UpsertThreshold(t Threshold) error
	GetEnabledThresholds() ([]Threshold, error)
	SetLastTriggered(id string, at time.Time) error

	InsertEvent(e AlertEvent) error
	MarkEventSent(id string) error
	GetUnsentEvents(limit int) ([]AlertEvent, error)
	GetRecentEvents(limit int) ([]AlertEvent, error)
}

type SnapshotRepository interface {
	InsertSnapshot(s Snapshot) error
	// GetLatestSnapshots returns the most recent snapshot per (url, metric).
	GetLatestSnapshots() ([]Snapshot, error)
}
