package database

import (
	"time"
)

type Answer struct {
	ID          string
	Body        string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

type Citation struct {
	ID            string
	AnswerID      string
	URL           string // URL as captured from the answer text
	NormalizedURL string // Canonical form: lowercase host, no tracking params, no fragment
	Domain        string
	RawText       string
	Rank          int // 1-based order of appearance within the answer
	Confidence    float64
	CitationType  string
	Title         string

	// Populated asynchronously by the authority and health stages.
	AuthorityScore     *float64
	AuthorityUpdatedAt *time.Time
	IsLive             *bool // nil = unknown
	LastCheckedAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Threshold struct {
	ID              string
	URL             string
	Metric          string
	Operator        string // gt, gte, lt, lte
	Bound           float64
	Severity        string
	CooldownSeconds int
	Enabled         bool
	LastTriggeredAt *time.Time
	UpdatedAt       time.Time
}

type AlertEvent struct {
	ID          string
	ThresholdID string
	Severity    string
	Value       float64
	Message     string
	Sent        bool
	CreatedAt   time.Time
}

type Snapshot struct {
	ID     string
	URL    string
	Metric string
	Value  float64
	TakenAt time.Time
}

type CitationStats struct {
	Total   int
	Scored  int
	Live    int
	Dead    int
	Unknown int
}
