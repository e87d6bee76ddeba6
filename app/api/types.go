package api

import (
	"time"

	"github.com/xenlix/citeline/app/alerts"
	"github.com/xenlix/citeline/app/database"
	"github.com/xenlix/citeline/app/pipeline"
	"github.com/xenlix/citeline/app/queue"
)

type Handler struct {
	db             *database.DB
	answerRepo     database.AnswerRepository
	citationRepo   database.CitationRepository
	thresholdRepo  database.ThresholdRepository
	thresholdCache *alerts.ThresholdCache
	processor      *pipeline.Processor
	queue          queue.Queue
}

type submitAnswerRequest struct {
	ID   string `json:"id" binding:"required"`
	Text string `json:"text" binding:"required"`
}

type rescoreRequest struct {
	AnswerID string `json:"answer_id" binding:"required"`
}

type citationResponse struct {
	ID                 string     `json:"id"`
	URL                string     `json:"url"`
	NormalizedURL      string     `json:"normalized_url"`
	Domain             string     `json:"domain"`
	Rank               int        `json:"rank"`
	Confidence         float64    `json:"confidence"`
	CitationType       string     `json:"citation_type"`
	Title              string     `json:"title,omitempty"`
	AuthorityScore     *float64   `json:"authority_score"`
	AuthorityUpdatedAt *time.Time `json:"authority_updated_at"`
	IsLive             *bool      `json:"is_live"`
	LastCheckedAt      *time.Time `json:"last_checked_at"`
}

func newCitationResponse(c database.Citation) citationResponse {
	return citationResponse{
		ID:                 c.ID,
		URL:                c.URL,
		NormalizedURL:      c.NormalizedURL,
		Domain:             c.Domain,
		Rank:               c.Rank,
		Confidence:         c.Confidence,
		CitationType:       c.CitationType,
		Title:              c.Title,
		AuthorityScore:     c.AuthorityScore,
		AuthorityUpdatedAt: c.AuthorityUpdatedAt,
		IsLive:             c.IsLive,
		LastCheckedAt:      c.LastCheckedAt,
	}
}
