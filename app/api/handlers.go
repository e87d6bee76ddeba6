package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xenlix/citeline/app/alerts"
	"github.com/xenlix/citeline/app/database"
	"github.com/xenlix/citeline/app/pipeline"
	"github.com/xenlix/citeline/app/queue"
)

func NewHandler(db *database.DB, answerRepo database.AnswerRepository,
	citationRepo database.CitationRepository, thresholdRepo database.ThresholdRepository,
	thresholdCache *alerts.ThresholdCache, processor *pipeline.Processor, q queue.Queue) *Handler {
	return &Handler{
		db:             db,
		answerRepo:     answerRepo,
		citationRepo:   citationRepo,
		thresholdRepo:  thresholdRepo,
		thresholdCache: thresholdCache,
		processor:      processor,
		queue:          q,
	}
}

// SubmitAnswer persists an answer and schedules citation extraction.
// Re-submitting an answer whose extraction is still pending dedups to a
// no-op and still returns 202.
func (h *Handler) SubmitAnswer(c *gin.Context) {
	var req submitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and text are required"})
		return
	}

	if err := h.answerRepo.UpsertAnswer(req.ID, req.Text, time.Now()); err != nil {
		slog.Error("Database error", "operation", "upsert_answer", "answer_id", req.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	scheduled, err := h.processor.EnqueueAnswer(c.Request.Context(), req.ID)
	if err != nil {
		slog.Error("Failed to enqueue answer", "answer_id", req.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule processing"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"answer_id": req.ID,
		"scheduled": scheduled,
	})
}

func (h *Handler) GetAnswerCitations(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing answer id parameter"})
		return
	}

	answer, err := h.answerRepo.GetAnswer(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_answer", "answer_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if answer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Answer not found"})
		return
	}

	citations, err := h.citationRepo.GetCitationsByAnswer(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_citations", "answer_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	response := make([]citationResponse, 0, len(citations))
	for _, citation := range citations {
		response = append(response, newCitationResponse(citation))
	}

	c.JSON(http.StatusOK, gin.H{
		"answer_id":    id,
		"processed_at": answer.ProcessedAt,
		"citations":    response,
		"total":        len(response),
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	status := http.StatusOK
	if err := h.db.Ping(); err != nil {
		health["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	} else {
		health["database"] = "ok"
	}

	if answerCount, err := h.answerRepo.GetAnswerCount(); err == nil {
		health["answers"] = answerCount
	}

	health["loaded_thresholds"] = h.thresholdCache.GetConfigCount()

	c.JSON(status, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	counts, err := h.queue.Counts(c.Request.Context())
	if err != nil {
		slog.Error("Failed to read queue counts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read queue counts"})
		return
	}
	stats["queue"] = counts

	citationStats, err := h.citationRepo.GetCitationStats()
	if err != nil {
		slog.Error("Database error", "operation", "get_citation_stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	stats["citations"] = map[string]interface{}{
		"total":   citationStats.Total,
		"scored":  citationStats.Scored,
		"live":    citationStats.Live,
		"dead":    citationStats.Dead,
		"unknown": citationStats.Unknown,
	}

	c.JSON(http.StatusOK, stats)
}

// APIRescoreCitations force-enqueues authority scoring for an answer's
// citations, bypassing the freshness skip.
func (h *Handler) APIRescoreCitations(c *gin.Context) {
	var req rescoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "answer_id is required"})
		return
	}

	answer, err := h.answerRepo.GetAnswer(req.AnswerID)
	if err != nil {
		slog.Error("Database error", "operation", "get_answer", "answer_id", req.AnswerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if answer == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Answer not found"})
		return
	}

	scheduled, err := h.processor.RescoreAnswer(c.Request.Context(), req.AnswerID)
	if err != nil {
		slog.Error("Failed to enqueue rescore", "answer_id", req.AnswerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to schedule rescore"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"answer_id": req.AnswerID,
		"scheduled": scheduled,
	})
}

func (h *Handler) APIListAlertEvents(c *gin.Context) {
	events, err := h.thresholdRepo.GetRecentEvents(50)
	if err != nil {
		slog.Error("Database error", "operation", "get_recent_events", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	response := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		response = append(response, map[string]interface{}{
			"id":           e.ID,
			"threshold_id": e.ThresholdID,
			"severity":     e.Severity,
			"value":        e.Value,
			"message":      e.Message,
			"sent":         e.Sent,
			"created_at":   e.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"events": response,
		"total":  len(response),
	})
}
