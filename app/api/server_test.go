package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenlix/citeline/app/alerts"
	"github.com/xenlix/citeline/app/database"
	"github.com/xenlix/citeline/app/extractor"
	"github.com/xenlix/citeline/app/health"
	"github.com/xenlix/citeline/app/pipeline"
	"github.com/xenlix/citeline/app/queue"
)

type noopScorer struct{}

func (noopScorer) ScoreCitations(ctx context.Context, citations []database.Citation, force bool) error {
	return nil
}

func newTestServer(t *testing.T, apiKey string) (*gin.Engine, database.AnswerRepository, database.CitationRepository) {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	answerRepo := database.NewAnswerRepository(db)
	citationRepo := database.NewCitationRepository(db)
	thresholdRepo := database.NewThresholdRepository(db)
	snapshotRepo := database.NewSnapshotRepository(db)

	q := queue.NewMemoryQueue()
	processor := pipeline.NewProcessor(answerRepo, citationRepo, snapshotRepo,
		extractor.NewExtractor(), noopScorer{}, health.NewChecker(nil, "test-agent"), q)

	handler := NewHandler(db, answerRepo, citationRepo, thresholdRepo,
		alerts.NewThresholdCache(t.TempDir()), processor, q)

	return NewServer(handler, apiKey), answerRepo, citationRepo
}

func TestSubmitAnswerAcceptsAndDedups(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	body, _ := json.Marshal(map[string]string{
		"id":   "a1",
		"text": "See https://example.com/study for details.",
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/answers", bytes.NewReader(body))
	server.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, true, first["scheduled"])

	// Re-submission while the job is pending is still a 202.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/answers", bytes.NewReader(body))
	server.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var second map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, false, second["scheduled"])
}

func TestSubmitAnswerRejectsMissingFields(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/answers", bytes.NewReader([]byte(`{"id": "a1"}`)))
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAnswerCitations(t *testing.T) {
	server, answerRepo, citationRepo := newTestServer(t, "")

	require.NoError(t, answerRepo.UpsertAnswer("a1", "body", time.Now()))
	_, err := citationRepo.UpsertCitation(database.Citation{
		AnswerID:      "a1",
		URL:           "https://example.com/x",
		NormalizedURL: "https://example.com/x",
		Domain:        "example.com",
		Rank:          1,
		Confidence:    0.9,
		CitationType:  "direct_url",
	})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/answers/a1/citations", nil)
	server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Citations []citationResponse `json:"citations"`
		Total     int                `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Equal(t, 1, response.Total)
	assert.Equal(t, "example.com", response.Citations[0].Domain)
	assert.Nil(t, response.Citations[0].AuthorityScore)
	assert.Nil(t, response.Citations[0].IsLive)
}

func TestGetAnswerCitationsNotFound(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/answers/missing/citations", nil)
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["database"])
}

func TestStatsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	server.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Contains(t, response, "queue")
	assert.Contains(t, response, "citations")
}

func TestAPIGroupRequiresKey(t *testing.T) {
	server, answerRepo, _ := newTestServer(t, "secret")
	require.NoError(t, answerRepo.UpsertAnswer("a1", "body", time.Now()))

	body := []byte(`{"answer_id": "a1"}`)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/citations/rescore", bytes.NewReader(body))
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/citations/rescore", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "wrong")
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/citations/rescore", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestAPIGroupDisabledWithoutKey(t *testing.T) {
	server, _, _ := newTestServer(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/citations/rescore", bytes.NewReader([]byte(`{"answer_id": "a1"}`)))
	server.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
