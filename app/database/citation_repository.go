package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ CitationRepository = (*citationRepository)(nil)

type citationRepository struct {
	db *DB
}

func NewCitationRepository(db *DB) CitationRepository {
	return &citationRepository{db: db}
}

const citationColumns = `id, answer_id, url, normalized_url, domain, raw_text, position,
       confidence, citation_type, title, authority_score, authority_updated_at,
       is_live, last_checked_at, created_at, updated_at`

func (r *citationRepository) UpsertCitation(c Citation) (string, error) {
	now := time.Now().UTC().Unix()
	id := c.ID
	if id == "" {
		id = uuid.NewString()
	}

	// Extraction owns identity and metadata fields only; authority_score,
	// is_live and their timestamps are written by the downstream stages.
	err := r.db.QueryRow(`
		INSERT INTO citations (id, answer_id, url, normalized_url, domain, raw_text,
		                       position, confidence, citation_type, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(answer_id, normalized_url) DO UPDATE SET
			url = excluded.url,
			raw_text = excluded.raw_text,
			position = excluded.position,
			confidence = excluded.confidence,
			citation_type = excluded.citation_type,
			title = excluded.title,
			updated_at = excluded.updated_at
		RETURNING id
	`, id, c.AnswerID, c.URL, c.NormalizedURL, c.Domain, c.RawText,
		c.Rank, c.Confidence, c.CitationType, c.Title, now, now).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to upsert citation: %w", err)
	}

	return id, nil
}

func (r *citationRepository) GetCitation(id string) (*Citation, error) {
	row := r.db.QueryRow(`
		SELECT `+citationColumns+`
		FROM citations
		WHERE id = ?
	`, id)

	citation, err := scanCitation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get citation: %w", err)
	}

	return citation, nil
}

func (r *citationRepository) GetCitationsByIDs(ids []string) ([]Citation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.Query(`
		SELECT `+citationColumns+`
		FROM citations
		WHERE id IN (`+placeholders(len(ids))+`)
		ORDER BY answer_id, position
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get citations by ids: %w", err)
	}
	defer rows.Close()

	return collectCitations(rows)
}

func (r *citationRepository) GetCitationsByAnswer(answerID string) ([]Citation, error) {
	rows, err := r.db.Query(`
		SELECT `+citationColumns+`
		FROM citations
		WHERE answer_id = ?
		ORDER BY position
	`, answerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get citations by answer: %w", err)
	}
	defer rows.Close()

	return collectCitations(rows)
}

func (r *citationRepository) UpdateAuthorityScores(ids []string, score float64, updatedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	args := []any{score, updatedAt.Unix(), updatedAt.Unix()}
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := r.db.Exec(`
		UPDATE citations
		SET authority_score = ?, authority_updated_at = ?, updated_at = ?
		WHERE id IN (`+placeholders(len(ids))+`)
	`, args...)

	if err != nil {
		return fmt.Errorf("failed to update authority scores: %w", err)
	}

	return nil
}

func (r *citationRepository) UpdateLiveness(id string, isLive bool, checkedAt time.Time) error {
	live := 0
	if isLive {
		live = 1
	}

	_, err := r.db.Exec(`
		UPDATE citations
		SET is_live = ?, last_checked_at = ?, updated_at = ?
		WHERE id = ?
	`, live, checkedAt.Unix(), checkedAt.Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to update liveness: %w", err)
	}

	return nil
}

func (r *citationRepository) TouchChecked(id string, checkedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE citations
		SET last_checked_at = ?, updated_at = ?
		WHERE id = ?
	`, checkedAt.Unix(), checkedAt.Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to touch last checked: %w", err)
	}

	return nil
}

func (r *citationRepository) GetStaleAuthority(olderThan time.Time, limit int) ([]Citation, error) {
	rows, err := r.db.Query(`
		SELECT `+citationColumns+`
		FROM citations
		WHERE authority_updated_at IS NULL OR authority_updated_at < ?
		ORDER BY authority_updated_at
		LIMIT ?
	`, olderThan.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale citations: %w", err)
	}
	defer rows.Close()

	return collectCitations(rows)
}

func (r *citationRepository) GetStaleChecked(olderThan time.Time, limit int) ([]Citation, error) {
	rows, err := r.db.Query(`
		SELECT `+citationColumns+`
		FROM citations
		WHERE last_checked_at IS NULL OR last_checked_at < ?
		ORDER BY last_checked_at
		LIMIT ?
	`, olderThan.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get stale checked citations: %w", err)
	}
	defer rows.Close()

	return collectCitations(rows)
}

func (r *citationRepository) GetCitationStats() (CitationStats, error) {
	var stats CitationStats
	err := r.db.QueryRow(`
		SELECT COUNT(*),
		       COUNT(authority_score),
		       COALESCE(SUM(CASE WHEN is_live = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_live = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_live IS NULL THEN 1 ELSE 0 END), 0)
		FROM citations
	`).Scan(&stats.Total, &stats.Scored, &stats.Live, &stats.Dead, &stats.Unknown)

	if err != nil {
		return CitationStats{}, fmt.Errorf("failed to get citation stats: %w", err)
	}

	return stats, nil
}

func (r *citationRepository) DeleteStale(olderThan time.Time) (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM citations
		WHERE updated_at < ?
	`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale citations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted citations: %w", err)
	}

	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCitation(row rowScanner) (*Citation, error) {
	var c Citation
	var authorityScore sql.NullFloat64
	var authorityUpdatedAt, isLive, lastCheckedAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&c.ID, &c.AnswerID, &c.URL, &c.NormalizedURL, &c.Domain, &c.RawText, &c.Rank,
		&c.Confidence, &c.CitationType, &c.Title, &authorityScore, &authorityUpdatedAt,
		&isLive, &lastCheckedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.AuthorityScore = floatFromNull(authorityScore)
	c.AuthorityUpdatedAt = timeFromNull(authorityUpdatedAt)
	c.IsLive = boolFromNull(isLive)
	c.LastCheckedAt = timeFromNull(lastCheckedAt)
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &c, nil
}

func collectCitations(rows *sql.Rows) ([]Citation, error) {
	var citations []Citation
	for rows.Next() {
		citation, err := scanCitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan citation row: %w", err)
		}
		citations = append(citations, *citation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating citation rows: %w", err)
	}

	return citations, nil
}
