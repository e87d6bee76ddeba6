package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ AnswerRepository = (*answerRepository)(nil)

type answerRepository struct {
	db *DB
}

func NewAnswerRepository(db *DB) AnswerRepository {
	return &answerRepository{db: db}
}

func (r *answerRepository) UpsertAnswer(id, body string, receivedAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO answers (id, body, received_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body
	`, id, body, receivedAt.Unix())

	if err != nil {
		return fmt.Errorf("failed to upsert answer: %w", err)
	}

	return nil
}

func (r *answerRepository) GetAnswer(id string) (*Answer, error) {
	var answer Answer
	var receivedAt int64
	var processedAt sql.NullInt64

	err := r.db.QueryRow(`
		SELECT id, body, received_at, processed_at
		FROM answers
		WHERE id = ?
	`, id).Scan(&answer.ID, &answer.Body, &receivedAt, &processedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get answer: %w", err)
	}

	answer.ReceivedAt = time.Unix(receivedAt, 0).UTC()
	answer.ProcessedAt = timeFromNull(processedAt)

	return &answer, nil
}

func (r *answerRepository) MarkProcessed(id string, processedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE answers
		SET processed_at = ?
		WHERE id = ?
	`, processedAt.Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to mark answer processed: %w", err)
	}

	return nil
}

func (r *answerRepository) GetAnswerCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM answers").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get answer count: %w", err)
	}
	return count, nil
}
