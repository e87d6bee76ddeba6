package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ ThresholdRepository = (*thresholdRepository)(nil)

type thresholdRepository struct {
	db *DB
}

func NewThresholdRepository(db *DB) ThresholdRepository {
	return &thresholdRepository{db: db}
}

func (r *thresholdRepository) UpsertThreshold(t Threshold) error {
	enabled := 0
	if t.Enabled {
		enabled = 1
	}

	_, err := r.db.Exec(`
		INSERT INTO alert_thresholds (id, url, metric, operator, bound, severity,
		                              cooldown_seconds, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			metric = excluded.metric,
			operator = excluded.operator,
			bound = excluded.bound,
			severity = excluded.severity,
			cooldown_seconds = excluded.cooldown_seconds,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, t.ID, t.URL, t.Metric, t.Operator, t.Bound, t.Severity,
		t.CooldownSeconds, enabled, time.Now().UTC().Unix())

	if err != nil {
		return fmt.Errorf("failed to upsert threshold: %w", err)
	}

	return nil
}

func (r *thresholdRepository) GetEnabledThresholds() ([]Threshold, error) {
	rows, err := r.db.Query(`
		SELECT id, url, metric, operator, bound, severity, cooldown_seconds,
		       enabled, last_triggered_at, updated_at
		FROM alert_thresholds
		WHERE enabled = 1
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get enabled thresholds: %w", err)
	}
	defer rows.Close()

	var thresholds []Threshold
	for rows.Next() {
		var t Threshold
		var enabled int
		var lastTriggeredAt sql.NullInt64
		var updatedAt int64

		err := rows.Scan(&t.ID, &t.URL, &t.Metric, &t.Operator, &t.Bound, &t.Severity,
			&t.CooldownSeconds, &enabled, &lastTriggeredAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan threshold row: %w", err)
		}

		t.Enabled = enabled != 0
		t.LastTriggeredAt = timeFromNull(lastTriggeredAt)
		t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		thresholds = append(thresholds, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threshold rows: %w", err)
	}

	return thresholds, nil
}

func (r *thresholdRepository) SetLastTriggered(id string, at time.Time) error {
	_, err := r.db.Exec(`
		UPDATE alert_thresholds
		SET last_triggered_at = ?
		WHERE id = ?
	`, at.Unix(), id)

	if err != nil {
		return fmt.Errorf("failed to set last triggered: %w", err)
	}

	return nil
}

func (r *thresholdRepository) InsertEvent(e AlertEvent) error {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}

	sent := 0
	if e.Sent {
		sent = 1
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO alert_events (id, threshold_id, severity, value, message, sent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, e.ThresholdID, e.Severity, e.Value, e.Message, sent, createdAt.Unix())

	if err != nil {
		return fmt.Errorf("failed to insert alert event: %w", err)
	}

	return nil
}

func (r *thresholdRepository) MarkEventSent(id string) error {
	_, err := r.db.Exec(`
		UPDATE alert_events
		SET sent = 1
		WHERE id = ?
	`, id)

	if err != nil {
		return fmt.Errorf("failed to mark alert event sent: %w", err)
	}

	return nil
}

func (r *thresholdRepository) GetUnsentEvents(limit int) ([]AlertEvent, error) {
	rows, err := r.db.Query(`
		SELECT id, threshold_id, severity, value, message, sent, created_at
		FROM alert_events
		WHERE sent = 0
		ORDER BY created_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unsent alert events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func (r *thresholdRepository) GetRecentEvents(limit int) ([]AlertEvent, error) {
	rows, err := r.db.Query(`
		SELECT id, threshold_id, severity, value, message, sent, created_at
		FROM alert_events
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent alert events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]AlertEvent, error) {
	var events []AlertEvent
	for rows.Next() {
		var e AlertEvent
		var sent int
		var createdAt int64

		err := rows.Scan(&e.ID, &e.ThresholdID, &e.Severity, &e.Value, &e.Message, &sent, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert event row: %w", err)
		}

		e.Sent = sent != 0
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert event rows: %w", err)
	}

	return events, nil
}
