package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ SnapshotRepository = (*snapshotRepository)(nil)

type snapshotRepository struct {
	db *DB
}

func NewSnapshotRepository(db *DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

func (r *snapshotRepository) InsertSnapshot(s Snapshot) error {
	id := s.ID
	if id == "" {
		id = uuid.NewString()
	}

	takenAt := s.TakenAt
	if takenAt.IsZero() {
		takenAt = time.Now().UTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO metric_snapshots (id, url, metric, value, taken_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, s.URL, s.Metric, s.Value, takenAt.Unix())

	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	return nil
}

func (r *snapshotRepository) GetLatestSnapshots() ([]Snapshot, error) {
	rows, err := r.db.Query(`
		SELECT s.id, s.url, s.metric, s.value, s.taken_at
		FROM metric_snapshots s
		JOIN (
			SELECT url, metric, MAX(taken_at) AS taken_at
			FROM metric_snapshots
			GROUP BY url, metric
		) latest ON s.url = latest.url AND s.metric = latest.metric AND s.taken_at = latest.taken_at
		GROUP BY s.url, s.metric
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var s Snapshot
		var takenAt int64

		err := rows.Scan(&s.ID, &s.URL, &s.Metric, &s.Value, &takenAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		s.TakenAt = time.Unix(takenAt, 0).UTC()
		snapshots = append(snapshots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	return snapshots, nil
}
