package alerts

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xenlix/citeline/app/database"
)

// Evaluator compares the latest metric snapshots against enabled
// thresholds and records an alert event per violation, honoring each
// threshold's cooldown window and a global per-cycle event cap.
type Evaluator struct {
	thresholds database.ThresholdRepository
	snapshots  database.SnapshotRepository
	sendCap    int
}

func NewEvaluator(thresholds database.ThresholdRepository, snapshots database.SnapshotRepository, sendCap int) *Evaluator {
	if sendCap <= 0 {
		sendCap = 10
	}
	return &Evaluator{
		thresholds: thresholds,
		snapshots:  snapshots,
		sendCap:    sendCap,
	}
}

// Evaluate runs one check cycle and returns the number of events created.
func (e *Evaluator) Evaluate() (int, error) {
	thresholds, err := e.thresholds.GetEnabledThresholds()
	if err != nil {
		return 0, fmt.Errorf("failed to load thresholds: %w", err)
	}
	if len(thresholds) == 0 {
		return 0, nil
	}

	snapshots, err := e.snapshots.GetLatestSnapshots()
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshots: %w", err)
	}

	latest := make(map[string]database.Snapshot, len(snapshots))
	for _, s := range snapshots {
		latest[s.URL+"\x00"+s.Metric] = s
	}

	created := 0
	now := time.Now()

	for _, t := range thresholds {
		snapshot, ok := latest[t.URL+"\x00"+t.Metric]
		if !ok {
			continue
		}

		if !Violates(t.Operator, snapshot.Value, t.Bound) {
			continue
		}

		if t.LastTriggeredAt != nil {
			cooldown := time.Duration(t.CooldownSeconds) * time.Second
			if now.Sub(*t.LastTriggeredAt) < cooldown {
				slog.Debug("Threshold in cooldown, skipping", "threshold", t.ID, "last_triggered_at", t.LastTriggeredAt)
				continue
			}
		}

		if created >= e.sendCap {
			slog.Warn("Alert cap reached, remaining violations suppressed", "cap", e.sendCap)
			break
		}

		event := database.AlertEvent{
			ThresholdID: t.ID,
			Severity:    t.Severity,
			Value:       snapshot.Value,
			Message: fmt.Sprintf("%s for %s is %.2f (%s %.2f)",
				t.Metric, t.URL, snapshot.Value, t.Operator, t.Bound),
			CreatedAt: now,
		}
		if err := e.thresholds.InsertEvent(event); err != nil {
			return created, fmt.Errorf("failed to insert event for %s: %w", t.ID, err)
		}
		if err := e.thresholds.SetLastTriggered(t.ID, now); err != nil {
			return created, fmt.Errorf("failed to stamp trigger for %s: %w", t.ID, err)
		}

		created++
		slog.Info("Alert triggered", "threshold", t.ID, "severity", t.Severity, "value", snapshot.Value)
	}

	return created, nil
}
