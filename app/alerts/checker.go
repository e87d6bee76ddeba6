package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xenlix/citeline/app/database"
)

const (
	webhookTimeout    = 10 * time.Second
	dispatchBatchSize = 20
)

// Checker runs the alert cycle periodically: evaluate thresholds, then
// dispatch unsent events to the configured webhook. Without a webhook URL
// events are still recorded and stay queryable over the API.
type Checker struct {
	evaluator  *Evaluator
	thresholds database.ThresholdRepository
	webhookURL string
	interval   time.Duration
	client     *http.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewChecker(evaluator *Evaluator, thresholds database.ThresholdRepository, webhookURL string, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Checker{
		evaluator:  evaluator,
		thresholds: thresholds,
		webhookURL: webhookURL,
		interval:   interval,
		client:     &http.Client{Timeout: webhookTimeout},
	}
}

func (c *Checker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	go c.run(ctx)

	slog.Debug("Alert checker started", "interval", c.interval.String(), "webhook_configured", c.webhookURL != "")
}

func (c *Checker) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
	slog.Debug("Alert checker stopped")
}

func (c *Checker) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.cycle(ctx)
		}
	}
}

// cycle never returns an error; alerting failures must not take the
// service down.
func (c *Checker) cycle(ctx context.Context) {
	created, err := c.evaluator.Evaluate()
	if err != nil {
		slog.Error("Alert evaluation failed", "error", err)
		return
	}
	if created > 0 {
		slog.Info("Alert evaluation finished", "events_created", created)
	}

	if c.webhookURL == "" {
		return
	}
	c.dispatch(ctx)
}

type webhookPayload struct {
	ThresholdID string  `json:"threshold_id"`
	Severity    string  `json:"severity"`
	Value       float64 `json:"value"`
	Message     string  `json:"message"`
	CreatedAt   string  `json:"created_at"`
}

func (c *Checker) dispatch(ctx context.Context) {
	events, err := c.thresholds.GetUnsentEvents(dispatchBatchSize)
	if err != nil {
		slog.Error("Failed to load unsent alert events", "error", err)
		return
	}

	for _, event := range events {
		if err := c.send(ctx, event); err != nil {
			slog.Error("Failed to deliver alert event", "event_id", event.ID, "error", err)
			continue
		}
		if err := c.thresholds.MarkEventSent(event.ID); err != nil {
			slog.Error("Failed to mark alert event sent", "event_id", event.ID, "error", err)
			continue
		}
		slog.Info("Alert event delivered", "event_id", event.ID, "threshold", event.ThresholdID)
	}
}

func (c *Checker) send(ctx context.Context, event database.AlertEvent) error {
	body, err := json.Marshal(webhookPayload{
		ThresholdID: event.ThresholdID,
		Severity:    event.Severity,
		Value:       event.Value,
		Message:     event.Message,
		CreatedAt:   event.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return nil
}
