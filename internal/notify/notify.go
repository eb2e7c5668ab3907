// Package notify delivers outbound event callbacks to tenant-configured
// webhook endpoints. Delivery is best-effort with a bounded timeout: a dead
// or slow endpoint never blocks or fails the pipeline.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Event is the callback body POSTed to the tenant endpoint.
type Event struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	TenantID   int64          `json:"tenant_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

// LeadCaptured is the event type emitted when contact details are recorded
// on a lead.
const LeadCaptured = "lead.captured"

// Notifier POSTs events to tenant webhooks.
type Notifier struct {
	client *http.Client
	logger *slog.Logger
}

// NewNotifier creates a notifier whose requests are bounded by timeout.
func NewNotifier(log *slog.Logger, timeout time.Duration) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		client: &http.Client{Timeout: timeout},
		logger: log.With(slog.String("service", "notifier")),
	}
}

// Notify sends one event to url. A blank url is a no-op. Failures are
// logged and swallowed; the returned error exists for tests and direct
// callers that want to observe the outcome.
func (n *Notifier) Notify(ctx context.Context, url string, tenantID int64, eventType string, data map[string]any) error {
	if url == "" {
		return nil
	}

	event := Event{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		TenantID:   tenantID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode webhook event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			slog.Int64("tenant_id", tenantID),
			slog.String("event_type", eventType),
			slog.Any("error", err),
		)
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.logger.Warn("webhook endpoint rejected event",
			slog.Int64("tenant_id", tenantID),
			slog.String("event_type", eventType),
			slog.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("deliver webhook: status %d", resp.StatusCode)
	}

	n.logger.Debug("webhook delivered",
		slog.Int64("tenant_id", tenantID),
		slog.String("event_id", event.EventID),
		slog.String("event_type", eventType),
	)
	return nil
}
