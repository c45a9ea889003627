// Package notify delivers local, non-blocking alerts (ride matched,
// negotiation timed out, connection lost). Alerts are advisory: a failed
// delivery is logged by the caller, never escalated.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

type Sink interface {
	Notify(ctx context.Context, event, message string) error
}

// LogSink writes alerts to the structured log. The default for local runs.
type LogSink struct {
	Log *slog.Logger
}

func (s *LogSink) Notify(_ context.Context, event, message string) error {
	s.Log.Info("alert", "event", event, "message", message)
	return nil
}

// WebhookSink posts alerts as JSON to a configured endpoint, for desktops
// that bridge them into native notifications.
type WebhookSink struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookSink(endpoint string) *WebhookSink {
	return &WebhookSink{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (s *WebhookSink) Notify(ctx context.Context, event, message string) error {
	b, err := json.Marshal(map[string]string{"event": event, "message": message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
