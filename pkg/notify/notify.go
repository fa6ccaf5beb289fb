// Package notify delivers escalation alerts to agents over a non-SMS
// channel (a webhook-based alert integration). Delivery is
// fire-and-forget: failures are logged and never surfaced to the flow
// that raised the alert.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/agencyos/textline/pkg/logger"
)

// Alert summarizes an urgent inbound message for the writing agent.
type Alert struct {
	AgencyID       string    `json:"agency_id"`
	AgentID        string    `json:"agent_id"`
	ConversationID string    `json:"conversation_id"`
	ClientPhone    string    `json:"client_phone"`
	Summary        string    `json:"summary"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Notifier raises an alert. Implementations must not block the caller on
// failure semantics; returning an error is for logging only.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// WebhookNotifier posts alerts as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	key    string
	client *http.Client
}

func NewWebhookNotifier(url, key string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		key:    key,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.key != "" {
		req.Header.Set("X-Webhook-Key", n.key)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		logger.WarnCF("notify", "Alert endpoint returned non-success", map[string]any{
			"status": resp.StatusCode,
		})
	}
	return nil
}

// Raise delivers an alert in the background and logs the outcome. This
// is the entry point callers use so that alert failures cannot leak into
// message-handling flows.
func Raise(n Notifier, a Alert) {
	if n == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := n.Notify(ctx, a); err != nil {
			logger.ErrorCF("notify", "Alert delivery failed", map[string]any{
				"agent_id": a.AgentID,
				"error":    err.Error(),
			})
			return
		}
		logger.InfoCF("notify", "Alert delivered", map[string]any{
			"agent_id":        a.AgentID,
			"conversation_id": a.ConversationID,
		})
	}()
}
