package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openresident/cardservice/internal/config"
	log "github.com/sirupsen/logrus"
)

// Notification types emitted by the card lifecycle.
const (
	TypeCardApproved    = "CARD_APPROVED"
	TypeCardRejected    = "CARD_REJECTED"
	TypeCardPaid        = "CARD_PAYMENT_CONFIRMED"
	TypeCardFeeReminder = "CARD_FEE_REMINDER"
)

// Message is one outbound resident notification. ResidentID addresses the
// recipient; BuildingID scopes delivery routing on the receiving side. When
// both are empty the dispatch is a no-op.
type Message struct {
	ResidentID    string         `json:"resident_id,omitempty"`
	BuildingID    string         `json:"building_id,omitempty"`
	Type          string         `json:"type"`
	Title         string         `json:"title"`
	Body          string         `json:"body"`
	ReferenceID   string         `json:"reference_id,omitempty"`
	ReferenceType string         `json:"reference_type,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// Dispatcher delivers notifications to residents. Delivery is always
// best-effort for callers; failures are logged, never propagated.
type Dispatcher interface {
	SendResidentNotification(ctx context.Context, msg Message) error
}

// WebhookDispatcher POSTs notifications to a configured delivery endpoint.
type WebhookDispatcher struct {
	url    string
	client *http.Client
}

// NewWebhookDispatcher constructs a webhook dispatcher.
func NewWebhookDispatcher(cfg config.NotificationConfig) *WebhookDispatcher {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDispatcher{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
	}
}

// SendResidentNotification delivers one notification over the webhook.
func (d *WebhookDispatcher) SendResidentNotification(ctx context.Context, msg Message) error {
	if d == nil || d.client == nil {
		return fmt.Errorf("notify: dispatcher not initialized")
	}
	if msg.ResidentID == "" && msg.BuildingID == "" {
		return nil
	}

	payload, errMarshal := json.Marshal(msg)
	if errMarshal != nil {
		return fmt.Errorf("notify: marshal: %w", errMarshal)
	}

	req, errReq := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if errReq != nil {
		return fmt.Errorf("notify: build request: %w", errReq)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, errDo := d.client.Do(req)
	if errDo != nil {
		return fmt.Errorf("notify: dispatch: %w", errDo)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("notify: close response body error: %v", errClose)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("notify: webhook status=%d", resp.StatusCode)
	}
	return nil
}

// LogDispatcher records notifications in the service log. Used when no
// webhook is configured and in tests.
type LogDispatcher struct{}

// SendResidentNotification logs the notification.
func (LogDispatcher) SendResidentNotification(_ context.Context, msg Message) error {
	if msg.ResidentID == "" && msg.BuildingID == "" {
		return nil
	}
	log.Infof("notify: %s to resident=%s title=%q", msg.Type, msg.ResidentID, msg.Title)
	return nil
}
