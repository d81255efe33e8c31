package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-ledger/internal/domain"
)

const (
	SignatureHeader       = "X-Signature-256"
	defaultWebhookTimeout = 10 * time.Second
)

type webhookPayload struct {
	Event            string `json:"event"`
	AccountID        string `json:"accountId"`
	Balance          int64  `json:"balance"`
	ThresholdCredits int64  `json:"thresholdCredits"`
	Message          string `json:"message"`
	OccurredAt       string `json:"occurredAt"`
}

// WebhookNotifier posts alert edges as JSON. A non-empty secret signs the
// body with HMAC-SHA256 in the X-Signature-256 header.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	secret string
}

func NewWebhookNotifier(endpoint, secret string) (*WebhookNotifier, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("alert webhook url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid alert webhook url: %w", err)
	}

	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(2)
	client.SetRetryWaitTime(200 * time.Millisecond)

	return &WebhookNotifier{client: client, url: trimmed, secret: secret}, nil
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, event domain.AlertEvent) error {
	body, err := json.Marshal(webhookPayload{
		Event:            event.Kind.String(),
		AccountID:        event.AccountID,
		Balance:          event.Balance,
		ThresholdCredits: event.ThresholdCredits,
		Message:          Summary(event),
		OccurredAt:       event.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if w.secret != "" {
		req.SetHeader(SignatureHeader, "sha256="+Sign(body, w.secret))
	}

	resp, err := req.Post(w.url)
	if err != nil {
		return fmt.Errorf("send webhook alert: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
