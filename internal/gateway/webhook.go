package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	MessageID  string `json:"messageId"`
	To         string `json:"to"`
	TemplateID string `json:"templateId"`
}

type webhookResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

// WebhookGateway posts messages to an HTTP SMS gateway.
type WebhookGateway struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookGateway(endpoint string) (*WebhookGateway, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookGatewayWithClient(endpoint, client)
}

func NewWebhookGatewayWithClient(endpoint string, client *resty.Client) (*WebhookGateway, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	// Retries belong to the dispatcher, which caps them at one.
	client.SetRetryCount(0)

	return &WebhookGateway{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (g *WebhookGateway) Send(ctx context.Context, req SendRequest) (*Receipt, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("gateway is not initialized")
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return nil, &GatewayError{Kind: FailureRejected, Message: "recipient is required"}
	}

	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", req.MessageID).
		SetBody(webhookRequest{
			MessageID:  req.MessageID,
			To:         req.Recipient,
			TemplateID: req.TemplateID,
		}).
		Post(g.endpoint)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &GatewayError{
			Kind:    FailureTimeout,
			Message: "gateway request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return nil, &GatewayError{
			Kind:    FailureTimeout,
			Message: "gateway returned empty response",
		}
	}

	statusCode := response.StatusCode()
	body := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		parsed := parseWebhookResponse(body)
		if isRejectedStatus(parsed.Status) {
			return nil, &GatewayError{
				Kind:       FailureRejected,
				StatusCode: statusCode,
				Message:    strings.TrimSpace("gateway rejected message " + parsed.Reason),
			}
		}

		return &Receipt{
			StatusCode:       statusCode,
			GatewayMessageID: gatewayMessageID(parsed, response),
		}, nil
	}

	return nil, &GatewayError{
		Kind:       kindForHTTPStatus(statusCode),
		StatusCode: statusCode,
		Message:    gatewayErrorMessage(statusCode, body),
	}
}

func kindForHTTPStatus(statusCode int) FailureKind {
	switch {
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return FailureTimeout
	case statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError:
		return FailureUnavailable
	default:
		return FailureRejected
	}
}

func isRejectedStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "rejected", "failed", "undeliverable":
		return true
	}
	return false
}

func parseWebhookResponse(body string) webhookResponse {
	var parsed webhookResponse
	if body == "" {
		return parsed
	}
	_ = json.Unmarshal([]byte(body), &parsed)
	return parsed
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func gatewayMessageID(parsed webhookResponse, response *resty.Response) string {
	for _, value := range []string{parsed.MessageID, parsed.ID} {
		if v := strings.TrimSpace(value); v != "" {
			return v
		}
	}
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Message-ID", "X-Request-ID", "X-Correlation-ID"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
