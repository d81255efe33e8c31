package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func TestWebhookGatewaySendSuccess(t *testing.T) {
	t.Parallel()

	var gotBody webhookRequest
	var gotKey string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotKey = r.Header.Get("Idempotency-Key")

		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"messageId":"gw-msg-1","status":"queued"}`))
	}))
	defer server.Close()

	g, err := NewWebhookGateway(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookGateway() error = %v", err)
	}

	req := SendRequest{MessageID: "msg-1", Recipient: "+905551112233", TemplateID: "order-confirmed"}
	receipt, err := g.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}

	if receipt.StatusCode != http.StatusAccepted {
		t.Fatalf("StatusCode = %d, want %d", receipt.StatusCode, http.StatusAccepted)
	}
	if receipt.GatewayMessageID != "gw-msg-1" {
		t.Fatalf("GatewayMessageID = %q, want %q", receipt.GatewayMessageID, "gw-msg-1")
	}
	if gotKey != "msg-1" {
		t.Fatalf("Idempotency-Key = %q, want %q", gotKey, "msg-1")
	}
	if gotBody.To != req.Recipient || gotBody.TemplateID != req.TemplateID || gotBody.MessageID != req.MessageID {
		t.Fatalf("request body = %+v, want %+v", gotBody, req)
	}
}

func TestWebhookGatewayMessageIDFromHeader(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", "hdr-1")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	g, err := NewWebhookGateway(server.URL)
	if err != nil {
		t.Fatalf("NewWebhookGateway() error = %v", err)
	}

	receipt, err := g.Send(context.Background(), SendRequest{MessageID: "m", Recipient: "+1", TemplateID: "t"})
	if err != nil {
		t.Fatalf("Send() unexpected error: %v", err)
	}
	if receipt.GatewayMessageID != "hdr-1" {
		t.Fatalf("GatewayMessageID = %q, want %q", receipt.GatewayMessageID, "hdr-1")
	}
}

func TestWebhookGatewaySendStatusClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		body          string
		wantKind      FailureKind
		wantRetryable bool
	}{
		{name: "bad request is rejected", statusCode: http.StatusBadRequest, wantKind: FailureRejected},
		{name: "too many requests is unavailable", statusCode: http.StatusTooManyRequests, wantKind: FailureUnavailable, wantRetryable: true},
		{name: "internal server error is unavailable", statusCode: http.StatusInternalServerError, wantKind: FailureUnavailable, wantRetryable: true},
		{name: "gateway timeout is timeout", statusCode: http.StatusGatewayTimeout, wantKind: FailureTimeout, wantRetryable: true},
		{name: "ok with rejected status is rejected", statusCode: http.StatusOK, body: `{"status":"rejected","reason":"blacklisted"}`, wantKind: FailureRejected},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.statusCode)
				if tc.body != "" {
					_, _ = w.Write([]byte(tc.body))
				}
			}))
			defer server.Close()

			g, err := NewWebhookGateway(server.URL)
			if err != nil {
				t.Fatalf("NewWebhookGateway() error = %v", err)
			}

			_, err = g.Send(context.Background(), SendRequest{MessageID: "m", Recipient: "+905551112233", TemplateID: "t"})
			if err == nil {
				t.Fatal("expected error")
			}

			var gwErr *GatewayError
			if !errors.As(err, &gwErr) {
				t.Fatalf("expected GatewayError, got %T", err)
			}
			if gwErr.Kind != tc.wantKind {
				t.Fatalf("Kind = %s, want %s", gwErr.Kind, tc.wantKind)
			}
			if got := IsRetryable(err); got != tc.wantRetryable {
				t.Fatalf("IsRetryable() = %v, want %v", got, tc.wantRetryable)
			}
		})
	}
}

func TestWebhookGatewaySendTimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	g, err := NewWebhookGatewayWithClient(server.URL, client)
	if err != nil {
		t.Fatalf("NewWebhookGatewayWithClient() error = %v", err)
	}

	_, err = g.Send(context.Background(), SendRequest{MessageID: "m", Recipient: "+905551112233", TemplateID: "t"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if Classify(err) != FailureTimeout {
		t.Fatalf("Classify() = %s, want %s (err=%v)", Classify(err), FailureTimeout, err)
	}
	if !IsRetryable(err) {
		t.Fatalf("IsRetryable() = false, want true (err=%v)", err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: FailureTimeout},
		{name: "plain error", err: errors.New("boom"), want: FailureTimeout},
		{name: "rejected", err: &GatewayError{Kind: FailureRejected}, want: FailureRejected},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify() = %s, want %s", got, tc.want)
			}
		})
	}

	if IsRetryable(context.Canceled) {
		t.Fatal("IsRetryable(context.Canceled) = true, want false")
	}
}

func TestNewWebhookGatewayRejectsInvalidEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := NewWebhookGateway(""); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
	if _, err := NewWebhookGateway("not a url"); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
}
