package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func lowBalanceEvent() domain.AlertEvent {
	return domain.AlertEvent{
		Kind:             domain.AlertLowBalance,
		AccountID:        "default",
		Balance:          40,
		ThresholdCredits: 50,
		OccurredAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestWebhookNotifierSignsBody(t *testing.T) {
	t.Parallel()

	var gotBody []byte
	var gotSig string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(server.URL, "s3cret")
	if err != nil {
		t.Fatalf("NewWebhookNotifier() error = %v", err)
	}
	if err := n.Send(context.Background(), lowBalanceEvent()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if want := "sha256=" + Sign(gotBody, "s3cret"); gotSig != want {
		t.Fatalf("signature = %q, want %q", gotSig, want)
	}

	var payload webhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Event != "LOW_BALANCE" || payload.Balance != 40 || payload.ThresholdCredits != 50 {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.OccurredAt != "2026-01-02T03:04:05Z" {
		t.Fatalf("occurredAt = %q", payload.OccurredAt)
	}
}

func TestWebhookNotifierUnsignedWithoutSecret(t *testing.T) {
	t.Parallel()

	var gotSig string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(server.URL, "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier() error = %v", err)
	}
	if err := n.Send(context.Background(), lowBalanceEvent()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if gotSig != "" {
		t.Fatalf("signature = %q, want empty", gotSig)
	}
}

func TestWebhookNotifierErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n, err := NewWebhookNotifier(server.URL, "")
	if err != nil {
		t.Fatalf("NewWebhookNotifier() error = %v", err)
	}
	if err := n.Send(context.Background(), lowBalanceEvent()); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestSignKnownVector(t *testing.T) {
	t.Parallel()

	// RFC 4231 test case 2.
	got := Sign([]byte("what do ya want for nothing?"), "Jefe")
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Fatalf("Sign() = %s, want %s", got, want)
	}
}

func TestEmailNotifierComposesMessage(t *testing.T) {
	t.Parallel()

	n, err := NewEmailNotifier(EmailConfig{
		Host:     "smtp.example.com",
		Username: "user",
		Password: "pass",
		From:     "alerts@example.com",
		To:       []string{"ops@example.com"},
	})
	if err != nil {
		t.Fatalf("NewEmailNotifier() error = %v", err)
	}

	var gotAddr string
	var gotMail *email.Email
	var gotAuth smtp.Auth
	n.send = func(e *email.Email, addr string, auth smtp.Auth) error {
		gotMail, gotAddr, gotAuth = e, addr, auth
		return nil
	}

	if err := n.Send(context.Background(), lowBalanceEvent()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("addr = %q, want default port 587", gotAddr)
	}
	if gotAuth == nil {
		t.Fatal("expected plain auth when username is set")
	}
	if gotMail.Subject != "Low notification credit balance" {
		t.Fatalf("subject = %q", gotMail.Subject)
	}
	if !strings.Contains(string(gotMail.Text), "Balance: 40") {
		t.Fatalf("text = %q, want balance line", gotMail.Text)
	}
}

func TestEmailNotifierWrapsSendError(t *testing.T) {
	t.Parallel()

	n, err := NewEmailNotifier(EmailConfig{Host: "smtp", From: "a@b", To: []string{"c@d"}})
	if err != nil {
		t.Fatalf("NewEmailNotifier() error = %v", err)
	}
	sendErr := errors.New("relay down")
	n.send = func(*email.Email, string, smtp.Auth) error { return sendErr }

	if err := n.Send(context.Background(), lowBalanceEvent()); !errors.Is(err, sendErr) {
		t.Fatalf("Send() error = %v, want wrapped %v", err, sendErr)
	}
}

func TestNewEmailNotifierValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewEmailNotifier(EmailConfig{From: "a@b", To: []string{"c@d"}}); err == nil {
		t.Fatal("expected error without host")
	}
	if _, err := NewEmailNotifier(EmailConfig{Host: "smtp"}); err == nil {
		t.Fatal("expected error without sender and recipients")
	}
}

func TestLogNotifierLevels(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	cleared := lowBalanceEvent()
	cleared.Kind = domain.AlertCleared
	cleared.Balance = 60

	_ = n.Send(context.Background(), lowBalanceEvent())
	_ = n.Send(context.Background(), cleared)

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel || entries[1].Level != zapcore.InfoLevel {
		t.Fatalf("levels = %s, %s", entries[0].Level, entries[1].Level)
	}
	if got := entries[0].ContextMap()["event"]; got != "LOW_BALANCE" {
		t.Fatalf("event = %v", got)
	}
}
