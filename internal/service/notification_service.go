package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// BalanceView is the balance as shown to operators.
type BalanceView struct {
	AccountID        string
	Balance          int64
	CostPerMessage   int64
	Currency         string
	ThresholdCredits int64
	BelowThreshold   bool
}

type TopUpResult struct {
	Transaction *domain.Transaction
	Replayed    bool
}

// NotificationService is the single entry point for the HTTP API and the
// admin CLI. It holds no state of its own.
type NotificationService struct {
	ledger     *CreditLedger
	templates  *TemplateRegistry
	dispatcher *MessageDispatcher
	alerts     *AlertEvaluator
	messages   repository.MessageRepository
	logger     *zap.Logger
}

func NewNotificationService(
	ledger *CreditLedger,
	templates *TemplateRegistry,
	dispatcher *MessageDispatcher,
	alerts *AlertEvaluator,
	messages repository.MessageRepository,
	logger *zap.Logger,
) (*NotificationService, error) {
	if ledger == nil || templates == nil || dispatcher == nil || alerts == nil || messages == nil {
		return nil, fmt.Errorf("ledger, templates, dispatcher, alerts and messages are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		ledger:     ledger,
		templates:  templates,
		dispatcher: dispatcher,
		alerts:     alerts,
		messages:   messages,
		logger:     logger,
	}, nil
}

func (s *NotificationService) GetBalance(ctx context.Context) (*BalanceView, error) {
	account, err := s.ledger.GetBalance(ctx)
	if err != nil {
		return nil, err
	}

	return &BalanceView{
		AccountID:        account.ID,
		Balance:          account.Balance,
		CostPerMessage:   account.CostPerMessage,
		Currency:         account.Currency,
		ThresholdCredits: s.alerts.Threshold(),
		BelowThreshold:   s.alerts.BelowThreshold(account.Balance),
	}, nil
}

func (s *NotificationService) TopUp(ctx context.Context, amount int64, idempotencyKey string) (*TopUpResult, error) {
	txn, replayed, err := s.ledger.TopUp(ctx, amount, idempotencyKey)
	if err != nil {
		return nil, err
	}
	return &TopUpResult{Transaction: txn, Replayed: replayed}, nil
}

// Send queues the message when a broker is configured and delivers it inline
// otherwise. Either way the returned status is the one at return time.
func (s *NotificationService) Send(ctx context.Context, templateID, recipient string) (*domain.Message, error) {
	return s.dispatcher.Submit(ctx, templateID, recipient)
}

func (s *NotificationService) ListRecentMessages(ctx context.Context, limit int) ([]domain.Message, error) {
	limit, err := normalizeLimit(limit)
	if err != nil {
		return nil, err
	}
	return s.messages.ListRecent(ctx, limit)
}

func (s *NotificationService) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: message id is required", domain.ErrValidation)
	}
	return s.messages.GetByID(ctx, strings.TrimSpace(id))
}

func (s *NotificationService) MessageCounts(ctx context.Context) (map[domain.MessageStatus]int64, error) {
	return s.messages.CountByStatus(ctx)
}

func (s *NotificationService) ToggleTemplate(ctx context.Context, id string) (*domain.Template, error) {
	return s.templates.Toggle(ctx, id)
}

func (s *NotificationService) SetTemplateActive(ctx context.Context, id string, active bool) (*domain.Template, error) {
	return s.templates.SetActive(ctx, id, active)
}

func (s *NotificationService) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	return s.templates.List(ctx)
}

func (s *NotificationService) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	limit, err := normalizeLimit(limit)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListTransactions(ctx, limit)
}

func (s *NotificationService) Audit(ctx context.Context) (*AuditReport, error) {
	return s.ledger.Audit(ctx)
}

func normalizeLimit(limit int) (int, error) {
	switch {
	case limit == 0:
		return defaultListLimit, nil
	case limit < 0 || limit > maxListLimit:
		return 0, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxListLimit)
	}
	return limit, nil
}
