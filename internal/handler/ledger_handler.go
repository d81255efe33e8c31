package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/service"
)

// IdempotencyKeyHeader may carry the top-up idempotency key instead of the body.
const IdempotencyKeyHeader = "Idempotency-Key"

type NotificationService interface {
	GetBalance(ctx context.Context) (*service.BalanceView, error)
	TopUp(ctx context.Context, amount int64, idempotencyKey string) (*service.TopUpResult, error)
	Send(ctx context.Context, templateID, recipient string) (*domain.Message, error)
	ListRecentMessages(ctx context.Context, limit int) ([]domain.Message, error)
	GetMessage(ctx context.Context, id string) (*domain.Message, error)
	ToggleTemplate(ctx context.Context, id string) (*domain.Template, error)
	ListTemplates(ctx context.Context) ([]domain.Template, error)
	ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)
	Audit(ctx context.Context) (*service.AuditReport, error)
}

type LedgerHandler struct {
	service NotificationService
}

func NewLedgerHandler(svc NotificationService) (*LedgerHandler, error) {
	if svc == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &LedgerHandler{service: svc}, nil
}

func RegisterLedgerRoutes(router fiber.Router, svc NotificationService) error {
	h, err := NewLedgerHandler(svc)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/balance", h.GetBalance)
	v1.Post("/balance/topups", h.TopUp)
	v1.Post("/messages", h.SendMessage)
	v1.Get("/messages", h.ListMessages)
	v1.Get("/messages/:id", h.GetMessage)
	v1.Get("/templates", h.ListTemplates)
	v1.Post("/templates/:id/toggle", h.ToggleTemplate)
	v1.Get("/transactions", h.ListTransactions)
	v1.Get("/ledger/audit", h.Audit)

	return nil
}

type topUpRequest struct {
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type sendMessageRequest struct {
	TemplateID string `json:"templateId"`
	Recipient  string `json:"recipient"`
}

type balanceResponse struct {
	AccountID        string `json:"accountId"`
	Balance          int64  `json:"balance"`
	CostPerMessage   int64  `json:"costPerMessage"`
	Currency         string `json:"currency"`
	ThresholdCredits int64  `json:"thresholdCredits"`
	BelowThreshold   bool   `json:"belowThreshold"`
}

type topUpResponse struct {
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
	BalanceAfter  int64  `json:"balanceAfter"`
	Replayed      bool   `json:"replayed"`
}

type messageResponse struct {
	ID               string     `json:"id"`
	TemplateID       string     `json:"templateId"`
	Recipient        string     `json:"recipient"`
	Status           string     `json:"status"`
	CreditsCost      int64      `json:"creditsCost"`
	GatewayMessageID *string    `json:"gatewayMessageId,omitempty"`
	FailureReason    *string    `json:"failureReason,omitempty"`
	Attempts         int        `json:"attempts"`
	SentAt           time.Time  `json:"sentAt"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
}

type sendMessageResponse struct {
	MessageID     string  `json:"messageId"`
	Status        string  `json:"status"`
	CreditsCost   int64   `json:"creditsCost"`
	FailureReason *string `json:"failureReason,omitempty"`
}

type templateResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type transactionResponse struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Amount         int64     `json:"amount"`
	BalanceAfter   int64     `json:"balanceAfter"`
	ReservationID  *string   `json:"reservationId,omitempty"`
	IdempotencyKey *string   `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type auditResponse struct {
	AccountID           string    `json:"accountId"`
	CachedBalance       int64     `json:"cachedBalance"`
	ReplayedBalance     int64     `json:"replayedBalance"`
	Drift               int64     `json:"drift"`
	TransactionCount    int64     `json:"transactionCount"`
	PendingReservations int       `json:"pendingReservations"`
	PendingCredits      int64     `json:"pendingCredits"`
	Consistent          bool      `json:"consistent"`
	CheckedAt           time.Time `json:"checkedAt"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (h *LedgerHandler) GetBalance(c *fiber.Ctx) error {
	view, err := h.service.GetBalance(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(balanceResponse{
		AccountID:        view.AccountID,
		Balance:          view.Balance,
		CostPerMessage:   view.CostPerMessage,
		Currency:         view.Currency,
		ThresholdCredits: view.ThresholdCredits,
		BelowThreshold:   view.BelowThreshold,
	})
}

func (h *LedgerHandler) TopUp(c *fiber.Ctx) error {
	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	key, err := resolveIdempotencyKey(strings.TrimSpace(c.Get(IdempotencyKeyHeader)), strings.TrimSpace(req.IdempotencyKey))
	if err != nil {
		return toHTTPError(err)
	}

	result, err := h.service.TopUp(c.UserContext(), req.Amount, key)
	if err != nil {
		return toHTTPError(err)
	}

	status := fiber.StatusCreated
	if result.Replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(topUpResponse{
		TransactionID: result.Transaction.ID,
		Amount:        result.Transaction.Amount,
		BalanceAfter:  result.Transaction.BalanceAfter,
		Replayed:      result.Replayed,
	})
}

func (h *LedgerHandler) SendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	msg, err := h.service.Send(c.UserContext(), req.TemplateID, req.Recipient)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(sendMessageResponse{
		MessageID:     msg.ID,
		Status:        msg.Status.String(),
		CreditsCost:   msg.CreditsCost,
		FailureReason: msg.FailureReason,
	})
}

func (h *LedgerHandler) ListMessages(c *fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return toHTTPError(err)
	}

	messages, err := h.service.ListRecentMessages(c.UserContext(), limit)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]messageResponse, 0, len(messages))
	for i := range messages {
		data = append(data, toMessageResponse(&messages[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listResponse[messageResponse]{Data: data})
}

func (h *LedgerHandler) GetMessage(c *fiber.Ctx) error {
	msg, err := h.service.GetMessage(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toMessageResponse(msg))
}

func (h *LedgerHandler) ListTemplates(c *fiber.Ctx) error {
	templates, err := h.service.ListTemplates(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]templateResponse, 0, len(templates))
	for i := range templates {
		data = append(data, toTemplateResponse(&templates[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listResponse[templateResponse]{Data: data})
}

func (h *LedgerHandler) ToggleTemplate(c *fiber.Ctx) error {
	template, err := h.service.ToggleTemplate(c.UserContext(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toTemplateResponse(template))
}

func (h *LedgerHandler) ListTransactions(c *fiber.Ctx) error {
	limit, err := parseLimit(c)
	if err != nil {
		return toHTTPError(err)
	}

	txns, err := h.service.ListTransactions(c.UserContext(), limit)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		data = append(data, transactionResponse{
			ID:             txn.ID,
			Kind:           txn.Kind.String(),
			Amount:         txn.Amount,
			BalanceAfter:   txn.BalanceAfter,
			ReservationID:  txn.ReservationID,
			IdempotencyKey: txn.IdempotencyKey,
			CreatedAt:      txn.CreatedAt,
		})
	}
	return c.Status(fiber.StatusOK).JSON(listResponse[transactionResponse]{Data: data})
}

func (h *LedgerHandler) Audit(c *fiber.Ctx) error {
	report, err := h.service.Audit(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(auditResponse{
		AccountID:           report.AccountID,
		CachedBalance:       report.CachedBalance,
		ReplayedBalance:     report.ReplayedBalance,
		Drift:               report.Drift,
		TransactionCount:    report.TransactionCount,
		PendingReservations: report.PendingReservations,
		PendingCredits:      report.PendingCredits,
		Consistent:          report.Consistent,
		CheckedAt:           report.CheckedAt,
	})
}

// parseLimit reads ?limit=. A missing value yields 0 and the service default.
func parseLimit(c *fiber.Ctx) (int, error) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0, nil
	}

	limit := c.QueryInt("limit", -1)
	if limit < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation)
	}
	return limit, nil
}

func resolveIdempotencyKey(header, body string) (string, error) {
	switch {
	case header == "":
		return body, nil
	case body == "" || body == header:
		return header, nil
	default:
		return "", fmt.Errorf("%w: idempotency key in header and body differ", domain.ErrValidation)
	}
}

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:               m.ID,
		TemplateID:       m.TemplateID,
		Recipient:        m.Recipient,
		Status:           m.Status.String(),
		CreditsCost:      m.CreditsCost,
		GatewayMessageID: m.GatewayMessageID,
		FailureReason:    m.FailureReason,
		Attempts:         m.Attempts,
		SentAt:           m.SentAt,
		ResolvedAt:       m.ResolvedAt,
	}
}

func toTemplateResponse(t *domain.Template) templateResponse {
	return templateResponse{
		ID:        t.ID,
		Name:      t.Name,
		Active:    t.Active,
		UpdatedAt: t.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidAmount):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInsufficientCredits):
		return fiber.NewError(fiber.StatusPaymentRequired, err.Error())
	case errors.Is(err, domain.ErrTemplateDisabled),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrReservationSettled):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
