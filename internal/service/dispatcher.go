package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/gateway"
	"github.com/kursadbilgin/notification-ledger/internal/observability"
	"github.com/kursadbilgin/notification-ledger/internal/queue"
	"github.com/kursadbilgin/notification-ledger/internal/ratelimit"
	"github.com/kursadbilgin/notification-ledger/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultAttemptTimeout = 5 * time.Second
	maxGatewayAttempts    = 2
	gatewayRateLimitKey   = "gateway"
	maxFailureReasonLen   = 1000
)

var errGatewayPanic = errors.New("gateway panicked")

// MessageDispatcher sends one message per call and keeps the message status
// in lockstep with its reservation: a delivered message owns a committed
// debit, a failed one owns a refund.
type MessageDispatcher struct {
	ledger    *CreditLedger
	templates *TemplateRegistry
	messages  repository.MessageRepository
	gateway   gateway.Gateway
	limiter   ratelimit.Limiter
	publisher queue.Publisher
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	attemptTimeout time.Duration
	maxAttempts    int
}

func NewMessageDispatcher(
	ledger *CreditLedger,
	templates *TemplateRegistry,
	messages repository.MessageRepository,
	gw gateway.Gateway,
	logger *zap.Logger,
) (*MessageDispatcher, error) {
	if ledger == nil {
		return nil, fmt.Errorf("credit ledger is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template registry is required")
	}
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if gw == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MessageDispatcher{
		ledger:         ledger,
		templates:      templates,
		messages:       messages,
		gateway:        gw,
		limiter:        ratelimit.Unlimited{},
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          uuid.NewString,
		attemptTimeout: defaultAttemptTimeout,
		maxAttempts:    maxGatewayAttempts,
	}, nil
}

func (d *MessageDispatcher) SetLimiter(limiter ratelimit.Limiter) {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	d.limiter = limiter
}

// SetPublisher switches Submit to queued delivery.
func (d *MessageDispatcher) SetPublisher(publisher queue.Publisher) {
	d.publisher = publisher
}

func (d *MessageDispatcher) SetMetrics(metrics *observability.Metrics) {
	d.metrics = metrics
}

func (d *MessageDispatcher) SetAttemptTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.attemptTimeout = timeout
	}
}

// Send reserves credits, calls the gateway and settles the reservation before
// returning. Gateway failures are reported through the returned message
// status, never as an error.
func (d *MessageDispatcher) Send(ctx context.Context, templateID, recipient string) (*domain.Message, error) {
	msg, err := d.prepare(ctx, templateID, recipient)
	if err != nil {
		return nil, err
	}
	return d.deliver(ctx, msg)
}

// Submit reserves credits and hands the gateway call to the delivery queue.
// The returned message is still PENDING unless the job could not be queued.
func (d *MessageDispatcher) Submit(ctx context.Context, templateID, recipient string) (*domain.Message, error) {
	if d.publisher == nil {
		return d.Send(ctx, templateID, recipient)
	}

	msg, err := d.prepare(ctx, templateID, recipient)
	if err != nil {
		return nil, err
	}

	job := queue.DeliveryJob{MessageID: msg.ID, EnqueuedAt: d.now()}
	if requestID, ok := observability.RequestIDFromContext(ctx); ok {
		job.RequestID = requestID
	}

	if err := d.publisher.Publish(ctx, job); err != nil {
		d.logger.Error("failed to publish delivery job",
			zap.String("messageId", msg.ID),
			zap.Error(err),
		)
		return d.fail(context.WithoutCancel(ctx), msg, 0, fmt.Errorf("failed to enqueue delivery: %w", err))
	}
	return msg, nil
}

// Deliver runs the gateway call for a message queued by Submit. Messages that
// are already resolved are returned unchanged.
func (d *MessageDispatcher) Deliver(ctx context.Context, messageID string) (*domain.Message, error) {
	msg, err := d.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Status.IsTerminal() {
		return msg, nil
	}

	reservation, err := d.ledger.GetReservation(ctx, msg.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	if reservation.State.IsSettled() {
		return d.resolveFromReservation(ctx, msg, reservation, "reservation settled before delivery")
	}

	return d.deliver(ctx, msg)
}

// ResolveStale settles a message whose delivery outcome was never recorded.
// A committed reservation means the message was delivered. Anything else is
// released and the message fails.
func (d *MessageDispatcher) ResolveStale(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	if msg.Status.IsTerminal() {
		return msg, nil
	}

	reservation, err := d.ledger.GetReservation(ctx, msg.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reservation: %w", err)
	}
	return d.resolveFromReservation(ctx, msg, reservation, "delivery outcome not recorded in time")
}

func (d *MessageDispatcher) prepare(ctx context.Context, templateID, recipient string) (*domain.Message, error) {
	account, err := d.ledger.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}

	msg := &domain.Message{
		ID:          d.newID(),
		TemplateID:  strings.TrimSpace(templateID),
		Recipient:   strings.TrimSpace(recipient),
		CreditsCost: account.CostPerMessage,
		Status:      domain.MessagePending,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	active, err := d.templates.IsActive(ctx, msg.TemplateID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, fmt.Errorf("%w: %s", domain.ErrTemplateDisabled, msg.TemplateID)
	}

	reservation, err := d.ledger.Reserve(ctx, msg.CreditsCost)
	if err != nil {
		return nil, err
	}

	msg.ReservationID = reservation.ID
	msg.SentAt = d.now()
	if err := d.messages.Create(ctx, msg); err != nil {
		if _, releaseErr := d.ledger.Release(context.WithoutCancel(ctx), reservation.ID); releaseErr != nil {
			d.logger.Error("failed to release reservation after message create error",
				zap.String("reservationId", reservation.ID),
				zap.Error(releaseErr),
			)
		}
		return nil, fmt.Errorf("failed to persist message: %w", err)
	}

	return msg, nil
}

func (d *MessageDispatcher) deliver(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	d.metrics.IncDispatchInFlight()
	defer d.metrics.DecDispatchInFlight()

	logger := observability.LoggerFromContext(ctx, d.logger).With(
		zap.String("messageId", msg.ID),
		zap.String("templateId", msg.TemplateID),
	)

	receipt, attempts, sendErr := d.callGateway(ctx, msg, logger)

	// Settlement must finish even if the caller went away.
	settleCtx := context.WithoutCancel(ctx)
	if sendErr != nil {
		logger.Warn("message delivery failed",
			zap.Int("attempts", attempts),
			zap.String("failure", string(gateway.Classify(sendErr))),
			zap.Error(sendErr),
		)
		return d.fail(settleCtx, msg, attempts, sendErr)
	}

	if _, err := d.ledger.Commit(settleCtx, msg.ReservationID); err != nil {
		if errors.Is(err, domain.ErrReservationSettled) {
			logger.Warn("reservation released before delivery was confirmed", zap.Error(err))
			return d.finalize(settleCtx, msg, repository.Resolution{
				Status:        domain.MessageFailed,
				FailureReason: failureReason(err),
				Attempts:      attempts,
			})
		}
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	var gatewayMessageID *string
	if receipt != nil && receipt.GatewayMessageID != "" {
		id := receipt.GatewayMessageID
		gatewayMessageID = &id
	}
	logger.Info("message delivered", zap.Int("attempts", attempts))

	return d.finalize(settleCtx, msg, repository.Resolution{
		Status:           domain.MessageDelivered,
		GatewayMessageID: gatewayMessageID,
		Attempts:         attempts,
	})
}

func (d *MessageDispatcher) callGateway(ctx context.Context, msg *domain.Message, logger *zap.Logger) (*gateway.Receipt, int, error) {
	req := gateway.SendRequest{
		MessageID:  msg.ID,
		Recipient:  msg.Recipient,
		TemplateID: msg.TemplateID,
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		receipt, err := d.attempt(ctx, req)
		if err == nil {
			return receipt, attempt, nil
		}
		lastErr = err

		if attempt == d.maxAttempts || ctx.Err() != nil || !gateway.IsRetryable(err) || errors.Is(err, errGatewayPanic) {
			return nil, attempt, lastErr
		}
		logger.Info("retrying gateway send", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, d.maxAttempts, lastErr
}

func (d *MessageDispatcher) attempt(ctx context.Context, req gateway.SendRequest) (*gateway.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, d.attemptTimeout)
	err := d.limiter.Wait(waitCtx, gatewayRateLimitKey)
	cancelWait()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &gateway.GatewayError{Kind: gateway.FailureTimeout, Message: "rate limiter wait failed", Cause: err}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := d.safeSend(attemptCtx, req)
	d.metrics.ObserveGatewayAttempt(attemptResult(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		receipt = &gateway.Receipt{}
	}
	return receipt, nil
}

func (d *MessageDispatcher) safeSend(ctx context.Context, req gateway.SendRequest) (receipt *gateway.Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			receipt = nil
			err = &gateway.GatewayError{
				Kind:    gateway.FailureTimeout,
				Message: fmt.Sprintf("%v", r),
				Cause:   errGatewayPanic,
			}
		}
	}()
	return d.gateway.Send(ctx, req)
}

func (d *MessageDispatcher) fail(ctx context.Context, msg *domain.Message, attempts int, cause error) (*domain.Message, error) {
	if _, err := d.ledger.Release(ctx, msg.ReservationID); err != nil {
		if errors.Is(err, domain.ErrReservationSettled) {
			reservation, getErr := d.ledger.GetReservation(ctx, msg.ReservationID)
			if getErr != nil {
				return nil, fmt.Errorf("failed to load reservation: %w", getErr)
			}
			return d.resolveFromReservation(ctx, msg, reservation, cause.Error())
		}
		return nil, fmt.Errorf("failed to release reservation: %w", err)
	}

	return d.finalize(ctx, msg, repository.Resolution{
		Status:        domain.MessageFailed,
		FailureReason: failureReason(cause),
		Attempts:      attempts,
	})
}

// resolveFromReservation aligns the message with whatever the ledger already
// decided for its reservation.
func (d *MessageDispatcher) resolveFromReservation(
	ctx context.Context,
	msg *domain.Message,
	reservation *domain.Reservation,
	reason string,
) (*domain.Message, error) {
	switch reservation.State {
	case domain.ReservationCommitted:
		return d.finalize(ctx, msg, repository.Resolution{
			Status:   domain.MessageDelivered,
			Attempts: msg.Attempts,
		})
	case domain.ReservationReleased:
		return d.finalize(ctx, msg, repository.Resolution{
			Status:        domain.MessageFailed,
			FailureReason: failureReason(errors.New(reason)),
			Attempts:      msg.Attempts,
		})
	default:
		return d.fail(ctx, msg, msg.Attempts, errors.New(reason))
	}
}

func (d *MessageDispatcher) finalize(ctx context.Context, msg *domain.Message, res repository.Resolution) (*domain.Message, error) {
	res.ResolvedAt = d.now()
	updated, err := d.messages.Resolve(ctx, msg.ID, res)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve message: %w", err)
	}
	if !updated {
		// Someone else resolved it first; report what was stored.
		return d.messages.GetByID(ctx, msg.ID)
	}

	d.metrics.IncMessageResolved(res.Status.String())

	resolved := *msg
	resolved.Status = res.Status
	resolved.GatewayMessageID = res.GatewayMessageID
	resolved.FailureReason = res.FailureReason
	resolved.Attempts = res.Attempts
	resolved.ResolvedAt = &res.ResolvedAt
	return &resolved, nil
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "delivered"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return strings.ToLower(string(gateway.Classify(err)))
	}
}

func failureReason(err error) *string {
	if err == nil {
		return nil
	}
	reason := err.Error()
	if len(reason) > maxFailureReasonLen {
		reason = reason[:maxFailureReasonLen]
	}
	return &reason
}
