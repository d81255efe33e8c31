package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultReconcileInterval   = 30 * time.Second
	defaultReconcileStaleAfter = 2 * time.Minute
	defaultReconcileLimit      = 100
)

// Reconciler periodically settles work a crashed or stalled process left
// behind: PENDING messages past the stale window, and pending reservations
// that never got a message row.
type Reconciler struct {
	dispatcher *MessageDispatcher
	ledger     *CreditLedger
	messages   repository.MessageRepository
	logger     *zap.Logger
	interval   time.Duration
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

type ReconcileResult struct {
	MessagesResolved     int
	ReservationsReleased int
}

func NewReconciler(
	dispatcher *MessageDispatcher,
	ledger *CreditLedger,
	messages repository.MessageRepository,
	interval time.Duration,
	staleAfter time.Duration,
	logger *zap.Logger,
) (*Reconciler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("credit ledger is required")
	}
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultReconcileStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		dispatcher: dispatcher,
		ledger:     ledger,
		messages:   messages,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      defaultReconcileLimit,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *Reconciler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Settle whatever the previous process left before waiting for the first tick.
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("reconciler initial pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("reconciler pass failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs a single reconciliation pass.
func (r *Reconciler) RunOnce(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult
	cutoff := r.now().Add(-r.staleAfter)

	stale, err := r.messages.ListStalePending(ctx, cutoff, r.limit)
	if err != nil {
		return result, fmt.Errorf("failed to list stale messages: %w", err)
	}

	for i := range stale {
		msg := stale[i]
		resolved, err := r.dispatcher.ResolveStale(ctx, &msg)
		if err != nil {
			r.logger.Error("failed to resolve stale message",
				zap.String("messageId", msg.ID),
				zap.Error(err),
			)
			continue
		}
		result.MessagesResolved++
		r.logger.Warn("stale message resolved",
			zap.String("messageId", resolved.ID),
			zap.String("status", resolved.Status.String()),
		)
	}

	reservations, err := r.ledger.StaleReservations(ctx, cutoff, r.limit)
	if err != nil {
		return result, fmt.Errorf("failed to list stale reservations: %w", err)
	}

	for _, reservation := range reservations {
		_, err := r.messages.GetByReservationID(ctx, reservation.ID)
		if err == nil {
			// Owned by a message; the message pass settles it.
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Error("failed to look up reservation owner",
				zap.String("reservationId", reservation.ID),
				zap.Error(err),
			)
			continue
		}

		if _, err := r.ledger.Release(ctx, reservation.ID); err != nil {
			if errors.Is(err, domain.ErrReservationSettled) {
				continue
			}
			r.logger.Error("failed to release orphan reservation",
				zap.String("reservationId", reservation.ID),
				zap.Error(err),
			)
			continue
		}
		result.ReservationsReleased++
		r.logger.Warn("orphan reservation released",
			zap.String("reservationId", reservation.ID),
			zap.Int64("amount", reservation.Amount),
		)
	}

	return result, nil
}
