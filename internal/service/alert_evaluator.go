package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-ledger/internal/alert"
	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/observability"
	"github.com/kursadbilgin/notification-ledger/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultNotifierTimeout = 10 * time.Second

// AlertEvaluator turns balance changes into edge-triggered low-balance
// events. An alert fires once when the balance drops below the threshold and
// is re-armed only after the balance recovers to the threshold or above.
//
// The armed flag is persisted per account and read back on every
// evaluation, so every process sharing the database sees the same edges.
type AlertEvaluator struct {
	accountID       string
	threshold       int64
	notifiers       []alert.Notifier
	metrics         *observability.Metrics
	logger          *zap.Logger
	now             func() time.Time
	notifierTimeout time.Duration

	mu    sync.Mutex
	armed bool
}

func NewAlertEvaluator(
	accountID string,
	threshold int64,
	notifiers []alert.Notifier,
	logger *zap.Logger,
) (*AlertEvaluator, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: threshold must not be negative", domain.ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AlertEvaluator{
		accountID:       accountID,
		threshold:       threshold,
		notifiers:       notifiers,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
		notifierTimeout: defaultNotifierTimeout,
	}, nil
}

func (e *AlertEvaluator) SetMetrics(metrics *observability.Metrics) {
	e.metrics = metrics
}

// Observe evaluates balance against the stored alert state and records the
// edge, if any, through states. The ledger calls it inside the transaction
// that produced balance, so the armed flag is compared and set under the
// account row lock. The returned event should be handed to Publish once the
// transaction commits.
func (e *AlertEvaluator) Observe(states repository.AlertStateTx, balance int64) (*domain.AlertEvent, error) {
	state, err := states.GetAlertState()
	switch {
	case errors.Is(err, domain.ErrNotFound):
		state = &domain.AlertState{AccountID: e.accountID}
	case err != nil:
		return nil, fmt.Errorf("failed to load alert state: %w", err)
	}

	below := balance < e.threshold
	var kind domain.AlertEventKind
	switch {
	case below && !state.Armed:
		kind = domain.AlertLowBalance
	case !below && state.Armed:
		kind = domain.AlertCleared
	default:
		e.remember(state.Armed)
		return nil, nil
	}

	now := e.now()
	state.ThresholdCredits = e.threshold
	state.Armed = below
	state.UpdatedAt = now
	if below {
		state.LastFiredAt = &now
	} else {
		state.LastClearedAt = &now
	}
	if err := states.SaveAlertState(state); err != nil {
		return nil, fmt.Errorf("failed to persist alert state: %w", err)
	}
	e.remember(state.Armed)

	return &domain.AlertEvent{
		Kind:             kind,
		AccountID:        e.accountID,
		Balance:          balance,
		ThresholdCredits: e.threshold,
		OccurredAt:       now,
	}, nil
}

func (e *AlertEvaluator) remember(armed bool) {
	e.mu.Lock()
	e.armed = armed
	e.mu.Unlock()
}

// Publish fans the event out to every notifier. Notifier failures are logged
// and never returned.
func (e *AlertEvaluator) Publish(ctx context.Context, event domain.AlertEvent) {
	e.metrics.IncLowBalanceAlert(event.Kind.String())

	var g errgroup.Group
	for _, notifier := range e.notifiers {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, e.notifierTimeout)
			defer cancel()

			if err := notifier.Send(sendCtx, event); err != nil {
				e.logger.Error("alert notifier failed",
					zap.String("notifier", notifier.Name()),
					zap.String("event", event.Kind.String()),
					zap.Int64("balance", event.Balance),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// BelowThreshold reports whether balance is under the configured threshold.
func (e *AlertEvaluator) BelowThreshold(balance int64) bool {
	return balance < e.Threshold()
}

func (e *AlertEvaluator) Threshold() int64 {
	return e.threshold
}

// Armed reports the flag as of the last evaluation made by this process.
func (e *AlertEvaluator) Armed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armed
}
