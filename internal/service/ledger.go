package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/observability"
	"github.com/kursadbilgin/notification-ledger/internal/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	initialBalanceKey     = "initial-balance"
	auditPendingScanLimit = 10_000
)

// BalanceObserver is told about every balance change inside the transaction
// that makes it. An Observe error rolls the change back. Publish runs after
// commit, outside the ledger lock.
type BalanceObserver interface {
	Observe(states repository.AlertStateTx, balance int64) (*domain.AlertEvent, error)
	Publish(ctx context.Context, event domain.AlertEvent)
}

type AccountSettings struct {
	CostPerMessage int64
	Currency       string
	InitialBalance int64
}

type AuditReport struct {
	AccountID           string
	CachedBalance       int64
	ReplayedBalance     int64
	Drift               int64
	TransactionCount    int64
	PendingReservations int
	PendingCredits      int64
	Consistent          bool
	CheckedAt           time.Time
}

// CreditLedger owns the account balance and its append-only transaction
// log. Balance mutations are serialized by mu inside this process and by the
// locked account row across processes.
type CreditLedger struct {
	repo      repository.LedgerRepository
	accountID string
	observer  BalanceObserver
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	mu sync.Mutex
}

func NewCreditLedger(repo repository.LedgerRepository, accountID string, logger *zap.Logger) (*CreditLedger, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository is required")
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("account id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CreditLedger{
		repo:      repo,
		accountID: accountID,
		logger:    logger.With(zap.String("accountId", accountID)),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}, nil
}

func (l *CreditLedger) SetObserver(observer BalanceObserver) {
	l.observer = observer
}

func (l *CreditLedger) SetMetrics(metrics *observability.Metrics) {
	l.metrics = metrics
}

func (l *CreditLedger) AccountID() string {
	return l.accountID
}

// Open creates the account on first start and credits the configured initial
// balance exactly once.
func (l *CreditLedger) Open(ctx context.Context, settings AccountSettings) (*domain.Account, error) {
	account := &domain.Account{
		ID:             l.accountID,
		CostPerMessage: settings.CostPerMessage,
		Currency:       settings.Currency,
	}
	if err := account.Validate(); err != nil {
		return nil, err
	}

	if _, err := l.repo.EnsureAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}

	if settings.InitialBalance > 0 {
		if _, _, err := l.TopUp(ctx, settings.InitialBalance, initialBalanceKey); err != nil {
			return nil, fmt.Errorf("failed to credit initial balance: %w", err)
		}
	}

	acct, err := l.GetBalance(ctx)
	if err != nil {
		return nil, err
	}
	l.metrics.SetBalance(acct.Balance)
	return acct, nil
}

func (l *CreditLedger) GetBalance(ctx context.Context) (*domain.Account, error) {
	return l.repo.GetAccount(ctx, l.accountID)
}

// TopUp credits amount once per idempotency key. A replayed key returns the
// original transaction with replayed set and changes nothing.
func (l *CreditLedger) TopUp(ctx context.Context, amount int64, idempotencyKey string) (*domain.Transaction, bool, error) {
	if amount <= 0 {
		return nil, false, fmt.Errorf("%w: top-up amount %d", domain.ErrInvalidAmount, amount)
	}

	key := strings.TrimSpace(idempotencyKey)
	if len(key) > 255 {
		return nil, false, fmt.Errorf("%w: idempotency key exceeds 255 characters", domain.ErrValidation)
	}

	var result *domain.Transaction
	replayed := false

	err := l.mutate(ctx, func(tx repository.LedgerTx) error {
		if key != "" {
			existing, err := tx.FindTransactionByIdempotencyKey(key)
			if err == nil {
				result = existing
				replayed = true
				return nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return err
			}
		}

		txn := &domain.Transaction{
			ID:        l.newID(),
			Kind:      domain.TransactionTopUp,
			Amount:    amount,
			CreatedAt: l.now(),
		}
		if key != "" {
			txn.IdempotencyKey = &key
		}
		if err := tx.AppendTransaction(txn); err != nil {
			return err
		}
		result = txn
		return nil
	})
	if err != nil && key != "" && isUniqueViolationError(err) {
		// Another writer stored the same key between our lookup and insert.
		err = l.mutate(ctx, func(tx repository.LedgerTx) error {
			existing, findErr := tx.FindTransactionByIdempotencyKey(key)
			if findErr != nil {
				return findErr
			}
			result = existing
			replayed = true
			return nil
		})
	}
	if err != nil {
		return nil, false, err
	}

	if replayed {
		if result.Amount != amount {
			l.logger.Warn("top-up replay with different amount",
				zap.String("idempotencyKey", key),
				zap.Int64("originalAmount", result.Amount),
				zap.Int64("requestedAmount", amount),
			)
		}
		return result, true, nil
	}

	l.metrics.IncLedgerTransaction(domain.TransactionTopUp.String())
	l.logger.Info("credits topped up",
		zap.String("transactionId", result.ID),
		zap.Int64("amount", amount),
		zap.Int64("balanceAfter", result.BalanceAfter),
	)
	return result, false, nil
}

// Reserve debits amount immediately and returns a pending reservation that
// must later be committed or released.
func (l *CreditLedger) Reserve(ctx context.Context, amount int64) (*domain.Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: reserve amount %d", domain.ErrInvalidAmount, amount)
	}

	var reservation *domain.Reservation
	err := l.mutate(ctx, func(tx repository.LedgerTx) error {
		account := tx.Account()
		if account.Balance < amount {
			return fmt.Errorf("%w: balance %d, required %d", domain.ErrInsufficientCredits, account.Balance, amount)
		}

		now := l.now()
		reservationID := l.newID()
		debit := &domain.Transaction{
			ID:            l.newID(),
			Kind:          domain.TransactionDebit,
			Amount:        amount,
			ReservationID: &reservationID,
			CreatedAt:     now,
		}
		if err := tx.AppendTransaction(debit); err != nil {
			return err
		}

		reservation = &domain.Reservation{
			ID:        reservationID,
			Amount:    amount,
			State:     domain.ReservationPending,
			DebitTxID: debit.ID,
			CreatedAt: now,
		}
		return tx.CreateReservation(reservation)
	})
	if err != nil {
		return nil, err
	}

	l.metrics.IncLedgerTransaction(domain.TransactionDebit.String())
	return reservation, nil
}

// Commit makes a reservation's debit final. Committing twice is a no-op;
// committing a released reservation fails with ErrReservationSettled.
func (l *CreditLedger) Commit(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	var reservation *domain.Reservation
	err := l.mutate(ctx, func(tx repository.LedgerTx) error {
		res, err := l.lookupReservation(tx, reservationID)
		if err != nil {
			return err
		}

		switch res.State {
		case domain.ReservationCommitted:
			reservation = res
			return nil
		case domain.ReservationReleased:
			return fmt.Errorf("%w: reservation %s was released", domain.ErrReservationSettled, res.ID)
		}

		settledAt := l.now()
		res.State = domain.ReservationCommitted
		res.SettledAt = &settledAt
		if err := tx.UpdateReservation(res); err != nil {
			return err
		}
		reservation = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// Release refunds a pending reservation. Releasing twice returns the original
// refund; releasing a committed reservation fails with ErrReservationSettled.
func (l *CreditLedger) Release(ctx context.Context, reservationID string) (*domain.Transaction, error) {
	var refund *domain.Transaction
	appended := false

	err := l.mutate(ctx, func(tx repository.LedgerTx) error {
		res, err := l.lookupReservation(tx, reservationID)
		if err != nil {
			return err
		}

		switch res.State {
		case domain.ReservationReleased:
			if res.RefundTxID == nil {
				return fmt.Errorf("released reservation %s has no refund transaction", res.ID)
			}
			refund, err = tx.GetTransaction(*res.RefundTxID)
			return err
		case domain.ReservationCommitted:
			return fmt.Errorf("%w: reservation %s was committed", domain.ErrReservationSettled, res.ID)
		}

		now := l.now()
		txn := &domain.Transaction{
			ID:            l.newID(),
			Kind:          domain.TransactionRefund,
			Amount:        res.Amount,
			ReservationID: &res.ID,
			CreatedAt:     now,
		}
		if err := tx.AppendTransaction(txn); err != nil {
			return err
		}

		res.State = domain.ReservationReleased
		res.RefundTxID = &txn.ID
		res.SettledAt = &now
		if err := tx.UpdateReservation(res); err != nil {
			return err
		}
		refund = txn
		appended = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if appended {
		l.metrics.IncLedgerTransaction(domain.TransactionRefund.String())
	}
	return refund, nil
}

func (l *CreditLedger) GetReservation(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	res, err := l.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.AccountID != l.accountID {
		return nil, domain.ErrNotFound
	}
	return res, nil
}

// ListTransactions returns the newest entries first.
func (l *CreditLedger) ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	return l.repo.ListTransactions(ctx, l.accountID, limit)
}

// StaleReservations lists pending reservations created before olderThan.
func (l *CreditLedger) StaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]domain.Reservation, error) {
	return l.repo.ListPendingReservations(ctx, l.accountID, olderThan, limit)
}

// Audit replays the transaction log and compares it with the cached balance.
func (l *CreditLedger) Audit(ctx context.Context) (*AuditReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	account, err := l.repo.GetAccount(ctx, l.accountID)
	if err != nil {
		return nil, err
	}
	replayed, count, err := l.repo.SumTransactions(ctx, l.accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to replay ledger: %w", err)
	}

	now := l.now()
	pending, err := l.repo.ListPendingReservations(ctx, l.accountID, now.Add(time.Second), auditPendingScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending reservations: %w", err)
	}

	report := &AuditReport{
		AccountID:           l.accountID,
		CachedBalance:       account.Balance,
		ReplayedBalance:     replayed,
		Drift:               account.Balance - replayed,
		TransactionCount:    count,
		PendingReservations: len(pending),
		CheckedAt:           now,
	}
	for _, res := range pending {
		report.PendingCredits += res.Amount
	}
	report.Consistent = report.Drift == 0 && account.Balance >= 0
	return report, nil
}

func (l *CreditLedger) lookupReservation(tx repository.LedgerTx, reservationID string) (*domain.Reservation, error) {
	if strings.TrimSpace(reservationID) == "" {
		return nil, fmt.Errorf("%w: reservation id is required", domain.ErrValidation)
	}

	res, err := tx.GetReservation(reservationID)
	if err != nil {
		return nil, err
	}
	if res.AccountID != l.accountID {
		return nil, domain.ErrNotFound
	}
	return res, nil
}

// mutate runs fn against the locked account. The observer evaluates the new
// balance in the same transaction so alert edges follow commit order across
// processes.
func (l *CreditLedger) mutate(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	l.mu.Lock()

	var before, after int64
	var event *domain.AlertEvent
	err := l.repo.InTx(ctx, l.accountID, func(tx repository.LedgerTx) error {
		before = tx.Account().Balance
		if err := fn(tx); err != nil {
			return err
		}
		after = tx.Account().Balance
		if after == before || l.observer == nil {
			return nil
		}

		var err error
		event, err = l.observer.Observe(tx, after)
		if err != nil {
			return fmt.Errorf("balance observer: %w", err)
		}
		return nil
	})
	if err == nil && after != before {
		l.metrics.SetBalance(after)
	}

	l.mu.Unlock()

	if err != nil {
		return err
	}
	if event != nil {
		l.observer.Publish(context.WithoutCancel(ctx), *event)
	}
	return nil
}

// CheckAlerts evaluates the current balance once without moving it, so an
// edge crossed while no process was observing is still reported.
func (l *CreditLedger) CheckAlerts(ctx context.Context) error {
	if l.observer == nil {
		return nil
	}

	l.mu.Lock()
	var event *domain.AlertEvent
	err := l.repo.InTx(ctx, l.accountID, func(tx repository.LedgerTx) error {
		var err error
		event, err = l.observer.Observe(tx, tx.Account().Balance)
		return err
	})
	l.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to evaluate alert state: %w", err)
	}
	if event != nil {
		l.observer.Publish(context.WithoutCancel(ctx), *event)
	}
	return nil
}

func isUniqueViolationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
