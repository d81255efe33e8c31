package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AlertStateTx reads and writes the alert state of the locked account.
type AlertStateTx interface {
	GetAlertState() (*domain.AlertState, error)
	SaveAlertState(state *domain.AlertState) error
}

// LedgerTx is a unit of work scoped to one locked account. All writes made
// through it commit or roll back together.
type LedgerTx interface {
	AlertStateTx
	Account() domain.Account
	FindTransactionByIdempotencyKey(key string) (*domain.Transaction, error)
	GetTransaction(id string) (*domain.Transaction, error)
	GetReservation(id string) (*domain.Reservation, error)
	// AppendTransaction fills BalanceAfter, persists the entry and moves the
	// cached account balance by the entry's delta.
	AppendTransaction(t *domain.Transaction) error
	CreateReservation(r *domain.Reservation) error
	UpdateReservation(r *domain.Reservation) error
}

type LedgerRepository interface {
	EnsureAccount(ctx context.Context, account *domain.Account) (*domain.Account, error)
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	InTx(ctx context.Context, accountID string, fn func(tx LedgerTx) error) error
	GetReservation(ctx context.Context, id string) (*domain.Reservation, error)
	ListTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error)
	SumTransactions(ctx context.Context, accountID string) (sum int64, count int64, err error)
	ListPendingReservations(ctx context.Context, accountID string, createdBefore time.Time, limit int) ([]domain.Reservation, error)
}

type GormLedgerRepo struct {
	db *gorm.DB
}

func NewGormLedgerRepo(db *gorm.DB) *GormLedgerRepo {
	return &GormLedgerRepo{db: db}
}

// EnsureAccount creates the account when missing and returns the stored row.
// An existing account keeps its balance.
func (r *GormLedgerRepo) EnsureAccount(ctx context.Context, account *domain.Account) (*domain.Account, error) {
	if account == nil {
		return nil, fmt.Errorf("%w: account is required", domain.ErrValidation)
	}

	model := AccountModel{
		ID:             account.ID,
		Balance:        0,
		CostPerMessage: account.CostPerMessage,
		Currency:       account.Currency,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return nil, err
	}

	// Pricing follows configuration; balance never does.
	err = r.db.WithContext(ctx).
		Model(&AccountModel{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"cost_per_message": account.CostPerMessage,
			"currency":         account.Currency,
		}).Error
	if err != nil {
		return nil, err
	}

	return r.GetAccount(ctx, account.ID)
}

func (r *GormLedgerRepo) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var model AccountModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return accountModelToDomain(&model), nil
}

func (r *GormLedgerRepo) InTx(ctx context.Context, accountID string, fn func(tx LedgerTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		var model AccountModel
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&model, "id = ?", accountID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		var seq int64
		err = db.Model(&TransactionModel{}).
			Where("account_id = ?", accountID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&seq).Error
		if err != nil {
			return err
		}

		return fn(&gormLedgerTx{db: db, account: model, seq: seq})
	})
}

func (r *GormLedgerRepo) GetReservation(ctx context.Context, id string) (*domain.Reservation, error) {
	return getReservation(r.db.WithContext(ctx), id)
}

func (r *GormLedgerRepo) ListTransactions(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	var models []TransactionModel
	query := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]domain.Transaction, 0, len(models))
	for i := range models {
		result = append(result, *transactionModelToDomain(&models[i]))
	}
	return result, nil
}

// SumTransactions replays the log: TOP_UP and REFUND add, DEBIT subtracts.
func (r *GormLedgerRepo) SumTransactions(ctx context.Context, accountID string) (int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&TransactionModel{}).
		Select(
			"COALESCE(SUM(CASE WHEN kind = ? THEN -amount ELSE amount END), 0) AS total, COUNT(*) AS count",
			domain.TransactionDebit,
		).
		Where("account_id = ?", accountID).
		Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Total, row.Count, nil
}

func (r *GormLedgerRepo) ListPendingReservations(ctx context.Context, accountID string, createdBefore time.Time, limit int) ([]domain.Reservation, error) {
	var models []ReservationModel
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND state = ? AND created_at < ?", accountID, domain.ReservationPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	result := make([]domain.Reservation, 0, len(models))
	for i := range models {
		result = append(result, *reservationModelToDomain(&models[i]))
	}
	return result, nil
}

type gormLedgerTx struct {
	db      *gorm.DB
	account AccountModel
	seq     int64
}

func (t *gormLedgerTx) Account() domain.Account {
	return *accountModelToDomain(&t.account)
}

func (t *gormLedgerTx) FindTransactionByIdempotencyKey(key string) (*domain.Transaction, error) {
	var model TransactionModel
	err := t.db.
		Where("account_id = ? AND idempotency_key = ?", t.account.ID, key).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return transactionModelToDomain(&model), nil
}

func (t *gormLedgerTx) GetTransaction(id string) (*domain.Transaction, error) {
	var model TransactionModel
	err := t.db.First(&model, "id = ? AND account_id = ?", id, t.account.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return transactionModelToDomain(&model), nil
}

func (t *gormLedgerTx) GetReservation(id string) (*domain.Reservation, error) {
	return getReservation(t.db, id)
}

func (t *gormLedgerTx) GetAlertState() (*domain.AlertState, error) {
	var model AlertStateModel
	err := t.db.First(&model, "account_id = ?", t.account.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alertStateModelToDomain(&model), nil
}

func (t *gormLedgerTx) SaveAlertState(state *domain.AlertState) error {
	if state == nil {
		return fmt.Errorf("%w: alert state is required", domain.ErrValidation)
	}
	state.AccountID = t.account.ID
	return t.db.
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(alertStateModelFromDomain(state)).Error
}

func (t *gormLedgerTx) AppendTransaction(txn *domain.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction is required", domain.ErrValidation)
	}

	txn.AccountID = t.account.ID
	txn.BalanceAfter = t.account.Balance + txn.Delta()
	if txn.BalanceAfter < 0 {
		return domain.ErrInsufficientCredits
	}

	model := transactionModelFromDomain(txn)
	model.Seq = t.seq + 1
	if err := t.db.Create(model).Error; err != nil {
		return err
	}

	err := t.db.Model(&AccountModel{}).
		Where("id = ?", t.account.ID).
		Updates(map[string]any{
			"balance":    txn.BalanceAfter,
			"updated_at": txn.CreatedAt,
		}).Error
	if err != nil {
		return err
	}

	t.seq = model.Seq
	t.account.Balance = txn.BalanceAfter
	t.account.UpdatedAt = txn.CreatedAt
	return nil
}

func (t *gormLedgerTx) CreateReservation(res *domain.Reservation) error {
	res.AccountID = t.account.ID
	return t.db.Create(reservationModelFromDomain(res)).Error
}

func (t *gormLedgerTx) UpdateReservation(res *domain.Reservation) error {
	result := t.db.Model(&ReservationModel{}).
		Where("id = ?", res.ID).
		Updates(map[string]any{
			"state":        res.State,
			"refund_tx_id": res.RefundTxID,
			"settled_at":   res.SettledAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func getReservation(db *gorm.DB, id string) (*domain.Reservation, error) {
	var model ReservationModel
	err := db.First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return reservationModelToDomain(&model), nil
}
