package repository

import (
	"time"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
)

// AccountModel is the persistence model for the accounts table.
type AccountModel struct {
	ID             string `gorm:"type:varchar(64);primaryKey"`
	Balance        int64  `gorm:"not null;default:0"`
	CostPerMessage int64  `gorm:"not null"`
	Currency       string `gorm:"type:varchar(16);not null"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (AccountModel) TableName() string {
	return "accounts"
}

// TransactionModel is the persistence model for the append-only ledger.
type TransactionModel struct {
	ID             string                 `gorm:"type:varchar(36);primaryKey"`
	AccountID      string                 `gorm:"type:varchar(64);not null"`
	Kind           domain.TransactionKind `gorm:"type:varchar(10);not null"`
	Amount         int64                  `gorm:"not null"`
	BalanceAfter   int64                  `gorm:"not null"`
	ReservationID  *string                `gorm:"type:varchar(36)"`
	IdempotencyKey *string                `gorm:"type:varchar(255)"`
	Seq            int64                  `gorm:"not null"`
	CreatedAt      time.Time
}

func (TransactionModel) TableName() string {
	return "ledger_transactions"
}

// ReservationModel is the persistence model for credit reservations.
type ReservationModel struct {
	ID         string                  `gorm:"type:varchar(36);primaryKey"`
	AccountID  string                  `gorm:"type:varchar(64);not null"`
	Amount     int64                   `gorm:"not null"`
	State      domain.ReservationState `gorm:"type:varchar(10);not null"`
	DebitTxID  string                  `gorm:"type:varchar(36);not null"`
	RefundTxID *string                 `gorm:"type:varchar(36)"`
	CreatedAt  time.Time
	SettledAt  *time.Time
}

func (ReservationModel) TableName() string {
	return "reservations"
}

// TemplateModel is the persistence model for notification templates.
type TemplateModel struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	Name      string `gorm:"type:varchar(255);not null"`
	Active    bool   `gorm:"not null;default:true"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (TemplateModel) TableName() string {
	return "templates"
}

// MessageModel is the persistence model for the messages table.
type MessageModel struct {
	ID               string               `gorm:"type:varchar(36);primaryKey"`
	TemplateID       string               `gorm:"type:varchar(64);not null"`
	Recipient        string               `gorm:"type:varchar(255);not null"`
	CreditsCost      int64                `gorm:"not null"`
	Status           domain.MessageStatus `gorm:"type:varchar(10);not null"`
	ReservationID    string               `gorm:"type:varchar(36);not null"`
	GatewayMessageID *string              `gorm:"type:varchar(255)"`
	FailureReason    *string              `gorm:"type:text"`
	Attempts         int                  `gorm:"not null;default:0"`
	SentAt           time.Time            `gorm:"not null"`
	ResolvedAt       *time.Time
}

func (MessageModel) TableName() string {
	return "messages"
}

// AlertStateModel is the persistence model for low-balance alert state.
type AlertStateModel struct {
	AccountID        string `gorm:"type:varchar(64);primaryKey"`
	ThresholdCredits int64  `gorm:"not null"`
	Armed            bool   `gorm:"not null;default:false"`
	LastFiredAt      *time.Time
	LastClearedAt    *time.Time
	UpdatedAt        time.Time
}

func (AlertStateModel) TableName() string {
	return "alert_states"
}

func accountModelToDomain(m *AccountModel) *domain.Account {
	if m == nil {
		return nil
	}

	return &domain.Account{
		ID:             m.ID,
		Balance:        m.Balance,
		CostPerMessage: m.CostPerMessage,
		Currency:       m.Currency,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func transactionModelFromDomain(t *domain.Transaction) *TransactionModel {
	if t == nil {
		return nil
	}

	return &TransactionModel{
		ID:             t.ID,
		AccountID:      t.AccountID,
		Kind:           t.Kind,
		Amount:         t.Amount,
		BalanceAfter:   t.BalanceAfter,
		ReservationID:  t.ReservationID,
		IdempotencyKey: t.IdempotencyKey,
		CreatedAt:      t.CreatedAt,
	}
}

func transactionModelToDomain(m *TransactionModel) *domain.Transaction {
	if m == nil {
		return nil
	}

	return &domain.Transaction{
		ID:             m.ID,
		AccountID:      m.AccountID,
		Kind:           m.Kind,
		Amount:         m.Amount,
		BalanceAfter:   m.BalanceAfter,
		ReservationID:  m.ReservationID,
		IdempotencyKey: m.IdempotencyKey,
		CreatedAt:      m.CreatedAt,
	}
}

func reservationModelFromDomain(r *domain.Reservation) *ReservationModel {
	if r == nil {
		return nil
	}

	return &ReservationModel{
		ID:         r.ID,
		AccountID:  r.AccountID,
		Amount:     r.Amount,
		State:      r.State,
		DebitTxID:  r.DebitTxID,
		RefundTxID: r.RefundTxID,
		CreatedAt:  r.CreatedAt,
		SettledAt:  r.SettledAt,
	}
}

func reservationModelToDomain(m *ReservationModel) *domain.Reservation {
	if m == nil {
		return nil
	}

	return &domain.Reservation{
		ID:         m.ID,
		AccountID:  m.AccountID,
		Amount:     m.Amount,
		State:      m.State,
		DebitTxID:  m.DebitTxID,
		RefundTxID: m.RefundTxID,
		CreatedAt:  m.CreatedAt,
		SettledAt:  m.SettledAt,
	}
}

func templateModelFromDomain(t *domain.Template) *TemplateModel {
	if t == nil {
		return nil
	}

	return &TemplateModel{
		ID:        t.ID,
		Name:      t.Name,
		Active:    t.Active,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func templateModelToDomain(m *TemplateModel) *domain.Template {
	if m == nil {
		return nil
	}

	return &domain.Template{
		ID:        m.ID,
		Name:      m.Name,
		Active:    m.Active,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func messageModelFromDomain(msg *domain.Message) *MessageModel {
	if msg == nil {
		return nil
	}

	return &MessageModel{
		ID:               msg.ID,
		TemplateID:       msg.TemplateID,
		Recipient:        msg.Recipient,
		CreditsCost:      msg.CreditsCost,
		Status:           msg.Status,
		ReservationID:    msg.ReservationID,
		GatewayMessageID: msg.GatewayMessageID,
		FailureReason:    msg.FailureReason,
		Attempts:         msg.Attempts,
		SentAt:           msg.SentAt,
		ResolvedAt:       msg.ResolvedAt,
	}
}

func messageModelToDomain(m *MessageModel) *domain.Message {
	if m == nil {
		return nil
	}

	return &domain.Message{
		ID:               m.ID,
		TemplateID:       m.TemplateID,
		Recipient:        m.Recipient,
		CreditsCost:      m.CreditsCost,
		Status:           m.Status,
		ReservationID:    m.ReservationID,
		GatewayMessageID: m.GatewayMessageID,
		FailureReason:    m.FailureReason,
		Attempts:         m.Attempts,
		SentAt:           m.SentAt,
		ResolvedAt:       m.ResolvedAt,
	}
}

func alertStateModelFromDomain(s *domain.AlertState) *AlertStateModel {
	if s == nil {
		return nil
	}

	return &AlertStateModel{
		AccountID:        s.AccountID,
		ThresholdCredits: s.ThresholdCredits,
		Armed:            s.Armed,
		LastFiredAt:      s.LastFiredAt,
		LastClearedAt:    s.LastClearedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func alertStateModelToDomain(m *AlertStateModel) *domain.AlertState {
	if m == nil {
		return nil
	}

	return &domain.AlertState{
		AccountID:        m.AccountID,
		ThresholdCredits: m.ThresholdCredits,
		Armed:            m.Armed,
		LastFiredAt:      m.LastFiredAt,
		LastClearedAt:    m.LastClearedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
