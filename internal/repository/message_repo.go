package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"gorm.io/gorm"
)

// Resolution carries the terminal fields written when a message leaves PENDING.
type Resolution struct {
	Status           domain.MessageStatus
	GatewayMessageID *string
	FailureReason    *string
	Attempts         int
	ResolvedAt       time.Time
}

type MessageRepository interface {
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Message, error)
	GetByReservationID(ctx context.Context, reservationID string) (*domain.Message, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Message, error)
	// Resolve moves a PENDING message to a terminal status. It reports false
	// when the message was already resolved.
	Resolve(ctx context.Context, id string, res Resolution) (bool, error)
	ListStalePending(ctx context.Context, sentBefore time.Time, limit int) ([]domain.Message, error)
	CountByStatus(ctx context.Context) (map[domain.MessageStatus]int64, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	model := messageModelFromDomain(msg)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if msg != nil {
		*msg = *messageModelToDomain(model)
	}
	return nil
}

func (r *GormMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return messageModelToDomain(&model), nil
}

func (r *GormMessageRepo) GetByReservationID(ctx context.Context, reservationID string) (*domain.Message, error) {
	var model MessageModel
	err := r.db.WithContext(ctx).First(&model, "reservation_id = ?", reservationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return messageModelToDomain(&model), nil
}

// ListRecent returns messages newest first.
func (r *GormMessageRepo) ListRecent(ctx context.Context, limit int) ([]domain.Message, error) {
	var models []MessageModel
	err := r.db.WithContext(ctx).
		Order("sent_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return messageModelsToDomain(models), nil
}

func (r *GormMessageRepo) Resolve(ctx context.Context, id string, res Resolution) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ? AND status = ?", id, domain.MessagePending).
		Updates(map[string]any{
			"status":             res.Status,
			"gateway_message_id": res.GatewayMessageID,
			"failure_reason":     res.FailureReason,
			"attempts":           res.Attempts,
			"resolved_at":        res.ResolvedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormMessageRepo) ListStalePending(ctx context.Context, sentBefore time.Time, limit int) ([]domain.Message, error) {
	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND sent_at < ?", domain.MessagePending, sentBefore).
		Order("sent_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return messageModelsToDomain(models), nil
}

func (r *GormMessageRepo) CountByStatus(ctx context.Context) (map[domain.MessageStatus]int64, error) {
	var rows []struct {
		Status domain.MessageStatus `gorm:"column:status"`
		Count  int64                `gorm:"column:count"`
	}
	err := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.MessageStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func messageModelsToDomain(models []MessageModel) []domain.Message {
	result := make([]domain.Message, 0, len(models))
	for i := range models {
		result = append(result, *messageModelToDomain(&models[i]))
	}
	return result
}
