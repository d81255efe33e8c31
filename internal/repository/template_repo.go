package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TemplateRepository interface {
	Upsert(ctx context.Context, t *domain.Template) error
	GetByID(ctx context.Context, id string) (*domain.Template, error)
	List(ctx context.Context) ([]domain.Template, error)
	SetActive(ctx context.Context, id string, active bool, at time.Time) (*domain.Template, error)
	// Toggle flips the active flag in a single statement.
	Toggle(ctx context.Context, id string, at time.Time) (*domain.Template, error)
}

type GormTemplateRepo struct {
	db *gorm.DB
}

func NewGormTemplateRepo(db *gorm.DB) *GormTemplateRepo {
	return &GormTemplateRepo{db: db}
}

// Upsert inserts the template or refreshes its name. The active flag of an
// existing row is left untouched so toggles survive reseeding.
func (r *GormTemplateRepo) Upsert(ctx context.Context, t *domain.Template) error {
	model := templateModelFromDomain(t)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).
		Create(model).Error
}

func (r *GormTemplateRepo) GetByID(ctx context.Context, id string) (*domain.Template, error) {
	var model TemplateModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return templateModelToDomain(&model), nil
}

func (r *GormTemplateRepo) List(ctx context.Context) ([]domain.Template, error) {
	var models []TemplateModel
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]domain.Template, 0, len(models))
	for i := range models {
		result = append(result, *templateModelToDomain(&models[i]))
	}
	return result, nil
}

func (r *GormTemplateRepo) SetActive(ctx context.Context, id string, active bool, at time.Time) (*domain.Template, error) {
	result := r.db.WithContext(ctx).
		Model(&TemplateModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active":     active,
			"updated_at": at,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *GormTemplateRepo) Toggle(ctx context.Context, id string, at time.Time) (*domain.Template, error) {
	result := r.db.WithContext(ctx).
		Model(&TemplateModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active":     gorm.Expr("NOT active"),
			"updated_at": at,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}
	return r.GetByID(ctx, id)
}
