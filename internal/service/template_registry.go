package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/repository"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// TemplateRegistry tracks which message templates are allowed to send.
type TemplateRegistry struct {
	templates repository.TemplateRepository
	logger    *zap.Logger
	now       func() time.Time
}

func NewTemplateRegistry(templates repository.TemplateRepository, logger *zap.Logger) (*TemplateRegistry, error) {
	if templates == nil {
		return nil, fmt.Errorf("template repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &TemplateRegistry{
		templates: templates,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Toggle flips the active flag of a known template.
func (r *TemplateRegistry) Toggle(ctx context.Context, id string) (*domain.Template, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: template id is required", domain.ErrValidation)
	}

	template, err := r.templates.Toggle(ctx, id, r.now())
	if err != nil {
		return nil, err
	}

	r.logger.Info("template toggled",
		zap.String("templateId", template.ID),
		zap.Bool("active", template.Active),
	)
	return template, nil
}

func (r *TemplateRegistry) SetActive(ctx context.Context, id string, active bool) (*domain.Template, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: template id is required", domain.ErrValidation)
	}
	return r.templates.SetActive(ctx, id, active, r.now())
}

// IsActive reports whether a template may be used. Unknown templates are inactive.
func (r *TemplateRegistry) IsActive(ctx context.Context, id string) (bool, error) {
	template, err := r.templates.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load template: %w", err)
	}
	return template.Active, nil
}

func (r *TemplateRegistry) Get(ctx context.Context, id string) (*domain.Template, error) {
	return r.templates.GetByID(ctx, strings.TrimSpace(id))
}

func (r *TemplateRegistry) List(ctx context.Context) ([]domain.Template, error) {
	return r.templates.List(ctx)
}

// Seed inserts templates that do not exist yet and refreshes names of the
// ones that do. The active flag of an existing template is never touched.
func (r *TemplateRegistry) Seed(ctx context.Context, templates []domain.Template) error {
	now := r.now()
	for i := range templates {
		template := templates[i]
		template.ID = strings.TrimSpace(template.ID)
		if template.Name == "" {
			template.Name = template.ID
		}
		template.CreatedAt = now
		template.UpdatedAt = now
		if err := template.Validate(); err != nil {
			return err
		}
		if err := r.templates.Upsert(ctx, &template); err != nil {
			return fmt.Errorf("failed to seed template %s: %w", template.ID, err)
		}
	}

	r.logger.Info("templates seeded", zap.Int("count", len(templates)))
	return nil
}

type templateFile struct {
	Templates []templateFileEntry `yaml:"templates"`
}

type templateFileEntry struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Active *bool  `yaml:"active"`
}

// LoadTemplatesFile reads a YAML seed file. Templates without an explicit
// active flag start enabled.
func LoadTemplatesFile(path string) ([]domain.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read templates file: %w", err)
	}
	return ParseTemplates(data)
}

func ParseTemplates(data []byte) ([]domain.Template, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse templates file: %w", err)
	}

	templates := make([]domain.Template, 0, len(file.Templates))
	seen := make(map[string]struct{}, len(file.Templates))
	for _, entry := range file.Templates {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: template id is required", domain.ErrValidation)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: duplicate template id %q", domain.ErrValidation, id)
		}
		seen[id] = struct{}{}

		active := true
		if entry.Active != nil {
			active = *entry.Active
		}
		templates = append(templates, domain.Template{ID: id, Name: strings.TrimSpace(entry.Name), Active: active})
	}
	return templates, nil
}
