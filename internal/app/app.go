package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-ledger/internal/alert"
	"github.com/kursadbilgin/notification-ledger/internal/config"
	"github.com/kursadbilgin/notification-ledger/internal/gateway"
	"github.com/kursadbilgin/notification-ledger/internal/infra"
	"github.com/kursadbilgin/notification-ledger/internal/infra/migrations"
	infraredis "github.com/kursadbilgin/notification-ledger/internal/infra/redis"
	"github.com/kursadbilgin/notification-ledger/internal/observability"
	"github.com/kursadbilgin/notification-ledger/internal/queue"
	"github.com/kursadbilgin/notification-ledger/internal/repository"
	"github.com/kursadbilgin/notification-ledger/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options selects the optional parts of the stack a binary needs.
type Options struct {
	Metrics *observability.Metrics
	// Queue connects RabbitMQ when RABBITMQ_URL is set.
	Queue bool
}

// Stack is the fully wired ledger and dispatch graph shared by the binaries.
type Stack struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	DB     *gorm.DB
	SQLDB  *sql.DB
	Redis  *redis.Client
	Rabbit *queue.RabbitMQ

	Messages   repository.MessageRepository
	Ledger     *service.CreditLedger
	Templates  *service.TemplateRegistry
	Alerts     *service.AlertEvaluator
	Dispatcher *service.MessageDispatcher
	Service    *service.NotificationService
}

// Build opens the stores, migrates, seeds templates and opens the account.
// The alert evaluator is synced with the stored balance before it starts
// observing ledger mutations.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (_ *Stack, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Stack{Config: cfg, Logger: logger, Metrics: opts.Metrics}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.DB, err = infra.OpenDatabase(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("database initialization failed: %w", err)
	}
	if s.SQLDB, err = s.DB.DB(); err != nil {
		return nil, fmt.Errorf("underlying db init failed: %w", err)
	}
	if err = migrations.Migrate(s.DB); err != nil {
		return nil, fmt.Errorf("database migrations failed: %w", err)
	}

	if s.Redis, err = infraredis.NewRedis(cfg.RedisURL); err != nil {
		return nil, fmt.Errorf("redis initialization failed: %w", err)
	}
	if opts.Queue && cfg.QueueEnabled() {
		if s.Rabbit, err = queue.NewRabbitMQ(cfg.RabbitMQURL); err != nil {
			return nil, fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
	}

	s.Messages = repository.NewGormMessageRepo(s.DB)

	if s.Ledger, err = service.NewCreditLedger(repository.NewGormLedgerRepo(s.DB), cfg.AccountID, logger); err != nil {
		return nil, err
	}
	s.Ledger.SetMetrics(s.Metrics)

	if s.Templates, err = service.NewTemplateRegistry(repository.NewGormTemplateRepo(s.DB), logger); err != nil {
		return nil, err
	}
	if cfg.TemplatesFile != "" {
		templates, loadErr := service.LoadTemplatesFile(cfg.TemplatesFile)
		if loadErr != nil {
			return nil, loadErr
		}
		if err = s.Templates.Seed(ctx, templates); err != nil {
			return nil, err
		}
	}

	notifiers, err := buildNotifiers(cfg, logger)
	if err != nil {
		return nil, err
	}
	s.Alerts, err = service.NewAlertEvaluator(cfg.AccountID, cfg.LowBalanceThreshold, notifiers, logger)
	if err != nil {
		return nil, err
	}
	s.Alerts.SetMetrics(s.Metrics)

	if err = s.openAccount(ctx); err != nil {
		return nil, err
	}

	gw, err := buildGateway(cfg)
	if err != nil {
		return nil, err
	}
	s.Dispatcher, err = service.NewMessageDispatcher(s.Ledger, s.Templates, s.Messages, gw, logger)
	if err != nil {
		return nil, err
	}
	limiter, err := infraredis.NewRedisRateLimiter(s.Redis, cfg.RateLimitPerSec)
	if err != nil {
		return nil, fmt.Errorf("rate limiter initialization failed: %w", err)
	}
	s.Dispatcher.SetLimiter(limiter)
	s.Dispatcher.SetMetrics(s.Metrics)
	s.Dispatcher.SetAttemptTimeout(cfg.GatewayTimeout)
	if s.Rabbit != nil {
		s.Dispatcher.SetPublisher(queue.NewRabbitMQPublisher(s.Rabbit))
	}

	s.Service, err = service.NewNotificationService(s.Ledger, s.Templates, s.Dispatcher, s.Alerts, s.Messages, logger)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Stack) openAccount(ctx context.Context) error {
	account, err := s.Ledger.Open(ctx, service.AccountSettings{
		CostPerMessage: s.Config.CostPerMessage,
		Currency:       s.Config.Currency,
		InitialBalance: s.Config.InitialBalance,
	})
	if err != nil {
		return fmt.Errorf("failed to open account: %w", err)
	}

	s.Ledger.SetObserver(s.Alerts)
	if err := s.Ledger.CheckAlerts(ctx); err != nil {
		return err
	}

	s.Logger.Info("account opened",
		zap.String("accountId", account.ID),
		zap.Int64("balance", account.Balance),
		zap.Bool("belowThreshold", s.Alerts.BelowThreshold(account.Balance)),
	)
	return nil
}

// NewReconciler builds the stale message sweeper from config.
func (s *Stack) NewReconciler() (*service.Reconciler, error) {
	return service.NewReconciler(
		s.Dispatcher,
		s.Ledger,
		s.Messages,
		s.Config.ReconcileInterval,
		s.Config.ReconcileStaleAfter,
		s.Logger,
	)
}

// NewAuditor builds the scheduled ledger audit from config.
func (s *Stack) NewAuditor() (*service.Auditor, error) {
	auditor, err := service.NewAuditor(s.Ledger, s.Config.AuditSchedule, s.Logger)
	if err != nil {
		return nil, err
	}
	auditor.SetMetrics(s.Metrics)
	return auditor, nil
}

func (s *Stack) Close() error {
	var errs []error
	if s.Rabbit != nil {
		errs = append(errs, s.Rabbit.Close())
	}
	if s.Redis != nil {
		errs = append(errs, s.Redis.Close())
	}
	if s.SQLDB != nil {
		errs = append(errs, s.SQLDB.Close())
	}
	return errors.Join(errs...)
}

func buildGateway(cfg *config.Config) (*gateway.WebhookGateway, error) {
	client := resty.New()
	client.SetTimeout(cfg.GatewayTimeout)
	client.SetRetryCount(0)
	return gateway.NewWebhookGatewayWithClient(cfg.GatewayURL, client)
}

func buildNotifiers(cfg *config.Config, logger *zap.Logger) ([]alert.Notifier, error) {
	notifiers := []alert.Notifier{alert.NewLogNotifier(logger)}

	if cfg.AlertWebhookURL != "" {
		webhook, err := alert.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("alert webhook initialization failed: %w", err)
		}
		notifiers = append(notifiers, webhook)
	}

	if cfg.EmailAlertsEnabled() {
		mailer, err := alert.NewEmailNotifier(alert.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.AlertEmailFrom,
			To:       cfg.AlertEmailTo,
		})
		if err != nil {
			return nil, fmt.Errorf("alert email initialization failed: %w", err)
		}
		notifiers = append(notifiers, mailer)
	}

	return notifiers, nil
}
