package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/notification-ledger/internal/observability"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const defaultAuditSchedule = "0 3 * * *"

// Auditor replays the ledger on a cron schedule and reports drift between
// the cached balance and the transaction log.
type Auditor struct {
	ledger   *CreditLedger
	schedule string
	metrics  *observability.Metrics
	logger   *zap.Logger
}

func NewAuditor(ledger *CreditLedger, schedule string, logger *zap.Logger) (*Auditor, error) {
	if ledger == nil {
		return nil, fmt.Errorf("credit ledger is required")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = defaultAuditSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid audit schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Auditor{
		ledger:   ledger,
		schedule: schedule,
		logger:   logger,
	}, nil
}

func (a *Auditor) SetMetrics(metrics *observability.Metrics) {
	a.metrics = metrics
}

// Start runs the audit job until ctx is cancelled, then waits for a running
// audit to finish.
func (a *Auditor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c := cron.New(cron.WithLogger(cronLogger{logger: a.logger.Sugar()}))
	if _, err := c.AddFunc(a.schedule, func() {
		if _, err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("ledger audit failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule ledger audit: %w", err)
	}

	c.Start()
	a.logger.Info("ledger audit scheduled", zap.String("schedule", a.schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (a *Auditor) RunOnce(ctx context.Context) (*AuditReport, error) {
	report, err := a.ledger.Audit(ctx)
	if err != nil {
		return nil, err
	}
	a.metrics.SetAuditDrift(report.Drift)

	fields := []zap.Field{
		zap.String("accountId", report.AccountID),
		zap.Int64("cachedBalance", report.CachedBalance),
		zap.Int64("replayedBalance", report.ReplayedBalance),
		zap.Int64("drift", report.Drift),
		zap.Int64("transactions", report.TransactionCount),
		zap.Int("pendingReservations", report.PendingReservations),
	}
	if !report.Consistent {
		a.logger.Error("ledger audit found drift", fields...)
	} else {
		a.logger.Info("ledger audit passed", fields...)
	}
	return report, nil
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
