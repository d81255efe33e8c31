package alert

import (
	"context"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"go.uber.org/zap"
)

// LogNotifier writes alert edges to the structured log. It is always wired so
// an alert is never silently dropped.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Send(_ context.Context, event domain.AlertEvent) error {
	fields := []zap.Field{
		zap.String("event", event.Kind.String()),
		zap.String("accountId", event.AccountID),
		zap.Int64("balance", event.Balance),
		zap.Int64("thresholdCredits", event.ThresholdCredits),
	}

	if event.Kind == domain.AlertLowBalance {
		n.logger.Warn(Summary(event), fields...)
		return nil
	}
	n.logger.Info(Summary(event), fields...)
	return nil
}
