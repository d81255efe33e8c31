package alert

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
)

// Notifier delivers low-balance alert edges to an external system.
// Implementations must be safe for concurrent use.
type Notifier interface {
	Name() string
	Send(ctx context.Context, event domain.AlertEvent) error
}

// Summary renders a one-line human description of the event.
func Summary(event domain.AlertEvent) string {
	switch event.Kind {
	case domain.AlertLowBalance:
		return fmt.Sprintf("Credit balance for account %s dropped to %d, below the %d credit threshold",
			event.AccountID, event.Balance, event.ThresholdCredits)
	case domain.AlertCleared:
		return fmt.Sprintf("Credit balance for account %s recovered to %d, at or above the %d credit threshold",
			event.AccountID, event.Balance, event.ThresholdCredits)
	default:
		return fmt.Sprintf("Credit balance event %s for account %s: %d credits", event.Kind, event.AccountID, event.Balance)
	}
}
