package domain

import (
	"fmt"
	"strings"
	"time"
)

// Account is the prepaid credit account of a tenant. Balance is a cached
// projection of the transaction log and is only written by the ledger.
type Account struct {
	ID             string
	Balance        int64
	CostPerMessage int64
	Currency       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (a *Account) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if a.Balance < 0 {
		return fmt.Errorf("%w: balance must not be negative (got %d)", ErrValidation, a.Balance)
	}
	if a.CostPerMessage <= 0 {
		return fmt.Errorf("%w: cost per message must be positive (got %d)", ErrValidation, a.CostPerMessage)
	}
	return nil
}
