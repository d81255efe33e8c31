package domain

import (
	"fmt"
	"strings"
	"time"
)

// TransactionKind is the business reason of a ledger entry.
type TransactionKind string

const (
	TransactionTopUp  TransactionKind = "TOP_UP"
	TransactionDebit  TransactionKind = "DEBIT"
	TransactionRefund TransactionKind = "REFUND"
)

func (k TransactionKind) String() string { return string(k) }

func (k TransactionKind) IsValid() bool {
	switch k {
	case TransactionTopUp, TransactionDebit, TransactionRefund:
		return true
	}
	return false
}

func ParseTransactionKindFromString(s string) (TransactionKind, error) {
	kind := TransactionKind(strings.ToUpper(strings.TrimSpace(s)))
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: invalid transaction kind %q", ErrValidation, s)
	}
	return kind, nil
}

// Sign returns +1 for entries that add credits and -1 for entries that remove them.
func (k TransactionKind) Sign() int64 {
	if k == TransactionDebit {
		return -1
	}
	return 1
}

// Transaction is an immutable ledger entry. BalanceAfter is the account
// balance right after this entry was applied.
type Transaction struct {
	ID             string
	AccountID      string
	Kind           TransactionKind
	Amount         int64
	BalanceAfter   int64
	ReservationID  *string
	IdempotencyKey *string
	CreatedAt      time.Time
}

// Delta is the signed effect of the transaction on the balance.
func (t Transaction) Delta() int64 {
	return t.Kind.Sign() * t.Amount
}
