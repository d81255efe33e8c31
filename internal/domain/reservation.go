package domain

import "time"

// ReservationState tracks a provisional debit until the send outcome is known.
type ReservationState string

const (
	ReservationPending   ReservationState = "PENDING"
	ReservationCommitted ReservationState = "COMMITTED"
	ReservationReleased  ReservationState = "RELEASED"
)

func (s ReservationState) String() string { return string(s) }

func (s ReservationState) IsValid() bool {
	switch s {
	case ReservationPending, ReservationCommitted, ReservationReleased:
		return true
	}
	return false
}

func (s ReservationState) IsSettled() bool {
	return s == ReservationCommitted || s == ReservationReleased
}

// Reservation is the token handed out by Reserve. Its debit is already part
// of the transaction log; Release appends the matching refund.
type Reservation struct {
	ID         string
	AccountID  string
	Amount     int64
	State      ReservationState
	DebitTxID  string
	RefundTxID *string
	CreatedAt  time.Time
	SettledAt  *time.Time
}
