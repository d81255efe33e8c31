package domain

import (
	"fmt"
	"strings"
	"time"
)

// MessageStatus represents the delivery state of a message.
type MessageStatus string

const (
	MessagePending   MessageStatus = "PENDING"
	MessageDelivered MessageStatus = "DELIVERED"
	MessageFailed    MessageStatus = "FAILED"
)

func (s MessageStatus) String() string { return string(s) }

func (s MessageStatus) IsValid() bool {
	switch s {
	case MessagePending, MessageDelivered, MessageFailed:
		return true
	}
	return false
}

func (s MessageStatus) IsTerminal() bool {
	return s == MessageDelivered || s == MessageFailed
}

func ParseMessageStatusFromString(s string) (MessageStatus, error) {
	st := MessageStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid message status %q", ErrValidation, s)
	}
	return st, nil
}

// MaxRecipientLength bounds the recipient column.
const MaxRecipientLength = 255

// Message is a single notification send paid for by one reservation.
type Message struct {
	ID               string
	TemplateID       string
	Recipient        string
	CreditsCost      int64
	Status           MessageStatus
	ReservationID    string
	GatewayMessageID *string
	FailureReason    *string
	Attempts         int
	SentAt           time.Time
	ResolvedAt       *time.Time
}

func (m *Message) Validate() error {
	if strings.TrimSpace(m.TemplateID) == "" {
		return fmt.Errorf("%w: template id is required", ErrValidation)
	}
	recipient := strings.TrimSpace(m.Recipient)
	if recipient == "" {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if len([]rune(recipient)) > MaxRecipientLength {
		return fmt.Errorf("%w: recipient exceeds %d characters", ErrValidation, MaxRecipientLength)
	}
	if m.CreditsCost <= 0 {
		return fmt.Errorf("%w: credits cost must be positive", ErrValidation)
	}
	return nil
}
