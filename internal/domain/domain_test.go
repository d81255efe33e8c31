package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseMessageStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    MessageStatus
		wantErr bool
	}{
		{name: "valid uppercase", input: "DELIVERED", want: MessageDelivered},
		{name: "valid lowercase with spaces", input: " pending ", want: MessagePending},
		{name: "invalid", input: "sent", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseMessageStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseMessageStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseMessageStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseMessageStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMessageStatusIsTerminal(t *testing.T) {
	t.Parallel()

	if MessagePending.IsTerminal() {
		t.Fatal("PENDING must not be terminal")
	}
	if !MessageDelivered.IsTerminal() || !MessageFailed.IsTerminal() {
		t.Fatal("DELIVERED and FAILED must be terminal")
	}
}

func TestTransactionDelta(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind TransactionKind
		want int64
	}{
		{kind: TransactionTopUp, want: 100},
		{kind: TransactionDebit, want: -100},
		{kind: TransactionRefund, want: 100},
	}

	var sum int64
	for _, tt := range tests {
		got := Transaction{Kind: tt.kind, Amount: 100}.Delta()
		if got != tt.want {
			t.Fatalf("%s Delta() = %d, want %d", tt.kind, got, tt.want)
		}
		sum += got
	}
	if sum != 100 {
		t.Fatalf("top-up, debit and refund should net to the top-up, got %d", sum)
	}

	if _, err := ParseTransactionKindFromString("chargeback"); !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseTransactionKindFromString() error = %v, want ErrValidation", err)
	}
	if kind, err := ParseTransactionKindFromString(" top_up "); err != nil || kind != TransactionTopUp {
		t.Fatalf("ParseTransactionKindFromString() = %s, %v", kind, err)
	}
}

func TestReservationStateIsSettled(t *testing.T) {
	t.Parallel()

	if ReservationPending.IsSettled() {
		t.Fatal("PENDING reservation must not be settled")
	}
	if !ReservationCommitted.IsSettled() || !ReservationReleased.IsSettled() {
		t.Fatal("COMMITTED and RELEASED reservations must be settled")
	}
	if ReservationState("VOID").IsValid() {
		t.Fatal("unknown reservation state must be invalid")
	}
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	valid := Message{TemplateID: "welcome", Recipient: "+905551112233", CreditsCost: 10}

	tests := []struct {
		name    string
		mutate  func(m *Message)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Message) {}},
		{name: "missing template", mutate: func(m *Message) { m.TemplateID = " " }, wantErr: true},
		{name: "blank recipient", mutate: func(m *Message) { m.Recipient = "  " }, wantErr: true},
		{name: "recipient too long", mutate: func(m *Message) { m.Recipient = strings.Repeat("9", MaxRecipientLength+1) }, wantErr: true},
		{name: "zero cost", mutate: func(m *Message) { m.CreditsCost = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg := valid
			tt.mutate(&msg)
			err := msg.Validate()
			if tt.wantErr && !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestAccountAndTemplateValidate(t *testing.T) {
	t.Parallel()

	account := Account{ID: "acct", Balance: 0, CostPerMessage: 10}
	if err := account.Validate(); err != nil {
		t.Fatalf("Account.Validate() unexpected error = %v", err)
	}
	account.Balance = -1
	if err := account.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Account.Validate() error = %v, want ErrValidation for negative balance", err)
	}

	template := Template{ID: "welcome"}
	if err := template.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Template.Validate() error = %v, want ErrValidation for missing name", err)
	}
}
