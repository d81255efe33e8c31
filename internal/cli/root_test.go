package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdmin struct {
	balance      int64
	topUps       map[string]*domain.Transaction
	templates    map[string]*domain.Template
	messages     []domain.Message
	counts       map[domain.MessageStatus]int64
	report       *service.AuditReport
	listedLimits []int
}

func newStubAdmin() *stubAdmin {
	return &stubAdmin{
		balance: 40,
		topUps:  map[string]*domain.Transaction{},
		templates: map[string]*domain.Template{
			"welcome": {ID: "welcome", Name: "Welcome", Active: true},
		},
		counts: map[domain.MessageStatus]int64{domain.MessageDelivered: 3, domain.MessageFailed: 1},
		report: &service.AuditReport{CachedBalance: 40, ReplayedBalance: 40, TransactionCount: 5, Consistent: true},
	}
}

func (s *stubAdmin) GetBalance(context.Context) (*service.BalanceView, error) {
	return &service.BalanceView{
		AccountID:        "acct",
		Balance:          s.balance,
		CostPerMessage:   10,
		Currency:         "credits",
		ThresholdCredits: 50,
		BelowThreshold:   s.balance < 50,
	}, nil
}

func (s *stubAdmin) TopUp(_ context.Context, amount int64, key string) (*service.TopUpResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: top-up amount %d", domain.ErrInvalidAmount, amount)
	}
	if txn, ok := s.topUps[key]; ok && key != "" {
		return &service.TopUpResult{Transaction: txn, Replayed: true}, nil
	}
	s.balance += amount
	txn := &domain.Transaction{ID: fmt.Sprintf("tx-%d", len(s.topUps)+1), Kind: domain.TransactionTopUp, Amount: amount, BalanceAfter: s.balance}
	s.topUps[key] = txn
	return &service.TopUpResult{Transaction: txn}, nil
}

func (s *stubAdmin) Audit(context.Context) (*service.AuditReport, error) {
	return s.report, nil
}

func (s *stubAdmin) ListTemplates(context.Context) ([]domain.Template, error) {
	result := make([]domain.Template, 0, len(s.templates))
	for _, t := range s.templates {
		result = append(result, *t)
	}
	return result, nil
}

func (s *stubAdmin) ToggleTemplate(_ context.Context, id string) (*domain.Template, error) {
	t, ok := s.templates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t.Active = !t.Active
	return t, nil
}

func (s *stubAdmin) SetTemplateActive(_ context.Context, id string, active bool) (*domain.Template, error) {
	t, ok := s.templates[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t.Active = active
	return t, nil
}

func (s *stubAdmin) ListRecentMessages(_ context.Context, limit int) ([]domain.Message, error) {
	s.listedLimits = append(s.listedLimits, limit)
	return s.messages, nil
}

func (s *stubAdmin) MessageCounts(context.Context) (map[domain.MessageStatus]int64, error) {
	return s.counts, nil
}

func (s *stubAdmin) ListTransactions(context.Context, int) ([]domain.Transaction, error) {
	return nil, nil
}

func runCommand(t *testing.T, admin *stubAdmin, args ...string) (string, error) {
	t.Helper()

	closed := 0
	open := func(context.Context) (Admin, func() error, error) {
		return admin, func() error {
			closed++
			return nil
		}, nil
	}

	root := NewRootCommand(open)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	if closed > 1 {
		t.Fatalf("close called %d times", closed)
	}
	return out.String(), err
}

func TestBalanceCommand(t *testing.T) {
	t.Parallel()

	out, err := runCommand(t, newStubAdmin(), "balance")
	require.NoError(t, err)
	assert.Contains(t, out, "Balance:          40 credits")
	assert.Contains(t, out, "LOW BALANCE")
}

func TestTopUpCommand(t *testing.T) {
	t.Parallel()

	admin := newStubAdmin()

	out, err := runCommand(t, admin, "topup", "100", "--key", "invoice-7")
	require.NoError(t, err)
	assert.Contains(t, out, "Credited 100, balance now 140")

	out, err = runCommand(t, admin, "topup", "100", "-k", "invoice-7")
	require.NoError(t, err)
	assert.Contains(t, out, "already applied")
	assert.Equal(t, int64(140), admin.balance)

	_, err = runCommand(t, admin, "topup", "ten")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = runCommand(t, admin, "topup", "0")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestAuditCommand(t *testing.T) {
	t.Parallel()

	admin := newStubAdmin()
	out, err := runCommand(t, admin, "audit")
	require.NoError(t, err)
	assert.Contains(t, out, "Ledger consistent")

	admin.report = &service.AuditReport{CachedBalance: 40, ReplayedBalance: 30, Drift: 10}
	_, err = runCommand(t, admin, "audit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drift of 10")
}

func TestTemplateCommands(t *testing.T) {
	t.Parallel()

	admin := newStubAdmin()

	out, err := runCommand(t, admin, "templates", "toggle", "welcome")
	require.NoError(t, err)
	assert.Contains(t, out, "Template welcome is now disabled")

	out, err = runCommand(t, admin, "templates", "enable", "welcome")
	require.NoError(t, err)
	assert.Contains(t, out, "now enabled")

	out, err = runCommand(t, admin, "templates", "disable", "welcome")
	require.NoError(t, err)
	assert.Contains(t, out, "now disabled")

	out, err = runCommand(t, admin, "templates", "list")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "welcome") && strings.Contains(out, "false"), out)

	_, err = runCommand(t, admin, "templates", "toggle", "missing")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestMessagesCommands(t *testing.T) {
	t.Parallel()

	admin := newStubAdmin()
	admin.messages = []domain.Message{{ID: "m-1", TemplateID: "welcome", Recipient: "+1", Status: domain.MessageDelivered, CreditsCost: 10}}

	out, err := runCommand(t, admin, "messages", "list", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "m-1")
	assert.Equal(t, []int{5}, admin.listedLimits)

	out, err = runCommand(t, admin, "messages", "counts")
	require.NoError(t, err)
	assert.Contains(t, out, "DELIVERED  3")
	assert.Contains(t, out, "PENDING    0")
}

func TestOpenerErrorIsReturned(t *testing.T) {
	t.Parallel()

	root := NewRootCommand(func(context.Context) (Admin, func() error, error) {
		return nil, nil, errors.New("database unreachable")
	})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"balance"})

	err := root.Execute()
	require.EqualError(t, err, "database unreachable")
}
