package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kursadbilgin/notification-ledger/internal/alert"
	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/gateway"
	"github.com/kursadbilgin/notification-ledger/internal/queue"
	"github.com/kursadbilgin/notification-ledger/internal/repository"
	"github.com/kursadbilgin/notification-ledger/internal/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testAccountID = "acct-test"
	testCost      = int64(10)
)

type fakeGateway struct {
	sendFn func(ctx context.Context, req gateway.SendRequest) (*gateway.Receipt, error)
	calls  atomic.Int32
}

func (f *fakeGateway) Send(ctx context.Context, req gateway.SendRequest) (*gateway.Receipt, error) {
	f.calls.Add(1)
	if f.sendFn != nil {
		return f.sendFn(ctx, req)
	}
	return &gateway.Receipt{StatusCode: 202, GatewayMessageID: "gw-" + req.MessageID}, nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, job queue.DeliveryJob) error

	mu   sync.Mutex
	jobs []queue.DeliveryJob
}

func (f *fakePublisher) Publish(ctx context.Context, job queue.DeliveryJob) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, job); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, handler queue.JobHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler queue.JobHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeLimiter struct {
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return f.Wait(ctx, key) == nil, nil
}

func (f *fakeLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeDeliverer struct {
	deliverFn func(ctx context.Context, messageID string) (*domain.Message, error)
}

func (f *fakeDeliverer) Deliver(ctx context.Context, messageID string) (*domain.Message, error) {
	return f.deliverFn(ctx, messageID)
}

type fakeNotifier struct {
	name   string
	sendFn func(ctx context.Context, event domain.AlertEvent) error

	mu     sync.Mutex
	events []domain.AlertEvent
}

func (f *fakeNotifier) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeNotifier) Send(ctx context.Context, event domain.AlertEvent) error {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
	if f.sendFn != nil {
		return f.sendFn(ctx, event)
	}
	return nil
}

func (f *fakeNotifier) Events() []domain.AlertEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AlertEvent(nil), f.events...)
}

// testStack wires the real services over an in-memory database with a fake
// gateway and notifier.
type testStack struct {
	db         *gorm.DB
	ledger     *CreditLedger
	templates  *TemplateRegistry
	alerts     *AlertEvaluator
	dispatcher *MessageDispatcher
	messages   *repository.GormMessageRepo
	service    *NotificationService
	gateway    *fakeGateway
	notifier   *fakeNotifier
}

func newTestStack(t *testing.T, initialBalance, threshold int64) *testStack {
	t.Helper()
	ctx := context.Background()

	db := testutil.NewTestDB(t)
	ledger, alerts, notifier := newAlertingLedger(t, db, initialBalance, threshold)

	templates, err := NewTemplateRegistry(repository.NewGormTemplateRepo(db), nil)
	require.NoError(t, err)
	require.NoError(t, templates.Seed(ctx, []domain.Template{
		{ID: "welcome", Name: "Welcome", Active: true},
		{ID: "promo", Name: "Promo", Active: false},
	}))

	messages := repository.NewGormMessageRepo(db)
	gw := &fakeGateway{}
	dispatcher, err := NewMessageDispatcher(ledger, templates, messages, gw, nil)
	require.NoError(t, err)

	svc, err := NewNotificationService(ledger, templates, dispatcher, alerts, messages, nil)
	require.NoError(t, err)

	return &testStack{
		db:         db,
		ledger:     ledger,
		templates:  templates,
		alerts:     alerts,
		dispatcher: dispatcher,
		messages:   messages,
		service:    svc,
		gateway:    gw,
		notifier:   notifier,
	}
}

// newAlertingLedger opens the test account on db and attaches an alert
// evaluator, the way each binary does at startup. Calling it twice on one db
// mirrors two processes sharing the account.
func newAlertingLedger(t *testing.T, db *gorm.DB, initialBalance, threshold int64) (*CreditLedger, *AlertEvaluator, *fakeNotifier) {
	t.Helper()
	ctx := context.Background()

	ledger, err := NewCreditLedger(repository.NewGormLedgerRepo(db), testAccountID, nil)
	require.NoError(t, err)
	_, err = ledger.Open(ctx, AccountSettings{
		CostPerMessage: testCost,
		Currency:       "credits",
		InitialBalance: initialBalance,
	})
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	alerts, err := NewAlertEvaluator(testAccountID, threshold, []alert.Notifier{notifier}, nil)
	require.NoError(t, err)
	ledger.SetObserver(alerts)
	require.NoError(t, ledger.CheckAlerts(ctx))

	return ledger, alerts, notifier
}

// memoryAlertStates stands in for the ledger transaction in evaluator tests.
type memoryAlertStates struct {
	state   *domain.AlertState
	saveErr error
	saves   int
}

func (m *memoryAlertStates) GetAlertState() (*domain.AlertState, error) {
	if m.state == nil {
		return nil, domain.ErrNotFound
	}
	copied := *m.state
	return &copied, nil
}

func (m *memoryAlertStates) SaveAlertState(state *domain.AlertState) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	copied := *state
	m.state = &copied
	m.saves++
	return nil
}

func (s *testStack) balance(t *testing.T) int64 {
	t.Helper()
	account, err := s.ledger.GetBalance(context.Background())
	require.NoError(t, err)
	return account.Balance
}
