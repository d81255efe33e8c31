package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/observability"
	"github.com/kursadbilgin/notification-ledger/internal/queue"
	"go.uber.org/zap"
)

func TestNewWorkerServiceValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewWorkerService(nil, &fakeDeliverer{}, 1, nil); err == nil {
		t.Fatal("expected error when consumer is nil")
	}
	if _, err := NewWorkerService(&fakeConsumer{}, nil, 1, nil); err == nil {
		t.Fatal("expected error when deliverer is nil")
	}

	worker, err := NewWorkerService(&fakeConsumer{}, &fakeDeliverer{}, 0, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	if worker.concurrency != minWorkerConcurrency {
		t.Fatalf("concurrency = %d, want %d", worker.concurrency, minWorkerConcurrency)
	}
}

func TestWorkerServiceProcessJobPropagatesRequestID(t *testing.T) {
	t.Parallel()

	deliverer := &fakeDeliverer{deliverFn: func(ctx context.Context, messageID string) (*domain.Message, error) {
		if messageID != "m-1" {
			t.Fatalf("message id = %q, want m-1", messageID)
		}
		if id, ok := observability.RequestIDFromContext(ctx); !ok || id != "req-9" {
			t.Fatalf("request id = %q ok=%v, want req-9", id, ok)
		}
		return &domain.Message{ID: messageID, Status: domain.MessageDelivered}, nil
	}}

	worker, err := NewWorkerService(&fakeConsumer{}, deliverer, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	if err := worker.processJob(context.Background(), queue.DeliveryJob{MessageID: "m-1", RequestID: "req-9"}); err != nil {
		t.Fatalf("processJob() error = %v", err)
	}
}

func TestWorkerServiceProcessJobErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{name: "missing message is acked", err: domain.ErrNotFound, wantErr: false},
		{name: "storage failure is retried", err: errors.New("database is locked"), wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			deliverer := &fakeDeliverer{deliverFn: func(context.Context, string) (*domain.Message, error) {
				return nil, tc.err
			}}
			worker, err := NewWorkerService(&fakeConsumer{}, deliverer, 1, nil)
			if err != nil {
				t.Fatalf("NewWorkerService() error = %v", err)
			}

			err = worker.processJob(context.Background(), queue.DeliveryJob{MessageID: "m-1"})
			if (err != nil) != tc.wantErr {
				t.Fatalf("processJob() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestWorkerServiceStartRunsConcurrentConsumers(t *testing.T) {
	t.Parallel()

	var consumers atomic.Int32
	var delivered atomic.Int32

	consumer := &fakeConsumer{consumeFn: func(ctx context.Context, handler queue.JobHandler) error {
		consumers.Add(1)
		return handler(ctx, queue.DeliveryJob{MessageID: "m"})
	}}
	deliverer := &fakeDeliverer{deliverFn: func(ctx context.Context, messageID string) (*domain.Message, error) {
		delivered.Add(1)
		return &domain.Message{ID: messageID, Status: domain.MessageDelivered}, nil
	}}

	worker, err := NewWorkerService(consumer, deliverer, 3, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}
	if err := worker.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := consumers.Load(); got != 3 {
		t.Fatalf("consumers = %d, want 3", got)
	}
	if got := delivered.Load(); got != 3 {
		t.Fatalf("delivered = %d, want 3", got)
	}
}

func TestWorkerServiceStartReturnsConsumerError(t *testing.T) {
	t.Parallel()

	consumer := &fakeConsumer{consumeFn: func(ctx context.Context, handler queue.JobHandler) error {
		return errors.New("consumer is not initialized")
	}}
	worker, err := NewWorkerService(consumer, &fakeDeliverer{}, 2, nil)
	if err != nil {
		t.Fatalf("NewWorkerService() error = %v", err)
	}

	if err := worker.Start(context.Background()); err == nil {
		t.Fatal("Start() expected error from consumer")
	}
}
