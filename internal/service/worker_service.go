package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/notification-ledger/internal/domain"
	"github.com/kursadbilgin/notification-ledger/internal/observability"
	"github.com/kursadbilgin/notification-ledger/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// Deliverer runs the gateway call for a queued message.
type Deliverer interface {
	Deliver(ctx context.Context, messageID string) (*domain.Message, error)
}

type WorkerService struct {
	consumer    queue.Consumer
	deliverer   Deliverer
	logger      *zap.Logger
	concurrency int
}

func NewWorkerService(
	consumer queue.Consumer,
	deliverer Deliverer,
	concurrency int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		deliverer:   deliverer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes delivery jobs until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started", zap.Int("workerId", workerID))

			if err := s.consumer.Consume(groupCtx, s.processJob); err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processJob(ctx context.Context, job queue.DeliveryJob) error {
	if job.RequestID != "" {
		ctx = observability.WithRequestID(ctx, job.RequestID)
	}
	logger := observability.LoggerFromContext(ctx, s.logger)

	msg, err := s.deliverer.Deliver(ctx, job.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("message not found for delivery job, skipping",
				zap.String("messageId", job.MessageID),
			)
			return nil
		}
		return fmt.Errorf("failed to deliver message %s: %w", job.MessageID, err)
	}

	logger.Debug("delivery job processed",
		zap.String("messageId", msg.ID),
		zap.String("status", msg.Status.String()),
	)
	return nil
}
