package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// settlement is what the consumer tells the broker about a delivery.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

var errDeliveriesClosed = errors.New("delivery channel closed")

type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is done. A lost channel is reopened with backoff.
func (c *RabbitMQConsumer) Consume(ctx context.Context, handler JobHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("job handler is required")
	}

	wait := minRedialWait
	for ctx.Err() == nil {
		started := time.Now()
		err := c.consumeOnce(ctx, handler)
		if ctx.Err() != nil {
			break
		}
		if errors.Is(err, errClientClosed) {
			return err
		}
		// A session that ran for a while earns a fresh backoff.
		if time.Since(started) > maxRedialWait {
			wait = minRedialWait
		}

		c.logger.Warn("delivery consumer disconnected", zap.Error(err), zap.Duration("retryIn", wait))
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
		wait = min(wait*2, maxRedialWait)
	}
	return nil
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, handler JobHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	deliveries, err := ch.Consume(DeliveryQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", DeliveryQueue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr != nil {
				return amqpErr
			}
			return errDeliveriesClosed
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			if err := settle(d, c.handle(ctx, d, handler)); err != nil {
				return err
			}
		}
	}
}

// handle decodes and runs one job. Malformed jobs are dead-lettered at once.
// A failed job is requeued once and dead-lettered on its second failure.
func (c *RabbitMQConsumer) handle(ctx context.Context, d amqp.Delivery, handler JobHandler) settlement {
	var job DeliveryJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		c.logger.Warn("dead-lettering delivery job: invalid JSON", zap.Error(err))
		return settleDeadLetter
	}
	if err := job.Validate(); err != nil {
		c.logger.Warn("dead-lettering delivery job: validation failed", zap.Error(err))
		return settleDeadLetter
	}

	if err := handler(ctx, job); err != nil {
		outcome := settleRequeue
		if d.Redelivered {
			outcome = settleDeadLetter
		}
		c.logger.Warn("delivery job failed",
			zap.Error(err),
			zap.String("messageId", job.MessageID),
			zap.Bool("requeue", outcome == settleRequeue),
		)
		return outcome
	}
	return settleAck
}

func settle(d amqp.Delivery, outcome settlement) error {
	var err error
	switch outcome {
	case settleAck:
		err = d.Ack(false)
	case settleRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to settle delivery: %w", err)
	}
	return nil
}

// Close closes the shared client.
func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
