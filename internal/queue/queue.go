package queue

import "context"

// Publisher publishes delivery jobs to a queue.
type Publisher interface {
	Publish(ctx context.Context, job DeliveryJob) error
	Close() error
}

// JobHandler handles a consumed delivery job. A returned error means the job
// should be tried again.
type JobHandler func(ctx context.Context, job DeliveryJob) error

// Consumer consumes delivery jobs.
type Consumer interface {
	Consume(ctx context.Context, handler JobHandler) error
	Close() error
}

const (
	// DeliveryQueue holds messages that are reserved and waiting for the gateway.
	DeliveryQueue = "ledger.deliveries"
	// DeliveryDLQ receives jobs that failed twice or could not be decoded.
	DeliveryDLQ = "dlq.ledger.deliveries"

	dlxExchangeName = "ledger.dlx"
	dlqRoutingKey   = "deliveries"
)
