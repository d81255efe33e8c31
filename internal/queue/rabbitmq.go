package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	connectionName = "notification-ledger"
	dialTimeout    = 15 * time.Second
	heartbeat      = 10 * time.Second
	minRedialWait  = time.Second
	maxRedialWait  = 30 * time.Second
)

var errClientClosed = errors.New("rabbitmq client is closed")

// RabbitMQ shares one AMQP connection between the publisher and the consumer
// pool. A dropped connection is redialed lazily by the next caller that needs
// a channel.
type RabbitMQ struct {
	url string

	// mu guards conn and closed and serializes redials.
	mu     sync.Mutex
	conn   *amqp.Connection
	closed bool
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{url: url}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Close shuts the connection down for good; later channel requests fail.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	conn := r.conn
	r.conn = nil
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a channel with the delivery topology declared on it. The
// caller owns the channel and must close it.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	for redialed := false; ; redialed = true {
		conn, err := r.connection(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			// The broker may have dropped the connection since it was handed out.
			if !redialed && conn.IsClosed() {
				continue
			}
			return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
		}

		if err := declareTopology(ch); err != nil {
			_ = ch.Close()
			return nil, err
		}
		return ch, nil
	}
}

// connection returns the live connection, redialing with exponential backoff
// until ctx is done.
func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errClientClosed
	}
	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	wait := minRedialWait
	for {
		conn, err := r.dial()
		if err == nil {
			r.conn = conn
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
		wait = min(wait*2, maxRedialWait)
	}
}

func (r *RabbitMQ) dial() (*amqp.Connection, error) {
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName)

	return amqp.DialConfig(r.url, amqp.Config{
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
	})
}

// declareTopology declares the delivery queue and the dead-letter queue that
// receives jobs rejected by the consumer.
func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchangeName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", dlxExchangeName, err)
	}

	if _, err := ch.QueueDeclare(DeliveryDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", DeliveryDLQ, err)
	}
	if err := ch.QueueBind(DeliveryDLQ, dlqRoutingKey, dlxExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %q: %w", DeliveryDLQ, err)
	}

	_, err := ch.QueueDeclare(DeliveryQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlxExchangeName,
		"x-dead-letter-routing-key": dlqRoutingKey,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %q: %w", DeliveryQueue, err)
	}
	return nil
}
