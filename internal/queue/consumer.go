package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// settlement is what the consumer does with one delivery.
type settlement int

const (
	settleAck settlement = iota
	settleRequeue
	settleDeadLetter
)

func (s settlement) String() string {
	switch s {
	case settleAck:
		return "ack"
	case settleRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// RabbitMQConsumer reads run requests from the run queue. At most prefetch requests are
// unacknowledged at a time.
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

// Consume hands every valid run request to handler until ctx is done, resubscribing with
// backoff whenever the broker drops the subscription.
func (c *RabbitMQConsumer) Consume(ctx context.Context, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for {
		err := c.subscribe(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("run queue subscription lost, resubscribing",
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set run queue prefetch: %w", err)
	}

	deliveries, err := ch.Consume(RunQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to subscribe to run queue %q: %w", RunQueueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("run queue delivery channel closed")
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	outcome := c.process(ctx, d, handler)

	var err error
	switch outcome {
	case settleAck:
		err = d.Ack(false)
	case settleRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s run request: %w", outcome, err)
	}
	return nil
}

// process decides the settlement of d. Undecodable or invalid requests are dead-lettered.
// A request whose handler fails is requeued once; a redelivered request that fails again
// is dead-lettered instead of cycling.
func (c *RabbitMQConsumer) process(ctx context.Context, d amqp.Delivery, handler MessageHandler) settlement {
	var msg RunMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("run request dropped: undecodable payload",
			zap.String("messageId", d.MessageId),
			zap.Error(err),
		)
		return settleDeadLetter
	}

	logger := c.logger.With(
		zap.String("runId", msg.RunID),
		zap.String("ownerId", msg.OwnerID),
		zap.String("courseId", msg.CourseID),
	)

	if err := msg.Validate(); err != nil {
		logger.Warn("run request dropped: invalid payload", zap.Error(err))
		return settleDeadLetter
	}

	if err := handler(ctx, msg); err != nil {
		if d.Redelivered && ctx.Err() == nil {
			logger.Error("run request failed again, dead-lettering", zap.Error(err))
			return settleDeadLetter
		}
		logger.Warn("run request failed, requeueing", zap.Error(err))
		return settleRequeue
	}
	return settleAck
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
