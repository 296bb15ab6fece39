package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/course-relay/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, msg RunMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid run message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal run message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.RunID,
		CorrelationId: msg.RunID,
		Priority:      PriorityValue(msg.Trigger),
		Type:          msg.Trigger.String(),
		Body:          payload,
	}

	if err := ch.PublishWithContext(ctx, "", RunQueueName, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish message to queue %q: %w", RunQueueName, err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// RunPublisher turns run requests into queue messages.
type RunPublisher struct {
	publisher Publisher
	newID     func() string
}

func NewRunPublisher(publisher Publisher) (*RunPublisher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	return &RunPublisher{publisher: publisher, newID: uuid.NewString}, nil
}

// Launch enqueues a run of batch and returns the run id.
func (p *RunPublisher) Launch(ctx context.Context, batch domain.Batch, trigger domain.RunTrigger) (string, error) {
	msg := RunMessage{
		RunID:    p.newID(),
		OwnerID:  batch.OwnerID,
		CourseID: batch.CourseID,
		Trigger:  trigger,
	}
	if err := p.publisher.Publish(ctx, msg); err != nil {
		return "", err
	}
	return msg.RunID, nil
}
