package queue

import (
	"context"

	"github.com/kursadbilgin/course-relay/internal/domain"
)

// Publisher publishes run requests to the run queue.
type Publisher interface {
	Publish(ctx context.Context, msg RunMessage) error
	Close() error
}

// MessageHandler handles a consumed run request. A nil return acks the delivery.
type MessageHandler func(ctx context.Context, msg RunMessage) error

// Consumer consumes run requests from the run queue.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
	Close() error
}

const (
	// RunQueueName is the durable work queue carrying RunMessage payloads.
	RunQueueName = "batch.runs"
	// RunDLQName receives rejected run requests.
	RunDLQName = "dlq." + RunQueueName

	runRoutingKey = RunQueueName

	// queueMaxPriority is the RabbitMQ x-max-priority value for the run queue.
	queueMaxPriority int32 = 3
)

// PriorityValue maps a run trigger to a RabbitMQ message priority. Operator requests jump
// ahead of background work.
func PriorityValue(trigger domain.RunTrigger) uint8 {
	switch trigger {
	case domain.TriggerManual:
		return 3
	case domain.TriggerOnboarding:
		return 2
	case domain.TriggerSchedule, domain.TriggerRecovery:
		return 1
	default:
		return 0
	}
}
