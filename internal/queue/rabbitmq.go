package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dlxExchangeName  = "relay.dlx"
	reconnectBackoff = time.Second
	maxBackoff       = 30 * time.Second
	connectTimeout   = 15 * time.Second
)

// runTopology describes the run queue and its dead-letter side.
type runTopology struct {
	exchange    string
	queue       string
	dlq         string
	routingKey  string
	maxPriority int32
}

var defaultRunTopology = runTopology{
	exchange:    dlxExchangeName,
	queue:       RunQueueName,
	dlq:         RunDLQName,
	routingKey:  runRoutingKey,
	maxPriority: queueMaxPriority,
}

func (t runTopology) queueArgs() amqp.Table {
	return amqp.Table{
		"x-dead-letter-exchange":    t.exchange,
		"x-dead-letter-routing-key": t.routingKey,
		"x-max-priority":            t.maxPriority,
	}
}

func (t runTopology) declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(t.exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", t.exchange, err)
	}
	if _, err := ch.QueueDeclare(t.dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue %q: %w", t.dlq, err)
	}
	if err := ch.QueueBind(t.dlq, t.routingKey, t.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue %q: %w", t.dlq, err)
	}
	if _, err := ch.QueueDeclare(t.queue, true, false, false, false, t.queueArgs()); err != nil {
		return fmt.Errorf("failed to declare run queue %q: %w", t.queue, err)
	}
	return nil
}

// RabbitMQ owns the broker connection shared by the run publisher and consumer. The run
// topology is declared once per connection.
type RabbitMQ struct {
	url      string
	topology runTopology
	logger   *zap.Logger

	mu          sync.RWMutex
	reconnectMu sync.Mutex
	conn        *amqp.Connection
	declared    *amqp.Connection
}

func NewRabbitMQ(url string, logger *zap.Logger) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &RabbitMQ{url: url, topology: defaultRunTopology, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.conn = nil
	r.declared = nil
	r.mu.Unlock()

	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

// channel opens a channel on a live connection, redialing once if the connection went away
// between the liveness check and the open.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	conn, err := r.connection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		r.logger.Warn("run queue channel open failed, redialing", zap.Error(err))
		if conn, err = r.redial(ctx, conn); err != nil {
			return nil, err
		}
		if ch, err = conn.Channel(); err != nil {
			return nil, fmt.Errorf("failed to open rabbitmq channel after redial: %w", err)
		}
	}

	if err := r.ensureTopology(conn, ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

func (r *RabbitMQ) ensureTopology(conn *amqp.Connection, ch *amqp.Channel) error {
	r.mu.RLock()
	done := r.declared == conn
	r.mu.RUnlock()
	if done {
		return nil
	}

	if err := r.topology.declare(ch); err != nil {
		return err
	}

	r.mu.Lock()
	if r.conn == conn {
		r.declared = conn
	}
	r.mu.Unlock()
	return nil
}

func (r *RabbitMQ) current() *amqp.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	return r.conn
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	if conn := r.current(); conn != nil {
		return conn, nil
	}
	return r.redial(ctx, nil)
}

// redial replaces stale with a fresh connection, backing off until ctx is done. Concurrent
// callers share the first successful dial.
func (r *RabbitMQ) redial(ctx context.Context, stale *amqp.Connection) (*amqp.Connection, error) {
	r.reconnectMu.Lock()
	defer r.reconnectMu.Unlock()

	if conn := r.current(); conn != nil && conn != stale {
		return conn, nil
	}

	wait := reconnectBackoff
	for attempt := 1; ; attempt++ {
		conn, err := amqp.Dial(r.url)
		if err == nil {
			r.mu.Lock()
			old := r.conn
			r.conn = conn
			r.declared = nil
			r.mu.Unlock()

			if old != nil && !old.IsClosed() {
				_ = old.Close()
			}
			if attempt > 1 {
				r.logger.Info("run queue broker reachable again", zap.Int("attempts", attempt))
			}
			return conn, nil
		}

		r.logger.Warn("run queue broker unreachable, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq reconnect canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Ping reports whether the broker connection is open.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("rabbitmq is not initialized")
	}
	if r.current() == nil {
		return fmt.Errorf("rabbitmq connection is closed")
	}
	return ctx.Err()
}
