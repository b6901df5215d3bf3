// infrastructure/amqp_job_publisher.go
package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vitovidale/video-ingest-service/domain"
)

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// amqpChannel is the subset of *amqp.Channel the publisher needs.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	IsClosed() bool
	Close() error
}

type confirmingChannel struct {
	*amqp.Channel
}

func (c confirmingChannel) Publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	return c.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
}

// RabbitMQJobPublisher emulates a partitioned topic with a direct exchange
// and one durable queue per partition. Publisher confirms give at-least-once.
type RabbitMQJobPublisher struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	ch         amqpChannel
	exchange   string
	partitions int
	logger     *slog.Logger
}

var _ domain.MessageQueueService = (*RabbitMQJobPublisher)(nil)

func NewRabbitMQJobPublisher(url, topic string, partitions int, logger *slog.Logger) (*RabbitMQJobPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("rabbitmq url: %w", domain.ErrMissingConfig)
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		if logger != nil {
			logger.Warn("retrying RabbitMQ connection", "attempt", i+1, "error", err)
		}
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	p := newRabbitMQJobPublisher(confirmingChannel{ch}, topic, partitions, logger)
	p.conn = conn
	return p, nil
}

func newRabbitMQJobPublisher(ch amqpChannel, topic string, partitions int, logger *slog.Logger) *RabbitMQJobPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if partitions <= 0 {
		partitions = DefaultPartitions
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RabbitMQJobPublisher{ch: ch, exchange: topic, partitions: partitions, logger: logger}
}

// EnsureTopic declares the exchange and the partition queues.
func (p *RabbitMQJobPublisher) EnsureTopic(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.ExchangeDeclare(p.exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return domain.Wrap(err, "rabbitmq", "EnsureTopic", "declare exchange")
	}
	for i := 0; i < p.partitions; i++ {
		name := partitionName(p.exchange, int32(i))
		if _, err := p.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return domain.Wrap(err, "rabbitmq", "EnsureTopic", "declare queue "+name)
		}
		if err := p.ch.QueueBind(name, strconv.Itoa(i), p.exchange, false, nil); err != nil {
			return domain.Wrap(err, "rabbitmq", "EnsureTopic", "bind queue "+name)
		}
	}
	return nil
}

func (p *RabbitMQJobPublisher) PublishVideoProcessing(ctx context.Context, message domain.VideoProcessingMessage) (*domain.PublishAck, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, domain.WrapKind(domain.ErrEnqueueFailed, err, "rabbitmq", "PublishVideoProcessing", "marshal")
	}
	partition := PartitionFor(message.VideoID, p.partitions)

	p.mu.Lock()
	if p.ch.IsClosed() {
		p.mu.Unlock()
		return nil, domain.WrapKind(domain.ErrUpstreamUnavailable, amqp.ErrClosed, "rabbitmq", "PublishVideoProcessing", "publish")
	}
	conf, err := p.ch.Publish(ctx, p.exchange, strconv.Itoa(int(partition)), amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    message.VideoID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	p.mu.Unlock()
	if err != nil {
		return nil, domain.Upstream(err, domain.ErrUpstreamUnavailable, "rabbitmq", "PublishVideoProcessing", "publish")
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return nil, domain.WrapKind(domain.ErrUpstreamUnavailable, err, "rabbitmq", "PublishVideoProcessing", "await confirm")
	}
	if !acked {
		return nil, domain.WrapKind(domain.ErrEnqueueFailed, fmt.Errorf("broker nacked message for %s", message.VideoID),
			"rabbitmq", "PublishVideoProcessing", "await confirm")
	}

	return &domain.PublishAck{Topic: p.exchange, Partition: partition}, nil
}

func (p *RabbitMQJobPublisher) Ping(context.Context) error {
	if p.conn != nil && p.conn.IsClosed() {
		return amqp.ErrClosed
	}
	if p.ch.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}

func (p *RabbitMQJobPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil && err != amqp.ErrClosed {
		p.logger.Warn("failed to close RabbitMQ channel", "error", err)
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
