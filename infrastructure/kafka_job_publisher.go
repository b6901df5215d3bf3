// infrastructure/kafka_job_publisher.go
package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"

	"github.com/vitovidale/video-ingest-service/domain"
)

type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

type kafkaAdmin interface {
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
	GetMetadata(topic *string, allTopics bool, timeoutMs int) (*kafka.Metadata, error)
	Close()
}

type KafkaOptions struct {
	Brokers           string
	ClientID          string
	Topic             string
	Partitions        int
	ReplicationFactor int
	// DeliveryTimeout bounds librdkafka's own retries for one message.
	DeliveryTimeout time.Duration
}

// KafkaJobPublisher produces jobs keyed by video id and waits for the
// delivery report, so success means the broker has the message (acks=all).
type KafkaJobPublisher struct {
	producer kafkaProducer
	admin    kafkaAdmin
	opts     KafkaOptions
	logger   *slog.Logger
}

var _ domain.MessageQueueService = (*KafkaJobPublisher)(nil)

func NewKafkaJobPublisher(opts KafkaOptions, logger *slog.Logger) (*KafkaJobPublisher, error) {
	opts = opts.withDefaults()
	if opts.Brokers == "" {
		return nil, fmt.Errorf("kafka brokers: %w", domain.ErrMissingConfig)
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  opts.Brokers,
		"client.id":          opts.ClientID,
		"acks":               "all",
		"enable.idempotence": true,
		// Same key, same partition as the Java client.
		"partitioner":        "murmur2_random",
		"message.timeout.ms": int(opts.DeliveryTimeout / time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	admin, err := kafka.NewAdminClientFromProducer(producer)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to create Kafka admin client: %w", err)
	}

	return newKafkaJobPublisher(producer, admin, opts, logger), nil
}

func newKafkaJobPublisher(producer kafkaProducer, admin kafkaAdmin, opts KafkaOptions, logger *slog.Logger) *KafkaJobPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaJobPublisher{producer: producer, admin: admin, opts: opts.withDefaults(), logger: logger}
}

func (o KafkaOptions) withDefaults() KafkaOptions {
	if o.ClientID == "" {
		o.ClientID = "video-uploader"
	}
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if o.Partitions <= 0 {
		o.Partitions = DefaultPartitions
	}
	if o.ReplicationFactor <= 0 {
		o.ReplicationFactor = 1
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = 30 * time.Second
	}
	return o
}

// EnsureTopic creates the processing topic. An existing topic is fine.
func (p *KafkaJobPublisher) EnsureTopic(ctx context.Context) error {
	results, err := p.admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             p.opts.Topic,
		NumPartitions:     p.opts.Partitions,
		ReplicationFactor: p.opts.ReplicationFactor,
	}}, kafka.SetAdminOperationTimeout(10*time.Second))
	if err != nil {
		return domain.Upstream(err, domain.ErrUpstreamUnavailable, "kafka", "EnsureTopic", "create topic")
	}
	for _, r := range results {
		switch r.Error.Code() {
		case kafka.ErrNoError:
			p.logger.Info("kafka topic created", "topic", r.Topic, "partitions", p.opts.Partitions)
		case kafka.ErrTopicAlreadyExists:
			p.logger.Debug("kafka topic already exists", "topic", r.Topic)
		default:
			return domain.Wrap(r.Error, "kafka", "EnsureTopic", "create topic "+r.Topic)
		}
	}
	return nil
}

func (p *KafkaJobPublisher) PublishVideoProcessing(ctx context.Context, message domain.VideoProcessingMessage) (*domain.PublishAck, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, domain.WrapKind(domain.ErrEnqueueFailed, err, "kafka", "PublishVideoProcessing", "marshal")
	}

	topic := p.opts.Topic
	deliveryChan := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(message.VideoID),
		Value:          body,
		Headers:        []kafka.Header{{Key: "content-type", Value: []byte("application/json")}},
	}, deliveryChan)
	if err != nil {
		return nil, classifyKafkaError(err, "produce")
	}

	select {
	case <-ctx.Done():
		return nil, domain.WrapKind(domain.ErrUpstreamUnavailable, ctx.Err(), "kafka", "PublishVideoProcessing", "await delivery")
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return nil, domain.WrapKind(domain.ErrEnqueueFailed, fmt.Errorf("unexpected event %v", e), "kafka", "PublishVideoProcessing", "await delivery")
		}
		if m.TopicPartition.Error != nil {
			return nil, classifyKafkaError(m.TopicPartition.Error, "delivery")
		}
		return &domain.PublishAck{
			Topic:     topic,
			Partition: m.TopicPartition.Partition,
			Offset:    strconv.FormatInt(int64(m.TopicPartition.Offset), 10),
		}, nil
	}
}

// classifyKafkaError separates broker unreachability from a rejected publish.
func classifyKafkaError(err error, action string) error {
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch kerr.Code() {
		case kafka.ErrTransport, kafka.ErrAllBrokersDown, kafka.ErrMsgTimedOut,
			kafka.ErrTimedOut, kafka.ErrQueueFull:
			return domain.WrapKind(domain.ErrUpstreamUnavailable, err, "kafka", "PublishVideoProcessing", action)
		}
	}
	return domain.WrapKind(domain.ErrEnqueueFailed, err, "kafka", "PublishVideoProcessing", action)
}

// minPingTimeout is the floor for GetMetadata's timeout. librdkafka treats a
// negative value as infinite.
const minPingTimeout = 100 * time.Millisecond

func (p *KafkaJobPublisher) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return domain.Upstream(err, domain.ErrUpstreamUnavailable, "kafka", "Ping", "metadata")
	}
	timeout := 2 * time.Second
	if d, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(d), minPingTimeout)
	}
	topic := p.opts.Topic
	_, err := p.admin.GetMetadata(&topic, false, int(timeout/time.Millisecond))
	return err
}

// Close flushes outstanding messages before closing the producer.
func (p *KafkaJobPublisher) Close() error {
	if left := p.producer.Flush(5000); left > 0 {
		p.logger.Warn("kafka producer closed with undelivered messages", "count", left)
	}
	p.admin.Close()
	p.producer.Close()
	return nil
}
