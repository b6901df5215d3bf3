// infrastructure/jetstream_job_publisher.go
package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/vitovidale/video-ingest-service/domain"
)

type jetStream interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamJobPublisher writes jobs to one subject per partition of a file
// backed stream. The video id doubles as Nats-Msg-Id so a retried publish
// inside the duplicate window is stored once.
type JetStreamJobPublisher struct {
	nc         *nats.Conn
	js         jetStream
	stream     string
	topic      string
	partitions int
	replicas   int
	logger     *slog.Logger
}

var _ domain.MessageQueueService = (*JetStreamJobPublisher)(nil)

func NewJetStreamJobPublisher(url, topic string, partitions, replicas int, logger *slog.Logger) (*JetStreamJobPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("nats url: %w", domain.ErrMissingConfig)
	}
	nc, err := nats.Connect(url,
		nats.Name("video-uploader"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	p := newJetStreamJobPublisher(js, topic, partitions, replicas, logger)
	p.nc = nc
	return p, nil
}

func newJetStreamJobPublisher(js jetStream, topic string, partitions, replicas int, logger *slog.Logger) *JetStreamJobPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if partitions <= 0 {
		partitions = DefaultPartitions
	}
	if replicas <= 0 {
		replicas = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JetStreamJobPublisher{
		js:         js,
		stream:     "VIDEO_PROCESSING",
		topic:      topic,
		partitions: partitions,
		replicas:   replicas,
		logger:     logger,
	}
}

func (p *JetStreamJobPublisher) EnsureTopic(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       p.stream,
		Subjects:   []string{p.topic + ".*"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.WorkQueuePolicy,
		Replicas:   p.replicas,
		Duplicates: 10 * time.Minute,
	})
	if err != nil {
		return domain.Upstream(err, domain.ErrUpstreamUnavailable, "jetstream", "EnsureTopic", "create stream")
	}
	p.logger.Info("jetstream stream ready", "stream", p.stream, "partitions", p.partitions)
	return nil
}

func (p *JetStreamJobPublisher) PublishVideoProcessing(ctx context.Context, message domain.VideoProcessingMessage) (*domain.PublishAck, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, domain.WrapKind(domain.ErrEnqueueFailed, err, "jetstream", "PublishVideoProcessing", "marshal")
	}
	partition := PartitionFor(message.VideoID, p.partitions)

	ack, err := p.js.Publish(ctx, partitionName(p.topic, partition), body, jetstream.WithMsgID(message.VideoID))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, nats.ErrNoResponders) || errors.Is(err, nats.ErrConnectionClosed) {
			return nil, domain.WrapKind(domain.ErrUpstreamUnavailable, err, "jetstream", "PublishVideoProcessing", "publish")
		}
		return nil, domain.Upstream(err, domain.ErrEnqueueFailed, "jetstream", "PublishVideoProcessing", "publish")
	}
	if ack.Duplicate {
		p.logger.Debug("jetstream deduplicated job", "video_id", message.VideoID, "sequence", ack.Sequence)
	}

	return &domain.PublishAck{
		Topic:     p.topic,
		Partition: partition,
		Offset:    strconv.FormatUint(ack.Sequence, 10),
	}, nil
}

func (p *JetStreamJobPublisher) Ping(context.Context) error {
	if p.nc != nil && !p.nc.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return nil
}

func (p *JetStreamJobPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
