// infrastructure/sqs_job_publisher.go
package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/vitovidale/video-ingest-service/domain"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSJobPublisher sends jobs to a FIFO queue. MessageGroupId plays the role
// of the partition key.
type SQSJobPublisher struct {
	client   sqsAPI
	queueURL string
	logger   *slog.Logger
}

var _ domain.MessageQueueService = (*SQSJobPublisher)(nil)

func NewSQSJobPublisher(ctx context.Context, queueURL, region string, logger *slog.Logger) (*SQSJobPublisher, error) {
	if queueURL == "" {
		return nil, fmt.Errorf("sqs queue url: %w", domain.ErrMissingConfig)
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return newSQSJobPublisher(sqs.NewFromConfig(cfg), queueURL, logger), nil
}

func newSQSJobPublisher(client sqsAPI, queueURL string, logger *slog.Logger) *SQSJobPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQSJobPublisher{client: client, queueURL: queueURL, logger: logger}
}

// EnsureTopic only checks the queue: SQS queues are provisioned outside the
// service and must be FIFO to keep per-video order.
func (p *SQSJobPublisher) EnsureTopic(ctx context.Context) error {
	out, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(p.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameFifoQueue},
	})
	if err != nil {
		return domain.Upstream(err, domain.ErrUpstreamUnavailable, "sqs", "EnsureTopic", "get queue attributes")
	}
	if out.Attributes[string(types.QueueAttributeNameFifoQueue)] != "true" {
		return fmt.Errorf("sqs queue %s is not FIFO: %w", p.queueURL, domain.ErrInvalidArgument)
	}
	return nil
}

func (p *SQSJobPublisher) PublishVideoProcessing(ctx context.Context, message domain.VideoProcessingMessage) (*domain.PublishAck, error) {
	body, err := json.Marshal(message)
	if err != nil {
		return nil, domain.WrapKind(domain.ErrEnqueueFailed, err, "sqs", "PublishVideoProcessing", "marshal")
	}

	out, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:               aws.String(p.queueURL),
		MessageBody:            aws.String(string(body)),
		MessageGroupId:         aws.String(message.VideoID),
		MessageDeduplicationId: aws.String(message.VideoID),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
			return nil, domain.WrapKind(domain.ErrEnqueueFailed, err, "sqs", "PublishVideoProcessing", "send")
		}
		return nil, domain.WrapKind(domain.ErrUpstreamUnavailable, err, "sqs", "PublishVideoProcessing", "send")
	}

	return &domain.PublishAck{
		Topic:  p.queueName(),
		Offset: aws.ToString(out.SequenceNumber),
	}, nil
}

func (p *SQSJobPublisher) queueName() string {
	return p.queueURL[strings.LastIndex(p.queueURL, "/")+1:]
}

func (p *SQSJobPublisher) Ping(ctx context.Context) error {
	_, err := p.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{QueueUrl: aws.String(p.queueURL)})
	return err
}

func (p *SQSJobPublisher) Close() error { return nil }
