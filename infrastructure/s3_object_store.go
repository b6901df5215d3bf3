// infrastructure/s3_object_store.go
package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/vitovidale/video-ingest-service/domain"
)

const (
	DefaultUploadKeyPrefix = "unprocessed/"
	// SigV4 presigned URLs cannot outlive a week.
	maxPresignTTL = 7 * 24 * time.Hour
)

type putObjectPresigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string // set for MinIO and other S3-compatible stores
	AccessKey string
	SecretKey string
	KeyPrefix string
}

// S3ObjectStore issues presigned PUT URLs. Expiry is enforced by the store.
type S3ObjectStore struct {
	presigner putObjectPresigner
	bucket    string
	prefix    string
	logger    *slog.Logger
	now       func() time.Time
}

var _ domain.ObjectStore = (*S3ObjectStore)(nil)

// NewS3ObjectStore builds the client once at process start.
func NewS3ObjectStore(ctx context.Context, opts S3Options, logger *slog.Logger) (*S3ObjectStore, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket: %w", domain.ErrMissingConfig)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3ObjectStore(s3.NewPresignClient(client), opts.Bucket, opts.KeyPrefix, logger), nil
}

func newS3ObjectStore(p putObjectPresigner, bucket, prefix string, logger *slog.Logger) *S3ObjectStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &S3ObjectStore{
		presigner: p,
		bucket:    bucket,
		prefix:    prefix,
		logger:    logger,
		now:       time.Now,
	}
}

// StorageKey maps a video id to its object key.
func (s *S3ObjectStore) StorageKey(videoID string) string {
	return s.prefix + videoID
}

func (s *S3ObjectStore) IssueUploadCredential(ctx context.Context, key, contentType string, ttl time.Duration) (*domain.UploadCredential, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("s3.IssueUploadCredential: key is required: %w", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(contentType) == "" {
		return nil, fmt.Errorf("s3.IssueUploadCredential: content type is required: %w", domain.ErrInvalidArgument)
	}
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	if ttl > maxPresignTTL {
		return nil, fmt.Errorf("s3.IssueUploadCredential: ttl %s exceeds %s: %w", ttl, maxPresignTTL, domain.ErrInvalidArgument)
	}

	objectKey := s.StorageKey(key)
	issuedAt := s.now()
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl), signContentType(contentType))
	if err != nil {
		s.logger.Error("failed to presign PUT object", "key", objectKey, "error", err)
		return nil, domain.WrapKind(domain.ErrUpstreamUnavailable, err, "s3", "IssueUploadCredential", "presign")
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapKind(domain.ErrUpstreamUnavailable, err, "s3", "IssueUploadCredential", "presign")
	}

	return &domain.UploadCredential{
		URL:       req.URL,
		Key:       objectKey,
		Method:    req.Method,
		Headers:   requiredHeaders(req.SignedHeader),
		ExpiresAt: issuedAt.Add(ttl).UTC(),
	}, nil
}

// requiredHeaders lists what the uploader must send verbatim. Host is set by
// every HTTP client and is omitted.
func requiredHeaders(signed http.Header) map[string]string {
	out := make(map[string]string, len(signed))
	for name, values := range signed {
		if strings.EqualFold(name, "host") || len(values) == 0 {
			continue
		}
		out[http.CanonicalHeaderKey(name)] = strings.Join(values, ",")
	}
	return out
}

// signContentType puts Content-Type back on the request right before
// signing, so the store rejects a PUT with any other media type.
// PresignPutObject strips the header during build.
func signContentType(contentType string) func(*s3.PresignOptions) {
	return func(o *s3.PresignOptions) {
		o.ClientOptions = append(o.ClientOptions, func(so *s3.Options) {
			so.APIOptions = append(so.APIOptions, func(stack *middleware.Stack) error {
				return stack.Finalize.Add(contentTypeHeader(contentType), middleware.Before)
			})
		})
	}
}

type contentTypeHeader string

func (contentTypeHeader) ID() string { return "SignedContentType" }

func (h contentTypeHeader) HandleFinalize(ctx context.Context, in middleware.FinalizeInput, next middleware.FinalizeHandler) (
	middleware.FinalizeOutput, middleware.Metadata, error,
) {
	req, ok := in.Request.(*smithyhttp.Request)
	if !ok {
		return middleware.FinalizeOutput{}, middleware.Metadata{}, fmt.Errorf("unexpected request type %T", in.Request)
	}
	req.Header.Set("Content-Type", string(h))
	return next.HandleFinalize(ctx, in)
}
