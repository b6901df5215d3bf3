// domain/interfaces.go
package domain

import (
	"context"
	"time"
)

type VideoRepository interface {
	// Create persists a new record. It fails if the id already exists.
	Create(ctx context.Context, video *Video) error
	FindByID(ctx context.Context, videoID string) (*Video, error)
	// TransitionStatus moves a record from -> to only if its current status is
	// from. It returns ErrNotFound for an unknown id and
	// ErrIllegalStateTransition when the record is in another state.
	TransitionStatus(ctx context.Context, videoID string, from, to UploadStatus) error
	// MarkJobEnqueued stamps a PROCESSING record whose job reached the queue.
	// A record in any other state, or one already stamped, yields
	// ErrIllegalStateTransition.
	MarkJobEnqueued(ctx context.Context, videoID string, at time.Time) error
	// ReclaimStaleClaim takes over an unstamped PROCESSING record last touched
	// before staleBefore and refreshes its claim time. Of racing callers only
	// one succeeds; the rest get ErrIllegalStateTransition.
	ReclaimStaleClaim(ctx context.Context, videoID string, staleBefore time.Time) error
	// UpdateMetadata replaces the client-owned metadata of a record.
	UpdateMetadata(ctx context.Context, videoID string, metadata VideoMetadata) error
	Ping(ctx context.Context) error
}

// ObjectStore issues pre-signed write credentials. It never retries.
type ObjectStore interface {
	IssueUploadCredential(ctx context.Context, key, contentType string, ttl time.Duration) (*UploadCredential, error)
}

// SignatureVerifier authenticates webhook bodies.
type SignatureVerifier interface {
	Verify(rawBody []byte, receivedSignature string) bool
}

// MessageQueueService publishes processing jobs with at-least-once delivery.
type MessageQueueService interface {
	// EnsureTopic creates the topic if needed. It is called once at startup.
	EnsureTopic(ctx context.Context) error
	PublishVideoProcessing(ctx context.Context, message VideoProcessingMessage) (*PublishAck, error)
	Ping(ctx context.Context) error
	Close() error
}

// NotificationService is a best-effort secondary sink. Notify must not block
// and its failures must never reach the caller.
type NotificationService interface {
	Notify(ctx context.Context, videoID string)
}

// Locker serializes work per key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
