// usecase/confirm_upload.go
package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vitovidale/video-ingest-service/domain"
)

// ConfirmOutcome says what a callback did.
type ConfirmOutcome string

const (
	// OutcomeAccepted means the record moved to PROCESSING and a job was enqueued.
	OutcomeAccepted ConfirmOutcome = "accepted"
	// OutcomeDuplicate means the record was not awaiting an upload; nothing happened.
	OutcomeDuplicate ConfirmOutcome = "duplicate"
)

type ConfirmUploadInput struct {
	RawBody   []byte
	Signature string
}

type ConfirmUploadOutput struct {
	VideoID string
	Outcome ConfirmOutcome
	Ack     *domain.PublishAck
}

// callbackPayload is the object store's upload-complete notification.
type callbackPayload struct {
	Key     string `json:"key"`
	VideoID string `json:"videoId"`
}

type ConfirmUploadUseCase struct {
	VideoRepo        domain.VideoRepository
	MessageQueue     domain.MessageQueueService
	Verifier         domain.SignatureVerifier
	Notifier         domain.NotificationService
	Locker           domain.Locker
	Logger           *slog.Logger
	PublishTimeout   time.Duration
	// StaleClaimAfter is how long a PROCESSING record may go without a
	// confirmed job before a retried callback takes the claim over. It must
	// exceed twice PublishTimeout.
	StaleClaimAfter  time.Duration
	RollbackAttempts int
	RollbackBackoff  time.Duration

	now func() time.Time
}

func NewConfirmUploadUseCase(
	repo domain.VideoRepository,
	queue domain.MessageQueueService,
	verifier domain.SignatureVerifier,
	notifier domain.NotificationService,
	locker domain.Locker,
	logger *slog.Logger,
) *ConfirmUploadUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfirmUploadUseCase{
		VideoRepo:        repo,
		MessageQueue:     queue,
		Verifier:         verifier,
		Notifier:         notifier,
		Locker:           locker,
		Logger:           logger,
		PublishTimeout:   5 * time.Second,
		StaleClaimAfter:  time.Minute,
		RollbackAttempts: 3,
		RollbackBackoff:  50 * time.Millisecond,
		now:              time.Now,
	}
}

func (uc *ConfirmUploadUseCase) Execute(ctx context.Context, input ConfirmUploadInput) (*ConfirmUploadOutput, error) {
	if !uc.Verifier.Verify(input.RawBody, input.Signature) {
		return nil, fmt.Errorf("upload callback rejected: %w", domain.ErrInvalidSignature)
	}

	videoID, err := ParseCallbackVideoID(input.RawBody)
	if err != nil {
		return nil, err
	}

	if uc.Locker != nil {
		unlock, err := uc.Locker.Lock(ctx, videoID)
		if err != nil {
			return nil, domain.Upstream(err, domain.ErrUpstreamUnavailable, "confirmUpload", "Execute", "lock video "+videoID)
		}
		defer unlock()
	}

	video, err := uc.VideoRepo.FindByID(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to load video %s: %w", videoID, err)
	}

	switch {
	case video.UploadStatus == domain.UploadStatusURLRequested:
		err = uc.VideoRepo.TransitionStatus(ctx, videoID, domain.UploadStatusURLRequested, domain.UploadStatusProcessing)
		if errors.Is(err, domain.ErrIllegalStateTransition) {
			// Lost the race against a concurrent callback.
			uc.Logger.Warn("concurrent callback already claimed video", "video_id", videoID)
			return &ConfirmUploadOutput{VideoID: videoID, Outcome: OutcomeDuplicate}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to mark video %s processing: %w", videoID, err)
		}
	case video.UploadStatus == domain.UploadStatusProcessing && video.JobEnqueuedAt == nil:
		if err := uc.reclaim(ctx, video); err != nil {
			return nil, err
		}
	default:
		uc.Logger.Warn("ignoring callback for video not awaiting upload",
			"video_id", videoID, "status", video.UploadStatus)
		return &ConfirmUploadOutput{VideoID: videoID, Outcome: OutcomeDuplicate}, nil
	}

	message := domain.VideoProcessingMessage{VideoID: video.ID, ContentType: video.ContentType}
	pubCtx, cancel := context.WithTimeout(ctx, uc.PublishTimeout)
	defer cancel()
	ack, err := uc.MessageQueue.PublishVideoProcessing(pubCtx, message)
	if err != nil {
		uc.rollback(ctx, videoID, err)
		return nil, fmt.Errorf("failed to queue video %s for processing: %w", videoID, err)
	}

	uc.Logger.Info("video queued for processing",
		"video_id", videoID,
		"topic", ack.Topic,
		"partition", ack.Partition)
	uc.markEnqueued(ctx, videoID)

	if uc.Notifier != nil {
		uc.Notifier.Notify(ctx, videoID)
	}

	return &ConfirmUploadOutput{VideoID: videoID, Outcome: OutcomeAccepted, Ack: ack}, nil
}

// reclaim takes over a PROCESSING record whose job was never confirmed, the
// trace of a publish failure whose rollback also failed. A fresh claim may
// still be mid-publish, so the caller is told to retry instead.
func (uc *ConfirmUploadUseCase) reclaim(ctx context.Context, video *domain.Video) error {
	staleBefore := uc.now().Add(-uc.StaleClaimAfter)
	if !video.UpdatedAt.Before(staleBefore) {
		return fmt.Errorf("video %s is claimed but its job is not confirmed yet: %w", video.ID, domain.ErrUpstreamUnavailable)
	}
	err := uc.VideoRepo.ReclaimStaleClaim(ctx, video.ID, staleBefore)
	if errors.Is(err, domain.ErrIllegalStateTransition) {
		return fmt.Errorf("video %s was reclaimed by a concurrent callback: %w", video.ID, domain.ErrUpstreamUnavailable)
	}
	if err != nil {
		return fmt.Errorf("failed to reclaim video %s: %w", video.ID, err)
	}
	uc.Logger.Warn("reclaimed video with unconfirmed job",
		"video_id", video.ID, "claimed_at", video.UpdatedAt)
	return nil
}

func (uc *ConfirmUploadUseCase) markEnqueued(ctx context.Context, videoID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.PublishTimeout)
	defer cancel()
	if err := uc.VideoRepo.MarkJobEnqueued(ctx, videoID, uc.now()); err != nil {
		// The job is out; a later callback may enqueue it once more.
		uc.Logger.Warn("failed to record enqueued job", "video_id", videoID, "error", err)
	}
}

// rollback returns the record to URL_REQUESTED so the store's retried
// callback can publish again. If every attempt fails the claim stays
// unstamped and is reclaimed after StaleClaimAfter.
func (uc *ConfirmUploadUseCase) rollback(ctx context.Context, videoID string, cause error) {
	// The request context may already be done; the rollback must still run.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.PublishTimeout)
	defer cancel()

	attempts := max(uc.RollbackAttempts, 1)
	backoff := uc.RollbackBackoff
	var err error
retry:
	for attempt := 1; ; attempt++ {
		err = uc.VideoRepo.TransitionStatus(ctx, videoID, domain.UploadStatusProcessing, domain.UploadStatusURLRequested)
		if err == nil {
			uc.Logger.Warn("publish failed, video returned to URL_REQUESTED",
				"video_id", videoID, "error", cause)
			return
		}
		if errors.Is(err, domain.ErrIllegalStateTransition) || errors.Is(err, domain.ErrNotFound) || attempt >= attempts {
			break
		}
		uc.Logger.Warn("retrying rollback", "video_id", videoID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			break retry
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	uc.Logger.Error("failed to roll back video after publish failure",
		"video_id", videoID, "publish_error", cause, "error", err,
		"reclaimable_after", uc.StaleClaimAfter)
}

// ParseCallbackVideoID extracts the video id from a callback body. An explicit
// videoId wins; otherwise the id is the last path segment of key.
func ParseCallbackVideoID(body []byte) (string, error) {
	var p callbackPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return "", fmt.Errorf("callback body: %v: %w", err, domain.ErrInvalidArgument)
	}

	var fromKey string
	if p.Key != "" {
		fromKey = p.Key[strings.LastIndex(p.Key, "/")+1:]
	}

	switch {
	case p.VideoID != "" && fromKey != "" && p.VideoID != fromKey:
		return "", fmt.Errorf("callback videoId %q does not match key %q: %w", p.VideoID, p.Key, domain.ErrInvalidArgument)
	case p.VideoID != "":
		return p.VideoID, nil
	case fromKey != "":
		return fromKey, nil
	default:
		return "", fmt.Errorf("callback carries no video id: %w", domain.ErrInvalidArgument)
	}
}
