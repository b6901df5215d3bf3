// usecase/upload_video.go
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vitovidale/video-ingest-service/domain"
)

const DefaultUploadURLTTL = 600 * time.Second

type UploadVideoInput struct {
	OwnerID string
	// Fields is the raw client payload; it is filtered through domain.VideoSchema.
	Fields map[string]json.RawMessage
}

type UploadVideoOutput struct {
	Credential *domain.UploadCredential
	Video      *domain.Video
}

type UploadVideoUseCase struct {
	VideoRepo   domain.VideoRepository
	FileStorage domain.ObjectStore
	Logger      *slog.Logger

	URLTTL      time.Duration
	SignTimeout time.Duration
	// NewID is replaceable for tests.
	NewID func() string
	Now   func() time.Time
}

func NewUploadVideoUseCase(repo domain.VideoRepository, store domain.ObjectStore, logger *slog.Logger) *UploadVideoUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadVideoUseCase{
		VideoRepo:   repo,
		FileStorage: store,
		Logger:      logger,
		URLTTL:      DefaultUploadURLTTL,
		SignTimeout: 5 * time.Second,
		NewID:       uuid.NewString,
		Now:         time.Now,
	}
}

func (uc *UploadVideoUseCase) Execute(ctx context.Context, input UploadVideoInput) (*UploadVideoOutput, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, fmt.Errorf("owner id is required: %w", domain.ErrInvalidArgument)
	}

	meta, contentType, err := domain.DecodeMetadata(input.Fields)
	if err != nil {
		return nil, err
	}
	if err := checkContentType(contentType); err != nil {
		return nil, err
	}

	now := uc.Now().UTC()
	video := &domain.Video{
		ID:          uc.NewID(),
		OwnerID:     input.OwnerID,
		ContentType: contentType,
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Signing has no side effects, so a credential that is never returned
	// leaves nothing behind.
	signCtx, cancel := context.WithTimeout(ctx, uc.SignTimeout)
	defer cancel()
	cred, err := uc.FileStorage.IssueUploadCredential(signCtx, video.ID, video.ContentType, uc.URLTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue upload credential: %w", err)
	}

	if err := video.Transition(domain.UploadStatusURLRequested); err != nil {
		return nil, err
	}
	video.StorageKey = cred.Key

	if err := uc.VideoRepo.Create(ctx, video); err != nil {
		return nil, fmt.Errorf("failed to record video: %w", err)
	}

	uc.Logger.Info("upload credential issued",
		"video_id", video.ID,
		"owner_id", video.OwnerID,
		"key", cred.Key,
		"expires_at", cred.ExpiresAt)

	return &UploadVideoOutput{Credential: cred, Video: video}, nil
}

func checkContentType(contentType string) error {
	if contentType == "" {
		return fmt.Errorf("contentType is required: %w", domain.ErrInvalidArgument)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("contentType %q: %v: %w", contentType, err, domain.ErrInvalidArgument)
	}
	if !strings.HasPrefix(mediaType, "video/") {
		return fmt.Errorf("contentType %q is not a video type: %w", contentType, domain.ErrInvalidArgument)
	}
	return nil
}
