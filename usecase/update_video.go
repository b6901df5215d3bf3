// usecase/update_video.go
package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vitovidale/video-ingest-service/domain"
)

type UpdateVideoInput struct {
	OwnerID string
	VideoID string
	Fields  map[string]json.RawMessage
}

// UpdateVideoUseCase edits client metadata. Only the owner may edit, and only
// fields the schema marks mutable.
type UpdateVideoUseCase struct {
	VideoRepo domain.VideoRepository
	Logger    *slog.Logger
}

func NewUpdateVideoUseCase(repo domain.VideoRepository, logger *slog.Logger) *UpdateVideoUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpdateVideoUseCase{VideoRepo: repo, Logger: logger}
}

func (uc *UpdateVideoUseCase) Execute(ctx context.Context, input UpdateVideoInput) (*domain.Video, error) {
	if strings.TrimSpace(input.OwnerID) == "" {
		return nil, fmt.Errorf("owner id is required: %w", domain.ErrInvalidArgument)
	}

	video, err := uc.VideoRepo.FindByID(ctx, input.VideoID)
	if err != nil {
		return nil, fmt.Errorf("failed to load video %s: %w", input.VideoID, err)
	}
	// Someone else's video looks the same as a missing one.
	if video.OwnerID != input.OwnerID {
		return nil, fmt.Errorf("video %s: %w", input.VideoID, domain.ErrNotFound)
	}

	meta, err := domain.ApplyUpdate(video.Metadata, input.Fields)
	if err != nil {
		return nil, err
	}
	if err := uc.VideoRepo.UpdateMetadata(ctx, video.ID, meta); err != nil {
		return nil, fmt.Errorf("failed to update video %s: %w", video.ID, err)
	}
	video.Metadata = meta

	uc.Logger.Info("video metadata updated", "video_id", video.ID, "owner_id", video.OwnerID)
	return video, nil
}
