// domain/video.go
package domain

import (
	"fmt"
	"time"
)

// UploadStatus is the ingestion lifecycle state stored on a video record.
type UploadStatus string

const (
	UploadStatusNone         UploadStatus = "NONE"
	UploadStatusURLRequested UploadStatus = "URL_REQUESTED"
	UploadStatusProcessing   UploadStatus = "PROCESSING"
	// Terminal states, written only by the downstream processor.
	UploadStatusComplete UploadStatus = "COMPLETE"
	UploadStatusFailed   UploadStatus = "FAILED"
)

// transitions lists the moves this service is allowed to make.
var transitions = map[UploadStatus]UploadStatus{
	UploadStatusNone:         UploadStatusURLRequested,
	UploadStatusURLRequested: UploadStatusProcessing,
}

// Valid reports whether s is a known status.
func (s UploadStatus) Valid() bool {
	switch s {
	case UploadStatusNone, UploadStatusURLRequested, UploadStatusProcessing,
		UploadStatusComplete, UploadStatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the ingestion service may move a record
// from s to next.
func (s UploadStatus) CanTransition(next UploadStatus) bool {
	to, ok := transitions[s]
	return ok && to == next
}

// VideoMetadata is the client-supplied business payload of a video. It does
// not take part in ingestion decisions.
type VideoMetadata struct {
	Title        string   `json:"title" validate:"required,max=200"`
	Description  string   `json:"description,omitempty" validate:"max=5000"`
	Tags         []string `json:"tags,omitempty" validate:"max=30,dive,required,max=50"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty" validate:"omitempty,url"`
}

type Video struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"ownerId"`
	ContentType   string        `json:"contentType"`
	UploadStatus  UploadStatus  `json:"uploadStatus"`
	StorageKey    string        `json:"storageKey"`
	Metadata      VideoMetadata `json:"metadata"`
	// JobEnqueuedAt is set once the broker acknowledged the processing job.
	// A PROCESSING record without it holds a claim whose publish never
	// completed.
	JobEnqueuedAt *time.Time    `json:"jobEnqueuedAt,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Transition moves the in-memory record to next, enforcing the state machine.
// Persisted records must go through VideoRepository.TransitionStatus instead.
func (v *Video) Transition(next UploadStatus) error {
	current := v.UploadStatus
	if current == "" {
		current = UploadStatusNone
	}
	if !current.CanTransition(next) {
		return fmt.Errorf("video %s: %s -> %s: %w", v.ID, current, next, ErrIllegalStateTransition)
	}
	v.UploadStatus = next
	return nil
}

// VideoProcessingMessage is the job handed to the transcoding worker.
type VideoProcessingMessage struct {
	VideoID     string `json:"videoId"`
	ContentType string `json:"contentType"`
}

// UploadCredential is a time-bounded write authorization for one storage key.
type UploadCredential struct {
	URL       string            `json:"url"`
	Key       string            `json:"key"`
	Method    string            `json:"method"`
	// Headers must accompany the upload request exactly as given.
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// PublishAck is returned once the broker has accepted a job.
type PublishAck struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Offset    string `json:"offset,omitempty"`
}
