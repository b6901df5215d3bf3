package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vitovidale/video-ingest-service/domain"
)

type memoryRepo struct {
	mu          sync.Mutex
	videos      map[string]domain.Video
	createErr   error
	// failInto fails the next n transitions into a status.
	failInto    map[domain.UploadStatus]int
	transitions int
	now         func() time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		videos:   make(map[string]domain.Video),
		failInto: make(map[domain.UploadStatus]int),
		now:      time.Now,
	}
}

func (r *memoryRepo) Create(_ context.Context, v *domain.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.videos[v.ID]; ok {
		return fmt.Errorf("duplicate id %s", v.ID)
	}
	r.videos[v.ID] = *v
	return nil
}

func (r *memoryRepo) FindByID(_ context.Context, id string) (*domain.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, fmt.Errorf("video %s: %w", id, domain.ErrNotFound)
	}
	return &v, nil
}

func (r *memoryRepo) TransitionStatus(_ context.Context, id string, from, to domain.UploadStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions++
	if r.failInto[to] > 0 {
		r.failInto[to]--
		return errors.New("database is locked")
	}
	v, ok := r.videos[id]
	if !ok {
		return fmt.Errorf("video %s: %w", id, domain.ErrNotFound)
	}
	if v.UploadStatus != from {
		return fmt.Errorf("video %s is %s: %w", id, v.UploadStatus, domain.ErrIllegalStateTransition)
	}
	v.UploadStatus = to
	v.UpdatedAt = r.now()
	r.videos[id] = v
	return nil
}

func (r *memoryRepo) MarkJobEnqueued(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return fmt.Errorf("video %s: %w", id, domain.ErrNotFound)
	}
	if v.UploadStatus != domain.UploadStatusProcessing || v.JobEnqueuedAt != nil {
		return fmt.Errorf("video %s is %s: %w", id, v.UploadStatus, domain.ErrIllegalStateTransition)
	}
	v.JobEnqueuedAt = &at
	v.UpdatedAt = r.now()
	r.videos[id] = v
	return nil
}

func (r *memoryRepo) ReclaimStaleClaim(_ context.Context, id string, staleBefore time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return fmt.Errorf("video %s: %w", id, domain.ErrNotFound)
	}
	if v.UploadStatus != domain.UploadStatusProcessing || v.JobEnqueuedAt != nil || !v.UpdatedAt.Before(staleBefore) {
		return fmt.Errorf("video %s is not a stale claim: %w", id, domain.ErrIllegalStateTransition)
	}
	v.UpdatedAt = r.now()
	r.videos[id] = v
	return nil
}

func (r *memoryRepo) UpdateMetadata(_ context.Context, id string, metadata domain.VideoMetadata) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return fmt.Errorf("video %s: %w", id, domain.ErrNotFound)
	}
	v.Metadata = metadata
	v.UpdatedAt = r.now()
	r.videos[id] = v
	return nil
}

func (r *memoryRepo) Ping(context.Context) error { return nil }

func (r *memoryRepo) get(id string) domain.Video {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.videos[id]
}

func (r *memoryRepo) status(id string) domain.UploadStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.videos[id].UploadStatus
}

type fakeStore struct {
	calls int
	err   error
	// onIssue observes each signing call.
	onIssue func(key string)
}

func (s *fakeStore) IssueUploadCredential(ctx context.Context, key, contentType string, ttl time.Duration) (*domain.UploadCredential, error) {
	s.calls++
	if s.onIssue != nil {
		s.onIssue(key)
	}
	if s.err != nil {
		return nil, s.err
	}
	if _, ok := ctx.Deadline(); !ok {
		return nil, errors.New("signing call without deadline")
	}
	return &domain.UploadCredential{
		URL:       "https://store.example.com/videos/unprocessed/" + key + "?X-Amz-Signature=abc",
		Key:       "unprocessed/" + key,
		Method:    "PUT",
		ExpiresAt: time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC),
	}, nil
}

type fakeQueue struct {
	mu        sync.Mutex
	published []domain.VideoProcessingMessage
	err       error
}

func (q *fakeQueue) EnsureTopic(context.Context) error { return nil }

func (q *fakeQueue) PublishVideoProcessing(ctx context.Context, m domain.VideoProcessingMessage) (*domain.PublishAck, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.published = append(q.published, m)
	return &domain.PublishAck{Topic: "video-processing-queue", Partition: 1}, nil
}

func (q *fakeQueue) Ping(context.Context) error { return nil }
func (q *fakeQueue) Close() error               { return nil }

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.published)
}

type fakeVerifier struct{ valid string }

type failingLocker struct{ err error }

func (l failingLocker) Lock(context.Context, string) (func(), error) { return nil, l.err }

func (v fakeVerifier) Verify(_ []byte, sig string) bool { return sig == v.valid }

type fakeNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *fakeNotifier) Notify(_ context.Context, id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
}
