// infrastructure/postgres_video_repository.go
package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vitovidale/video-ingest-service/domain"
)

// Queries use $N placeholders in order of appearance so the same text runs on
// PostgreSQL and SQLite.
const schema = `
CREATE TABLE IF NOT EXISTS videos (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	content_type    TEXT NOT NULL,
	upload_status   TEXT NOT NULL,
	storage_key     TEXT NOT NULL,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	tags            TEXT NOT NULL DEFAULT '[]',
	thumbnail_url   TEXT NOT NULL DEFAULT '',
	job_enqueued_at TIMESTAMP NULL,
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS videos_owner_id_idx ON videos (owner_id);
`

type PostgresVideoRepository struct {
	DB  *sql.DB
	now func() time.Time
}

var _ domain.VideoRepository = (*PostgresVideoRepository)(nil)

func NewPostgresVideoRepository(db *sql.DB) *PostgresVideoRepository {
	return &PostgresVideoRepository{DB: db, now: time.Now}
}

// OpenDB connects with a few attempts so the service can start alongside its
// database container.
func OpenDB(ctx context.Context, driver, dsn string, logger *slog.Logger) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database url: %w", domain.ErrMissingConfig)
	}
	var lastErr error
	for i := 0; i < 5; i++ {
		db, err := sql.Open(driver, dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				logger.Info("database connection established", "driver", driver)
				return db, nil
			}
			db.Close()
		}
		lastErr = err
		logger.Warn("retrying database connection", "attempt", i+1, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	return nil, fmt.Errorf("failed to connect to database after several attempts: %w", lastErr)
}

func (r *PostgresVideoRepository) Migrate(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return domain.Wrap(err, "videorepo", "Migrate", "create schema")
}

func (r *PostgresVideoRepository) Create(ctx context.Context, video *domain.Video) error {
	tags, err := json.Marshal(nonNil(video.Metadata.Tags))
	if err != nil {
		return domain.Wrap(err, "videorepo", "Create", "encode tags")
	}
	query := `INSERT INTO videos (id, owner_id, content_type, upload_status, storage_key, title, description, tags, thumbnail_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.DB.ExecContext(ctx, query,
		video.ID, video.OwnerID, video.ContentType, string(video.UploadStatus), video.StorageKey,
		video.Metadata.Title, video.Metadata.Description, string(tags), video.Metadata.ThumbnailURL,
		video.CreatedAt.UTC(), video.UpdatedAt.UTC())
	return domain.Wrap(err, "videorepo", "Create", "insert video "+video.ID)
}

func (r *PostgresVideoRepository) FindByID(ctx context.Context, videoID string) (*domain.Video, error) {
	var v domain.Video
	var status, tags string
	var enqueuedAt sql.NullTime
	query := `SELECT id, owner_id, content_type, upload_status, storage_key, title, description, tags, thumbnail_url, job_enqueued_at, created_at, updated_at
		FROM videos WHERE id = $1`
	err := r.DB.QueryRowContext(ctx, query, videoID).Scan(
		&v.ID, &v.OwnerID, &v.ContentType, &status, &v.StorageKey,
		&v.Metadata.Title, &v.Metadata.Description, &tags, &v.Metadata.ThumbnailURL,
		&enqueuedAt, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("video %s: %w", videoID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.Wrap(err, "videorepo", "FindByID", "select video "+videoID)
	}
	v.UploadStatus = domain.UploadStatus(status)
	if !v.UploadStatus.Valid() {
		return nil, fmt.Errorf("videorepo.FindByID: video %s has unknown upload status %q", videoID, status)
	}
	if enqueuedAt.Valid {
		at := enqueuedAt.Time
		v.JobEnqueuedAt = &at
	}
	if err := json.Unmarshal([]byte(tags), &v.Metadata.Tags); err != nil {
		return nil, domain.Wrap(err, "videorepo", "FindByID", "decode tags")
	}
	if len(v.Metadata.Tags) == 0 {
		v.Metadata.Tags = nil
	}
	return &v, nil
}

// TransitionStatus is a compare-and-set on upload_status; of two racing
// callers only one sees a row updated.
func (r *PostgresVideoRepository) TransitionStatus(ctx context.Context, videoID string, from, to domain.UploadStatus) error {
	query := `UPDATE videos SET upload_status = $1, updated_at = $2 WHERE id = $3 AND upload_status = $4`
	res, err := r.DB.ExecContext(ctx, query, string(to), r.now().UTC(), videoID, string(from))
	if err != nil {
		return domain.Wrap(err, "videorepo", "TransitionStatus", "update video "+videoID)
	}
	return r.expectOne(ctx, res, "TransitionStatus", videoID, string(from))
}

func (r *PostgresVideoRepository) MarkJobEnqueued(ctx context.Context, videoID string, at time.Time) error {
	query := `UPDATE videos SET job_enqueued_at = $1, updated_at = $2
		WHERE id = $3 AND upload_status = $4 AND job_enqueued_at IS NULL`
	res, err := r.DB.ExecContext(ctx, query, at.UTC(), r.now().UTC(), videoID, string(domain.UploadStatusProcessing))
	if err != nil {
		return domain.Wrap(err, "videorepo", "MarkJobEnqueued", "update video "+videoID)
	}
	return r.expectOne(ctx, res, "MarkJobEnqueued", videoID, "PROCESSING without a job")
}

// ReclaimStaleClaim bumps updated_at, so a second reclaimer no longer
// matches the staleness predicate.
func (r *PostgresVideoRepository) ReclaimStaleClaim(ctx context.Context, videoID string, staleBefore time.Time) error {
	query := `UPDATE videos SET updated_at = $1
		WHERE id = $2 AND upload_status = $3 AND job_enqueued_at IS NULL AND updated_at < $4`
	res, err := r.DB.ExecContext(ctx, query, r.now().UTC(), videoID, string(domain.UploadStatusProcessing), staleBefore.UTC())
	if err != nil {
		return domain.Wrap(err, "videorepo", "ReclaimStaleClaim", "update video "+videoID)
	}
	return r.expectOne(ctx, res, "ReclaimStaleClaim", videoID, "a stale PROCESSING claim")
}

func (r *PostgresVideoRepository) UpdateMetadata(ctx context.Context, videoID string, metadata domain.VideoMetadata) error {
	tags, err := json.Marshal(nonNil(metadata.Tags))
	if err != nil {
		return domain.Wrap(err, "videorepo", "UpdateMetadata", "encode tags")
	}
	query := `UPDATE videos SET title = $1, description = $2, tags = $3, thumbnail_url = $4, updated_at = $5 WHERE id = $6`
	res, err := r.DB.ExecContext(ctx, query,
		metadata.Title, metadata.Description, string(tags), metadata.ThumbnailURL, r.now().UTC(), videoID)
	if err != nil {
		return domain.Wrap(err, "videorepo", "UpdateMetadata", "update video "+videoID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Wrap(err, "videorepo", "UpdateMetadata", "rows affected")
	}
	if n == 0 {
		return fmt.Errorf("video %s: %w", videoID, domain.ErrNotFound)
	}
	return nil
}

// expectOne turns a conditional update that matched nothing into ErrNotFound
// or ErrIllegalStateTransition.
func (r *PostgresVideoRepository) expectOne(ctx context.Context, res sql.Result, method, videoID, expected string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Wrap(err, "videorepo", method, "rows affected")
	}
	if n == 1 {
		return nil
	}

	var current string
	err = r.DB.QueryRowContext(ctx, `SELECT upload_status FROM videos WHERE id = $1`, videoID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("video %s: %w", videoID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Wrap(err, "videorepo", method, "select status "+videoID)
	}
	return fmt.Errorf("video %s is %s, expected %s: %w", videoID, current, expected, domain.ErrIllegalStateTransition)
}

func (r *PostgresVideoRepository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
