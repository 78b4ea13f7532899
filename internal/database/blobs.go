package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/benvon/studygen/internal/blobstore"
	"github.com/benvon/studygen/internal/models"
	"github.com/google/uuid"
)

// BlobRepository stores blobs in Postgres. It is the default blob backend.
type BlobRepository struct {
	db *DB
}

// NewBlobRepository creates a new Postgres blob store
func NewBlobRepository(db *DB) *BlobRepository {
	return &BlobRepository{db: db}
}

// Put writes a blob, replacing any previous blob in the same area
func (r *BlobRepository) Put(ctx context.Context, blob *models.Blob) error {
	query := `
		INSERT INTO content_blobs (content_id, area, filename, content_type, data, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (content_id, area) DO UPDATE
		SET filename = EXCLUDED.filename,
		    content_type = EXCLUDED.content_type,
		    data = EXCLUDED.data,
		    created_at = EXCLUDED.created_at
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		blob.ContentID,
		blob.Area,
		blob.Filename,
		blob.ContentType,
		blob.Data,
	).Scan(&blob.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to store blob: %w", err)
	}
	return nil
}

// Get reads the blob stored for a version in an area
func (r *BlobRepository) Get(ctx context.Context, contentID uuid.UUID, area models.BlobArea) (*models.Blob, error) {
	query := `
		SELECT content_id, area, filename, content_type, data, created_at
		FROM content_blobs
		WHERE content_id = $1 AND area = $2
	`

	blob := &models.Blob{}
	err := r.db.QueryRowContext(ctx, query, contentID, area).Scan(
		&blob.ContentID,
		&blob.Area,
		&blob.Filename,
		&blob.ContentType,
		&blob.Data,
		&blob.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s blob for %s: %w", area, contentID, blobstore.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return blob, nil
}

// Delete removes every blob owned by a version
func (r *BlobRepository) Delete(ctx context.Context, contentID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM content_blobs WHERE content_id = $1`, contentID); err != nil {
		return fmt.Errorf("failed to delete blobs: %w", err)
	}
	return nil
}
