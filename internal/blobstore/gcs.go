package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"github.com/benvon/studygen/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const filenameMetadataKey = "filename"

// GCSStore keeps blobs in a Google Cloud Storage bucket
type GCSStore struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// NewGCSStore creates a storage client for bucket using application default credentials
func NewGCSStore(ctx context.Context, bucket string, logger *zap.Logger, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &GCSStore{
		client: client,
		bucket: bucket,
		logger: logger.Named("gcs_blobstore"),
	}, nil
}

// Put uploads the blob, overwriting any object at the same key
func (s *GCSStore) Put(ctx context.Context, blob *models.Blob) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	key := ObjectKey(blob.ContentID, blob.Area)
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = blob.ContentType
	w.Metadata = map[string]string{filenameMetadataKey: blob.Filename}

	if _, err := io.Copy(w, bytes.NewReader(blob.Data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write blob %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close blob writer %q: %w", key, err)
	}

	blob.CreatedAt = time.Now()
	s.logger.Debug("blob_stored",
		zap.String("key", key),
		zap.Int("bytes", len(blob.Data)),
	)
	return nil
}

// Get downloads a blob and its metadata
func (s *GCSStore) Get(ctx context.Context, contentID uuid.UUID, area models.BlobArea) (*models.Blob, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	key := ObjectKey(contentID, area)
	obj := s.client.Bucket(s.bucket).Object(key)

	attrs, err := obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s blob for %s: %w", area, contentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob attributes %q: %w", key, err)
	}

	r, err := obj.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s blob for %s: %w", area, contentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %q: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %q: %w", key, err)
	}

	return &models.Blob{
		ContentID:   contentID,
		Area:        area,
		Filename:    attrs.Metadata[filenameMetadataKey],
		ContentType: attrs.ContentType,
		Data:        data,
		CreatedAt:   attrs.Created,
	}, nil
}

// Delete removes every object under the version's prefix
func (s *GCSStore) Delete(ctx context.Context, contentID uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	prefix := ObjectPrefix(contentID)
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list blobs under %q: %w", prefix, err)
		}
		err = s.client.Bucket(s.bucket).Object(attrs.Name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("failed to delete blob %q: %w", attrs.Name, err)
		}
	}
}

// Close releases the storage client
func (s *GCSStore) Close() error {
	return s.client.Close()
}

var _ Store = (*GCSStore)(nil)
