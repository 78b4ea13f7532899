// Package content is the versioned content store: every successful generation becomes a
// new version of its owner's content, exactly one version per owner is current, and only
// the newest versions are retained.
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/benvon/studygen/internal/blobstore"
	"github.com/benvon/studygen/internal/database"
	"github.com/benvon/studygen/internal/logger"
	"github.com/benvon/studygen/internal/models"
	"github.com/benvon/studygen/internal/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when the owner has no such version, or no current version
	ErrNotFound = database.ErrNotFound
	// ErrOwnerMismatch is returned when a version belongs to a different owner
	ErrOwnerMismatch = database.ErrOwnerMismatch
)

// Store coordinates version rows and their blobs
type Store struct {
	repo    database.ContentRepositoryInterface
	blobs   blobstore.Store
	metrics *telemetry.Metrics
	logger  *zap.Logger
	keep    int
}

// NewStore creates a content store that retains models.MaxRetainedVersions versions per owner
func NewStore(repo database.ContentRepositoryInterface, blobs blobstore.Store, metrics *telemetry.Metrics, log *zap.Logger) *Store {
	return &Store{
		repo:    repo,
		blobs:   blobs,
		metrics: metrics,
		logger:  logger.OrNop(log).Named("content_store"),
		keep:    models.MaxRetainedVersions,
	}
}

// Commit stores content as the owner's new current version. The blob, if any, is
// written before the version transaction commits, so a failed blob write leaves the
// previous version current. Pruning runs afterwards and never fails the commit.
func (s *Store) Commit(ctx context.Context, ownerID uuid.UUID, genType models.GenerationType, prompt, content string, blob *models.Blob) (*models.ContentVersion, error) {
	v := &models.ContentVersion{
		ID:      uuid.New(),
		OwnerID: ownerID,
		Type:    genType,
		Content: content,
		Prompt:  prompt,
	}

	blobWritten := false
	err := s.repo.Commit(ctx, v, func(ctx context.Context, v *models.ContentVersion) error {
		if blob == nil {
			return nil
		}
		blob.ContentID = v.ID
		if err := s.blobs.Put(ctx, blob); err != nil {
			return fmt.Errorf("failed to store %s blob: %w", blob.Area, err)
		}
		blobWritten = true
		return nil
	})
	if err != nil {
		if blobWritten {
			if delErr := s.blobs.Delete(context.WithoutCancel(ctx), v.ID); delErr != nil {
				s.logger.Warn("orphan_blob_cleanup_failed",
					zap.String("content_id", v.ID.String()),
					zap.String("error", logger.SanitizeError(delErr)),
				)
			}
		}
		return nil, fmt.Errorf("failed to commit content: %w", err)
	}

	s.logger.Info("content_committed",
		zap.String("owner_id", ownerID.String()),
		zap.String("content_id", v.ID.String()),
		zap.String("type", string(genType)),
		zap.Int("version", v.Version),
	)

	if _, err := s.Prune(ctx, ownerID); err != nil {
		s.logger.Warn("content_prune_failed",
			zap.String("owner_id", ownerID.String()),
			zap.String("error", logger.SanitizeError(err)),
		)
	}

	return v, nil
}

// Prune deletes versions beyond the retention window. It runs under the owner lock
// shared with Commit and Restore. Blobs go first; a version whose blobs could not be
// removed keeps its row so a later prune can retry it.
func (s *Store) Prune(ctx context.Context, ownerID uuid.UUID) (int, error) {
	var blobErr error
	deleted, err := s.repo.Prune(ctx, ownerID, s.keep, func(ctx context.Context, ids []uuid.UUID) []uuid.UUID {
		blobErr = nil
		cleared := make([]uuid.UUID, 0, len(ids))
		for _, id := range ids {
			if err := s.blobs.Delete(ctx, id); err != nil {
				blobErr = errors.Join(blobErr, fmt.Errorf("blobs of %s: %w", id, err))
				continue
			}
			cleared = append(cleared, id)
		}
		return cleared
	})
	if err != nil {
		return 0, errors.Join(blobErr, err)
	}

	s.metrics.AddPruned(int(deleted))
	if deleted > 0 {
		s.logger.Debug("content_pruned",
			zap.String("owner_id", ownerID.String()),
			zap.Int64("deleted", deleted),
		)
	}
	return int(deleted), blobErr
}

// Restore makes an earlier version current again
func (s *Store) Restore(ctx context.Context, ownerID, versionID uuid.UUID) (*models.ContentVersion, error) {
	v, err := s.repo.Restore(ctx, ownerID, versionID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("content_restored",
		zap.String("owner_id", ownerID.String()),
		zap.String("content_id", v.ID.String()),
		zap.Int("version", v.Version),
	)
	return v, nil
}

// Current returns the owner's current version or ErrNotFound
func (s *Store) Current(ctx context.Context, ownerID uuid.UUID) (*models.ContentVersion, error) {
	return s.repo.Current(ctx, ownerID)
}

// Versions lists the retained versions of an owner, newest first
func (s *Store) Versions(ctx context.Context, ownerID uuid.UUID) ([]*models.VersionSummary, error) {
	return s.repo.List(ctx, ownerID)
}

// Blob returns the blob stored for one of the owner's versions
func (s *Store) Blob(ctx context.Context, ownerID, versionID uuid.UUID, area models.BlobArea) (*models.Blob, error) {
	v, err := s.repo.GetByID(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.OwnerID != ownerID {
		return nil, fmt.Errorf("content version %s: %w", versionID, ErrOwnerMismatch)
	}

	blob, err := s.blobs.Get(ctx, versionID, area)
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return blob, err
}

// UpdateContent rewrites the current version's content without creating a new version
func (s *Store) UpdateContent(ctx context.Context, ownerID uuid.UUID, content string) (*models.ContentVersion, error) {
	return s.repo.UpdateCurrentContent(ctx, ownerID, content)
}

// Reset deletes every version of an owner along with their blobs. Blobs are removed
// under the owner lock before the rows, so a commit cannot slip a version in between;
// any blob failure keeps every row.
func (s *Store) Reset(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	deleted, err := s.repo.DeleteByOwner(ctx, ownerID, func(ctx context.Context, ids []uuid.UUID) error {
		for _, id := range ids {
			if err := s.blobs.Delete(ctx, id); err != nil {
				return fmt.Errorf("failed to delete blobs of %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("content_reset",
		zap.String("owner_id", ownerID.String()),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}
