package database

import (
	"context"
	"time"

	"github.com/benvon/studygen/internal/blobstore"
	"github.com/benvon/studygen/internal/models"
	"github.com/google/uuid"
)

// QueueRepositoryInterface defines the queue operations used by the pipeline and workers
type QueueRepositoryInterface interface {
	Create(ctx context.Context, req *models.GenerationRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationRequest, error)
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (*models.GenerationRequest, error)
	FailExhausted(ctx context.Context, id uuid.UUID, message string) (bool, error)
	Reschedule(ctx context.Context, id uuid.UUID, retries int, runAfter time.Time, message string) error
	Fail(ctx context.Context, id uuid.UUID, retries int, message string) error
	Complete(ctx context.Context, id uuid.UUID) error
	ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.GenerationRequest, error)
	ListFailedSince(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]*models.GenerationRequest, error)
	ListOverdue(ctx context.Context, before time.Time, limit int) ([]*models.GenerationRequest, error)
	ListStale(ctx context.Context, before time.Time, limit int) ([]*models.GenerationRequest, error)
	DeleteByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ContentRepositoryInterface defines the versioned content operations
type ContentRepositoryInterface interface {
	Commit(ctx context.Context, v *models.ContentVersion, beforeCommit func(ctx context.Context, v *models.ContentVersion) error) error
	Restore(ctx context.Context, ownerID, versionID uuid.UUID) (*models.ContentVersion, error)
	Current(ctx context.Context, ownerID uuid.UUID) (*models.ContentVersion, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.ContentVersion, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]*models.VersionSummary, error)
	Prune(ctx context.Context, ownerID uuid.UUID, keep int, clear func(ctx context.Context, ids []uuid.UUID) []uuid.UUID) (int64, error)
	UpdateCurrentContent(ctx context.Context, ownerID uuid.UUID, content string) (*models.ContentVersion, error)
	DeleteByOwner(ctx context.Context, ownerID uuid.UUID, clear func(ctx context.Context, ids []uuid.UUID) error) (int64, error)
}

// EventRepositoryInterface defines the generation event log operations
type EventRepositoryInterface interface {
	Create(ctx context.Context, e *models.GenerationEvent) error
	ListSince(ctx context.Context, ownerID uuid.UUID, kind models.EventKind, since time.Time) ([]*models.GenerationEvent, error)
	DeleteByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Ensure concrete types implement the interfaces
var (
	_ QueueRepositoryInterface   = (*QueueRepository)(nil)
	_ ContentRepositoryInterface = (*ContentRepository)(nil)
	_ EventRepositoryInterface   = (*EventRepository)(nil)
	_ blobstore.Store            = (*BlobRepository)(nil)
)
