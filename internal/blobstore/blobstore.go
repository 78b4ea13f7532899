// Package blobstore holds the binary payloads (narration audio, quiz exports) that
// belong to content versions.
package blobstore

import (
	"context"
	"errors"

	"github.com/benvon/studygen/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no blob exists for a version and area
var ErrNotFound = errors.New("blob not found")

// Store persists blobs keyed by content version and area
type Store interface {
	Put(ctx context.Context, blob *models.Blob) error
	Get(ctx context.Context, contentID uuid.UUID, area models.BlobArea) (*models.Blob, error)
	// Delete removes every blob owned by the version. Deleting nothing is not an error.
	Delete(ctx context.Context, contentID uuid.UUID) error
}

// ObjectKey is the object name used for a version's blob in an area
func ObjectKey(contentID uuid.UUID, area models.BlobArea) string {
	return ObjectPrefix(contentID) + string(area)
}

// ObjectPrefix is the prefix shared by every blob of a version
func ObjectPrefix(contentID uuid.UUID) string {
	return "content/" + contentID.String() + "/"
}
