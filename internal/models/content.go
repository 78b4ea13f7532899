package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxRetainedVersions is how many versions per owner survive pruning
const MaxRetainedVersions = 10

// ContentVersion is one generated artifact in an owner's history
type ContentVersion struct {
	ID        uuid.UUID      `json:"id"`
	OwnerID   uuid.UUID      `json:"owner_id"`
	Type      GenerationType `json:"type"`
	Content   string         `json:"content"`
	Prompt    string         `json:"prompt"`
	Version   int            `json:"version"`
	ParentID  *uuid.UUID     `json:"parent_id,omitempty"`
	IsCurrent bool           `json:"is_current"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// VersionSummary is the listing view of a version, without its payload
type VersionSummary struct {
	ID        uuid.UUID      `json:"id"`
	Version   int            `json:"version"`
	Type      GenerationType `json:"type"`
	Prompt    string         `json:"prompt"`
	IsCurrent bool           `json:"is_current"`
	CreatedAt time.Time      `json:"created_at"`
}

// BlobArea names the logical area a blob is stored under
type BlobArea string

const (
	BlobAreaAudio BlobArea = "audio"
	BlobAreaQuiz  BlobArea = "quiz"
)

// BlobAreas lists every blob area
var BlobAreas = []BlobArea{BlobAreaAudio, BlobAreaQuiz}

// Valid reports whether a is a known blob area
func (a BlobArea) Valid() bool {
	return a == BlobAreaAudio || a == BlobAreaQuiz
}

// Blob is a binary payload owned by a content version
type Blob struct {
	ContentID   uuid.UUID `json:"content_id"`
	Area        BlobArea  `json:"area"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Data        []byte    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}
