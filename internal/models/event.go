package models

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the outcome recorded in the generation event log
type EventKind string

const (
	EventKindCompleted EventKind = "completed"
	EventKindFailed    EventKind = "failed"
)

// GenerationEvent records a terminal outcome of a queue entry. Successful entries are
// deleted from the queue, so this log is what status checks use to report completions.
type GenerationEvent struct {
	ID        uuid.UUID      `json:"id"`
	QueueID   uuid.UUID      `json:"queue_id"`
	OwnerID   uuid.UUID      `json:"owner_id"`
	UserID    uuid.UUID      `json:"user_id"`
	Type      GenerationType `json:"type"`
	Kind      EventKind      `json:"kind"`
	VersionID *uuid.UUID     `json:"version_id,omitempty"`
	Message   string         `json:"message,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
