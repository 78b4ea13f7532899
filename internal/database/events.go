package database

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/studygen/internal/models"
	"github.com/google/uuid"
)

// EventRepository records terminal outcomes of queue entries
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts an event
func (r *EventRepository) Create(ctx context.Context, e *models.GenerationEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	var versionID uuid.NullUUID
	if e.VersionID != nil {
		versionID = uuid.NullUUID{UUID: *e.VersionID, Valid: true}
	}

	query := `
		INSERT INTO generation_events (id, queue_id, owner_id, user_id, type, kind, version_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		e.ID,
		e.QueueID,
		e.OwnerID,
		e.UserID,
		e.Type,
		e.Kind,
		versionID,
		e.Message,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create generation event: %w", err)
	}
	return nil
}

// ListSince returns events of the given kind recorded for an owner at or after since
func (r *EventRepository) ListSince(ctx context.Context, ownerID uuid.UUID, kind models.EventKind, since time.Time) ([]*models.GenerationEvent, error) {
	query := `
		SELECT id, queue_id, owner_id, user_id, type, kind, version_id, message, created_at
		FROM generation_events
		WHERE owner_id = $1 AND kind = $2 AND created_at >= $3
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID, kind, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation events: %w", err)
	}
	defer rows.Close()

	var events []*models.GenerationEvent
	for rows.Next() {
		e := &models.GenerationEvent{}
		var versionID uuid.NullUUID
		if err := rows.Scan(&e.ID, &e.QueueID, &e.OwnerID, &e.UserID, &e.Type, &e.Kind, &versionID, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan generation event: %w", err)
		}
		if versionID.Valid {
			id := versionID.UUID
			e.VersionID = &id
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating generation events: %w", err)
	}
	return events, nil
}

// DeleteByOwner removes every event of an owner
func (r *EventRepository) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM generation_events WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete generation events: %w", err)
	}
	return result.RowsAffected()
}

// DeleteOlderThan removes events recorded before cutoff
func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM generation_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reap generation events: %w", err)
	}
	return result.RowsAffected()
}
