package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/studygen/internal/models"
	"github.com/google/uuid"
)

const queueColumns = `id, owner_id, user_id, type, prompt, status, retries, error_message, run_after, created_at, updated_at`

// QueueRepository persists generation requests
type QueueRepository struct {
	db *DB
}

// NewQueueRepository creates a new queue repository
func NewQueueRepository(db *DB) *QueueRepository {
	return &QueueRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.GenerationRequest, error) {
	req := &models.GenerationRequest{}
	var errorMessage sql.NullString

	err := row.Scan(
		&req.ID,
		&req.OwnerID,
		&req.UserID,
		&req.Type,
		&req.Prompt,
		&req.Status,
		&req.Retries,
		&errorMessage,
		&req.RunAfter,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if errorMessage.Valid {
		req.ErrorMessage = &errorMessage.String
	}
	return req, nil
}

func scanRequests(rows *sql.Rows) ([]*models.GenerationRequest, error) {
	defer rows.Close()

	var requests []*models.GenerationRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}
	return requests, nil
}

// Create inserts a new pending request
func (r *QueueRepository) Create(ctx context.Context, req *models.GenerationRequest) error {
	query := `
		INSERT INTO generation_queue (id, owner_id, user_id, type, prompt, status, retries, run_after, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING created_at, updated_at
	`

	now := time.Now()
	runAfter := req.RunAfter
	if runAfter.IsZero() {
		runAfter = now
	}

	err := r.db.QueryRowContext(ctx, query,
		req.ID,
		req.OwnerID,
		req.UserID,
		req.Type,
		req.Prompt,
		req.Status,
		req.Retries,
		runAfter,
		now,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create queue entry: %w", err)
	}

	req.RunAfter = runAfter
	return nil
}

// GetByID retrieves a queue entry by ID
func (r *QueueRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationRequest, error) {
	query := `SELECT ` + queueColumns + ` FROM generation_queue WHERE id = $1`

	req, err := scanRequest(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return req, nil
}

// Claim moves a pending entry with retries left and run_after at or before now to
// Processing. now is the caller's clock, the same one that wrote run_after, so skew
// against the database clock cannot make a due entry look early. It is a single
// conditional update, so two workers racing on the same id cannot both succeed;
// the loser gets ErrStateConflict.
func (r *QueueRepository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*models.GenerationRequest, error) {
	query := `
		UPDATE generation_queue
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = $3 AND run_after <= $5 AND retries < $4
		RETURNING ` + queueColumns

	req, err := scanRequest(r.db.QueryRowContext(ctx, query,
		id,
		models.RequestStatusProcessing,
		models.RequestStatusPending,
		models.MaxRetries,
		now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim %s: %w", id, ErrStateConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entry: %w", err)
	}
	return req, nil
}

// FailExhausted marks a pending entry whose retries are used up as Failed. It reports
// whether a row was changed.
func (r *QueueRepository) FailExhausted(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	query := `
		UPDATE generation_queue
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1 AND status = $4 AND retries >= $5
	`

	result, err := r.db.ExecContext(ctx, query,
		id,
		models.RequestStatusFailed,
		message,
		models.RequestStatusPending,
		models.MaxRetries,
	)
	if err != nil {
		return false, fmt.Errorf("failed to fail exhausted queue entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Reschedule returns a processing entry to Pending with a new attempt count and
// earliest run time
func (r *QueueRepository) Reschedule(ctx context.Context, id uuid.UUID, retries int, runAfter time.Time, message string) error {
	query := `
		UPDATE generation_queue
		SET status = $2, retries = $3, run_after = $4, error_message = $5, updated_at = now()
		WHERE id = $1 AND status = $6
	`

	return r.execTransition(ctx, "reschedule", query,
		id,
		models.RequestStatusPending,
		retries,
		runAfter,
		message,
		models.RequestStatusProcessing,
	)
}

// Fail permanently fails a processing entry
func (r *QueueRepository) Fail(ctx context.Context, id uuid.UUID, retries int, message string) error {
	query := `
		UPDATE generation_queue
		SET status = $2, retries = $3, error_message = $4, updated_at = now()
		WHERE id = $1 AND status = $5
	`

	return r.execTransition(ctx, "fail", query,
		id,
		models.RequestStatusFailed,
		retries,
		message,
		models.RequestStatusProcessing,
	)
}

// Complete removes a processing entry once its content has been committed
func (r *QueueRepository) Complete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM generation_queue WHERE id = $1 AND status = $2`
	return r.execTransition(ctx, "complete", query, id, models.RequestStatusProcessing)
}

func (r *QueueRepository) execTransition(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s queue entry: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %v: %w", op, args[0], ErrStateConflict)
	}
	return nil
}

// ListActiveByOwner returns the pending and processing entries of an owner, newest first
func (r *QueueRepository) ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.GenerationRequest, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM generation_queue
		WHERE owner_id = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID, models.RequestStatusPending, models.RequestStatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("failed to query active queue entries: %w", err)
	}
	return scanRequests(rows)
}

// ListFailedSince returns entries of an owner that failed at or after since
func (r *QueueRepository) ListFailedSince(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]*models.GenerationRequest, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM generation_queue
		WHERE owner_id = $1 AND status = $2 AND updated_at >= $3
		ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID, models.RequestStatusFailed, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed queue entries: %w", err)
	}
	return scanRequests(rows)
}

// ListOverdue returns pending entries that became runnable before the given time
func (r *QueueRepository) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*models.GenerationRequest, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM generation_queue
		WHERE status = $1 AND run_after < $2
		ORDER BY run_after ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, models.RequestStatusPending, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue queue entries: %w", err)
	}
	return scanRequests(rows)
}

// ListStale returns processing entries that have not been touched since before
func (r *QueueRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*models.GenerationRequest, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM generation_queue
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, models.RequestStatusProcessing, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale queue entries: %w", err)
	}
	return scanRequests(rows)
}

// DeleteByOwner removes every queue entry of an owner
func (r *QueueRepository) DeleteByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM generation_queue WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete queue entries: %w", err)
	}
	return result.RowsAffected()
}

// DeleteOlderThan removes entries created before cutoff, whatever their status
func (r *QueueRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM generation_queue WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reap queue entries: %w", err)
	}
	return result.RowsAffected()
}
