package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/studygen/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const versionColumns = `id, owner_id, type, content, prompt, version, parent_id, is_current, created_at, updated_at`

// ContentRepository persists versioned content. Commit and Restore serialize per owner
// by locking the owner's content_owners row for the length of the transaction.
type ContentRepository struct {
	db *DB
}

// NewContentRepository creates a new content repository
func NewContentRepository(db *DB) *ContentRepository {
	return &ContentRepository{db: db}
}

func scanVersion(row rowScanner) (*models.ContentVersion, error) {
	v := &models.ContentVersion{}
	var parentID uuid.NullUUID

	err := row.Scan(
		&v.ID,
		&v.OwnerID,
		&v.Type,
		&v.Content,
		&v.Prompt,
		&v.Version,
		&parentID,
		&v.IsCurrent,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		id := parentID.UUID
		v.ParentID = &id
	}
	return v, nil
}

// Commit stores v as the owner's new current version. Version and ParentID are
// assigned here: the version number comes from the owner's counter, which never
// goes backwards, and the parent is whatever was current before. beforeCommit, when
// set, runs inside the transaction after the insert; an error from it rolls the
// commit back.
func (r *ContentRepository) Commit(ctx context.Context, v *models.ContentVersion, beforeCommit func(ctx context.Context, v *models.ContentVersion) error) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		lastVersion, err := lockOwner(ctx, tx, v.OwnerID, true)
		if err != nil {
			return err
		}

		var parentID uuid.NullUUID
		err = tx.QueryRowContext(ctx,
			`SELECT id FROM content_versions WHERE owner_id = $1 AND is_current`,
			v.OwnerID,
		).Scan(&parentID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read current version: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE content_versions SET is_current = FALSE, updated_at = now() WHERE owner_id = $1 AND is_current`,
			v.OwnerID,
		); err != nil {
			return fmt.Errorf("failed to clear current version: %w", err)
		}

		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.Version = lastVersion + 1
		v.IsCurrent = true
		v.ParentID = nil
		if parentID.Valid {
			id := parentID.UUID
			v.ParentID = &id
		}

		now := time.Now()
		err = tx.QueryRowContext(ctx, `
			INSERT INTO content_versions (id, owner_id, type, content, prompt, version, parent_id, is_current, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $8)
			RETURNING created_at, updated_at
		`,
			v.ID,
			v.OwnerID,
			v.Type,
			v.Content,
			v.Prompt,
			v.Version,
			parentID,
			now,
		).Scan(&v.CreatedAt, &v.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert content version: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE content_owners SET last_version = $2, updated_at = now() WHERE owner_id = $1`,
			v.OwnerID, v.Version,
		); err != nil {
			return fmt.Errorf("failed to advance version counter: %w", err)
		}

		if beforeCommit != nil {
			return beforeCommit(ctx, v)
		}
		return nil
	})
}

// lockOwner takes the per-owner row lock and returns the last issued version number.
// With create set a missing owner row is inserted first.
func lockOwner(ctx context.Context, tx *sql.Tx, ownerID uuid.UUID, create bool) (int, error) {
	if create {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO content_owners (owner_id) VALUES ($1) ON CONFLICT (owner_id) DO NOTHING`,
			ownerID,
		); err != nil {
			return 0, fmt.Errorf("failed to register content owner: %w", err)
		}
	}

	var lastVersion int
	err := tx.QueryRowContext(ctx,
		`SELECT last_version FROM content_owners WHERE owner_id = $1 FOR UPDATE`,
		ownerID,
	).Scan(&lastVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("content owner %s: %w", ownerID, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock content owner: %w", err)
	}
	return lastVersion, nil
}

// Restore makes versionID the owner's current version
func (r *ContentRepository) Restore(ctx context.Context, ownerID, versionID uuid.UUID) (*models.ContentVersion, error) {
	var restored *models.ContentVersion

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockOwner(ctx, tx, ownerID, false); err != nil {
			return err
		}

		var actualOwner uuid.UUID
		err := tx.QueryRowContext(ctx,
			`SELECT owner_id FROM content_versions WHERE id = $1`,
			versionID,
		).Scan(&actualOwner)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("content version %s: %w", versionID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read content version: %w", err)
		}
		if actualOwner != ownerID {
			return fmt.Errorf("content version %s: %w", versionID, ErrOwnerMismatch)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE content_versions SET is_current = FALSE, updated_at = now() WHERE owner_id = $1 AND is_current AND id <> $2`,
			ownerID, versionID,
		); err != nil {
			return fmt.Errorf("failed to clear current version: %w", err)
		}

		restored, err = scanVersion(tx.QueryRowContext(ctx, `
			UPDATE content_versions SET is_current = TRUE, updated_at = now()
			WHERE id = $1
			RETURNING `+versionColumns,
			versionID,
		))
		if err != nil {
			return fmt.Errorf("failed to mark version current: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restored, nil
}

// Current returns the owner's current version
func (r *ContentRepository) Current(ctx context.Context, ownerID uuid.UUID) (*models.ContentVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM content_versions WHERE owner_id = $1 AND is_current`

	v, err := scanVersion(r.db.QueryRowContext(ctx, query, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("current content for %s: %w", ownerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current content: %w", err)
	}
	return v, nil
}

// GetByID retrieves a version by ID
func (r *ContentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ContentVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM content_versions WHERE id = $1`

	v, err := scanVersion(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content version %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content version: %w", err)
	}
	return v, nil
}

// List returns summaries of every retained version of an owner, newest first
func (r *ContentRepository) List(ctx context.Context, ownerID uuid.UUID) ([]*models.VersionSummary, error) {
	query := `
		SELECT id, version, type, prompt, is_current, created_at
		FROM content_versions
		WHERE owner_id = $1
		ORDER BY version DESC
	`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query content versions: %w", err)
	}
	defer rows.Close()

	var summaries []*models.VersionSummary
	for rows.Next() {
		s := &models.VersionSummary{}
		if err := rows.Scan(&s.ID, &s.Version, &s.Type, &s.Prompt, &s.IsCurrent, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan content version: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating content versions: %w", err)
	}
	return summaries, nil
}

// Prune removes the owner's non-current versions that fall outside the newest keep.
// Candidates are chosen under the owner lock, so a concurrent Restore either finishes
// first and its version is spared, or waits until the prune commits. clear runs under
// the same lock and returns the candidates whose blobs are gone; only those rows are
// deleted, the rest stay for a later prune.
func (r *ContentRepository) Prune(ctx context.Context, ownerID uuid.UUID, keep int, clear func(ctx context.Context, ids []uuid.UUID) []uuid.UUID) (int64, error) {
	var deleted int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockOwner(ctx, tx, ownerID, false); err != nil {
			return err
		}

		ids, err := queryIDs(ctx, tx, `
			SELECT id FROM (
				SELECT id, is_current FROM content_versions
				WHERE owner_id = $1
				ORDER BY version DESC
				OFFSET $2
			) old
			WHERE NOT old.is_current
		`, ownerID, keep)
		if err != nil || len(ids) == 0 {
			return err
		}

		if clear != nil {
			ids = clear(ctx, ids)
		}
		deleted, err = deleteVersions(ctx, tx, ownerID, ids, `AND NOT is_current`)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return deleted, err
}

// DeleteByOwner removes every version of an owner under the owner lock. clear runs
// first with the ids being removed; an error from it keeps every row. The owner row
// and its version counter are kept so numbers are never reused.
func (r *ContentRepository) DeleteByOwner(ctx context.Context, ownerID uuid.UUID, clear func(ctx context.Context, ids []uuid.UUID) error) (int64, error) {
	var deleted int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockOwner(ctx, tx, ownerID, false); err != nil {
			return err
		}

		ids, err := queryIDs(ctx, tx, `SELECT id FROM content_versions WHERE owner_id = $1`, ownerID)
		if err != nil || len(ids) == 0 {
			return err
		}

		if clear != nil {
			if err := clear(ctx, ids); err != nil {
				return err
			}
		}
		deleted, err = deleteVersions(ctx, tx, ownerID, ids, "")
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	return deleted, err
}

func queryIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query content version ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan content version id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating content version ids: %w", err)
	}
	return ids, nil
}

func deleteVersions(ctx context.Context, tx *sql.Tx, ownerID uuid.UUID, ids []uuid.UUID, filter string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	result, err := tx.ExecContext(ctx,
		`DELETE FROM content_versions WHERE owner_id = $1 AND id = ANY($2::uuid[]) `+filter,
		ownerID, pq.StringArray(strIDs),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete content versions: %w", err)
	}
	return result.RowsAffected()
}

// UpdateCurrentContent rewrites the payload of the owner's current version in place
func (r *ContentRepository) UpdateCurrentContent(ctx context.Context, ownerID uuid.UUID, content string) (*models.ContentVersion, error) {
	query := `
		UPDATE content_versions SET content = $2, updated_at = now()
		WHERE owner_id = $1 AND is_current
		RETURNING ` + versionColumns

	v, err := scanVersion(r.db.QueryRowContext(ctx, query, ownerID, content))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("current content for %s: %w", ownerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update current content: %w", err)
	}
	return v, nil
}
