package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/repository"
)

// CreateVersion stores a snapshot, assigning the next version number for
// (object, environment) in the same statement. The unique constraint on
// (object_id, environment, version_number) catches any race the caller's
// locking discipline lets through.
func (q queries) CreateVersion(ctx context.Context, version *domain.Version) error {
	if version.ID == "" {
		version.ID = uuid.NewString()
	}
	snapshot, err := json.Marshal(version.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	const query = `INSERT INTO config_versions (id, object_id, environment, version_number, value_snapshot, change_summary, created_by, created_at)
		VALUES ($1, $2, $3,
			(SELECT COALESCE(MAX(version_number), 0) + 1 FROM config_versions WHERE object_id = $2 AND environment = $3),
			$4, $5, $6, NOW())
		RETURNING version_number, created_at`
	err = q.db.QueryRow(ctx, query,
		version.ID,
		version.ObjectID,
		version.Environment,
		snapshot,
		version.Summary,
		stringPtrToNil(version.CreatedBy),
	).Scan(&version.Number, &version.CreatedAt)
	return mapError(err)
}

// GetVersion loads one snapshot by identifier.
func (q queries) GetVersion(ctx context.Context, versionID string) (*domain.Version, error) {
	const query = `SELECT id, object_id, environment, version_number, value_snapshot, change_summary, created_by, created_at
		FROM config_versions WHERE id = $1`
	return scanVersion(q.db.QueryRow(ctx, query, versionID))
}

// ListVersions returns snapshots for (object, environment), newest first.
func (q queries) ListVersions(ctx context.Context, objectID, environment string, limit int) ([]domain.Version, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, object_id, environment, version_number, value_snapshot, change_summary, created_by, created_at
		FROM config_versions WHERE object_id = $1 AND environment = $2
		ORDER BY version_number DESC LIMIT $3`
	rows, err := q.db.Query(ctx, query, objectID, environment, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make([]domain.Version, 0)
	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, *version)
	}
	return versions, rows.Err()
}

func scanVersion(row pgx.Row) (*domain.Version, error) {
	var (
		version   domain.Version
		snapshot  []byte
		createdBy sql.NullString
	)
	if err := row.Scan(
		&version.ID,
		&version.ObjectID,
		&version.Environment,
		&version.Number,
		&snapshot,
		&version.Summary,
		&createdBy,
		&version.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &version.Snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if createdBy.Valid {
		value := createdBy.String
		version.CreatedBy = &value
	}
	return &version, nil
}
