package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/repository"
)

const assetColumns = `id, tenant_id, name, slug, description, context_type, context, created_by, created_at, updated_at`

// CreateAsset inserts an asset.
func (q queries) CreateAsset(ctx context.Context, asset *domain.Asset) error {
	const query = `INSERT INTO config_assets (id, tenant_id, name, slug, description, context_type, context, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := q.db.QueryRow(ctx, query,
		asset.ID,
		asset.TenantID,
		asset.Name,
		asset.Slug,
		asset.Description,
		asset.ContextType,
		asset.Context,
		stringPtrToNil(asset.CreatedBy),
	).Scan(&asset.CreatedAt, &asset.UpdatedAt)
	return mapError(err)
}

// GetAssetByID fetches an asset scoped to its tenant.
func (q queries) GetAssetByID(ctx context.Context, tenantID, assetID string) (*domain.Asset, error) {
	const query = `SELECT ` + assetColumns + ` FROM config_assets WHERE tenant_id = $1 AND id = $2`
	return q.scanAsset(q.db.QueryRow(ctx, query, tenantID, assetID))
}

// GetAssetBySlug fetches an asset by its tenant-unique slug.
func (q queries) GetAssetBySlug(ctx context.Context, tenantID, slug string) (*domain.Asset, error) {
	const query = `SELECT ` + assetColumns + ` FROM config_assets WHERE tenant_id = $1 AND slug = $2`
	return q.scanAsset(q.db.QueryRow(ctx, query, tenantID, slug))
}

// LockAsset takes an exclusive row lock on the asset until the owning
// transaction ends. Outside a transaction the lock is released immediately,
// so only the engine calls this through InTx.
func (q queries) LockAsset(ctx context.Context, tenantID, assetID string) (*domain.Asset, error) {
	const query = `SELECT ` + assetColumns + ` FROM config_assets WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	return q.scanAsset(q.db.QueryRow(ctx, query, tenantID, assetID))
}

// ListAssets returns all assets belonging to a tenant.
func (q queries) ListAssets(ctx context.Context, tenantID string) ([]domain.Asset, error) {
	const query = `SELECT ` + assetColumns + ` FROM config_assets WHERE tenant_id = $1 ORDER BY updated_at DESC`
	rows, err := q.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := make([]domain.Asset, 0)
	for rows.Next() {
		asset, err := scanAssetRow(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, *asset)
	}
	return assets, rows.Err()
}

// DeleteAsset removes an asset; objects, values and versions cascade.
func (q queries) DeleteAsset(ctx context.Context, tenantID, assetID string) error {
	const query = `DELETE FROM config_assets WHERE tenant_id = $1 AND id = $2`
	cmdTag, err := q.db.Exec(ctx, query, tenantID, assetID)
	if err != nil {
		return mapError(err)
	}
	if cmdTag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateObject inserts a configuration object.
func (q queries) CreateObject(ctx context.Context, object *domain.Object) error {
	const query = `INSERT INTO config_objects (id, asset_id, name, kind, description, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at`
	err := q.db.QueryRow(ctx, query,
		object.ID,
		object.AssetID,
		object.Name,
		string(object.Kind),
		object.Description,
	).Scan(&object.CreatedAt)
	return mapError(err)
}

// GetObject fetches an object by its asset-unique name.
func (q queries) GetObject(ctx context.Context, assetID, name string) (*domain.Object, error) {
	const query = `SELECT id, asset_id, name, kind, description, created_at
		FROM config_objects WHERE asset_id = $1 AND name = $2`
	return q.scanObject(q.db.QueryRow(ctx, query, assetID, name))
}

// GetObjectByID fetches an object by identifier.
func (q queries) GetObjectByID(ctx context.Context, objectID string) (*domain.Object, error) {
	const query = `SELECT id, asset_id, name, kind, description, created_at
		FROM config_objects WHERE id = $1`
	return q.scanObject(q.db.QueryRow(ctx, query, objectID))
}

// ListObjects returns all objects of an asset ordered by name.
func (q queries) ListObjects(ctx context.Context, assetID string) ([]domain.Object, error) {
	const query = `SELECT id, asset_id, name, kind, description, created_at
		FROM config_objects WHERE asset_id = $1 ORDER BY name`
	rows, err := q.db.Query(ctx, query, assetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	objects := make([]domain.Object, 0)
	for rows.Next() {
		var (
			obj  domain.Object
			kind string
		)
		if err := rows.Scan(&obj.ID, &obj.AssetID, &obj.Name, &kind, &obj.Description, &obj.CreatedAt); err != nil {
			return nil, err
		}
		obj.Kind = domain.Kind(kind)
		objects = append(objects, obj)
	}
	return objects, rows.Err()
}

func (q queries) scanAsset(row pgx.Row) (*domain.Asset, error) {
	return scanAssetRow(row)
}

func scanAssetRow(row pgx.Row) (*domain.Asset, error) {
	var (
		asset     domain.Asset
		createdBy sql.NullString
	)
	if err := row.Scan(
		&asset.ID,
		&asset.TenantID,
		&asset.Name,
		&asset.Slug,
		&asset.Description,
		&asset.ContextType,
		&asset.Context,
		&createdBy,
		&asset.CreatedAt,
		&asset.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if createdBy.Valid {
		value := createdBy.String
		asset.CreatedBy = &value
	}
	return &asset, nil
}

func (q queries) scanObject(row pgx.Row) (*domain.Object, error) {
	var (
		obj  domain.Object
		kind string
	)
	if err := row.Scan(&obj.ID, &obj.AssetID, &obj.Name, &kind, &obj.Description, &obj.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	obj.Kind = domain.Kind(kind)
	return &obj, nil
}

func stringPtrToNil(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
