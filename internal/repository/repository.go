package repository

import (
	"context"
	"encoding/json"

	"github.com/configmat/configmat/internal/domain"
)

// AssetRepository persists assets and their objects.
type AssetRepository interface {
	CreateAsset(ctx context.Context, asset *domain.Asset) error
	GetAssetByID(ctx context.Context, tenantID, assetID string) (*domain.Asset, error)
	GetAssetBySlug(ctx context.Context, tenantID, slug string) (*domain.Asset, error)
	ListAssets(ctx context.Context, tenantID string) ([]domain.Asset, error)
	DeleteAsset(ctx context.Context, tenantID, assetID string) error
	CreateObject(ctx context.Context, object *domain.Object) error
	GetObject(ctx context.Context, assetID, name string) (*domain.Object, error)
	ListObjects(ctx context.Context, assetID string) ([]domain.Object, error)
}

// ObjectValues bundles an object with its values for one environment, the
// result shape of the batched per-asset read.
type ObjectValues struct {
	Object domain.Object
	Values []domain.Value
}

// ValueRepository persists typed configuration values.
type ValueRepository interface {
	ListValues(ctx context.Context, objectID, environment string) ([]domain.Value, error)
	GetValue(ctx context.Context, objectID, environment, key string) (*domain.Value, error)
	UpsertValue(ctx context.Context, value *domain.Value) error
	DeleteValues(ctx context.Context, objectID, environment string, keys []string) error
	// ListAssetValues loads every object of the asset together with its
	// values for the environment in a single batched query.
	ListAssetValues(ctx context.Context, assetID, environment string) ([]ObjectValues, error)
}

// VersionRepository persists immutable version snapshots. CreateVersion
// assigns the next per-(object, environment) number atomically and fills it
// in on the passed struct.
type VersionRepository interface {
	CreateVersion(ctx context.Context, version *domain.Version) error
	GetVersion(ctx context.Context, versionID string) (*domain.Version, error)
	ListVersions(ctx context.Context, objectID, environment string, limit int) ([]domain.Version, error)
}

// AuditRepository persists the per-tenant hash chain. AppendEntry performs
// the chained write in one transaction, holding the tenant's chain-head row
// lock while it reads the previous hash, so concurrent appends cannot fork
// the chain.
type AuditRepository interface {
	AppendEntry(ctx context.Context, tenantID string, actorID *string, action, target string, details json.RawMessage) (*domain.AuditEntry, error)
	ListEntries(ctx context.Context, tenantID string, limit, offset int) ([]domain.AuditEntry, error)
	// ChainEntries returns the full chain in creation order for verification.
	ChainEntries(ctx context.Context, tenantID string) ([]domain.AuditEntry, error)
}

// EngineTx is the transactional view the promotion/rollback engine works
// through. Every method runs inside the owning transaction; an error from
// the InTx callback rolls everything back.
type EngineTx interface {
	// LockAsset takes an exclusive row lock on the asset for the rest of
	// the transaction, serializing concurrent promotions of that asset.
	LockAsset(ctx context.Context, tenantID, assetID string) (*domain.Asset, error)
	GetAssetByID(ctx context.Context, tenantID, assetID string) (*domain.Asset, error)
	GetObjectByID(ctx context.Context, objectID string) (*domain.Object, error)
	ListObjects(ctx context.Context, assetID string) ([]domain.Object, error)
	ListValues(ctx context.Context, objectID, environment string) ([]domain.Value, error)
	UpsertValue(ctx context.Context, value *domain.Value) error
	DeleteValues(ctx context.Context, objectID, environment string, keys []string) error
	DeleteAllValues(ctx context.Context, objectID, environment string) error
	CreateVersion(ctx context.Context, version *domain.Version) error
	GetVersion(ctx context.Context, versionID string) (*domain.Version, error)
}

// EngineStore runs engine operations inside a single transaction.
type EngineStore interface {
	InTx(ctx context.Context, fn func(tx EngineTx) error) error
}
