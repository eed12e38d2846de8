// Package promotion moves configuration between environments and restores
// historical versions. Every state change runs inside one database
// transaction holding the asset row lock, so concurrent promotions of the
// same asset serialize instead of interleaving.
package promotion

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"github.com/configmat/configmat/internal/cache"
	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/events"
	"github.com/configmat/configmat/internal/repository"
	"github.com/configmat/configmat/internal/service/audit"
)

// Service is the promotion and rollback engine.
type Service struct {
	assets   repository.AssetRepository
	versions repository.VersionRepository
	engine   repository.EngineStore
	store    cache.Store
	audit    *audit.Service
	hub      *events.Hub
	logger   *slog.Logger
}

// New constructs a promotion service.
func New(assets repository.AssetRepository, versions repository.VersionRepository, engine repository.EngineStore, store cache.Store, auditSvc *audit.Service, hub *events.Hub, logger *slog.Logger) Service {
	return Service{assets: assets, versions: versions, engine: engine, store: store, audit: auditSvc, hub: hub, logger: logger}
}

var errSameEnvironment = fmt.Errorf("%w: source and target environment must differ", repository.ErrInvalidArgument)

// PromoteResult reports what a promotion changed.
type PromoteResult struct {
	AssetID  string           `json:"asset_id"`
	FromEnv  string           `json:"from_env"`
	ToEnv    string           `json:"to_env"`
	Objects  int              `json:"objects"`
	Versions []domain.Version `json:"versions"`
}

// Promote copies configuration of every object under the asset from one
// environment to another. Key-value objects sync structure: keys missing
// in the target are copied from the source, keys absent from the source
// are deleted, and keys present in both keep their target values. All
// other kinds are overwritten whole. An object with no source values has
// its target values cleared. Each object whose resulting target state is
// non-empty gets a new version snapshot.
func (s Service) Promote(ctx context.Context, scope domain.Scope, assetSlug, fromEnv, toEnv string) (*PromoteResult, error) {
	assetSlug = strings.TrimSpace(assetSlug)
	fromEnv = strings.TrimSpace(fromEnv)
	toEnv = strings.TrimSpace(toEnv)
	if assetSlug == "" || fromEnv == "" || toEnv == "" {
		return nil, fmt.Errorf("%w: asset slug, source and target environment required", repository.ErrInvalidArgument)
	}
	if fromEnv == toEnv {
		return nil, errSameEnvironment
	}

	asset, err := s.assets.GetAssetBySlug(ctx, scope.TenantID, assetSlug)
	if err != nil {
		return nil, err
	}

	result := &PromoteResult{AssetID: asset.ID, FromEnv: fromEnv, ToEnv: toEnv}
	var touched []string
	err = s.engine.InTx(ctx, func(tx repository.EngineTx) error {
		// The row lock serializes concurrent promotions of this asset.
		if _, err := tx.LockAsset(ctx, scope.TenantID, asset.ID); err != nil {
			return err
		}
		objects, err := tx.ListObjects(ctx, asset.ID)
		if err != nil {
			return err
		}
		for _, object := range objects {
			keys, err := s.promoteObject(ctx, tx, object, fromEnv, toEnv)
			if err != nil {
				return fmt.Errorf("promote object %s: %w", object.Name, err)
			}
			for _, key := range keys {
				touched = append(touched, cache.ValueKey(scope.TenantID, toEnv, asset.Slug, object.Name, key))
			}

			// Snapshot the resulting target state. Empty states are not
			// versioned.
			target, err := tx.ListValues(ctx, object.ID, toEnv)
			if err != nil {
				return err
			}
			if len(target) == 0 {
				continue
			}
			version := domain.Version{
				ObjectID:    object.ID,
				Environment: toEnv,
				Snapshot:    domain.SnapshotOf(target),
				Summary:     fmt.Sprintf("Promoted from %s (Structure Sync)", fromEnv),
				CreatedBy:   actorPtr(scope),
			}
			if err := tx.CreateVersion(ctx, &version); err != nil {
				return err
			}
			result.Versions = append(result.Versions, version)
		}
		result.Objects = len(objects)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, append(touched, cache.AssetKey(scope.TenantID, toEnv, asset.Slug)))
	details := map[string]any{
		"asset_slug": asset.Slug,
		"from_env":   fromEnv,
		"to_env":     toEnv,
	}
	s.record(ctx, scope, "Promoted Asset",
		fmt.Sprintf("%s (%s -> %s)", asset.Name, fromEnv, toEnv),
		details, events.TypePromoted)

	s.logger.Info("asset promoted",
		"tenant", scope.TenantID,
		"asset", asset.Slug,
		"from", fromEnv,
		"to", toEnv,
		"objects", result.Objects,
	)
	return result, nil
}

// promoteObject applies the kind's strategy inside the transaction and
// returns the keys whose target values changed.
func (s Service) promoteObject(ctx context.Context, tx repository.EngineTx, object domain.Object, fromEnv, toEnv string) ([]string, error) {
	source, err := tx.ListValues(ctx, object.ID, fromEnv)
	if err != nil {
		return nil, err
	}
	if len(source) == 0 {
		// An empty source clears the target outright.
		target, err := tx.ListValues(ctx, object.ID, toEnv)
		if err != nil {
			return nil, err
		}
		if len(target) == 0 {
			return nil, nil
		}
		keys := make([]string, 0, len(target))
		for _, v := range target {
			keys = append(keys, v.Key)
		}
		return keys, tx.DeleteAllValues(ctx, object.ID, toEnv)
	}

	if object.Kind.Strategy() == domain.SyncStructure {
		return s.syncStructure(ctx, tx, object.ID, source, toEnv)
	}
	return s.fullOverwrite(ctx, tx, object.ID, source, toEnv)
}

// syncStructure reconciles the target key set against the source: copy new
// keys, drop obsolete ones, keep shared keys untouched.
func (s Service) syncStructure(ctx context.Context, tx repository.EngineTx, objectID string, source []domain.Value, toEnv string) ([]string, error) {
	target, err := tx.ListValues(ctx, objectID, toEnv)
	if err != nil {
		return nil, err
	}
	targetKeys := make(map[string]struct{}, len(target))
	for _, v := range target {
		targetKeys[v.Key] = struct{}{}
	}
	sourceKeys := make(map[string]struct{}, len(source))

	var touched []string
	for _, value := range source {
		sourceKeys[value.Key] = struct{}{}
		if _, exists := targetKeys[value.Key]; exists {
			continue
		}
		copied := retarget(value, toEnv)
		if err := tx.UpsertValue(ctx, &copied); err != nil {
			return nil, err
		}
		touched = append(touched, value.Key)
	}

	var obsolete []string
	for _, v := range target {
		if _, keep := sourceKeys[v.Key]; !keep {
			obsolete = append(obsolete, v.Key)
		}
	}
	if len(obsolete) > 0 {
		if err := tx.DeleteValues(ctx, objectID, toEnv, obsolete); err != nil {
			return nil, err
		}
		touched = append(touched, obsolete...)
	}
	return touched, nil
}

// fullOverwrite replaces the target values with the source values.
func (s Service) fullOverwrite(ctx context.Context, tx repository.EngineTx, objectID string, source []domain.Value, toEnv string) ([]string, error) {
	target, err := tx.ListValues(ctx, objectID, toEnv)
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteAllValues(ctx, objectID, toEnv); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(source)+len(target))
	var touched []string
	for _, v := range target {
		seen[v.Key] = struct{}{}
		touched = append(touched, v.Key)
	}
	for _, value := range source {
		copied := retarget(value, toEnv)
		if err := tx.UpsertValue(ctx, &copied); err != nil {
			return nil, err
		}
		if _, dup := seen[value.Key]; !dup {
			touched = append(touched, value.Key)
		}
	}
	return touched, nil
}

// Rollback restores an object's values in the version's environment to the
// recorded snapshot and records the restore as a new version. Keys not in
// the snapshot are deleted; snapshot values are upserted as-is, dangling
// references included.
func (s Service) Rollback(ctx context.Context, scope domain.Scope, versionID string) (*domain.Version, error) {
	versionID = strings.TrimSpace(versionID)
	if versionID == "" {
		return nil, fmt.Errorf("%w: version id required", repository.ErrInvalidArgument)
	}

	var (
		restored   domain.Version
		object     *domain.Object
		asset      *domain.Asset
		fromNumber int
		touched    []string
	)
	err := s.engine.InTx(ctx, func(tx repository.EngineTx) error {
		version, err := tx.GetVersion(ctx, versionID)
		if err != nil {
			return err
		}
		fromNumber = version.Number
		object, err = tx.GetObjectByID(ctx, version.ObjectID)
		if err != nil {
			return err
		}
		// The tenant-scoped asset read doubles as the ownership check; a
		// foreign tenant's version id resolves to not found.
		asset, err = tx.LockAsset(ctx, scope.TenantID, object.AssetID)
		if err != nil {
			return err
		}

		current, err := tx.ListValues(ctx, object.ID, version.Environment)
		if err != nil {
			return err
		}
		snapshotKeys := make(map[string]struct{}, len(version.Snapshot))
		for _, sv := range version.Snapshot {
			snapshotKeys[sv.Key] = struct{}{}
		}
		var obsolete []string
		for _, v := range current {
			if _, keep := snapshotKeys[v.Key]; !keep {
				obsolete = append(obsolete, v.Key)
			}
		}
		if len(obsolete) > 0 {
			if err := tx.DeleteValues(ctx, object.ID, version.Environment, obsolete); err != nil {
				return err
			}
		}
		for _, key := range obsolete {
			touched = append(touched, cache.ValueKey(scope.TenantID, version.Environment, asset.Slug, object.Name, key))
		}
		for _, value := range version.Restore() {
			if err := tx.UpsertValue(ctx, &value); err != nil {
				return err
			}
			touched = append(touched, cache.ValueKey(scope.TenantID, version.Environment, asset.Slug, object.Name, value.Key))
		}

		state, err := tx.ListValues(ctx, object.ID, version.Environment)
		if err != nil {
			return err
		}
		restored = domain.Version{
			ObjectID:    object.ID,
			Environment: version.Environment,
			Snapshot:    domain.SnapshotOf(state),
			Summary:     fmt.Sprintf("Rolled back to v%d", version.Number),
			CreatedBy:   actorPtr(scope),
		}
		if len(state) == 0 {
			return nil
		}
		return tx.CreateVersion(ctx, &restored)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, append(touched, cache.AssetKey(scope.TenantID, restored.Environment, asset.Slug)))
	details := map[string]any{
		"asset_slug":    asset.Slug,
		"config_object": object.Name,
		"version":       fromNumber,
		"environment":   restored.Environment,
	}
	s.record(ctx, scope, "Rolled Back Config",
		fmt.Sprintf("%s (v%d)", object.Name, fromNumber),
		details, events.TypeRolledBack)

	s.logger.Info("object rolled back",
		"tenant", scope.TenantID,
		"object", object.Name,
		"environment", restored.Environment,
		"new_version", restored.Number,
	)
	return &restored, nil
}

// History lists version snapshots of one object in one environment, newest
// first.
func (s Service) History(ctx context.Context, scope domain.Scope, assetSlug, objectName, environment string, limit int) ([]domain.Version, error) {
	asset, err := s.assets.GetAssetBySlug(ctx, scope.TenantID, strings.TrimSpace(assetSlug))
	if err != nil {
		return nil, err
	}
	object, err := s.assets.GetObject(ctx, asset.ID, strings.TrimSpace(objectName))
	if err != nil {
		return nil, err
	}
	return s.versions.ListVersions(ctx, object.ID, environment, limit)
}

// retarget clones a value row into another environment.
func retarget(value domain.Value, environment string) domain.Value {
	value.ID = ""
	value.Environment = environment
	return value
}

func actorPtr(scope domain.Scope) *string {
	if scope.ActorID == "" {
		return nil
	}
	actor := scope.ActorID
	return &actor
}

func (s Service) invalidate(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", "keys", len(keys), "error", err)
	}
}

func (s Service) record(ctx context.Context, scope domain.Scope, action, target string, details map[string]any, eventType string) {
	if _, err := s.audit.Append(ctx, scope, action, target, details); err != nil {
		s.logger.Error("audit append failed", "action", action, "target", target, "error", err)
	}
	s.hub.Publish(events.Event{
		Type:     eventType,
		TenantID: scope.TenantID,
		ActorID:  scope.ActorID,
		Target:   target,
		Details:  details,
	})
}
