// Package resolve materializes configuration views for (asset, environment)
// pairs behind a TTL cache with explicit invalidation.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/configmat/configmat/internal/cache"
	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/repository"
	"github.com/configmat/configmat/pkg/crypto"
)

// Service computes resolved configuration views.
type Service struct {
	assets repository.AssetRepository
	values repository.ValueRepository
	store  cache.Store
	cipher crypto.Cipher
	logger *slog.Logger
	ttl    time.Duration
}

// New constructs a resolve service. ttl <= 0 falls back to the default
// 300 second cache lifetime.
func New(assets repository.AssetRepository, values repository.ValueRepository, store cache.Store, cipher crypto.Cipher, logger *slog.Logger, ttl time.Duration) Service {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	return Service{assets: assets, values: values, store: store, cipher: cipher, logger: logger, ttl: ttl}
}

var (
	errSlugRequired        = fmt.Errorf("%w: asset slug required", repository.ErrInvalidArgument)
	errEnvironmentRequired = fmt.Errorf("%w: environment required", repository.ErrInvalidArgument)
)

// Resolve returns the fully materialized configuration for an asset in one
// environment as a JSON document mapping object names to resolved values.
// Repeated calls without an intervening mutation return the cached bytes
// verbatim and perform no store reads.
func (s Service) Resolve(ctx context.Context, scope domain.Scope, assetSlug, environment string) (json.RawMessage, error) {
	assetSlug = strings.TrimSpace(assetSlug)
	if assetSlug == "" {
		return nil, errSlugRequired
	}
	environment = strings.TrimSpace(environment)
	if environment == "" {
		return nil, errEnvironmentRequired
	}

	cacheKey := cache.AssetKey(scope.TenantID, environment, assetSlug)
	if payload, ok := s.cacheGet(ctx, cacheKey); ok {
		return payload, nil
	}

	asset, err := s.assets.GetAssetBySlug(ctx, scope.TenantID, assetSlug)
	if err != nil {
		return nil, err
	}
	// One batched read for every object and value of the asset.
	objectValues, err := s.values.ListAssetValues(ctx, asset.ID, environment)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]any, len(objectValues))
	for _, ov := range objectValues {
		if ov.Object.Kind == domain.KindKeyValue {
			kv := make(map[string]any, len(ov.Values))
			for _, value := range ov.Values {
				kv[value.Key] = s.resolveValue(value)
			}
			resolved[ov.Object.Name] = kv
			continue
		}
		// Single-value kinds resolve to their one value, or null.
		if len(ov.Values) == 0 {
			resolved[ov.Object.Name] = nil
			continue
		}
		resolved[ov.Object.Name] = s.resolveValue(ov.Values[0])
	}

	payload, err := json.Marshal(resolved)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, cacheKey, payload)
	return payload, nil
}

// ResolveOne returns a single resolved value as JSON, cached at
// (tenant, environment, asset, object, key) granularity.
func (s Service) ResolveOne(ctx context.Context, scope domain.Scope, assetSlug, environment, objectName, key string) (json.RawMessage, error) {
	assetSlug = strings.TrimSpace(assetSlug)
	if assetSlug == "" {
		return nil, errSlugRequired
	}
	environment = strings.TrimSpace(environment)
	if environment == "" {
		return nil, errEnvironmentRequired
	}

	cacheKey := cache.ValueKey(scope.TenantID, environment, assetSlug, objectName, key)
	if payload, ok := s.cacheGet(ctx, cacheKey); ok {
		return payload, nil
	}

	asset, err := s.assets.GetAssetBySlug(ctx, scope.TenantID, assetSlug)
	if err != nil {
		return nil, err
	}
	object, err := s.assets.GetObject(ctx, asset.ID, objectName)
	if err != nil {
		return nil, err
	}
	value, err := s.values.GetValue(ctx, object.ID, environment, key)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(s.resolveValue(*value))
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, cacheKey, payload)
	return payload, nil
}

// InvalidateAsset drops the cached view for (tenant, environment, asset).
func (s Service) InvalidateAsset(ctx context.Context, tenantID, environment, assetSlug string) {
	if err := s.store.Delete(ctx, cache.AssetKey(tenantID, environment, assetSlug)); err != nil {
		s.logger.Warn("cache invalidation failed", "scope", "asset", "error", err)
	}
}

// InvalidateValue drops both the asset-level view and the single-value
// entry touched by a mutation of (object, key).
func (s Service) InvalidateValue(ctx context.Context, tenantID, environment, assetSlug, objectName, key string) {
	keys := []string{
		cache.AssetKey(tenantID, environment, assetSlug),
		cache.ValueKey(tenantID, environment, assetSlug, objectName, key),
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", "scope", "value", "error", err)
	}
}

// resolveValue interprets one stored value by its typetag. Unparseable
// numbers resolve to 0 and booleans are true only for the literal "true",
// matching what callers of the read API rely on.
func (s Service) resolveValue(value domain.Value) any {
	literal := ""
	if value.StringValue != nil {
		literal = *value.StringValue
	}
	switch value.Type {
	case domain.TypeString:
		return literal
	case domain.TypeNumber:
		parsed, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return float64(0)
		}
		return parsed
	case domain.TypeBoolean:
		return literal == "true"
	case domain.TypeJSON:
		return value.JSONValue
	case domain.TypeReference:
		ref := ""
		if value.ReferenceID != nil {
			ref = *value.ReferenceID
		}
		return map[string]any{"_ref": ref}
	case domain.TypeEncrypted:
		plain, err := s.cipher.Decrypt(value.EncryptedValue)
		if err != nil {
			s.logger.Warn("decrypt failed during resolution", "key", value.Key, "error", err)
			return nil
		}
		return plain
	}
	return nil
}

func (s Service) cacheGet(ctx context.Context, key string) (json.RawMessage, bool) {
	payload, ok, err := s.store.Get(ctx, key)
	if err != nil {
		// Degrade to a store read; the cache is never allowed to fail a
		// request.
		s.logger.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return payload, true
}

func (s Service) cacheSet(ctx context.Context, key string, payload []byte) {
	if err := s.store.Set(ctx, key, payload, s.ttl); err != nil {
		s.logger.Warn("cache set failed", "key", key, "error", err)
	}
}
