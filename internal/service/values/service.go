// Package values implements writes and reads of typed configuration
// values, including cache invalidation and audit trail hooks.
package values

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"log/slog"

	"github.com/configmat/configmat/internal/cache"
	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/events"
	"github.com/configmat/configmat/internal/repository"
	"github.com/configmat/configmat/internal/service/audit"
	"github.com/configmat/configmat/pkg/crypto"
)

// Service owns value mutations for one tenant-scoped request at a time.
type Service struct {
	assets repository.AssetRepository
	values repository.ValueRepository
	store  cache.Store
	cipher crypto.Cipher
	audit  *audit.Service
	hub    *events.Hub
	logger *slog.Logger
}

// New constructs a values service.
func New(assets repository.AssetRepository, values repository.ValueRepository, store cache.Store, cipher crypto.Cipher, auditSvc *audit.Service, hub *events.Hub, logger *slog.Logger) Service {
	return Service{assets: assets, values: values, store: store, cipher: cipher, audit: auditSvc, hub: hub, logger: logger}
}

// Input is one value to write. Exactly the payload field matching the type
// must be set; Secret carries the plaintext for encrypted values and is
// sealed before it reaches the database.
type Input struct {
	Key       string
	Type      domain.ValueType
	String    *string
	JSON      json.RawMessage
	Reference *string
	Secret    *string
}

// List returns the values of one object in one environment.
func (s Service) List(ctx context.Context, scope domain.Scope, assetSlug, environment, objectName string) ([]domain.Value, error) {
	object, _, err := s.resolveObject(ctx, scope, assetSlug, objectName)
	if err != nil {
		return nil, err
	}
	return s.values.ListValues(ctx, object.ID, environment)
}

// Put upserts one value and invalidates both the asset-level and the
// single-value cache entries before returning.
func (s Service) Put(ctx context.Context, scope domain.Scope, assetSlug, environment, objectName string, in Input) (*domain.Value, error) {
	object, _, err := s.resolveObject(ctx, scope, assetSlug, objectName)
	if err != nil {
		return nil, err
	}

	value, err := s.buildValue(object.ID, environment, in)
	if err != nil {
		return nil, err
	}
	if err := value.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidArgument, err)
	}

	if err := s.values.UpsertValue(ctx, &value); err != nil {
		return nil, err
	}

	s.invalidate(ctx, scope.TenantID, environment, assetSlug, objectName, value.Key)
	s.record(ctx, scope, "Updated Value",
		fmt.Sprintf("%s/%s/%s", assetSlug, objectName, value.Key),
		map[string]any{
			"environment": environment,
			"key":         value.Key,
			"value_type":  string(value.Type),
		},
		events.TypeValueUpdated,
	)
	return &value, nil
}

// Delete removes the given keys from one object in one environment.
// Missing keys are not an error.
func (s Service) Delete(ctx context.Context, scope domain.Scope, assetSlug, environment, objectName string, keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("%w: at least one key required", repository.ErrInvalidArgument)
	}
	object, _, err := s.resolveObject(ctx, scope, assetSlug, objectName)
	if err != nil {
		return err
	}
	if err := s.values.DeleteValues(ctx, object.ID, environment, keys); err != nil {
		return err
	}

	for _, key := range keys {
		s.invalidate(ctx, scope.TenantID, environment, assetSlug, objectName, key)
	}
	s.record(ctx, scope, "Deleted Values",
		fmt.Sprintf("%s/%s", assetSlug, objectName),
		map[string]any{
			"environment": environment,
			"keys":        keys,
		},
		events.TypeValueDeleted,
	)
	return nil
}

func (s Service) resolveObject(ctx context.Context, scope domain.Scope, assetSlug, objectName string) (*domain.Object, *domain.Asset, error) {
	assetSlug = strings.TrimSpace(assetSlug)
	if assetSlug == "" {
		return nil, nil, fmt.Errorf("%w: asset slug required", repository.ErrInvalidArgument)
	}
	objectName = strings.TrimSpace(objectName)
	if objectName == "" {
		return nil, nil, fmt.Errorf("%w: object name required", repository.ErrInvalidArgument)
	}
	asset, err := s.assets.GetAssetBySlug(ctx, scope.TenantID, assetSlug)
	if err != nil {
		return nil, nil, err
	}
	object, err := s.assets.GetObject(ctx, asset.ID, objectName)
	if err != nil {
		return nil, nil, err
	}
	return object, asset, nil
}

func (s Service) buildValue(objectID, environment string, in Input) (domain.Value, error) {
	key := strings.TrimSpace(in.Key)
	switch in.Type {
	case domain.TypeString:
		if in.String == nil {
			return domain.Value{}, fmt.Errorf("%w: string value requires a string payload", repository.ErrInvalidArgument)
		}
		return domain.NewStringValue(objectID, environment, key, *in.String), nil
	case domain.TypeNumber:
		if in.String == nil {
			return domain.Value{}, fmt.Errorf("%w: number value requires a string literal", repository.ErrInvalidArgument)
		}
		return domain.NewNumberValue(objectID, environment, key, *in.String), nil
	case domain.TypeBoolean:
		if in.String == nil {
			return domain.Value{}, fmt.Errorf("%w: boolean value requires a string literal", repository.ErrInvalidArgument)
		}
		return domain.NewBooleanValue(objectID, environment, key, *in.String == "true"), nil
	case domain.TypeJSON:
		return domain.NewJSONValue(objectID, environment, key, in.JSON), nil
	case domain.TypeReference:
		if in.Reference == nil {
			return domain.Value{}, fmt.Errorf("%w: reference value requires a target object id", repository.ErrInvalidArgument)
		}
		return domain.NewReferenceValue(objectID, environment, key, *in.Reference), nil
	case domain.TypeEncrypted:
		if in.Secret == nil {
			return domain.Value{}, fmt.Errorf("%w: encrypted value requires a plaintext secret", repository.ErrInvalidArgument)
		}
		ciphertext, err := s.cipher.Encrypt(*in.Secret)
		if err != nil {
			return domain.Value{}, fmt.Errorf("encrypt value: %w", err)
		}
		return domain.NewEncryptedValue(objectID, environment, key, ciphertext), nil
	}
	return domain.Value{}, fmt.Errorf("%w: unknown value type %q", repository.ErrInvalidArgument, in.Type)
}

// invalidate drops both cache scopes touched by a value mutation. Readers
// must never see a stale view after the mutation returns.
func (s Service) invalidate(ctx context.Context, tenantID, environment, assetSlug, objectName, key string) {
	keys := []string{
		cache.AssetKey(tenantID, environment, assetSlug),
		cache.ValueKey(tenantID, environment, assetSlug, objectName, key),
	}
	if err := s.store.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache invalidation failed", "asset", assetSlug, "error", err)
	}
}

// record appends the audit entry and publishes the stream event after the
// mutation is durable. A failed append is logged, not surfaced; the
// mutation already happened and cannot be unwound here.
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
