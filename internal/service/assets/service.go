// Package assets administers configuration assets and the objects under
// them.
package assets

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"github.com/google/uuid"

	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/events"
	"github.com/configmat/configmat/internal/repository"
	"github.com/configmat/configmat/internal/service/audit"
)

// Service manages the asset and object catalogue of a tenant.
type Service struct {
	assets repository.AssetRepository
	audit  *audit.Service
	hub    *events.Hub
	logger *slog.Logger
}

// New constructs an assets service.
func New(assets repository.AssetRepository, auditSvc *audit.Service, hub *events.Hub, logger *slog.Logger) Service {
	return Service{assets: assets, audit: auditSvc, hub: hub, logger: logger}
}

// CreateAssetInput carries the fields of a new asset. Slug defaults to a
// slugified Name when empty.
type CreateAssetInput struct {
	Name        string
	Slug        string
	Description string
	ContextType string
	Context     string
}

// CreateAsset registers a new asset for the tenant.
func (s Service) CreateAsset(ctx context.Context, scope domain.Scope, in CreateAssetInput) (*domain.Asset, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: asset name required", repository.ErrInvalidArgument)
	}
	slug := strings.TrimSpace(in.Slug)
	if slug == "" {
		slug = Slugify(name)
	}
	contextType := strings.TrimSpace(in.ContextType)
	if contextType == "" {
		contextType = domain.ContextDefault
	}

	asset := &domain.Asset{
		ID:          uuid.NewString(),
		TenantID:    scope.TenantID,
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(in.Description),
		ContextType: contextType,
		Context:     strings.TrimSpace(in.Context),
	}
	if scope.ActorID != "" {
		actor := scope.ActorID
		asset.CreatedBy = &actor
	}
	if err := s.assets.CreateAsset(ctx, asset); err != nil {
		return nil, err
	}

	s.record(ctx, scope, "Created Asset", asset.Name,
		map[string]any{"asset_slug": asset.Slug, "context_type": asset.ContextType},
		events.TypeAssetCreated)
	s.logger.Info("asset created", "tenant", scope.TenantID, "asset", asset.Slug)
	return asset, nil
}

// GetAsset fetches one asset by slug.
func (s Service) GetAsset(ctx context.Context, scope domain.Scope, slug string) (*domain.Asset, error) {
	return s.assets.GetAssetBySlug(ctx, scope.TenantID, strings.TrimSpace(slug))
}

// ListAssets returns the tenant's assets, most recently updated first.
func (s Service) ListAssets(ctx context.Context, scope domain.Scope) ([]domain.Asset, error) {
	return s.assets.ListAssets(ctx, scope.TenantID)
}

// DeleteAsset removes an asset; its objects, values and versions cascade.
// The audit trail keeps the deletion on record.
func (s Service) DeleteAsset(ctx context.Context, scope domain.Scope, slug string) error {
	asset, err := s.assets.GetAssetBySlug(ctx, scope.TenantID, strings.TrimSpace(slug))
	if err != nil {
		return err
	}
	if err := s.assets.DeleteAsset(ctx, scope.TenantID, asset.ID); err != nil {
		return err
	}

	s.record(ctx, scope, "Deleted Asset", asset.Name,
		map[string]any{"asset_slug": asset.Slug},
		events.TypeAssetDeleted)
	s.logger.Info("asset deleted", "tenant", scope.TenantID, "asset", asset.Slug)
	return nil
}

// CreateObjectInput carries the fields of a new configuration object.
type CreateObjectInput struct {
	Name        string
	Kind        string
	Description string
}

// CreateObject adds a configuration object to an asset.
func (s Service) CreateObject(ctx context.Context, scope domain.Scope, assetSlug string, in CreateObjectInput) (*domain.Object, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: object name required", repository.ErrInvalidArgument)
	}
	kind, err := domain.ParseKind(strings.TrimSpace(in.Kind))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrInvalidArgument, err)
	}
	asset, err := s.assets.GetAssetBySlug(ctx, scope.TenantID, strings.TrimSpace(assetSlug))
	if err != nil {
		return nil, err
	}

	object := &domain.Object{
		ID:          uuid.NewString(),
		AssetID:     asset.ID,
		Name:        name,
		Kind:        kind,
		Description: strings.TrimSpace(in.Description),
	}
	if err := s.assets.CreateObject(ctx, object); err != nil {
		return nil, err
	}

	s.record(ctx, scope, "Created Object",
		fmt.Sprintf("%s/%s", asset.Slug, object.Name),
		map[string]any{"asset_slug": asset.Slug, "object": object.Name, "kind": string(kind)},
		events.TypeObjectCreated)
	return object, nil
}

// ListObjects returns the objects of an asset ordered by name.
func (s Service) ListObjects(ctx context.Context, scope domain.Scope, assetSlug string) ([]domain.Object, error) {
	asset, err := s.assets.GetAssetBySlug(ctx, scope.TenantID, strings.TrimSpace(assetSlug))
	if err != nil {
		return nil, err
	}
	return s.assets.ListObjects(ctx, asset.ID)
}

// Slugify lowercases the name and collapses runs of non-alphanumerics into
// single hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
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
