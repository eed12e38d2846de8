package resolve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/configmat/configmat/internal/cache"
	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/repository"
	"github.com/configmat/configmat/pkg/crypto"
)

type stubAssetRepository struct {
	asset   *domain.Asset
	objects map[string]domain.Object
	reads   int
}

func (s *stubAssetRepository) CreateAsset(ctx context.Context, asset *domain.Asset) error { return nil }

func (s *stubAssetRepository) GetAssetByID(ctx context.Context, tenantID, assetID string) (*domain.Asset, error) {
	return nil, repository.ErrNotFound
}

func (s *stubAssetRepository) GetAssetBySlug(ctx context.Context, tenantID, slug string) (*domain.Asset, error) {
	s.reads++
	if s.asset != nil && s.asset.TenantID == tenantID && s.asset.Slug == slug {
		copied := *s.asset
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubAssetRepository) ListAssets(ctx context.Context, tenantID string) ([]domain.Asset, error) {
	return nil, nil
}

func (s *stubAssetRepository) DeleteAsset(ctx context.Context, tenantID, assetID string) error {
	return nil
}

func (s *stubAssetRepository) CreateObject(ctx context.Context, object *domain.Object) error {
	return nil
}

func (s *stubAssetRepository) GetObject(ctx context.Context, assetID, name string) (*domain.Object, error) {
	s.reads++
	if object, ok := s.objects[name]; ok && object.AssetID == assetID {
		return &object, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubAssetRepository) ListObjects(ctx context.Context, assetID string) ([]domain.Object, error) {
	return nil, nil
}

type stubValueRepository struct {
	objectValues []repository.ObjectValues
	reads        int
}

func (s *stubValueRepository) ListValues(ctx context.Context, objectID, environment string) ([]domain.Value, error) {
	return nil, nil
}

func (s *stubValueRepository) GetValue(ctx context.Context, objectID, environment, key string) (*domain.Value, error) {
	s.reads++
	for _, ov := range s.objectValues {
		if ov.Object.ID != objectID {
			continue
		}
		for _, value := range ov.Values {
			if value.Environment == environment && value.Key == key {
				copied := value
				return &copied, nil
			}
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubValueRepository) UpsertValue(ctx context.Context, value *domain.Value) error { return nil }

func (s *stubValueRepository) DeleteValues(ctx context.Context, objectID, environment string, keys []string) error {
	return nil
}

func (s *stubValueRepository) ListAssetValues(ctx context.Context, assetID, environment string) ([]repository.ObjectValues, error) {
	s.reads++
	return s.objectValues, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScope() domain.Scope {
	return domain.Scope{TenantID: "tenant-1", ActorID: "user-1"}
}

const testSecret = "resolver-secret"

func newTestService(t *testing.T, assets *stubAssetRepository, values *stubValueRepository) (Service, cache.Store) {
	t.Helper()
	store := cache.NewMemory()
	t.Cleanup(func() { _ = store.Close() })
	svc := New(assets, values, store, crypto.NewCipher(testSecret), testLogger(), 0)
	return svc, store
}

func billingAsset() *domain.Asset {
	return &domain.Asset{ID: "asset-1", TenantID: "tenant-1", Name: "Billing", Slug: "billing"}
}

func TestResolveTypedValues(t *testing.T) {
	ciphertext, err := crypto.NewCipher(testSecret).Encrypt("s3cr3t")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	flags := domain.Object{ID: "obj-1", AssetID: "asset-1", Name: "flags", Kind: domain.KindKeyValue}
	limits := domain.Object{ID: "obj-2", AssetID: "asset-1", Name: "limits", Kind: domain.KindJSON}
	empty := domain.Object{ID: "obj-3", AssetID: "asset-1", Name: "empty", Kind: domain.KindText}

	assets := &stubAssetRepository{asset: billingAsset()}
	values := &stubValueRepository{objectValues: []repository.ObjectValues{
		{Object: flags, Values: []domain.Value{
			domain.NewStringValue("obj-1", "prod", "host", "db.internal"),
			domain.NewNumberValue("obj-1", "prod", "retries", "3"),
			domain.NewNumberValue("obj-1", "prod", "broken", "not-a-number"),
			domain.NewBooleanValue("obj-1", "prod", "debug", true),
			domain.NewReferenceValue("obj-1", "prod", "theme", "obj-9"),
			domain.NewEncryptedValue("obj-1", "prod", "token", ciphertext),
		}},
		{Object: limits, Values: []domain.Value{
			domain.NewJSONValue("obj-2", "prod", "content", json.RawMessage(`{"cpu":2}`)),
		}},
		{Object: empty},
	}}

	svc, _ := newTestService(t, assets, values)
	payload, err := svc.Resolve(context.Background(), testScope(), "billing", "prod")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var resolved map[string]any
	if err := json.Unmarshal(payload, &resolved); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	kv, ok := resolved["flags"].(map[string]any)
	if !ok {
		t.Fatalf("flags must resolve to an object, got %T", resolved["flags"])
	}
	if kv["host"] != "db.internal" {
		t.Fatalf("host: %v", kv["host"])
	}
	if kv["retries"] != float64(3) {
		t.Fatalf("retries must parse to 3, got %v", kv["retries"])
	}
	if kv["broken"] != float64(0) {
		t.Fatalf("unparseable number must resolve to 0, got %v", kv["broken"])
	}
	if kv["debug"] != true {
		t.Fatalf("debug: %v", kv["debug"])
	}
	ref, ok := kv["theme"].(map[string]any)
	if !ok || ref["_ref"] != "obj-9" {
		t.Fatalf("theme must resolve to a _ref wrapper, got %v", kv["theme"])
	}
	if kv["token"] != "s3cr3t" {
		t.Fatalf("token must decrypt, got %v", kv["token"])
	}

	limitsDoc, ok := resolved["limits"].(map[string]any)
	if !ok || limitsDoc["cpu"] != float64(2) {
		t.Fatalf("limits: %v", resolved["limits"])
	}
	if resolved["empty"] != nil {
		t.Fatalf("an object with no values must resolve to null, got %v", resolved["empty"])
	}
}

func TestResolveCacheHitSkipsStore(t *testing.T) {
	assets := &stubAssetRepository{asset: billingAsset()}
	values := &stubValueRepository{objectValues: []repository.ObjectValues{
		{
			Object: domain.Object{ID: "obj-1", AssetID: "asset-1", Name: "flags", Kind: domain.KindKeyValue},
			Values: []domain.Value{domain.NewStringValue("obj-1", "prod", "host", "a")},
		},
	}}

	svc, _ := newTestService(t, assets, values)
	ctx := context.Background()

	first, err := svc.Resolve(ctx, testScope(), "billing", "prod")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	assetReads, valueReads := assets.reads, values.reads

	second, err := svc.Resolve(ctx, testScope(), "billing", "prod")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if assets.reads != assetReads || values.reads != valueReads {
		t.Fatal("a cache hit must not touch the backing store")
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("cached payload must be byte-identical: %s vs %s", first, second)
	}
}

func TestResolveInvalidationForcesReload(t *testing.T) {
	assets := &stubAssetRepository{asset: billingAsset()}
	values := &stubValueRepository{objectValues: []repository.ObjectValues{
		{
			Object: domain.Object{ID: "obj-1", AssetID: "asset-1", Name: "flags", Kind: domain.KindKeyValue},
			Values: []domain.Value{domain.NewStringValue("obj-1", "prod", "host", "a")},
		},
	}}

	svc, _ := newTestService(t, assets, values)
	ctx := context.Background()

	if _, err := svc.Resolve(ctx, testScope(), "billing", "prod"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	values.objectValues[0].Values[0] = domain.NewStringValue("obj-1", "prod", "host", "b")
	svc.InvalidateAsset(ctx, "tenant-1", "prod", "billing")

	payload, err := svc.Resolve(ctx, testScope(), "billing", "prod")
	if err != nil {
		t.Fatalf("resolve after invalidation: %v", err)
	}
	var resolved map[string]map[string]any
	if err := json.Unmarshal(payload, &resolved); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resolved["flags"]["host"] != "b" {
		t.Fatalf("invalidation must surface the new value, got %v", resolved["flags"]["host"])
	}
}

func TestResolveUnknownAsset(t *testing.T) {
	svc, _ := newTestService(t, &stubAssetRepository{}, &stubValueRepository{})
	if _, err := svc.Resolve(context.Background(), testScope(), "ghost", "prod"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveRequiresArguments(t *testing.T) {
	svc, _ := newTestService(t, &stubAssetRepository{}, &stubValueRepository{})
	ctx := context.Background()
	if _, err := svc.Resolve(ctx, testScope(), "", "prod"); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("missing slug: %v", err)
	}
	if _, err := svc.Resolve(ctx, testScope(), "billing", " "); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("missing environment: %v", err)
	}
}

func TestResolveOneCachesSingleValue(t *testing.T) {
	flags := domain.Object{ID: "obj-1", AssetID: "asset-1", Name: "flags", Kind: domain.KindKeyValue}
	assets := &stubAssetRepository{
		asset:   billingAsset(),
		objects: map[string]domain.Object{"flags": flags},
	}
	values := &stubValueRepository{objectValues: []repository.ObjectValues{
		{Object: flags, Values: []domain.Value{domain.NewNumberValue("obj-1", "prod", "retries", "3")}},
	}}

	svc, _ := newTestService(t, assets, values)
	ctx := context.Background()

	payload, err := svc.ResolveOne(ctx, testScope(), "billing", "prod", "flags", "retries")
	if err != nil {
		t.Fatalf("resolve one: %v", err)
	}
	if string(payload) != "3" {
		t.Fatalf("expected 3, got %s", payload)
	}

	reads := values.reads
	if _, err := svc.ResolveOne(ctx, testScope(), "billing", "prod", "flags", "retries"); err != nil {
		t.Fatalf("second resolve one: %v", err)
	}
	if values.reads != reads {
		t.Fatal("a cache hit must not touch the backing store")
	}

	if _, err := svc.ResolveOne(ctx, testScope(), "billing", "prod", "flags", "ghost"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("unknown key must be not found, got %v", err)
	}
}
