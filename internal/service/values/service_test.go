package values

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/events"
	"github.com/configmat/configmat/internal/repository"
	"github.com/configmat/configmat/internal/service/audit"
	"github.com/configmat/configmat/pkg/crypto"
)

type stubAssetRepository struct {
	asset  *domain.Asset
	object *domain.Object
}

func (s *stubAssetRepository) CreateAsset(ctx context.Context, asset *domain.Asset) error { return nil }

func (s *stubAssetRepository) GetAssetByID(ctx context.Context, tenantID, assetID string) (*domain.Asset, error) {
	return nil, repository.ErrNotFound
}

func (s *stubAssetRepository) GetAssetBySlug(ctx context.Context, tenantID, slug string) (*domain.Asset, error) {
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
	if s.object != nil && s.object.AssetID == assetID && s.object.Name == name {
		copied := *s.object
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubAssetRepository) ListObjects(ctx context.Context, assetID string) ([]domain.Object, error) {
	return nil, nil
}

type stubValueRepository struct {
	values  map[string]domain.Value
	deleted []string
}

func valueKey(objectID, environment, key string) string {
	return objectID + "|" + environment + "|" + key
}

func (s *stubValueRepository) ListValues(ctx context.Context, objectID, environment string) ([]domain.Value, error) {
	var out []domain.Value
	for _, value := range s.values {
		if value.ObjectID == objectID && value.Environment == environment {
			out = append(out, value)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *stubValueRepository) GetValue(ctx context.Context, objectID, environment, key string) (*domain.Value, error) {
	if value, ok := s.values[valueKey(objectID, environment, key)]; ok {
		return &value, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubValueRepository) UpsertValue(ctx context.Context, value *domain.Value) error {
	if s.values == nil {
		s.values = make(map[string]domain.Value)
	}
	s.values[valueKey(value.ObjectID, value.Environment, value.Key)] = *value
	return nil
}

func (s *stubValueRepository) DeleteValues(ctx context.Context, objectID, environment string, keys []string) error {
	for _, key := range keys {
		delete(s.values, valueKey(objectID, environment, key))
		s.deleted = append(s.deleted, key)
	}
	return nil
}

func (s *stubValueRepository) ListAssetValues(ctx context.Context, assetID, environment string) ([]repository.ObjectValues, error) {
	return nil, nil
}

// spyCache records which keys mutations invalidate.
type spyCache struct {
	mu      sync.Mutex
	deleted []string
}

func (c *spyCache) Get(ctx context.Context, key string) ([]byte, bool, error) { return nil, false, nil }

func (c *spyCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (c *spyCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, keys...)
	return nil
}

func (c *spyCache) Close() error { return nil }

type stubAuditRepository struct {
	actions []string
	targets []string
}

func (s *stubAuditRepository) AppendEntry(ctx context.Context, tenantID string, actorID *string, action, target string, details json.RawMessage) (*domain.AuditEntry, error) {
	s.actions = append(s.actions, action)
	s.targets = append(s.targets, target)
	return &domain.AuditEntry{TenantID: tenantID, Action: action, Target: target, Details: details}, nil
}

func (s *stubAuditRepository) ListEntries(ctx context.Context, tenantID string, limit, offset int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (s *stubAuditRepository) ChainEntries(ctx context.Context, tenantID string) ([]domain.AuditEntry, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScope() domain.Scope {
	return domain.Scope{TenantID: "tenant-1", ActorID: "user-1"}
}

const testSecret = "values-secret"

type fixture struct {
	svc    Service
	values *stubValueRepository
	cache  *spyCache
	audit  *stubAuditRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	assets := &stubAssetRepository{
		asset:  &domain.Asset{ID: "asset-1", TenantID: "tenant-1", Name: "Billing", Slug: "billing"},
		object: &domain.Object{ID: "obj-1", AssetID: "asset-1", Name: "flags", Kind: domain.KindKeyValue},
	}
	values := &stubValueRepository{}
	cacheSpy := &spyCache{}
	auditRepo := &stubAuditRepository{}
	svc := New(assets, values, cacheSpy, crypto.NewCipher(testSecret), audit.New(auditRepo, testLogger()), events.NewHub(), testLogger())
	return &fixture{svc: svc, values: values, cache: cacheSpy, audit: auditRepo}
}

func strptr(s string) *string { return &s }

func TestPutStoresTypedValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	value, err := f.svc.Put(ctx, testScope(), "billing", "prod", "flags", Input{
		Key: "retries", Type: domain.TypeNumber, String: strptr("3"),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if value.Type != domain.TypeNumber || value.StringValue == nil || *value.StringValue != "3" {
		t.Fatalf("stored value: %+v", value)
	}

	stored, err := f.values.GetValue(ctx, "obj-1", "prod", "retries")
	if err != nil {
		t.Fatalf("get stored: %v", err)
	}
	if stored.ObjectID != "obj-1" || stored.Environment != "prod" {
		t.Fatalf("stored scope: %+v", stored)
	}

	if len(f.audit.actions) != 1 || f.audit.actions[0] != "Updated Value" {
		t.Fatalf("audit actions: %v", f.audit.actions)
	}
	if f.audit.targets[0] != "billing/flags/retries" {
		t.Fatalf("audit target: %s", f.audit.targets[0])
	}
}

func TestPutEncryptsSecrets(t *testing.T) {
	f := newFixture(t)

	value, err := f.svc.Put(context.Background(), testScope(), "billing", "prod", "flags", Input{
		Key: "token", Type: domain.TypeEncrypted, Secret: strptr("s3cr3t"),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if value.Type != domain.TypeEncrypted || len(value.EncryptedValue) == 0 {
		t.Fatalf("ciphertext missing: %+v", value)
	}
	plain, err := crypto.NewCipher(testSecret).Decrypt(value.EncryptedValue)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "s3cr3t" {
		t.Fatalf("roundtrip: %q", plain)
	}
}

func TestPutRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   Input
	}{
		{"missing string payload", Input{Key: "a", Type: domain.TypeString}},
		{"missing number literal", Input{Key: "a", Type: domain.TypeNumber}},
		{"missing boolean literal", Input{Key: "a", Type: domain.TypeBoolean}},
		{"invalid json", Input{Key: "a", Type: domain.TypeJSON, JSON: json.RawMessage(`{broken`)}},
		{"missing reference", Input{Key: "a", Type: domain.TypeReference}},
		{"missing secret", Input{Key: "a", Type: domain.TypeEncrypted}},
		{"unknown type", Input{Key: "a", Type: domain.ValueType("blob"), String: strptr("x")}},
		{"blank key", Input{Key: "  ", Type: domain.TypeString, String: strptr("x")}},
	}
	for _, tc := range cases {
		if _, err := f.svc.Put(ctx, testScope(), "billing", "prod", "flags", tc.in); !errors.Is(err, repository.ErrInvalidArgument) {
			t.Fatalf("%s: expected ErrInvalidArgument, got %v", tc.name, err)
		}
	}
}

func TestPutInvalidatesBothCacheScopes(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Put(context.Background(), testScope(), "billing", "prod", "flags", Input{
		Key: "host", Type: domain.TypeString, String: strptr("db.internal"),
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	want := []string{
		"config:tenant-1:prod:billing",
		"config:tenant-1:prod:billing:flags:host",
	}
	if len(f.cache.deleted) != len(want) {
		t.Fatalf("deleted keys: %v", f.cache.deleted)
	}
	for i, key := range want {
		if f.cache.deleted[i] != key {
			t.Fatalf("deleted[%d] = %q, want %q", i, f.cache.deleted[i], key)
		}
	}
}

func TestDeleteRequiresKeys(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.Delete(context.Background(), testScope(), "billing", "prod", "flags", nil); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDeleteRemovesAndAudits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, key := range []string{"host", "retries"} {
		if _, err := f.svc.Put(ctx, testScope(), "billing", "prod", "flags", Input{
			Key: key, Type: domain.TypeString, String: strptr("x"),
		}); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	if err := f.svc.Delete(ctx, testScope(), "billing", "prod", "flags", []string{"host"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.values.GetValue(ctx, "obj-1", "prod", "host"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("host must be gone, got %v", err)
	}
	if _, err := f.values.GetValue(ctx, "obj-1", "prod", "retries"); err != nil {
		t.Fatalf("retries must survive: %v", err)
	}

	last := f.audit.actions[len(f.audit.actions)-1]
	if last != "Deleted Values" {
		t.Fatalf("audit action: %s", last)
	}
	if f.audit.targets[len(f.audit.targets)-1] != "billing/flags" {
		t.Fatalf("audit target: %s", f.audit.targets[len(f.audit.targets)-1])
	}
}

func TestMutationsOnUnknownObject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Put(ctx, testScope(), "billing", "prod", "ghost", Input{
		Key: "a", Type: domain.TypeString, String: strptr("x"),
	}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("unknown object: %v", err)
	}
	foreign := domain.Scope{TenantID: "tenant-2", ActorID: "user-9"}
	if _, err := f.svc.List(ctx, foreign, "billing", "prod", "flags"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("foreign tenant: %v", err)
	}
}
