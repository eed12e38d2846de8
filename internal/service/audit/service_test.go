package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/repository"
)

type stubAuditRepository struct {
	mu      sync.Mutex
	heads   map[string]string
	entries map[string][]domain.AuditEntry
	seq     int64
}

func newStubAuditRepository() *stubAuditRepository {
	return &stubAuditRepository{
		heads:   make(map[string]string),
		entries: make(map[string][]domain.AuditEntry),
	}
}

func (s *stubAuditRepository) AppendEntry(ctx context.Context, tenantID string, actorID *string, action, target string, details json.RawMessage) (*domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.heads[tenantID]
	if !ok {
		head = domain.GenesisHash
	}
	s.seq++
	entry := domain.AuditEntry{
		ID:           fmt.Sprintf("entry-%d", s.seq),
		Seq:          s.seq,
		TenantID:     tenantID,
		ActorID:      actorID,
		Action:       action,
		Target:       target,
		Details:      append(json.RawMessage(nil), details...),
		Hash:         domain.ComputeEntryHash(head, action, target, details),
		PreviousHash: head,
		HashVersion:  domain.HashVersion,
		CreatedAt:    time.Now().UTC(),
	}
	s.heads[tenantID] = entry.Hash
	s.entries[tenantID] = append(s.entries[tenantID], entry)
	return &entry, nil
}

func (s *stubAuditRepository) ListEntries(ctx context.Context, tenantID string, limit, offset int) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.entries[tenantID]
	out := make([]domain.AuditEntry, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i])
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *stubAuditRepository) ChainEntries(ctx context.Context, tenantID string) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEntry(nil), s.entries[tenantID]...), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScope() domain.Scope {
	return domain.Scope{TenantID: "tenant-1", ActorID: "user-1"}
}

func TestAppendBuildsValidChain(t *testing.T) {
	repo := newStubAuditRepository()
	svc := New(repo, testLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		details := map[string]any{"index": i, "asset_slug": "billing"}
		if _, err := svc.Append(ctx, testScope(), "Promoted Asset", "billing (stage -> prod)", details); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	result, err := svc.Verify(ctx, testScope())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid chain, got break %+v", result.Break)
	}
	if result.Entries != 5 {
		t.Fatalf("expected 5 entries, got %d", result.Entries)
	}

	chain := repo.entries["tenant-1"]
	if chain[0].PreviousHash != domain.GenesisHash {
		t.Fatal("first entry must link to the genesis hash")
	}
	for i := 1; i < len(chain); i++ {
		if chain[i].PreviousHash != chain[i-1].Hash {
			t.Fatalf("entry %d does not link to its predecessor", i)
		}
	}
}

func TestAppendRequiresAction(t *testing.T) {
	svc := New(newStubAuditRepository(), testLogger())
	if _, err := svc.Append(context.Background(), testScope(), "  ", "target", nil); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestVerifyEmptyChainIsValid(t *testing.T) {
	svc := New(newStubAuditRepository(), testLogger())
	result, err := svc.Verify(context.Background(), testScope())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid || result.Entries != 0 {
		t.Fatalf("empty chain must verify clean, got %+v", result)
	}
}

func TestVerifyDetectsTamperedDetails(t *testing.T) {
	repo := newStubAuditRepository()
	svc := New(repo, testLogger())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.Append(ctx, testScope(), "Updated Value", fmt.Sprintf("billing/flags/key-%d", i), map[string]any{"i": i}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	repo.entries["tenant-1"][1].Details = json.RawMessage(`{"i":99}`)

	result, err := svc.Verify(ctx, testScope())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatal("tampered chain must not verify")
	}
	if result.Break == nil || result.Break.Position != 1 {
		t.Fatalf("expected break at position 1, got %+v", result.Break)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	repo := newStubAuditRepository()
	svc := New(repo, testLogger())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.Append(ctx, testScope(), "Updated Value", "billing/flags/debug", map[string]any{"i": i}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	chain := repo.entries["tenant-1"]
	repo.entries["tenant-1"] = append(chain[:1:1], chain[2:]...)

	result, err := svc.Verify(ctx, testScope())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatal("chain with a deleted entry must not verify")
	}
	if result.Break == nil || result.Break.Position != 1 {
		t.Fatalf("expected linkage break at position 1, got %+v", result.Break)
	}
}

func TestConcurrentAppendsKeepChainIntact(t *testing.T) {
	repo := newStubAuditRepository()
	svc := New(repo, testLogger())
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Append(ctx, testScope(), "Promoted Asset", "billing (stage -> prod)", map[string]any{"writer": i}); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	result, err := svc.Verify(ctx, testScope())
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("concurrent appends broke the chain: %+v", result.Break)
	}
	if result.Entries != writers {
		t.Fatalf("expected %d entries, got %d", writers, result.Entries)
	}
}

func TestTenantChainsAreIndependent(t *testing.T) {
	repo := newStubAuditRepository()
	svc := New(repo, testLogger())
	ctx := context.Background()

	scopeA := domain.Scope{TenantID: "tenant-a"}
	scopeB := domain.Scope{TenantID: "tenant-b"}
	if _, err := svc.Append(ctx, scopeA, "Created Asset", "billing", nil); err != nil {
		t.Fatalf("append tenant-a: %v", err)
	}
	if _, err := svc.Append(ctx, scopeB, "Created Asset", "payments", nil); err != nil {
		t.Fatalf("append tenant-b: %v", err)
	}

	repo.entries["tenant-a"][0].Details = json.RawMessage(`{"x":1}`)

	resultA, err := svc.Verify(ctx, scopeA)
	if err != nil {
		t.Fatalf("verify tenant-a: %v", err)
	}
	if resultA.Valid {
		t.Fatal("tampered tenant-a chain must not verify")
	}
	resultB, err := svc.Verify(ctx, scopeB)
	if err != nil {
		t.Fatalf("verify tenant-b: %v", err)
	}
	if !resultB.Valid {
		t.Fatal("tenant-b chain must be unaffected by tenant-a tampering")
	}
}
