// Package audit maintains the per-tenant append-only hash chain of domain
// events and verifies its integrity.
package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"log/slog"

	"github.com/configmat/configmat/internal/domain"
	"github.com/configmat/configmat/internal/repository"
)

// Service coordinates chained appends and verification.
type Service struct {
	entries repository.AuditRepository
	logger  *slog.Logger

	// Appends for one tenant must not race to read the chain head. The
	// repository additionally locks the head row inside its transaction;
	// this mutex keeps in-process contention off the database.
	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// New constructs an audit service.
func New(entries repository.AuditRepository, logger *slog.Logger) *Service {
	return &Service{
		entries: entries,
		logger:  logger,
		tenants: make(map[string]*sync.Mutex),
	}
}

var (
	errActionRequired = fmt.Errorf("%w: action required", repository.ErrInvalidArgument)
)

// Append records one entry at the end of the tenant's chain and returns it.
func (s *Service) Append(ctx context.Context, scope domain.Scope, action, target string, details map[string]any) (*domain.AuditEntry, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return nil, errActionRequired
	}
	canonical, err := domain.CanonicalDetails(details)
	if err != nil {
		return nil, fmt.Errorf("%w: details not serializable: %v", repository.ErrInvalidArgument, err)
	}
	var actorID *string
	if scope.ActorID != "" {
		actor := scope.ActorID
		actorID = &actor
	}

	lock := s.tenantLock(scope.TenantID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := s.entries.AppendEntry(ctx, scope.TenantID, actorID, action, target, canonical)
	if err != nil {
		return nil, err
	}
	s.logger.Info("audit entry appended",
		"tenant", scope.TenantID,
		"action", action,
		"seq", entry.Seq,
	)
	return entry, nil
}

// List returns recent entries for the tenant, newest first.
func (s *Service) List(ctx context.Context, scope domain.Scope, limit, offset int) ([]domain.AuditEntry, error) {
	return s.entries.ListEntries(ctx, scope.TenantID, limit, offset)
}

// Break describes the first invalid entry found during verification.
type Break struct {
	Position int    `json:"position"`
	EntryID  string `json:"entry_id"`
	Reason   string `json:"reason"`
}

// Result reports the outcome of a chain verification.
type Result struct {
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	Break   *Break `json:"break,omitempty"`
}

// Verify walks the tenant's chain in creation order, recomputing every hash
// and checking linkage against the running previous hash. An empty chain is
// valid. Verification reports breaks; it never repairs them.
func (s *Service) Verify(ctx context.Context, scope domain.Scope) (Result, error) {
	entries, err := s.entries.ChainEntries(ctx, scope.TenantID)
	if err != nil {
		return Result{}, err
	}
	previous := domain.GenesisHash
	for i, entry := range entries {
		if entry.PreviousHash != previous {
			return Result{
				Entries: len(entries),
				Break: &Break{
					Position: i,
					EntryID:  entry.ID,
					Reason:   fmt.Sprintf("chain broken: expected previous hash %s, got %s", previous, entry.PreviousHash),
				},
			}, nil
		}
		if expected := entry.ExpectedHash(previous); entry.Hash != expected {
			return Result{
				Entries: len(entries),
				Break: &Break{
					Position: i,
					EntryID:  entry.ID,
					Reason:   fmt.Sprintf("hash mismatch: expected %s, got %s", expected, entry.Hash),
				},
			}, nil
		}
		previous = entry.Hash
	}
	return Result{Valid: true, Entries: len(entries)}, nil
}

func (s *Service) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.tenants[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.tenants[tenantID] = lock
	}
	return lock
}
