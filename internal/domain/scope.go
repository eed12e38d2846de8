package domain

import (
	"fmt"
	"strings"
)

// Scope carries the pre-authorized tenant identity into engine operations.
// Callers arrive already authorized for exactly one tenant; the engine
// never crosses tenant boundaries.
// It replaces ad hoc "current tenant" lookups: every service call receives
// its scope explicitly.
type Scope struct {
	TenantID string
	ActorID  string
}

// NewScope builds a Scope, rejecting a missing tenant id.
func NewScope(tenantID, actorID string) (Scope, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Scope{}, fmt.Errorf("scope: tenant id required")
	}
	return Scope{TenantID: tenantID, ActorID: strings.TrimSpace(actorID)}, nil
}
