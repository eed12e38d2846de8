package events

import "time"

// Event types emitted by the engine.
const (
	TypeAssetCreated  = "asset.created"
	TypeAssetDeleted  = "asset.deleted"
	TypeObjectCreated = "object.created"
	TypeValueUpdated  = "value.updated"
	TypeValueDeleted  = "value.deleted"
	TypePromoted      = "asset.promoted"
	TypeRolledBack    = "object.rolled_back"
)

// Event is one domain event fanned out to subscribers of a tenant stream.
type Event struct {
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	Target     string         `json:"target"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
