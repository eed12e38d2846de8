package domain

import "time"

// Context types classify what an asset configures.
const (
	ContextDefault = "default"
	ContextTeam    = "team"
	ContextProduct = "product"
)

// Default environment names shipped with a fresh tenant. Environments are
// free-form strings; these are only conventions.
const (
	EnvLocal      = "local"
	EnvStage      = "stage"
	EnvProduction = "prod"
)

// Asset is the top-level named container of configuration objects for one
// tenant. Its slug is unique per tenant and deleting it cascades to
// objects, values and versions.
type Asset struct {
	ID          string
	TenantID    string
	Name        string
	Slug        string
	Description string
	ContextType string
	Context     string
	CreatedBy   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
