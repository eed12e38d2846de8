package domain

import (
	"fmt"
	"time"
)

// Kind classifies a configuration object and decides how promotion treats
// its values.
type Kind string

// Object kinds.
const (
	KindKeyValue Kind = "kv"
	KindJSON     Kind = "json"
	KindText     Kind = "text"
	KindFile     Kind = "file"
)

// PromoteStrategy names how an object's values move between environments.
type PromoteStrategy int

const (
	// SyncStructure copies new keys, removes obsolete keys, and leaves
	// keys existing in both environments untouched.
	SyncStructure PromoteStrategy = iota
	// FullOverwrite replaces the target values with the source values.
	FullOverwrite
)

// Strategy returns the promotion behavior for the kind. Only key-value
// objects separate structure from data; all other kinds carry a single
// inseparable payload and are overwritten whole.
func (k Kind) Strategy() PromoteStrategy {
	if k == KindKeyValue {
		return SyncStructure
	}
	return FullOverwrite
}

// Valid reports whether the kind is one of the known object kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindKeyValue, KindJSON, KindText, KindFile:
		return true
	}
	return false
}

// ParseKind validates and converts a raw kind string.
func ParseKind(raw string) (Kind, error) {
	k := Kind(raw)
	if !k.Valid() {
		return "", fmt.Errorf("unknown object kind %q", raw)
	}
	return k, nil
}

// Object is a named configuration unit of one kind within an asset.
// (asset, name) is unique.
type Object struct {
	ID          string
	AssetID     string
	Name        string
	Kind        Kind
	Description string
	CreatedAt   time.Time
}
