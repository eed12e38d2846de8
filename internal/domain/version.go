package domain

import (
	"encoding/json"
	"time"
)

// SnapshotValue is one value captured inside a version snapshot. It mirrors
// the Value payload fields so a rollback can restore the row exactly.
type SnapshotValue struct {
	Key            string          `json:"key"`
	ValueType      ValueType       `json:"value_type"`
	StringValue    *string         `json:"value_string"`
	JSONValue      json.RawMessage `json:"value_json,omitempty"`
	ReferenceID    *string         `json:"reference_id"`
	EncryptedValue []byte          `json:"value_encrypted,omitempty"`
}

// Version is an immutable point-in-time snapshot of an object's values in
// one environment. Numbers are per (object, environment), contiguous from 1
// and never reused; a rollback records a new version rather than rewriting
// history. Persisted rows reject updates at the database layer.
type Version struct {
	ID          string
	ObjectID    string
	Environment string
	Number      int
	Snapshot    []SnapshotValue
	Summary     string
	CreatedBy   *string
	CreatedAt   time.Time
}

// SnapshotOf captures the payload of the given values.
func SnapshotOf(values []Value) []SnapshotValue {
	snapshot := make([]SnapshotValue, 0, len(values))
	for _, v := range values {
		snapshot = append(snapshot, SnapshotValue{
			Key:            v.Key,
			ValueType:      v.Type,
			StringValue:    v.StringValue,
			JSONValue:      v.JSONValue,
			ReferenceID:    v.ReferenceID,
			EncryptedValue: v.EncryptedValue,
		})
	}
	return snapshot
}

// Restore converts the snapshot back into value rows for the version's
// (object, environment) pair. Reference targets may have been deleted in
// the meantime; dangling ids are restored as-is.
func (v Version) Restore() []Value {
	values := make([]Value, 0, len(v.Snapshot))
	for _, s := range v.Snapshot {
		values = append(values, Value{
			ObjectID:       v.ObjectID,
			Environment:    v.Environment,
			Key:            s.Key,
			Type:           s.ValueType,
			StringValue:    s.StringValue,
			JSONValue:      s.JSONValue,
			ReferenceID:    s.ReferenceID,
			EncryptedValue: s.EncryptedValue,
		})
	}
	return values
}
