package domain

import (
	"encoding/json"
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	values := []Value{
		NewStringValue("obj-1", "prod", "host", "db.internal"),
		NewJSONValue("obj-1", "prod", "limits", json.RawMessage(`{"cpu":2}`)),
		NewReferenceValue("obj-1", "prod", "theme", "obj-9"),
	}
	version := Version{
		ObjectID:    "obj-1",
		Environment: "prod",
		Snapshot:    SnapshotOf(values),
	}

	restored := version.Restore()
	if len(restored) != len(values) {
		t.Fatalf("expected %d restored values, got %d", len(values), len(restored))
	}
	for i, v := range restored {
		if v.ObjectID != "obj-1" || v.Environment != "prod" {
			t.Fatalf("restored value %d not rebound to the version scope: %+v", i, v)
		}
		if v.Key != values[i].Key || v.Type != values[i].Type {
			t.Fatalf("restored value %d lost identity: %+v", i, v)
		}
	}
	if restored[2].ReferenceID == nil || *restored[2].ReferenceID != "obj-9" {
		t.Fatal("reference target must survive the snapshot round trip")
	}
}
