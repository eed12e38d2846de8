package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestGenesisHashShape(t *testing.T) {
	if len(GenesisHash) != 64 {
		t.Fatalf("genesis hash must be 64 hex chars, got %d", len(GenesisHash))
	}
	for _, c := range GenesisHash {
		if c != '0' {
			t.Fatal("genesis hash must be all zeros")
		}
	}
}

func TestCanonicalDetailsSortsKeys(t *testing.T) {
	a, err := CanonicalDetails(map[string]any{"zebra": 1, "alpha": 2})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	b, err := CanonicalDetails(map[string]any{"alpha": 2, "zebra": 1})
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("canonical forms differ: %s vs %s", a, b)
	}
	if string(a) != `{"alpha":2,"zebra":1}` {
		t.Fatalf("unexpected canonical form: %s", a)
	}
}

func TestCanonicalDetailsNilMap(t *testing.T) {
	got, err := CanonicalDetails(nil)
	if err != nil {
		t.Fatalf("canonicalize nil: %v", err)
	}
	if string(got) != "{}" {
		t.Fatalf("nil details must canonicalize to {}, got %s", got)
	}
}

func TestComputeEntryHash(t *testing.T) {
	details := []byte(`{"from_env":"stage","to_env":"prod"}`)
	got := ComputeEntryHash(GenesisHash, "Promoted Asset", "billing (stage -> prod)", details)

	h := sha256.New()
	h.Write([]byte(GenesisHash))
	h.Write([]byte("Promoted Asset"))
	h.Write([]byte("billing (stage -> prod)"))
	h.Write(details)
	want := hex.EncodeToString(h.Sum(nil))

	if got != want {
		t.Fatalf("hash mismatch: got %s want %s", got, want)
	}

	if again := ComputeEntryHash(GenesisHash, "Promoted Asset", "billing (stage -> prod)", details); again != got {
		t.Fatal("hash must be deterministic")
	}
	if different := ComputeEntryHash(got, "Promoted Asset", "billing (stage -> prod)", details); different == got {
		t.Fatal("different previous hash must change the entry hash")
	}
}

func TestExpectedHashMatchesCompute(t *testing.T) {
	entry := AuditEntry{
		Action:  "Rolled Back Config",
		Target:  "flags (v3)",
		Details: []byte(`{"version":3}`),
	}
	if entry.ExpectedHash(GenesisHash) != ComputeEntryHash(GenesisHash, entry.Action, entry.Target, entry.Details) {
		t.Fatal("ExpectedHash must agree with ComputeEntryHash")
	}
}
