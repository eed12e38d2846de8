package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

// GenesisHash is the previous-hash of the first entry in every tenant
// chain: the hex form of an all-zero SHA-256 digest.
var GenesisHash = strings.Repeat("0", 64)

// HashVersion tags the canonicalization format used when an entry's hash
// was computed. The hash input itself is unversioned for compatibility
// with existing chains; verification branches on this column if the
// canonical form ever changes.
const HashVersion = 1

// AuditEntry is one append-only record in a tenant's hash chain. Entries
// are only ever constructed and appended; persisted rows reject updates at
// the database layer, so tampering requires out-of-band access and breaks
// the chain visibly.
type AuditEntry struct {
	ID           string
	Seq          int64
	TenantID     string
	ActorID      *string
	Action       string
	Target       string
	Details      json.RawMessage
	Hash         string
	PreviousHash string
	HashVersion  int
	CreatedAt    time.Time
}

// CanonicalDetails renders a details map in canonical JSON: object keys
// sorted at every nesting level, no insignificant whitespace. This is what
// the entry hash covers.
func CanonicalDetails(details map[string]any) (json.RawMessage, error) {
	if details == nil {
		details = map[string]any{}
	}
	return json.Marshal(details)
}

// ComputeEntryHash derives an entry hash from the running previous hash,
// the action, the target and the canonical details document.
func ComputeEntryHash(previousHash, action, target string, canonicalDetails []byte) string {
	h := sha256.New()
	h.Write([]byte(previousHash))
	h.Write([]byte(action))
	h.Write([]byte(target))
	h.Write(canonicalDetails)
	return hex.EncodeToString(h.Sum(nil))
}

// ExpectedHash recomputes the hash this entry should carry given the
// running previous hash of a chain walk.
func (e AuditEntry) ExpectedHash(previousHash string) string {
	return ComputeEntryHash(previousHash, e.Action, e.Target, e.Details)
}
